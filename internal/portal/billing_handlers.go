package portal

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/models"
)

func (p *Portal) handleBilling(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	p.svc.Reconciler.RefreshIfInactive(r.Context(), acct)
	p.renderTemplate(w, r, "billing.html", "Billing", map[string]interface{}{
		"Subscription": acct.Subscription,
		"Premium":      acct.Subscription.ActivePremium(),
		"Canceling":    acct.Subscription.Status == billing.StatusCanceling,
		"Plans":        []string{models.PlanMonthly, models.PlanAnnual},
	})
}

func (p *Portal) handleInvoices(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	invoices, err := p.svc.Billing.Invoices(r.Context(), acct)
	if err != nil {
		status, msg := userMessage(err)
		p.log.Warn("invoice history unavailable", zap.String("email", acct.Email), zap.Error(err))
		p.renderError(w, r, status, msg)
		return
	}
	p.renderTemplate(w, r, "invoices.html", "Billing", map[string]interface{}{
		"Invoices": invoices,
	})
}

func (p *Portal) handleBillingPortal(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	url, err := p.svc.Billing.PortalURL(r.Context(), acct)
	if errors.Is(err, billing.ErrNoCustomer) {
		http.Redirect(w, r, "/billing?message=no_customer", http.StatusSeeOther)
		return
	}
	if err != nil {
		status, msg := userMessage(err)
		p.renderError(w, r, status, msg)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func (p *Portal) handleCheckout(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	url, err := p.svc.Billing.Checkout(r.Context(), acct, r.FormValue("plan"))
	if err != nil {
		status, msg := userMessage(err)
		p.renderError(w, r, status, msg)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func (p *Portal) handleCancel(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	err := p.svc.Billing.CancelSubscription(r.Context(), acct)
	if errors.Is(err, billing.ErrNoSubscription) {
		http.Redirect(w, r, "/billing?message=no_subscription", http.StatusSeeOther)
		return
	}
	if err != nil {
		status, msg := userMessage(err)
		p.renderError(w, r, status, msg)
		return
	}
	http.Redirect(w, r, "/billing?message=cancel_scheduled", http.StatusSeeOther)
}
