package billing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/metrics"
	"github.com/cricketstatspack/portal/internal/models"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Webhooks applies provider events to local state. A returned error asks the
// provider to redeliver; events that cannot be matched to an account are
// acknowledged and dropped.
type Webhooks struct {
	provider   Provider
	accounts   AccountStore
	reconciler *Reconciler
	audit      Auditor
	plans      Plans
	log        *zap.Logger
}

func NewWebhooks(provider Provider, accounts AccountStore, reconciler *Reconciler, audit Auditor, plans Plans, logger *zap.Logger) *Webhooks {
	return &Webhooks{
		provider:   provider,
		accounts:   accounts,
		reconciler: reconciler,
		audit:      audit,
		plans:      plans,
		log:        logger.Named("webhooks"),
	}
}

// Handle verifies and applies one delivery. An invalid signature returns
// ErrInvalidWebhook.
func (w *Webhooks) Handle(ctx context.Context, payload []byte, signature string) error {
	ev, err := w.provider.ParseWebhook(payload, signature)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		w.log.Warn("rejected webhook", zap.Error(err))
		return err
	}

	err = w.dispatch(ctx, ev)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		w.log.Error("webhook failed", zap.String("event", ev.ID), zap.String("type", ev.Type), zap.Error(err))
	}
	metrics.WebhookEventsTotal.WithLabelValues(ev.Type, outcome).Inc()
	return err
}

func (w *Webhooks) dispatch(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		return w.checkoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		return w.subscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		return w.deactivate(ctx, ev, "canceled")
	case EventPaymentFailed:
		return w.deactivate(ctx, ev, "past_due")
	}
	w.log.Debug("ignoring webhook", zap.String("type", ev.Type))
	return nil
}

func (w *Webhooks) checkoutCompleted(ctx context.Context, ev Event) error {
	sess, err := w.provider.GetCheckoutSession(ctx, ev.ObjectID)
	if err != nil {
		return err
	}
	if sess.CustomerEmail == "" || sess.CustomerID == "" {
		w.log.Warn("checkout completed without email or customer", zap.String("session", sess.ID))
		return nil
	}

	acct, err := w.accounts.GetAccountByEmail(ctx, sess.CustomerEmail)
	if errors.Is(err, common.ErrNotFound) {
		w.log.Warn("checkout completed for unknown account", zap.String("email", sess.CustomerEmail))
		return nil
	}
	if err != nil {
		return err
	}

	sub := acct.Subscription
	sub.IsPremium = true
	sub.Status = "active"
	sub.Plan = w.plans.PlanFor(sess.PriceID)
	sub.CustomerID = sess.CustomerID
	if sess.SubscriptionID != "" {
		sub.SubscriptionID = sess.SubscriptionID
	}
	if err := w.accounts.ApplySubscription(ctx, acct.Email, sub); err != nil {
		return err
	}
	acct.Subscription = sub
	w.audit.Record(ctx, acct.Email, models.ActionSubscriptionActivated, "checkout completed, plan="+sub.Plan)

	// fill in renewal and status from the live record
	w.reconciler.ReconcileQuietly(ctx, acct)
	return nil
}

func (w *Webhooks) subscriptionUpdated(ctx context.Context, ev Event) error {
	acct, err := w.accounts.GetAccountByCustomerID(ctx, ev.CustomerID)
	if errors.Is(err, common.ErrNotFound) {
		w.log.Warn("subscription update for unknown customer", zap.String("customer", ev.CustomerID))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = w.reconciler.Reconcile(ctx, acct)
	return err
}

func (w *Webhooks) deactivate(ctx context.Context, ev Event, status string) error {
	acct, err := w.findAccount(ctx, ev)
	if errors.Is(err, common.ErrNotFound) {
		w.log.Warn("deactivation for unknown account",
			zap.String("type", ev.Type), zap.String("customer", ev.CustomerID))
		return nil
	}
	if err != nil {
		return err
	}

	sub := acct.Subscription
	sub.IsPremium = false
	sub.Status = status
	if sub.CustomerID == "" {
		sub.CustomerID = ev.CustomerID
	}
	if sub.Equal(acct.Subscription) {
		return nil
	}
	if err := w.accounts.ApplySubscription(ctx, acct.Email, sub); err != nil {
		return err
	}
	w.audit.Record(ctx, acct.Email, models.ActionSubscriptionDeactivated, ev.Type)
	return nil
}

// findAccount resolves an event to an account by email, asking the provider
// for the customer's email when the event has none.
func (w *Webhooks) findAccount(ctx context.Context, ev Event) (*models.Account, error) {
	email := ev.CustomerEmail
	if email == "" && ev.CustomerID != "" {
		cust, err := w.provider.GetCustomer(ctx, ev.CustomerID)
		if err != nil {
			w.log.Warn("customer lookup failed", zap.String("customer", ev.CustomerID), zap.Error(err))
		} else if cust != nil {
			email = cust.Email
		}
	}
	if email != "" {
		return w.accounts.GetAccountByEmail(ctx, email)
	}
	if ev.CustomerID != "" {
		return w.accounts.GetAccountByCustomerID(ctx, ev.CustomerID)
	}
	return nil, common.ErrNotFound
}
