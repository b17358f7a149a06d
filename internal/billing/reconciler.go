package billing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/metrics"
	"github.com/cricketstatspack/portal/internal/models"
)

// StatusCanceling marks a live subscription that ends at period end.
const StatusCanceling = "canceling"

// Reconciler repairs drift between an account's cached subscription and the
// provider's record. It reads from the provider and writes at most one update.
type Reconciler struct {
	provider Provider
	accounts AccountStore
	audit    Auditor
	plans    Plans
	timeout  time.Duration
	log      *zap.Logger
}

func NewReconciler(provider Provider, accounts AccountStore, audit Auditor, plans Plans, timeout time.Duration, logger *zap.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{
		provider: provider,
		accounts: accounts,
		audit:    audit,
		plans:    plans,
		timeout:  timeout,
		log:      logger.Named("reconciler"),
	}
}

// Reconcile derives the account's subscription from the provider and, when
// any field differs, stores all of them in one write. acct is updated in
// place. It reports whether a write happened.
func (r *Reconciler) Reconcile(ctx context.Context, acct *models.Account) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	target, err := r.derive(ctx, acct)
	if err != nil {
		return false, err
	}
	if target.Equal(acct.Subscription) {
		return false, nil
	}

	if err := r.accounts.ApplySubscription(ctx, acct.Email, target); err != nil {
		return false, err
	}

	before := acct.Subscription
	acct.Subscription = target
	r.log.Info("subscription healed",
		zap.String("email", acct.Email),
		zap.Bool("premium", target.IsPremium),
		zap.String("status", target.Status),
		zap.String("plan", target.Plan),
	)

	action := models.ActionSubscriptionSynced
	switch {
	case target.IsPremium && !before.IsPremium:
		action = models.ActionSubscriptionActivated
	case !target.IsPremium && before.IsPremium:
		action = models.ActionSubscriptionDeactivated
	}
	r.audit.Record(ctx, acct.Email, action, "status="+target.Status+" plan="+target.Plan)
	return true, nil
}

// ReconcileQuietly runs Reconcile and logs any failure. Local state is left
// as it was when the provider or store cannot be reached.
func (r *Reconciler) ReconcileQuietly(ctx context.Context, acct *models.Account) {
	healed, err := r.Reconcile(ctx, acct)
	switch {
	case err != nil:
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		r.log.Warn("subscription reconcile failed, keeping local state",
			zap.String("email", acct.Email), zap.Error(err))
	case healed:
		metrics.ReconcileTotal.WithLabelValues("healed").Inc()
	default:
		metrics.ReconcileTotal.WithLabelValues("unchanged").Inc()
	}
}

// RefreshIfInactive reconciles only when local state does not already show
// an active paid subscription.
func (r *Reconciler) RefreshIfInactive(ctx context.Context, acct *models.Account) {
	if acct.Subscription.ActivePremium() {
		metrics.ReconcileTotal.WithLabelValues("skipped").Inc()
		return
	}
	r.ReconcileQuietly(ctx, acct)
}

func (r *Reconciler) derive(ctx context.Context, acct *models.Account) (models.Subscription, error) {
	customerID := acct.Subscription.CustomerID
	if customerID == "" {
		cust, err := r.provider.FindCustomerByEmail(ctx, acct.Email)
		if err != nil {
			return models.Subscription{}, err
		}
		if cust == nil {
			return models.Subscription{}, nil
		}
		customerID = cust.ID
	}

	subs, err := r.provider.ListSubscriptions(ctx, customerID)
	if err != nil {
		return models.Subscription{}, err
	}

	target := models.Subscription{CustomerID: customerID}
	current, ok := pick(subs)
	if !ok {
		return target, nil
	}

	target.SubscriptionID = current.ID
	target.Plan = r.plans.PlanFor(current.PriceID)
	target.Status = current.Status
	target.IsPremium = current.Live()
	if target.IsPremium && current.CancelAtPeriodEnd {
		target.Status = StatusCanceling
	}

	renewal := current.CurrentPeriodEnd
	if target.IsPremium {
		renewal = r.renewal(ctx, customerID, current)
	}
	if !renewal.IsZero() {
		renewal = renewal.UTC().Truncate(time.Second)
		target.CurrentPeriodEnd = &renewal
	}
	return target, nil
}

// pick prefers a live subscription and otherwise the most recent one.
func pick(subs []Subscription) (Subscription, bool) {
	for _, s := range subs {
		if s.Live() {
			return s, true
		}
	}
	if len(subs) > 0 {
		return subs[0], true
	}
	return Subscription{}, false
}

// renewal is the next invoice's payment attempt, else its period end, else
// the subscription's own period end.
func (r *Reconciler) renewal(ctx context.Context, customerID string, sub Subscription) time.Time {
	inv, err := r.provider.UpcomingInvoice(ctx, customerID, sub.ID)
	if err != nil {
		r.log.Debug("upcoming invoice unavailable", zap.String("customer", customerID), zap.Error(err))
		return sub.CurrentPeriodEnd
	}
	switch {
	case inv == nil:
		return sub.CurrentPeriodEnd
	case !inv.NextPaymentAttempt.IsZero():
		return inv.NextPaymentAttempt
	case !inv.PeriodEnd.IsZero():
		return inv.PeriodEnd
	}
	return sub.CurrentPeriodEnd
}
