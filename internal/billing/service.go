package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/models"
)

const invoiceHistoryLimit = 100

// Service runs the billing actions a signed-in user starts. Unlike
// reconciliation, provider failures are returned to the caller.
type Service struct {
	provider Provider
	accounts AccountStore
	audit    Auditor
	plans    Plans
	urls     config.StripeConfig
	log      *zap.Logger
}

func NewService(provider Provider, accounts AccountStore, audit Auditor, cfg config.StripeConfig, logger *zap.Logger) *Service {
	return &Service{
		provider: provider,
		accounts: accounts,
		audit:    audit,
		plans:    PlansFromConfig(cfg),
		urls:     cfg,
		log:      logger.Named("billing"),
	}
}

// Checkout starts a hosted checkout for plan and returns its URL.
func (s *Service) Checkout(ctx context.Context, acct *models.Account, plan string) (string, error) {
	priceID, ok := s.plans.PriceID(plan)
	if !ok {
		return "", common.Invalid("plan", fmt.Sprintf("unknown plan %q", plan))
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		PriceID:    priceID,
		Email:      acct.Email,
		CustomerID: acct.Subscription.CustomerID,
		SuccessURL: s.urls.SuccessURL,
		CancelURL:  s.urls.CancelURL,
	})
	if err != nil {
		s.log.Error("checkout failed", zap.String("email", acct.Email), zap.Error(err))
		return "", err
	}
	s.log.Info("checkout started", zap.String("email", acct.Email), zap.String("plan", plan))
	return sess.URL, nil
}

// customerID returns the stored customer or looks one up by email.
func (s *Service) customerID(ctx context.Context, acct *models.Account) (string, error) {
	if id := acct.Subscription.CustomerID; id != "" {
		return id, nil
	}
	cust, err := s.provider.FindCustomerByEmail(ctx, acct.Email)
	if err != nil {
		return "", err
	}
	if cust == nil {
		return "", ErrNoCustomer
	}
	return cust.ID, nil
}

// PortalURL opens a billing portal session for the account's customer.
func (s *Service) PortalURL(ctx context.Context, acct *models.Account) (string, error) {
	id, err := s.customerID(ctx, acct)
	if err != nil {
		return "", err
	}
	url, err := s.provider.CreatePortalSession(ctx, id, s.urls.ReturnURL)
	if err != nil {
		s.log.Error("portal session failed", zap.String("email", acct.Email), zap.Error(err))
		return "", err
	}
	return url, nil
}

// CancelSubscription asks the provider to end the subscription at period
// end. Premium access stays until then; the local status becomes canceling.
func (s *Service) CancelSubscription(ctx context.Context, acct *models.Account) error {
	subID := acct.Subscription.SubscriptionID
	if subID == "" {
		return ErrNoSubscription
	}

	updated, err := s.provider.CancelAtPeriodEnd(ctx, subID)
	if err != nil {
		s.log.Error("cancel failed", zap.String("email", acct.Email), zap.Error(err))
		return err
	}

	sub := acct.Subscription
	sub.Status = StatusCanceling
	if !updated.CurrentPeriodEnd.IsZero() {
		end := updated.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	if err := s.accounts.ApplySubscription(ctx, acct.Email, sub); err != nil {
		// the reconciler picks the status up on the next pass
		s.log.Warn("cancel recorded at provider but not locally", zap.String("email", acct.Email), zap.Error(err))
	} else {
		acct.Subscription = sub
	}

	s.audit.Record(ctx, acct.Email, models.ActionSubscriptionCanceled, "cancel at period end for "+subID)
	return nil
}

// Invoices returns the account's invoice history, newest first. An account
// without a customer has none.
func (s *Service) Invoices(ctx context.Context, acct *models.Account) ([]Invoice, error) {
	id := acct.Subscription.CustomerID
	if id == "" {
		return nil, nil
	}
	return s.provider.ListInvoices(ctx, id, invoiceHistoryLimit)
}
