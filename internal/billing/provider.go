// Package billing keeps local subscription state in step with Stripe and
// exposes the user-facing billing actions.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/models"
)

var (
	ErrInvalidWebhook = errors.New("invalid webhook payload")
	ErrNoCustomer     = errors.New("no billing customer for account")
	ErrNoSubscription = errors.New("no subscription to cancel")
)

// PlanUnknown is stored when a price id matches neither configured plan.
const PlanUnknown = "unknown"

// Subscription is the provider's record of one subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
}

// Live reports whether the subscription grants premium access.
func (s Subscription) Live() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// Invoice is a past or upcoming invoice.
type Invoice struct {
	ID                 string
	Number             string
	Status             string
	Currency           string
	AmountPaid         int64
	AmountDue          int64
	PDFURL             string
	HostedURL          string
	Created            time.Time
	PeriodEnd          time.Time
	NextPaymentAttempt time.Time
}

// Customer is a billing customer.
type Customer struct {
	ID    string
	Email string
}

// CheckoutRequest describes a new subscription checkout.
type CheckoutRequest struct {
	PriceID    string
	Email      string
	CustomerID string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout page. PriceID is only set when the
// session was fetched with its line items.
type CheckoutSession struct {
	ID             string
	URL            string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	PriceID        string
}

// Event is a verified webhook event reduced to the fields the handlers use.
type Event struct {
	ID            string
	Type          string
	ObjectID      string
	CustomerID    string
	CustomerEmail string
}

// Provider is the billing backend. Lookups that find nothing return a nil
// result and a nil error. Every other failure wraps common.ErrProviderUnavailable.
type Provider interface {
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
	UpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (*Invoice, error)
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// AccountStore is the slice of the credential store billing writes to.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	ApplySubscription(ctx context.Context, email string, sub models.Subscription) error
}

// Auditor records billing transitions without failing the caller.
type Auditor interface {
	Record(ctx context.Context, actor string, action models.AuditAction, detail string)
}

// Plans maps plan names to provider price ids.
type Plans struct {
	Monthly string
	Annual  string
}

func PlansFromConfig(cfg config.StripeConfig) Plans {
	return Plans{Monthly: cfg.MonthlyPriceID, Annual: cfg.AnnualPriceID}
}

// PriceID returns the price for a plan name.
func (p Plans) PriceID(plan string) (string, bool) {
	switch plan {
	case models.PlanMonthly:
		return p.Monthly, p.Monthly != ""
	case models.PlanAnnual:
		return p.Annual, p.Annual != ""
	}
	return "", false
}

// PlanFor returns the plan name for a price, or PlanUnknown.
func (p Plans) PlanFor(priceID string) string {
	switch {
	case priceID == "":
		return PlanUnknown
	case priceID == p.Monthly:
		return models.PlanMonthly
	case priceID == p.Annual:
		return models.PlanAnnual
	}
	return PlanUnknown
}
