package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/metrics"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

// NewStripeProvider builds a client whose HTTP calls are bounded by cfg.Timeout.
func NewStripeProvider(cfg config.StripeConfig, logger *zap.Logger) *StripeProvider {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	api := &client.API{}
	api.Init(cfg.SecretKey, stripe.NewBackends(httpClient))
	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		log:           logger.Named("stripe"),
	}
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.ProviderRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func fromStripeSubscription(s *stripe.Subscription) Subscription {
	sub := Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixTime(s.CurrentPeriodEnd),
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		sub.PriceID = s.Items.Data[0].Price.ID
	}
	return sub
}

func fromStripeInvoice(inv *stripe.Invoice) Invoice {
	return Invoice{
		ID:                 inv.ID,
		Number:             inv.Number,
		Status:             string(inv.Status),
		Currency:           string(inv.Currency),
		AmountPaid:         inv.AmountPaid,
		AmountDue:          inv.AmountDue,
		PDFURL:             inv.InvoicePDF,
		HostedURL:          inv.HostedInvoiceURL,
		Created:            unixTime(inv.Created),
		PeriodEnd:          unixTime(inv.PeriodEnd),
		NextPaymentAttempt: unixTime(inv.NextPaymentAttempt),
	}
}

func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	defer observe("list_subscriptions")()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)
	params.Single = true

	var subs []Subscription
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, fromStripeSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, common.ProviderError("list subscriptions", err)
	}
	return subs, nil
}

func (p *StripeProvider) UpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (*Invoice, error) {
	defer observe("upcoming_invoice")()

	params := &stripe.InvoiceUpcomingParams{Customer: stripe.String(customerID)}
	if subscriptionID != "" {
		params.Subscription = stripe.String(subscriptionID)
	}
	params.Context = ctx

	inv, err := p.api.Invoices.Upcoming(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && string(serr.Code) == "invoice_upcoming_none" {
			return nil, nil
		}
		return nil, common.ProviderError("upcoming invoice", err)
	}
	out := fromStripeInvoice(inv)
	return &out, nil
}

func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	defer observe("find_customer")()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := p.api.Customers.List(params)
	if iter.Next() {
		c := iter.Customer()
		return &Customer{ID: c.ID, Email: c.Email}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, common.ProviderError("find customer", err)
	}
	return nil, nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	defer observe("get_customer")()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, common.ProviderError("get customer", err)
	}
	if c.Deleted {
		return &Customer{ID: c.ID}, nil
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	defer observe("create_checkout")()

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Email),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, common.ProviderError("create checkout", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	defer observe("get_checkout")()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	s, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, common.ProviderError("get checkout", err)
	}

	out := &CheckoutSession{ID: s.ID, URL: s.URL, CustomerEmail: s.CustomerEmail}
	if out.CustomerEmail == "" && s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if s.LineItems != nil && len(s.LineItems.Data) > 0 && s.LineItems.Data[0].Price != nil {
		out.PriceID = s.LineItems.Data[0].Price.ID
	}
	return out, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	defer observe("create_portal")()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", common.ProviderError("create portal", err)
	}
	return s.URL, nil
}

func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	defer observe("cancel_subscription")()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	s, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, common.ProviderError("cancel subscription", err)
	}
	sub := fromStripeSubscription(s)
	return &sub, nil
}

func (p *StripeProvider) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	defer observe("list_invoices")()

	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(limit))
	params.Single = true

	var out []Invoice
	iter := p.api.Invoices.List(params)
	for len(out) < limit && iter.Next() {
		out = append(out, fromStripeInvoice(iter.Invoice()))
	}
	if err := iter.Err(); err != nil {
		return nil, common.ProviderError("list invoices", err)
	}
	return out, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the event.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}

	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil && ev.Data.Object != nil {
		obj := ev.Data.Object
		out.ObjectID, _ = obj["id"].(string)
		out.CustomerEmail, _ = obj["customer_email"].(string)
		switch c := obj["customer"].(type) {
		case string:
			out.CustomerID = c
		case map[string]interface{}:
			out.CustomerID, _ = c["id"].(string)
		}
	}
	return out, nil
}
