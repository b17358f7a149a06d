package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/models"
)

var testStripeConfig = config.StripeConfig{
	MonthlyPriceID: "price_monthly",
	AnnualPriceID:  "price_annual",
	SuccessURL:     "https://portal.example/billing?checkout=success",
	CancelURL:      "https://portal.example/billing?checkout=cancel",
	ReturnURL:      "https://portal.example/billing",
}

func newTestService(p *fakeProvider, accts *fakeAccounts) (*Service, *fakeAuditor) {
	audit := &fakeAuditor{}
	return NewService(p, accts, audit, testStripeConfig, zap.NewNop()), audit
}

func TestCheckout(t *testing.T) {
	p := newFakeProvider()
	svc, _ := newTestService(p, newFakeAccounts())
	acct := &models.Account{Email: "a@x.com"}

	url, err := svc.Checkout(context.Background(), acct, models.PlanAnnual)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_1", url)
	assert.Equal(t, "price_annual", p.lastCheckout.PriceID)
	assert.Equal(t, "a@x.com", p.lastCheckout.Email)
	assert.Equal(t, testStripeConfig.SuccessURL, p.lastCheckout.SuccessURL)

	_, err = svc.Checkout(context.Background(), acct, "lifetime")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCheckoutSurfacesProviderError(t *testing.T) {
	p := newFakeProvider()
	p.err = common.ProviderError("create checkout", errors.New("503"))
	svc, _ := newTestService(p, newFakeAccounts())

	_, err := svc.Checkout(context.Background(), &models.Account{Email: "a@x.com"}, models.PlanMonthly)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestPortalURL(t *testing.T) {
	p := newFakeProvider()
	svc, _ := newTestService(p, newFakeAccounts())

	url, err := svc.PortalURL(context.Background(), &models.Account{
		Email: "a@x.com", Subscription: models.Subscription{CustomerID: "cus_1"},
	})
	require.NoError(t, err)
	assert.Contains(t, url, "cus_1")
	assert.Zero(t, p.calls["find_customer"])

	p.customers["b@x.com"] = &Customer{ID: "cus_2", Email: "b@x.com"}
	_, err = svc.PortalURL(context.Background(), &models.Account{Email: "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "cus_2", p.portalCustomerID)

	_, err = svc.PortalURL(context.Background(), &models.Account{Email: "c@x.com"})
	assert.ErrorIs(t, err, ErrNoCustomer)
}

func TestCancelSubscription(t *testing.T) {
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	acct := &models.Account{
		Email: "a@x.com",
		Subscription: models.Subscription{
			IsPremium: true, Status: "active", Plan: models.PlanMonthly,
			CustomerID: "cus_1", SubscriptionID: "sub_1",
		},
	}
	p := newFakeProvider()
	p.subs["cus_1"] = []Subscription{{ID: "sub_1", Status: "active", CurrentPeriodEnd: end}}
	accts := newFakeAccounts(&models.Account{Email: "a@x.com", Subscription: acct.Subscription})
	svc, audit := newTestService(p, accts)

	require.NoError(t, svc.CancelSubscription(context.Background(), acct))
	assert.Equal(t, []string{"sub_1"}, p.canceled)

	got := accts.sub("a@x.com")
	assert.Equal(t, StatusCanceling, got.Status)
	assert.True(t, got.IsPremium, "access continues to period end")
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, end.Equal(*got.CurrentPeriodEnd))
	assert.Equal(t, StatusCanceling, acct.Subscription.Status)
	assert.Equal(t, []models.AuditAction{models.ActionSubscriptionCanceled}, audit.actions)

	err := svc.CancelSubscription(context.Background(), &models.Account{Email: "b@x.com"})
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestCancelSubscriptionProviderError(t *testing.T) {
	p := newFakeProvider()
	p.err = common.ProviderError("cancel subscription", errors.New("boom"))
	accts := newFakeAccounts()
	svc, _ := newTestService(p, accts)

	err := svc.CancelSubscription(context.Background(), &models.Account{
		Email: "a@x.com", Subscription: models.Subscription{SubscriptionID: "sub_1"},
	})
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	assert.Zero(t, accts.writes)
}

func TestInvoices(t *testing.T) {
	p := newFakeProvider()
	p.invoices["cus_1"] = []Invoice{{ID: "in_2", AmountPaid: 500, Currency: "gbp"}, {ID: "in_1", AmountPaid: 500, Currency: "gbp"}}
	svc, _ := newTestService(p, newFakeAccounts())

	inv, err := svc.Invoices(context.Background(), &models.Account{Subscription: models.Subscription{CustomerID: "cus_1"}})
	require.NoError(t, err)
	assert.Len(t, inv, 2)

	inv, err = svc.Invoices(context.Background(), &models.Account{})
	require.NoError(t, err)
	assert.Empty(t, inv)
	assert.Equal(t, 1, p.calls["list_invoices"])
}
