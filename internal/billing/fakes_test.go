package billing

import (
	"context"
	"sync"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
)

type fakeProvider struct {
	mu sync.Mutex

	customers map[string]*Customer      // by email
	subs      map[string][]Subscription // by customer id
	upcoming  map[string]*Invoice       // by customer id
	invoices  map[string][]Invoice
	sessions  map[string]*CheckoutSession
	event     Event

	err        error // every call fails when set
	upcomingEr error

	calls            map[string]int
	lastCheckout     CheckoutRequest
	canceled         []string
	portalCustomerID string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		customers: map[string]*Customer{},
		subs:      map[string][]Subscription{},
		upcoming:  map[string]*Invoice{},
		invoices:  map[string][]Invoice{},
		sessions:  map[string]*CheckoutSession{},
		calls:     map[string]int{},
	}
}

func (f *fakeProvider) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeProvider) ListSubscriptions(_ context.Context, customerID string) ([]Subscription, error) {
	if err := f.call("list_subscriptions"); err != nil {
		return nil, err
	}
	return f.subs[customerID], nil
}

func (f *fakeProvider) UpcomingInvoice(_ context.Context, customerID, _ string) (*Invoice, error) {
	if err := f.call("upcoming_invoice"); err != nil {
		return nil, err
	}
	if f.upcomingEr != nil {
		return nil, f.upcomingEr
	}
	return f.upcoming[customerID], nil
}

func (f *fakeProvider) FindCustomerByEmail(_ context.Context, email string) (*Customer, error) {
	if err := f.call("find_customer"); err != nil {
		return nil, err
	}
	return f.customers[email], nil
}

func (f *fakeProvider) GetCustomer(_ context.Context, id string) (*Customer, error) {
	if err := f.call("get_customer"); err != nil {
		return nil, err
	}
	for _, c := range f.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := f.call("create_checkout"); err != nil {
		return nil, err
	}
	f.lastCheckout = req
	return &CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (f *fakeProvider) GetCheckoutSession(_ context.Context, id string) (*CheckoutSession, error) {
	if err := f.call("get_checkout"); err != nil {
		return nil, err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, common.ProviderError("get checkout", common.ErrNotFound)
	}
	return s, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if err := f.call("create_portal"); err != nil {
		return "", err
	}
	f.portalCustomerID = customerID
	return "https://portal.example/" + customerID + "?return=" + returnURL, nil
}

func (f *fakeProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*Subscription, error) {
	if err := f.call("cancel"); err != nil {
		return nil, err
	}
	f.canceled = append(f.canceled, subscriptionID)
	for cust, subs := range f.subs {
		for i := range subs {
			if subs[i].ID == subscriptionID {
				subs[i].CancelAtPeriodEnd = true
				f.subs[cust] = subs
				s := subs[i]
				return &s, nil
			}
		}
	}
	return &Subscription{ID: subscriptionID, CancelAtPeriodEnd: true}, nil
}

func (f *fakeProvider) ListInvoices(_ context.Context, customerID string, limit int) ([]Invoice, error) {
	if err := f.call("list_invoices"); err != nil {
		return nil, err
	}
	inv := f.invoices[customerID]
	if len(inv) > limit {
		inv = inv[:limit]
	}
	return inv, nil
}

func (f *fakeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	if signature != "valid" {
		return Event{}, ErrInvalidWebhook
	}
	return f.event, nil
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	writes   int
	err      error
}

func newFakeAccounts(accts ...*models.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: map[string]*models.Account{}}
	for _, a := range accts {
		f.accounts[a.Email] = a
	}
	return f
}

func (f *fakeAccounts) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[email]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) GetAccountByCustomerID(_ context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if id != "" && a.Subscription.CustomerID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeAccounts) ApplySubscription(_ context.Context, email string, sub models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	a, ok := f.accounts[email]
	if !ok {
		return common.ErrNotFound
	}
	f.writes++
	a.Subscription = sub
	return nil
}

func (f *fakeAccounts) sub(email string) models.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[email].Subscription
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []models.AuditAction
}

func (a *fakeAuditor) Record(_ context.Context, _ string, action models.AuditAction, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}
