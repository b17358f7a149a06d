package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cricketstatspack/portal/internal/audit"
	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/database/dbtest"
	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

const testPassword = "correct-horse"

// webhookProvider has no customers and accepts webhooks signed "valid",
// turning the payload into the event type.
type webhookProvider struct {
	event billing.Event
}

func (webhookProvider) ListSubscriptions(context.Context, string) ([]billing.Subscription, error) {
	return nil, nil
}
func (webhookProvider) UpcomingInvoice(context.Context, string, string) (*billing.Invoice, error) {
	return nil, nil
}
func (webhookProvider) FindCustomerByEmail(context.Context, string) (*billing.Customer, error) {
	return nil, nil
}
func (webhookProvider) GetCustomer(context.Context, string) (*billing.Customer, error) {
	return nil, nil
}
func (webhookProvider) CreateCheckoutSession(context.Context, billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	return nil, common.ErrProviderUnavailable
}
func (webhookProvider) GetCheckoutSession(context.Context, string) (*billing.CheckoutSession, error) {
	return nil, common.ErrProviderUnavailable
}
func (webhookProvider) CreatePortalSession(context.Context, string, string) (string, error) {
	return "", common.ErrProviderUnavailable
}
func (webhookProvider) CancelAtPeriodEnd(context.Context, string) (*billing.Subscription, error) {
	return nil, common.ErrProviderUnavailable
}
func (webhookProvider) ListInvoices(context.Context, string, int) ([]billing.Invoice, error) {
	return nil, nil
}
func (p webhookProvider) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	if signature != "valid" {
		return billing.Event{}, billing.ErrInvalidWebhook
	}
	ev := p.event
	ev.Type = string(payload)
	return ev, nil
}

func TestNewApi(t *testing.T) {
	t.Run("InvalidConfigZeroPort", func(t *testing.T) {
		_, err := NewApi(&config.Config{}, Deps{Tokens: auth.NewTokenManager("s", time.Hour)}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Must have at least a port to start API")
	})

	t.Run("MissingTokenManager", func(t *testing.T) {
		cfg := &config.Config{Server: config.ServerConfig{APIPort: 8081}}
		_, err := NewApi(cfg, Deps{}, zap.NewNop())
		assert.Error(t, err)
	})
}

type ApiTestSuite struct {
	suite.Suite
	ctx    context.Context
	store  *store.Store
	tokens *auth.TokenManager
	server *httptest.Server
}

func TestApiTestSuite(t *testing.T) {
	suite.Run(t, new(ApiTestSuite))
}

func (s *ApiTestSuite) SetupTest() {
	s.ctx = context.Background()
	cfg := &config.Config{
		Server: config.ServerConfig{
			APIPort:     8081,
			LoginRate:   100,
			LoginBurst:  100,
			CORSOrigins: []string{"https://stats.test"},
		},
		Auth: config.AuthConfig{
			LockoutThreshold:  5,
			LockoutDuration:   15 * time.Minute,
			ResetAttemptLimit: 3,
			MinPasswordLength: 8,
		},
	}

	logger := zap.NewNop()
	s.store = store.New(dbtest.NewSQLite(s.T()), logger)
	recorder := audit.NewRecorder(s.store, logger)
	verifier := auth.NewVerifier(bcrypt.MinCost)
	policy := auth.PolicyFromConfig(cfg.Auth)
	provider := webhookProvider{event: billing.Event{ID: "evt_1", CustomerEmail: "a@x.com", CustomerID: "cus_1"}}
	plans := billing.PlansFromConfig(cfg.Stripe)
	reconciler := billing.NewReconciler(provider, s.store, recorder, plans, time.Second, logger)
	s.tokens = auth.NewTokenManager("test-secret", time.Hour)

	_, err := auth.NewRegistrar(s.store, verifier, recorder, policy, logger).Register(s.ctx, auth.RegistrationForm{
		Email:       "a@x.com",
		DisplayName: "Test User",
		Password:    testPassword,
		Confirm:     testPassword,
		Question1:   auth.SecurityQuestions[0],
		Answer1:     "rex",
		Question2:   auth.SecurityQuestions[1],
		Answer2:     "smith",
	})
	s.Require().NoError(err)

	api, err := NewApi(cfg, Deps{
		Store:      s.store,
		Throttle:   auth.NewThrottle(s.store, verifier, recorder, policy, logger),
		Tokens:     s.tokens,
		Reconciler: reconciler,
		Webhooks:   billing.NewWebhooks(provider, s.store, reconciler, recorder, plans, logger),
	}, logger)
	s.Require().NoError(err)
	s.server = httptest.NewServer(api.Router)
}

func (s *ApiTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *ApiTestSuite) do(method, path, body string, header http.Header) *http.Response {
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { res.Body.Close() })
	return res
}

func (s *ApiTestSuite) login(email, password string) *http.Response {
	body, _ := json.Marshal(loginRequest{Email: email, Password: password})
	return s.do(http.MethodPost, "/api/v1/login", string(body), http.Header{"Content-Type": {"application/json"}})
}

func (s *ApiTestSuite) TestLoginAndAccount() {
	res := s.login("a@x.com", testPassword)
	s.Require().Equal(http.StatusOK, res.StatusCode)

	var lr loginResponse
	s.Require().NoError(json.NewDecoder(res.Body).Decode(&lr))
	s.Equal("Bearer", lr.TokenType)
	s.NotEmpty(lr.Token)
	s.True(lr.ExpiresAt.After(time.Now()))

	claims, err := s.tokens.ValidateToken(lr.Token)
	s.Require().NoError(err)
	s.Equal("a@x.com", claims.Email)

	res = s.do(http.MethodGet, "/api/v1/account", "", http.Header{"Authorization": {"Bearer " + lr.Token}})
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var body struct {
		Account models.Account `json:"account"`
		Premium bool           `json:"premium"`
	}
	s.Require().NoError(json.NewDecoder(res.Body).Decode(&body))
	s.Equal("a@x.com", body.Account.Email)
	s.Equal("Test User", body.Account.DisplayName)
	s.False(body.Premium)
}

func (s *ApiTestSuite) TestLoginErrors() {
	res := s.do(http.MethodPost, "/api/v1/login", "{not json", nil)
	s.Equal(http.StatusBadRequest, res.StatusCode)

	res = s.login("nobody@x.com", testPassword)
	s.Equal(http.StatusUnauthorized, res.StatusCode)

	for i := 0; i < 4; i++ {
		res = s.login("a@x.com", "wrong-password")
		s.Require().Equal(http.StatusUnauthorized, res.StatusCode)
	}
	res = s.login("a@x.com", "wrong-password")
	s.Require().Equal(http.StatusLocked, res.StatusCode)
	var er errorResponse
	s.Require().NoError(json.NewDecoder(res.Body).Decode(&er))
	s.Equal(15, er.RetryAfterMinutes)
	s.NotEmpty(res.Header.Get("Retry-After"))

	// locked accounts stay locked for the correct password too
	res = s.login("a@x.com", testPassword)
	s.Equal(http.StatusLocked, res.StatusCode)
}

func (s *ApiTestSuite) TestBannedAccountRefused() {
	res := s.login("a@x.com", testPassword)
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var lr loginResponse
	s.Require().NoError(json.NewDecoder(res.Body).Decode(&lr))

	s.Require().NoError(s.store.TransitionAccountStatus(s.ctx, "a@x.com", models.AccountStatusBanned, models.AccountStatusActive))

	res = s.do(http.MethodGet, "/api/v1/account", "", http.Header{"Authorization": {"Bearer " + lr.Token}})
	s.Equal(http.StatusForbidden, res.StatusCode)

	res = s.login("a@x.com", testPassword)
	s.Equal(http.StatusForbidden, res.StatusCode)
}

func (s *ApiTestSuite) TestTokenAuthMiddleware() {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage", "Bearer not-a-token"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			res := s.do(http.MethodGet, "/api/v1/account", "", h)
			s.Equal(http.StatusUnauthorized, res.StatusCode)
		})
	}

	other := auth.NewTokenManager("other-secret", time.Hour)
	token, _, err := other.GenerateToken(&models.Account{ID: 1, Email: "a@x.com"})
	s.Require().NoError(err)
	res := s.do(http.MethodGet, "/api/v1/account", "", http.Header{"Authorization": {"Bearer " + token}})
	s.Equal(http.StatusUnauthorized, res.StatusCode)
}

func (s *ApiTestSuite) TestStripeWebhook() {
	s.Require().NoError(s.store.ApplySubscription(s.ctx, "a@x.com", models.Subscription{
		IsPremium:  true,
		Plan:       models.PlanMonthly,
		Status:     "active",
		CustomerID: "cus_1",
	}))

	res := s.do(http.MethodPost, "/api/webhook/stripe", billing.EventSubscriptionDeleted,
		http.Header{"Stripe-Signature": {"forged"}})
	s.Equal(http.StatusBadRequest, res.StatusCode)

	acct, err := s.store.GetAccountByEmail(s.ctx, "a@x.com")
	s.Require().NoError(err)
	s.True(acct.Subscription.IsPremium)

	res = s.do(http.MethodPost, "/api/webhook/stripe", billing.EventSubscriptionDeleted,
		http.Header{"Stripe-Signature": {"valid"}})
	s.Equal(http.StatusOK, res.StatusCode)

	acct, err = s.store.GetAccountByEmail(s.ctx, "a@x.com")
	s.Require().NoError(err)
	s.False(acct.Subscription.IsPremium)
	s.Equal("canceled", acct.Subscription.Status)

	res = s.do(http.MethodPost, "/api/webhook/stripe", "customer.created",
		http.Header{"Stripe-Signature": {"valid"}})
	s.Equal(http.StatusOK, res.StatusCode)
}

func (s *ApiTestSuite) TestHeartbeatCORSAndNotFound() {
	res := s.do(http.MethodGet, "/heartbeat", "", nil)
	s.Equal(http.StatusOK, res.StatusCode)

	res = s.do(http.MethodOptions, "/api/v1/login", "", http.Header{
		"Origin":                        {"https://stats.test"},
		"Access-Control-Request-Method": {"POST"},
	})
	s.Equal("https://stats.test", res.Header.Get("Access-Control-Allow-Origin"))

	res = s.do(http.MethodGet, "/nope", "", nil)
	s.Equal(http.StatusNotFound, res.StatusCode)
	s.Equal("application/json", res.Header.Get("Content-Type"))
}

func TestLoginRateLimited(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8081, LoginRate: 0.001, LoginBurst: 1}}
	logger := zap.NewNop()
	st := store.New(dbtest.NewSQLite(t), logger)
	recorder := audit.NewRecorder(st, logger)
	policy := auth.PolicyFromConfig(config.AuthConfig{LockoutThreshold: 5, LockoutDuration: time.Minute, MinPasswordLength: 8})
	api, err := NewApi(cfg, Deps{
		Store:    st,
		Throttle: auth.NewThrottle(st, auth.NewVerifier(bcrypt.MinCost), recorder, policy, logger),
		Tokens:   auth.NewTokenManager("s", time.Hour),
	}, logger)
	require.NoError(t, err)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/login", strings.NewReader(`{"email":"x@x.com","password":"bad"}`))
		rec := httptest.NewRecorder()
		api.Router.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusUnauthorized, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
