package portal

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cricketstatspack/portal/internal/admin"
	"github.com/cricketstatspack/portal/internal/audit"
	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/database/dbtest"
	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

const (
	testAdmin    = "admin@statspack.test"
	testPassword = "correct-horse"
)

// stubProvider is a billing provider with no customers. Checkout returns a
// URL derived from the price.
type stubProvider struct{}

func (stubProvider) ListSubscriptions(context.Context, string) ([]billing.Subscription, error) {
	return nil, nil
}
func (stubProvider) UpcomingInvoice(context.Context, string, string) (*billing.Invoice, error) {
	return nil, nil
}
func (stubProvider) FindCustomerByEmail(context.Context, string) (*billing.Customer, error) {
	return nil, nil
}
func (stubProvider) GetCustomer(context.Context, string) (*billing.Customer, error) {
	return nil, nil
}
func (stubProvider) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/" + req.PriceID}, nil
}
func (stubProvider) GetCheckoutSession(context.Context, string) (*billing.CheckoutSession, error) {
	return nil, nil
}
func (stubProvider) CreatePortalSession(context.Context, string, string) (string, error) {
	return "https://billing.test/portal", nil
}
func (stubProvider) CancelAtPeriodEnd(context.Context, string) (*billing.Subscription, error) {
	return &billing.Subscription{}, nil
}
func (stubProvider) ListInvoices(context.Context, string, int) ([]billing.Invoice, error) {
	return nil, nil
}
func (stubProvider) ParseWebhook([]byte, string) (billing.Event, error) {
	return billing.Event{}, billing.ErrInvalidWebhook
}

type PortalTestSuite struct {
	suite.Suite
	ctx    context.Context
	cfg    *config.Config
	store  *store.Store
	server *httptest.Server
}

func TestPortalTestSuite(t *testing.T) {
	suite.Run(t, new(PortalTestSuite))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LoginRate: 100, LoginBurst: 100},
		Auth: config.AuthConfig{
			AdminEmail:        testAdmin,
			LockoutThreshold:  5,
			LockoutDuration:   15 * time.Minute,
			ResetAttemptLimit: 3,
			MinPasswordLength: 8,
			SessionTTL:        time.Hour,
		},
		Stripe: config.StripeConfig{
			MonthlyPriceID: "price_monthly",
			AnnualPriceID:  "price_annual",
			ReturnURL:      "http://localhost/billing",
		},
	}
}

func (s *PortalTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.cfg = testConfig()
	s.start(s.cfg)
}

func (s *PortalTestSuite) TearDownTest() {
	s.server.Close()
	s.server = nil
}

func (s *PortalTestSuite) start(cfg *config.Config) {
	if s.server != nil {
		s.server.Close()
	}
	logger := zap.NewNop()
	s.store = store.New(dbtest.NewSQLite(s.T()), logger)
	recorder := audit.NewRecorder(s.store, logger)
	verifier := auth.NewVerifier(bcrypt.MinCost)
	policy := auth.PolicyFromConfig(cfg.Auth)
	plans := billing.PlansFromConfig(cfg.Stripe)
	provider := stubProvider{}
	reconciler := billing.NewReconciler(provider, s.store, recorder, plans, time.Second, logger)

	p, err := New(cfg, s.store, Services{
		Throttle:   auth.NewThrottle(s.store, verifier, recorder, policy, logger),
		Registrar:  auth.NewRegistrar(s.store, verifier, recorder, policy, logger),
		Recovery:   auth.NewRecoveryFlow(s.store, verifier, recorder, policy, "decoy", logger),
		Passwords:  auth.NewPasswordChanger(s.store, verifier, recorder, policy),
		Reconciler: reconciler,
		Billing:    billing.NewService(provider, s.store, recorder, cfg.Stripe, logger),
		Admin:      admin.NewService(s.store, auth.NewGate(cfg, recorder, logger), recorder, nil, logger),
		Audit:      recorder,
	}, logger)
	s.Require().NoError(err)
	s.server = httptest.NewServer(p.Routes())
}

// client is a browser with its own cookie jar that does not follow redirects.
type client struct {
	s    *PortalTestSuite
	http *http.Client
}

func (s *PortalTestSuite) newClient() *client {
	jar, err := cookiejar.New(nil)
	s.Require().NoError(err)
	return &client{s: s, http: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

type response struct {
	status   int
	location string
	body     string
	header   http.Header
}

func (c *client) do(method, path string, form url.Values) response {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, c.s.server.URL+path, body)
	c.s.Require().NoError(err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http.Do(req)
	c.s.Require().NoError(err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	c.s.Require().NoError(err)
	return response{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(b), header: resp.Header}
}

func (c *client) get(path string) response { return c.do(http.MethodGet, path, nil) }

func (c *client) post(path string, form url.Values) response {
	if form == nil {
		form = url.Values{}
	}
	return c.do(http.MethodPost, path, form)
}

func (c *client) login(email, password string) response {
	return c.post("/login", url.Values{"email": {email}, "password": {password}})
}

func (s *PortalTestSuite) register(email string) {
	res := s.newClient().post("/register", url.Values{
		"email":            {email},
		"display_name":     {"Test User"},
		"password":         {testPassword},
		"confirm_password": {testPassword},
		"question_1":       {auth.SecurityQuestions[0]},
		"answer_1":         {"Rex"},
		"question_2":       {auth.SecurityQuestions[1]},
		"answer_2":         {"Smith"},
	})
	s.Require().Equal(http.StatusSeeOther, res.status, res.body)
	s.Require().Equal("/login?message=registered", res.location)
}

func (s *PortalTestSuite) loggedIn(email string) *client {
	c := s.newClient()
	res := c.login(email, testPassword)
	s.Require().Equal(http.StatusSeeOther, res.status, res.body)
	return c
}

func (s *PortalTestSuite) auditActions(email string) []models.AuditAction {
	entries, err := s.store.ListAudit(s.ctx, email, 100)
	s.Require().NoError(err)
	out := make([]models.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *PortalTestSuite) TestRegisterLoginLogout() {
	s.register("a@x.com")
	c := s.newClient()

	res := c.login("A@X.com", testPassword)
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal("/dashboard", res.location)
	s.Contains(res.header.Get("Set-Cookie"), "HttpOnly")
	s.Contains(res.header.Get("Set-Cookie"), "SameSite=Lax")

	res = c.get("/dashboard")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "Welcome, Test User")

	res = c.post("/logout", nil)
	s.Equal(http.StatusSeeOther, res.status)

	records, err := s.store.ListSessionRecords(s.ctx, "a@x.com", 10)
	s.Require().NoError(err)
	s.Len(records, 1)
	s.Contains(s.auditActions("a@x.com"), models.ActionLogout)

	res = c.get("/dashboard")
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal("/login", res.location)
}

func (s *PortalTestSuite) TestRegisterValidationKeepsForm() {
	res := s.newClient().post("/register", url.Values{
		"email":            {"new@x.com"},
		"password":         {"short12"},
		"confirm_password": {"short12"},
	})
	s.Equal(http.StatusUnprocessableEntity, res.status)
	s.Contains(res.body, "at least 8 characters")
	s.Contains(res.body, `value="new@x.com"`)

	_, err := s.store.GetAccountByEmail(s.ctx, "new@x.com")
	s.Error(err)
}

func (s *PortalTestSuite) TestDuplicateRegistration() {
	s.register("a@x.com")
	res := s.newClient().post("/register", url.Values{
		"email":            {"a@x.com"},
		"password":         {testPassword},
		"confirm_password": {testPassword},
		"question_1":       {auth.SecurityQuestions[0]},
		"answer_1":         {"x"},
		"question_2":       {auth.SecurityQuestions[1]},
		"answer_2":         {"y"},
	})
	s.Equal(http.StatusConflict, res.status)
}

func (s *PortalTestSuite) TestLoginLockout() {
	s.register("a@x.com")
	c := s.newClient()

	for i := 1; i <= 4; i++ {
		res := c.login("a@x.com", "wrong-password")
		s.Require().Equal(http.StatusUnauthorized, res.status, "attempt %d", i)
		s.Contains(res.body, "Invalid email or password.")
	}
	res := c.login("a@x.com", "wrong-password")
	s.Equal(http.StatusLocked, res.status)
	s.Contains(res.body, "15 minute(s)")

	res = c.login("a@x.com", testPassword)
	s.Equal(http.StatusLocked, res.status, "correct password is refused while locked")
	s.Contains(s.auditActions("a@x.com"), models.ActionLockout)
}

func (s *PortalTestSuite) TestUnknownEmailLooksLikeBadPassword() {
	res := s.newClient().login("ghost@x.com", testPassword)
	s.Equal(http.StatusUnauthorized, res.status)
	s.Contains(res.body, "Invalid email or password.")
}

func (s *PortalTestSuite) TestPasswordRecovery() {
	s.register("a@x.com")
	c := s.newClient()

	res := c.post("/forgot-password", url.Values{"email": {"a@x.com"}})
	s.Require().Equal(http.StatusSeeOther, res.status, res.body)
	s.Equal("/forgot-password/questions", res.location)

	res = c.get("/forgot-password/questions")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "What was your first pet&#39;s name?")

	res = c.post("/forgot-password/questions", url.Values{"answer_1": {"Rex"}, "answer_2": {"Jones"}})
	s.Equal(http.StatusUnauthorized, res.status)

	res = c.get("/forgot-password/reset")
	s.Equal(http.StatusSeeOther, res.status, "no ticket before verification")

	res = c.post("/forgot-password/questions", url.Values{"answer_1": {" rex "}, "answer_2": {"SMITH"}})
	s.Require().Equal(http.StatusSeeOther, res.status, res.body)
	s.Equal("/forgot-password/reset", res.location)

	res = c.post("/forgot-password/reset", url.Values{"password": {"seven77"}, "confirm_password": {"seven77"}})
	s.Equal(http.StatusUnprocessableEntity, res.status)

	res = c.post("/forgot-password/reset", url.Values{"password": {"new-password-1"}, "confirm_password": {"new-password-1"}})
	s.Require().Equal(http.StatusSeeOther, res.status, res.body)
	s.Equal("/login?message=password_reset", res.location)

	// the ticket is single use
	res = c.get("/forgot-password/reset")
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal(forgotPath, res.location)

	s.Equal(http.StatusSeeOther, s.newClient().login("a@x.com", "new-password-1").status)
	s.Contains(s.auditActions("a@x.com"), models.ActionRecoveryComplete)
}

func (s *PortalTestSuite) TestRecoveryBlocksAfterThreeWrongAnswers() {
	s.register("a@x.com")
	c := s.newClient()
	s.Require().Equal(http.StatusSeeOther, c.post("/forgot-password", url.Values{"email": {"a@x.com"}}).status)

	wrong := url.Values{"answer_1": {"no"}, "answer_2": {"no"}}
	s.Equal(http.StatusUnauthorized, c.post("/forgot-password/questions", wrong).status)
	s.Equal(http.StatusUnauthorized, c.post("/forgot-password/questions", wrong).status)
	res := c.post("/forgot-password/questions", wrong)
	s.Equal(http.StatusForbidden, res.status)
	s.Contains(res.body, "blocked")

	res = c.post("/forgot-password/questions", url.Values{"answer_1": {"Rex"}, "answer_2": {"Smith"}})
	s.Equal(http.StatusForbidden, res.status, "correct answers are not checked once blocked")
	s.Equal(http.StatusSeeOther, c.get("/forgot-password/reset").status)

	res = s.newClient().post("/forgot-password", url.Values{"email": {"a@x.com"}})
	s.Equal(http.StatusForbidden, res.status, "the account stays blocked for new sessions")
}

func (s *PortalTestSuite) TestResetWithoutTicketWritesNothing() {
	s.register("a@x.com")
	before, err := s.store.GetAccountByEmail(s.ctx, "a@x.com")
	s.Require().NoError(err)

	res := s.newClient().post("/forgot-password/reset", url.Values{
		"password": {"new-password-1"}, "confirm_password": {"new-password-1"},
	})
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal(forgotPath, res.location)

	after, err := s.store.GetAccountByEmail(s.ctx, "a@x.com")
	s.Require().NoError(err)
	s.Equal(before.PasswordHash, after.PasswordHash)
}

func (s *PortalTestSuite) TestUnknownEmailRecoveryGetsQuestions() {
	c := s.newClient()
	res := c.post("/forgot-password", url.Values{"email": {"ghost@x.com"}})
	s.Equal(http.StatusSeeOther, res.status)
	res = c.get("/forgot-password/questions")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "ghost@x.com")
}

func (s *PortalTestSuite) TestAdminRequiresAdmin() {
	s.register("a@x.com")
	c := s.loggedIn("a@x.com")

	res := c.get("/admin/")
	s.Equal(http.StatusForbidden, res.status)
	s.Contains(s.auditActions("a@x.com"), models.ActionAdminUnauthorized)

	res = c.post("/admin/users/a@x.com/ban", nil)
	s.Equal(http.StatusForbidden, res.status)
	acct, err := s.store.GetAccountByEmail(s.ctx, "a@x.com")
	s.Require().NoError(err)
	s.Equal(models.AccountStatusActive, acct.Status)
}

func (s *PortalTestSuite) TestAdminBanEndsSessions() {
	s.register(testAdmin)
	s.register("b@x.com")
	adm := s.loggedIn(testAdmin)
	user := s.loggedIn("b@x.com")

	res := adm.get("/admin/")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "Total users")

	res = adm.get("/admin/users?q=b@")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "b@x.com")

	res = adm.post("/admin/users/b@x.com/ban", nil)
	s.Require().Equal(http.StatusSeeOther, res.status, res.body)
	s.Equal("/admin/users/b@x.com", res.location)

	res = user.get("/dashboard")
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal("/login?message=session_expired", res.location)

	res = s.newClient().login("b@x.com", testPassword)
	s.Equal(http.StatusForbidden, res.status)

	res = adm.get("/admin/users/b@x.com")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "login_banned")

	res = adm.post("/admin/users/b@x.com/explode", nil)
	s.Equal(http.StatusNotFound, res.status)
}

func (s *PortalTestSuite) TestForcedPasswordReset() {
	s.register(testAdmin)
	s.register("b@x.com")
	adm := s.loggedIn(testAdmin)
	s.Require().Equal(http.StatusSeeOther, adm.post("/admin/users/b@x.com/force-reset", nil).status)

	user := s.newClient()
	res := user.login("b@x.com", testPassword)
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal(passwordPath+"?message=password_forced", res.location)

	res = user.get("/billing")
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal(passwordPath+"?message=password_forced", res.location)

	res = user.post(passwordPath, url.Values{
		"current_password": {testPassword},
		"password":         {"brand-new-pass"},
		"confirm_password": {"brand-new-pass"},
	})
	s.Require().Equal(http.StatusSeeOther, res.status, res.body)

	s.Equal(http.StatusOK, user.get("/billing").status)
}

func (s *PortalTestSuite) TestChangePasswordWrongCurrent() {
	s.register("a@x.com")
	c := s.loggedIn("a@x.com")
	res := c.post(passwordPath, url.Values{
		"current_password": {"not-it"},
		"password":         {"brand-new-pass"},
		"confirm_password": {"brand-new-pass"},
	})
	s.Equal(http.StatusUnprocessableEntity, res.status)
	s.Contains(res.body, "current password is incorrect")
}

func (s *PortalTestSuite) TestAdminExportInline() {
	s.register(testAdmin)
	s.register("b@x.com")
	adm := s.loggedIn(testAdmin)

	res := adm.post("/admin/export", nil)
	s.Equal(http.StatusOK, res.status)
	s.Equal("text/csv", res.header.Get("Content-Type"))
	s.Contains(res.header.Get("Content-Disposition"), "attachment")
	s.Contains(res.body, "b@x.com")
	s.NotContains(res.body, "$2a$")
}

func (s *PortalTestSuite) TestBillingActions() {
	s.register("a@x.com")
	c := s.loggedIn("a@x.com")

	res := c.get("/billing")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "Subscribe monthly")

	res = c.post("/billing/checkout", url.Values{"plan": {"annual"}})
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal("https://checkout.test/price_annual", res.location)

	res = c.post("/billing/checkout", url.Values{"plan": {"weekly"}})
	s.Equal(http.StatusUnprocessableEntity, res.status)

	res = c.post("/billing/cancel", nil)
	s.Equal(http.StatusSeeOther, res.status)
	s.Equal("/billing?message=no_subscription", res.location)

	res = c.post("/billing/portal", nil)
	s.Equal("/billing?message=no_customer", res.location)

	res = c.get("/billing/invoices")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "No invoices yet.")
}

func (s *PortalTestSuite) TestNotFoundAndMetrics() {
	res := s.newClient().get("/no-such-page")
	s.Equal(http.StatusNotFound, res.status)
	s.Contains(res.body, "/no-such-page")

	res = s.newClient().get("/metrics")
	s.Equal(http.StatusOK, res.status)
	s.Contains(res.body, "statspack_http_requests_total")
}

func (s *PortalTestSuite) TestLoginIsRateLimited() {
	cfg := testConfig()
	cfg.Server.LoginRate = 0.001
	cfg.Server.LoginBurst = 2
	s.start(cfg)

	c := s.newClient()
	s.Equal(http.StatusUnauthorized, c.login("a@x.com", "x").status)
	s.Equal(http.StatusUnauthorized, c.login("a@x.com", "x").status)
	res := c.login("a@x.com", "x")
	s.Equal(http.StatusTooManyRequests, res.status)
	s.NotEmpty(res.header.Get("Retry-After"))
}
