package portal

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/middleware"
)

const passwordPath = "/account/password"

func (p *Portal) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientContext)
	r.Use(middleware.AccessLog(p.log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	limit := p.limiter.Limit

	r.Group(func(r chi.Router) {
		r.Use(p.loadSession)

		// Public routes
		r.Get("/", p.handleHome)
		r.Get("/register", p.handleRegister)
		r.With(limit("register")).Post("/register", p.handleRegisterPost)
		r.Get("/login", p.handleLogin)
		r.With(limit("login")).Post("/login", p.handleLoginPost)
		r.Get("/logout", p.handleLogout)
		r.Post("/logout", p.handleLogout)

		r.Route("/forgot-password", func(r chi.Router) {
			r.Get("/", p.handleForgotEmail)
			r.With(limit("recovery")).Post("/", p.handleForgotEmailPost)
			r.Get("/questions", p.handleForgotQuestions)
			r.With(limit("recovery")).Post("/questions", p.handleForgotQuestionsPost)
			r.Get("/reset", p.handleForgotReset)
			r.With(limit("recovery")).Post("/reset", p.handleForgotResetPost)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(p.requireAuth)

			r.Get("/dashboard", p.handleDashboard)
			r.Get("/account", p.handleAccount)
			r.Get(passwordPath, p.handleChangePassword)
			r.With(limit("password")).Post(passwordPath, p.handleChangePasswordPost)

			r.Route("/billing", func(r chi.Router) {
				r.Get("/", p.handleBilling)
				r.Get("/invoices", p.handleInvoices)
				r.Post("/portal", p.handleBillingPortal)
				r.Post("/checkout", p.handleCheckout)
				r.Post("/cancel", p.handleCancel)
			})

			// every admin handler goes through the admin service's gate
			r.Route("/admin", func(r chi.Router) {
				r.Get("/", p.handleAdminDashboard)
				r.Get("/users", p.handleAdminUsers)
				r.Get("/users/{email}", p.handleAdminUser)
				r.Post("/users/{email}/{action}", p.handleAdminAction)
				r.Post("/export", p.handleAdminExport)
				r.Get("/audit", p.handleAdminAudit)
			})
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			p.render(w, r, http.StatusNotFound, "404.html", "Not Found", map[string]interface{}{
				"Path": r.URL.Path,
			})
		})
	})

	return r
}

// loadSession attaches the request's session, if any, to the context.
func (p *Portal) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := p.sessions.Load(r)
		if err != nil {
			p.log.Error("session lookup failed", zap.Error(err))
			p.renderError(w, r, http.StatusServiceUnavailable, "The portal is temporarily unavailable. Please try again.")
			return
		}
		if sess != nil {
			r = r.WithContext(context.WithValue(r.Context(), sessionKey, sess))
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth admits signed-in accounts that may still authenticate. An
// account with a forced password reset can only reach the password page.
func (p *Portal) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r.Context())
		if sess == nil || !sess.Authenticated() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		acct, err := p.store.GetAccountByEmail(r.Context(), sess.Identity)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			p.log.Error("account lookup failed", zap.String("email", sess.Identity), zap.Error(err))
			p.renderError(w, r, http.StatusServiceUnavailable, "The portal is temporarily unavailable. Please try again.")
			return
		}
		if err != nil || !acct.CanAuthenticate() {
			p.log.Info("ending session for account that can no longer sign in", zap.String("email", sess.Identity))
			p.sessions.Record(r.Context(), r, sess)
			if err := p.sessions.Destroy(r.Context(), w, sess); err != nil {
				p.log.Warn("failed to delete session", zap.Error(err))
			}
			http.Redirect(w, r, "/login?message=session_expired", http.StatusSeeOther)
			return
		}

		if acct.ForcePasswordReset && r.URL.Path != passwordPath {
			http.Redirect(w, r, passwordPath+"?message=password_forced", http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
