package portal

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/models"
)

func (p *Portal) handleHome(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFrom(r.Context()); sess != nil && sess.Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	p.renderTemplate(w, r, "home.html", "Home", nil)
}

func (p *Portal) registerData(form auth.RegistrationForm) map[string]interface{} {
	return map[string]interface{}{
		"PasswordRequirements": auth.GetPasswordRequirements(p.config.Auth.MinPasswordLength),
		"Questions":            auth.SecurityQuestions,
		"Form":                 form,
	}
}

func (p *Portal) handleRegister(w http.ResponseWriter, r *http.Request) {
	p.renderTemplate(w, r, "register.html", "Register", p.registerData(auth.RegistrationForm{}))
}

func (p *Portal) handleRegisterPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.renderError(w, r, http.StatusBadRequest, "Invalid form submission.")
		return
	}
	form := auth.RegistrationForm{
		Email:            r.PostFormValue("email"),
		DisplayName:      r.PostFormValue("display_name"),
		Password:         r.PostFormValue("password"),
		Confirm:          r.PostFormValue("confirm_password"),
		Question1:        r.PostFormValue("question_1"),
		Answer1:          r.PostFormValue("answer_1"),
		Question2:        r.PostFormValue("question_2"),
		Answer2:          r.PostFormValue("answer_2"),
		NotifyNewsletter: r.PostFormValue("newsletter") == "on",
	}

	if _, err := p.svc.Registrar.Register(r.Context(), form); err != nil {
		status, msg := userMessage(err)
		if status >= http.StatusInternalServerError {
			p.log.Error("registration failed", zap.Error(err))
		}
		// never echo secrets back into the form
		form.Password, form.Confirm, form.Answer1, form.Answer2 = "", "", "", ""
		data := p.registerData(form)
		data["Error"] = msg
		p.render(w, r, status, "register.html", "Register", data)
		return
	}
	http.Redirect(w, r, "/login?message=registered", http.StatusSeeOther)
}

func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.renderTemplate(w, r, "login.html", "Login", nil)
}

func (p *Portal) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	result, err := p.svc.Throttle.AttemptLogin(ctx, email, password)
	if err == nil {
		err = result.Err()
	}
	if err != nil {
		status, msg := userMessage(err)
		p.render(w, r, status, "login.html", "Login", map[string]interface{}{"Error": msg, "Email": email})
		return
	}

	acct := result.Account
	p.svc.Reconciler.ReconcileQuietly(ctx, acct)

	// a fresh token on every login so a pre-login cookie is never promoted
	if old := sessionFrom(ctx); old != nil {
		if err := p.store.DeleteSession(ctx, old.Token); err != nil {
			p.log.Warn("failed to delete pre-login session", zap.Error(err))
		}
	}
	if _, err := p.sessions.Start(ctx, w, acct.Email); err != nil {
		p.log.Error("session creation failed", zap.String("email", acct.Email), zap.Error(err))
		p.render(w, r, http.StatusServiceUnavailable, "login.html", "Login", map[string]interface{}{
			"Error": "Failed to create session.", "Email": email,
		})
		return
	}

	p.log.Info("user logged in", zap.String("email", acct.Email))
	if acct.ForcePasswordReset {
		http.Redirect(w, r, passwordPath+"?message=password_forced", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)
	if sess != nil && sess.Authenticated() {
		p.sessions.Record(ctx, r, sess)
		p.svc.Audit.Record(ctx, sess.Identity, models.ActionLogout, "ip="+auth.ClientIP(ctx))
	}
	if err := p.sessions.Destroy(ctx, w, sess); err != nil {
		p.log.Warn("failed to delete session", zap.Error(err))
	}
	http.Redirect(w, r, "/login?message=logged_out", http.StatusSeeOther)
}

func (p *Portal) handleDashboard(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	p.svc.Reconciler.RefreshIfInactive(r.Context(), acct)
	p.renderTemplate(w, r, "dashboard.html", "Dashboard", map[string]interface{}{
		"Subscription": acct.Subscription,
		"Premium":      acct.Subscription.ActivePremium(),
	})
}

func (p *Portal) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	p.renderTemplate(w, r, "account.html", "Account", map[string]interface{}{
		"Account": acct,
	})
}

func (p *Portal) passwordData() map[string]interface{} {
	return map[string]interface{}{
		"PasswordRequirements": auth.GetPasswordRequirements(p.config.Auth.MinPasswordLength),
	}
}

func (p *Portal) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	data := p.passwordData()
	data["Forced"] = accountFrom(r.Context()).ForcePasswordReset
	p.renderTemplate(w, r, "change_password.html", "Change Password", data)
}

func (p *Portal) handleChangePasswordPost(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	err := p.svc.Passwords.ChangePassword(r.Context(), acct.Email,
		r.FormValue("current_password"), r.FormValue("password"), r.FormValue("confirm_password"))
	if err != nil {
		status, msg := userMessage(err)
		if status >= http.StatusInternalServerError {
			p.log.Error("password change failed", zap.String("email", acct.Email), zap.Error(err))
		}
		data := p.passwordData()
		data["Forced"] = acct.ForcePasswordReset
		data["Error"] = msg
		p.render(w, r, status, "change_password.html", "Change Password", data)
		return
	}
	http.Redirect(w, r, "/account?message=password_changed", http.StatusSeeOther)
}
