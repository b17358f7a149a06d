package portal

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
)

const forgotPath = "/forgot-password"

// recoverySession returns the request's session, starting an anonymous one
// when there is none. Recovery progress always lives server side.
func (p *Portal) recoverySession(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	if sess := sessionFrom(r.Context()); sess != nil {
		return sess, nil
	}
	return p.sessions.Start(r.Context(), w, "")
}

func (p *Portal) saveRecovery(w http.ResponseWriter, r *http.Request, sess *models.Session) bool {
	if err := p.sessions.Save(r.Context(), sess); err != nil {
		p.log.Error("failed to save recovery state", zap.Error(err))
		p.renderError(w, r, http.StatusServiceUnavailable, "The portal is temporarily unavailable. Please try again.")
		return false
	}
	return true
}

func (p *Portal) handleForgotEmail(w http.ResponseWriter, r *http.Request) {
	p.renderTemplate(w, r, "forgot_email.html", "Forgot Password", nil)
}

func (p *Portal) handleForgotEmailPost(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	sess, err := p.recoverySession(w, r)
	if err != nil {
		p.log.Error("failed to start recovery session", zap.Error(err))
		p.renderError(w, r, http.StatusServiceUnavailable, "The portal is temporarily unavailable. Please try again.")
		return
	}

	flowErr := p.svc.Recovery.RequestQuestions(r.Context(), &sess.Recovery, email)
	if !p.saveRecovery(w, r, sess) {
		return
	}
	if flowErr != nil {
		status, msg := userMessage(flowErr)
		if status >= http.StatusInternalServerError {
			p.log.Error("recovery step 1 failed", zap.Error(flowErr))
		}
		p.render(w, r, status, "forgot_email.html", "Forgot Password", map[string]interface{}{
			"Error": msg, "Email": email,
		})
		return
	}
	http.Redirect(w, r, forgotPath+"/questions", http.StatusSeeOther)
}

func (p *Portal) handleForgotQuestions(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil || sess.Recovery.Stage != models.RecoveryQuestionsIssued {
		http.Redirect(w, r, forgotPath, http.StatusSeeOther)
		return
	}
	p.renderTemplate(w, r, "forgot_questions.html", "Forgot Password", map[string]interface{}{
		"Email":   sess.Recovery.Email,
		"Prompts": sess.Recovery.Prompts,
	})
}

func (p *Portal) handleForgotQuestionsPost(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil {
		http.Redirect(w, r, forgotPath, http.StatusSeeOther)
		return
	}

	prompts := sess.Recovery.Prompts
	flowErr := p.svc.Recovery.VerifyAnswers(r.Context(), &sess.Recovery, r.FormValue("answer_1"), r.FormValue("answer_2"))
	if !p.saveRecovery(w, r, sess) {
		return
	}

	switch {
	case flowErr == nil:
		http.Redirect(w, r, forgotPath+"/reset", http.StatusSeeOther)
	case errors.Is(flowErr, auth.ErrRecoveryNotStarted), errors.Is(flowErr, common.ErrNotFound):
		http.Redirect(w, r, forgotPath, http.StatusSeeOther)
	case errors.Is(flowErr, common.ErrInvalidCredential):
		p.render(w, r, http.StatusUnauthorized, "forgot_questions.html", "Forgot Password", map[string]interface{}{
			"Error":   "One or both answers are incorrect.",
			"Email":   sess.Recovery.Email,
			"Prompts": prompts,
		})
	default:
		status, msg := userMessage(flowErr)
		if status >= http.StatusInternalServerError {
			p.log.Error("recovery step 2 failed", zap.Error(flowErr))
		}
		p.render(w, r, status, "forgot_email.html", "Forgot Password", map[string]interface{}{"Error": msg})
	}
}

func (p *Portal) handleForgotReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil || !auth.HasTicket(&sess.Recovery) {
		http.Redirect(w, r, forgotPath, http.StatusSeeOther)
		return
	}
	p.renderTemplate(w, r, "forgot_reset.html", "Reset Password", map[string]interface{}{
		"Email":                sess.Recovery.Email,
		"PasswordRequirements": auth.GetPasswordRequirements(p.config.Auth.MinPasswordLength),
	})
}

func (p *Portal) handleForgotResetPost(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil || !auth.HasTicket(&sess.Recovery) {
		http.Redirect(w, r, forgotPath, http.StatusSeeOther)
		return
	}

	flowErr := p.svc.Recovery.ResetPassword(r.Context(), &sess.Recovery, r.FormValue("password"), r.FormValue("confirm_password"))
	if flowErr == nil {
		p.svc.Recovery.Abandon(&sess.Recovery)
	}
	if !p.saveRecovery(w, r, sess) {
		return
	}

	switch {
	case flowErr == nil:
		http.Redirect(w, r, "/login?message=password_reset", http.StatusSeeOther)
	case errors.Is(flowErr, common.ErrNotFound), errors.Is(flowErr, common.ErrNoRecoveryTicket):
		http.Redirect(w, r, forgotPath, http.StatusSeeOther)
	default:
		status, msg := userMessage(flowErr)
		if status >= http.StatusInternalServerError {
			p.log.Error("password reset failed", zap.Error(flowErr))
		}
		p.render(w, r, status, "forgot_reset.html", "Reset Password", map[string]interface{}{
			"Error":                msg,
			"Email":                sess.Recovery.Email,
			"PasswordRequirements": auth.GetPasswordRequirements(p.config.Auth.MinPasswordLength),
		})
	}
}
