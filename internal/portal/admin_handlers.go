package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const adminPageSize = 50

func (p *Portal) adminError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := userMessage(err)
	if status >= http.StatusInternalServerError {
		p.log.Error("admin request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	p.renderError(w, r, status, msg)
}

func actor(r *http.Request) string {
	return accountFrom(r.Context()).Email
}

func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

func (p *Portal) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := p.svc.Admin.Dashboard(r.Context(), actor(r))
	if err != nil {
		p.adminError(w, r, err)
		return
	}
	p.renderTemplate(w, r, "admin_dashboard.html", "Admin", map[string]interface{}{
		"Stats":   d,
		"Revenue": fmt.Sprintf("£%.2f", d.MonthlyRevenue),
	})
}

func (p *Portal) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("q")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	users, err := p.svc.Admin.Users(r.Context(), actor(r), search, adminPageSize, (page-1)*adminPageSize)
	if err != nil {
		p.adminError(w, r, err)
		return
	}
	p.renderTemplate(w, r, "admin_users.html", "Admin", map[string]interface{}{
		"Users":    users,
		"Search":   search,
		"Page":     page,
		"PrevPage": page - 1,
		"NextPage": page + 1,
		"HasNext":  len(users) == adminPageSize,
	})
}

func (p *Portal) handleAdminUser(w http.ResponseWriter, r *http.Request) {
	detail, err := p.svc.Admin.User(r.Context(), actor(r), emailParam(r))
	if err != nil {
		p.adminError(w, r, err)
		return
	}
	p.renderTemplate(w, r, "admin_user.html", "Admin", map[string]interface{}{
		"Detail": detail,
	})
}

func (p *Portal) handleAdminAction(w http.ResponseWriter, r *http.Request) {
	email := emailParam(r)
	var do func(ctx context.Context, actor, email string) error
	switch chi.URLParam(r, "action") {
	case "ban":
		do = p.svc.Admin.Ban
	case "unban":
		do = p.svc.Admin.Unban
	case "disable":
		do = p.svc.Admin.Disable
	case "enable":
		do = p.svc.Admin.Enable
	case "force-reset":
		do = p.svc.Admin.ForcePasswordReset
	default:
		p.renderError(w, r, http.StatusNotFound, "Unknown action.")
		return
	}

	if err := do(r.Context(), actor(r), email); err != nil {
		p.adminError(w, r, err)
		return
	}
	http.Redirect(w, r, "/admin/users/"+url.PathEscape(email), http.StatusSeeOther)
}

func (p *Portal) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	exp, err := p.svc.Admin.Export(r.Context(), actor(r))
	if err != nil {
		p.adminError(w, r, err)
		return
	}
	if exp.URL != "" {
		http.Redirect(w, r, exp.URL, http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(exp.Data)
}

func (p *Portal) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	entries, err := p.svc.Admin.Audit(r.Context(), actor(r), email, 200)
	if err != nil {
		p.adminError(w, r, err)
		return
	}
	p.renderTemplate(w, r, "admin_audit.html", "Admin", map[string]interface{}{
		"Entries": entries,
		"Email":   email,
	})
}
