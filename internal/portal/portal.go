// Package portal serves the server-rendered web portal: sign-up, login,
// password recovery, billing and the admin back-office.
package portal

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/admin"
	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/middleware"
	"github.com/cricketstatspack/portal/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// Store is the persistence the portal reads directly.
type Store interface {
	SessionStore
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
}

// Services are the flows behind the portal's pages.
type Services struct {
	Throttle   *auth.Throttle
	Registrar  *auth.Registrar
	Recovery   *auth.RecoveryFlow
	Passwords  *auth.PasswordChanger
	Reconciler *billing.Reconciler
	Billing    *billing.Service
	Admin      *admin.Service
	Audit      auth.Auditor
}

type Portal struct {
	templates map[string]*template.Template
	config    *config.Config
	store     Store
	sessions  *Sessions
	svc       Services
	limiter   *middleware.RateLimiter
	log       *zap.Logger
}

var templateFuncs = template.FuncMap{
	"date": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2 Jan 2006")
	},
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2 Jan 2006 15:04 MST")
	},
	"money": func(amount int64, currency string) string {
		symbol := "£"
		switch currency {
		case "usd":
			symbol = "$"
		case "eur":
			symbol = "€"
		}
		return fmt.Sprintf("%s%d.%02d", symbol, amount/100, amount%100)
	},
}

func loadTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	pages, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	// every page is parsed together with the base layout
	for _, page := range pages {
		name := page[len("templates/"):]
		if name == "base.html" {
			continue
		}
		ts, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/base.html", page)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		templates[name] = ts
	}
	return templates, nil
}

func New(cfg *config.Config, store Store, svc Services, logger *zap.Logger) (*Portal, error) {
	templates, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	log := logger.Named("portal")
	log.Debug("templates loaded", zap.Int("count", len(templates)))

	return &Portal{
		templates: templates,
		config:    cfg,
		store:     store,
		sessions:  NewSessions(store, cfg.Auth.SessionTTL, cfg.Server.Secure, logger),
		svc:       svc,
		limiter:   middleware.NewRateLimiter(cfg.Server.LoginRate, cfg.Server.LoginBurst),
		log:       log,
	}, nil
}

type contextKey int

const (
	sessionKey contextKey = iota
	accountKey
)

func sessionFrom(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionKey).(*models.Session)
	return sess
}

func accountFrom(ctx context.Context) *models.Account {
	acct, _ := ctx.Value(accountKey).(*models.Account)
	return acct
}

func (p *Portal) renderTemplate(w http.ResponseWriter, r *http.Request, tmplName string, pageTitle string, data map[string]interface{}) {
	p.render(w, r, http.StatusOK, tmplName, pageTitle, data)
}

// render executes a page into a buffer first so a template error never
// leaves a half-written response.
func (p *Portal) render(w http.ResponseWriter, r *http.Request, status int, tmplName string, pageTitle string, data map[string]interface{}) {
	ts, ok := p.templates[tmplName]
	if !ok {
		p.log.Error("template not found", zap.String("template", tmplName))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]interface{}{}
	}
	data["ActivePage"] = pageTitle
	if acct := accountFrom(r.Context()); acct != nil {
		data["User"] = acct
		data["IsAdmin"] = p.config.IsAdmin(acct.Email)
	}
	if msg, ok := flashMessages[r.URL.Query().Get("message")]; ok {
		if _, set := data["Message"]; !set {
			data["Message"] = msg
		}
	}

	var buf bytes.Buffer
	if err := ts.ExecuteTemplate(&buf, "base.html", data); err != nil {
		p.log.Error("template execution failed", zap.String("template", tmplName), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (p *Portal) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	p.render(w, r, status, "error.html", http.StatusText(status), map[string]interface{}{
		"Status": status,
		"Error":  message,
	})
}
