package portal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
)

const sessionCookie = "session"

// SessionStore persists server-side sessions. *store.Store implements it.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	SaveSession(ctx context.Context, sess *models.Session) error
	DeleteSession(ctx context.Context, token string) error
	RecordSession(ctx context.Context, rec models.SessionRecord) error
}

// Sessions issues and resolves the session cookie. The cookie only carries
// an opaque token; identity, login time and recovery progress stay in the
// database.
type Sessions struct {
	store  SessionStore
	ttl    time.Duration
	secure bool
	log    *zap.Logger
	now    func() time.Time
}

func NewSessions(store SessionStore, ttl time.Duration, secure bool, logger *zap.Logger) *Sessions {
	return &Sessions{
		store:  store,
		ttl:    ttl,
		secure: secure,
		log:    logger.Named("sessions"),
		now:    time.Now,
	}
}

// Load resolves the request's session cookie. A missing, unknown or expired
// session yields nil without error; expired sessions are deleted.
func (m *Sessions) Load(r *http.Request) (*models.Session, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	sess, err := m.store.GetSession(r.Context(), cookie.Value)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now()) {
		if err := m.store.DeleteSession(r.Context(), sess.Token); err != nil {
			m.log.Warn("failed to delete expired session", zap.Error(err))
		}
		return nil, nil
	}
	return sess, nil
}

// Start creates a fresh session and sets its cookie. An empty identity
// starts an anonymous session, which the recovery flow uses.
func (m *Sessions) Start(ctx context.Context, w http.ResponseWriter, identity string) (*models.Session, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, err
	}
	now := m.now()
	sess := &models.Session{
		Token:     token,
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if identity != "" {
		sess.LoginAt = &now
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.setCookie(w, sess.Token, sess.ExpiresAt)
	return sess, nil
}

// Save persists changes to identity or recovery state.
func (m *Sessions) Save(ctx context.Context, sess *models.Session) error {
	return m.store.SaveSession(ctx, sess)
}

// Destroy deletes the session and clears the cookie.
func (m *Sessions) Destroy(ctx context.Context, w http.ResponseWriter, sess *models.Session) error {
	m.clearCookie(w)
	if sess == nil {
		return nil
	}
	return m.store.DeleteSession(ctx, sess.Token)
}

// Record writes the login/logout telemetry for an authenticated session.
func (m *Sessions) Record(ctx context.Context, r *http.Request, sess *models.Session) {
	if sess == nil || !sess.Authenticated() || sess.LoginAt == nil {
		return
	}
	logout := m.now()
	rec := models.SessionRecord{
		Email:           sess.Identity,
		LoginAt:         *sess.LoginAt,
		LogoutAt:        &logout,
		DurationSeconds: int64(logout.Sub(*sess.LoginAt).Seconds()),
		IPAddress:       auth.ClientIP(ctx),
		UserAgent:       r.UserAgent(),
	}
	if err := m.store.RecordSession(ctx, rec); err != nil {
		m.log.Error("failed to record session", zap.String("email", sess.Identity), zap.Error(err))
	}
}

func (m *Sessions) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		Expires:  expires,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Sessions) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}
