package auth

import (
	"context"
	"time"

	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

// AccountStore defines the account operations the security flows need.
// *store.Store implements it.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	RecordLoginFailure(ctx context.Context, email string, p store.LockoutPolicy, now time.Time, audit func(models.LockState) models.AuditEntry) (models.LockState, error)
	AdmitLogin(ctx context.Context, email string, now time.Time) (bool, error)
	ReserveResetAttempt(ctx context.Context, email string, limit int) (int, error)
	ClearResetAttempts(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, email, hash string) error
	DecoyAttempts(ctx context.Context, email string) (int, error)
	ReserveDecoyAttempt(ctx context.Context, email string, limit int) (int, error)
}

// Auditor records security relevant transitions. Implementations must not
// fail the caller.
type Auditor interface {
	Record(ctx context.Context, actor string, action models.AuditAction, detail string)
}
