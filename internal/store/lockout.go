package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/database"
	"github.com/cricketstatspack/portal/internal/models"
)

// LockoutPolicy is the threshold and duration applied by RecordLoginFailure.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// A lock whose expiry has passed restarts the count at one. Reaching the
// threshold sets lock_until; a lock still in force keeps its expiry. All
// right-hand sides see the pre-update row.
const recordFailureSQL = `
	UPDATE users SET
		failed_logins = CASE
			WHEN lock_until IS NOT NULL AND lock_until <= ? THEN 1
			ELSE failed_logins + 1
		END,
		lock_until = CASE
			WHEN lock_until IS NOT NULL AND lock_until > ? THEN lock_until
			WHEN (CASE WHEN lock_until IS NOT NULL AND lock_until <= ? THEN 1 ELSE failed_logins + 1 END) >= ? THEN ?
			WHEN lock_until IS NOT NULL AND lock_until <= ? THEN NULL
			ELSE lock_until
		END,
		updated_at = ?
	WHERE email = ?
	RETURNING failed_logins`

func recordFailure(ctx context.Context, q database.DBTX, email string, p LockoutPolicy, now time.Time) (models.LockState, error) {
	now = dbTime(now)
	lockUntil := now.Add(p.Duration)

	var state models.LockState
	err := q.QueryRowxContext(ctx, q.Rebind(recordFailureSQL),
		now, now, now, p.Threshold, lockUntil, now, now, email,
	).Scan(&state.FailedLogins)
	if err != nil {
		return state, err
	}

	var until sql.NullTime
	if err := q.GetContext(ctx, &until, q.Rebind(`SELECT lock_until FROM users WHERE email = ?`), email); err != nil {
		return state, err
	}
	state.LockUntil = timePtr(until)
	return state, nil
}

// RecordLoginFailure atomically counts one failed login, locking the account
// once the threshold is reached. The audit entry built from the resulting
// state is written in the same transaction. If only the audit insert fails,
// the counter is recorded on its own so a failing audit table can never
// disable the lockout.
func (s *Store) RecordLoginFailure(ctx context.Context, email string, p LockoutPolicy, now time.Time, audit func(models.LockState) models.AuditEntry) (models.LockState, error) {
	email = NormalizeEmail(email)

	var (
		state    models.LockState
		auditErr error
	)
	err := database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx database.DBTX) error {
		st, err := recordFailure(ctx, tx, email, p, now)
		if err != nil {
			return err
		}
		state = st
		if audit == nil {
			return nil
		}
		entry := audit(st)
		if entry.ActorEmail == "" {
			entry.ActorEmail = email
		}
		if err := insertAudit(ctx, tx, entry, now); err != nil {
			auditErr = err
			return err
		}
		return nil
	})

	if err != nil && auditErr != nil {
		s.log.Warn("audit write failed, recording login failure without audit",
			zap.String("email", email),
			zap.Error(auditErr),
		)
		err = database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx database.DBTX) error {
			st, err := recordFailure(ctx, tx, email, p, now)
			state = st
			return err
		})
	}

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LockState{}, common.ErrNotFound
		}
		return models.LockState{}, common.StoreError("record login failure", err)
	}
	return state, nil
}

// AdmitLogin clears failed_logins and lock_until for an active account
// that is not locked at now, and reports whether it did. It returns false
// when a lock or status change landed after the account was read.
func (s *Store) AdmitLogin(ctx context.Context, email string, now time.Time) (bool, error) {
	now = dbTime(now)
	query := s.db.Rebind(`
		UPDATE users SET failed_logins = 0, lock_until = NULL, updated_at = ?
		WHERE email = ? AND status = ? AND (lock_until IS NULL OR lock_until <= ?)`)
	res, err := s.db.ExecContext(ctx, query, now, NormalizeEmail(email), string(models.AccountStatusActive), now)
	if err != nil {
		return false, common.StoreError("admit login", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, common.StoreError("admit login", err)
	}
	return n > 0, nil
}

// ReserveResetAttempt counts one recovery attempt before the answers are
// checked and returns the new count. The increment only applies while
// reset_attempts is below limit; otherwise the current count is returned
// with common.ErrTooManyAttempts.
func (s *Store) ReserveResetAttempt(ctx context.Context, email string, limit int) (int, error) {
	email = NormalizeEmail(email)
	query := s.db.Rebind(`
		UPDATE users SET reset_attempts = reset_attempts + 1, updated_at = ?
		WHERE email = ? AND reset_attempts < ?
		RETURNING reset_attempts`)

	var attempts int
	err := s.db.QueryRowxContext(ctx, query, dbTime(s.now()), email, limit).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return s.exhausted(ctx, "reserve reset attempt", `SELECT reset_attempts FROM users WHERE email = ?`, email)
	}
	if err != nil {
		return 0, common.StoreError("reserve reset attempt", err)
	}
	return attempts, nil
}

// exhausted resolves a reservation that matched no row: common.ErrNotFound
// when the row is absent, common.ErrTooManyAttempts with its count otherwise.
func (s *Store) exhausted(ctx context.Context, op, query, email string) (int, error) {
	var attempts int
	if err := s.db.GetContext(ctx, &attempts, s.db.Rebind(query), email); err != nil {
		return 0, notFound(op, err)
	}
	return attempts, common.ErrTooManyAttempts
}

// ClearResetAttempts sets reset_attempts back to zero.
func (s *Store) ClearResetAttempts(ctx context.Context, email string) error {
	query := s.db.Rebind(`
		UPDATE users SET reset_attempts = 0, updated_at = ?
		WHERE email = ? AND reset_attempts <> 0`)
	if _, err := s.db.ExecContext(ctx, query, dbTime(s.now()), NormalizeEmail(email)); err != nil {
		return common.StoreError("clear reset attempts", err)
	}
	return nil
}
