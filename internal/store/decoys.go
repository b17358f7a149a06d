package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cricketstatspack/portal/internal/common"
)

// DecoyAttempts returns the recovery attempts recorded against an email
// that has no account. An email never seen before has zero.
func (s *Store) DecoyAttempts(ctx context.Context, email string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts,
		s.db.Rebind(`SELECT attempts FROM recovery_decoys WHERE email = ?`), NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, common.StoreError("decoy attempts", err)
	}
	return attempts, nil
}

// ReserveDecoyAttempt is ReserveResetAttempt for an email with no account.
// The first attempt creates the row.
func (s *Store) ReserveDecoyAttempt(ctx context.Context, email string, limit int) (int, error) {
	email = NormalizeEmail(email)
	query := s.db.Rebind(`
		INSERT INTO recovery_decoys (email, attempts, updated_at) VALUES (?, 1, ?)
		ON CONFLICT (email) DO UPDATE SET
			attempts = recovery_decoys.attempts + 1,
			updated_at = excluded.updated_at
		WHERE recovery_decoys.attempts < ?
		RETURNING attempts`)

	var attempts int
	err := s.db.QueryRowxContext(ctx, query, email, dbTime(s.now()), limit).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return s.exhausted(ctx, "reserve decoy attempt", `SELECT attempts FROM recovery_decoys WHERE email = ?`, email)
	}
	if err != nil {
		return 0, common.StoreError("reserve decoy attempt", err)
	}
	return attempts, nil
}
