package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
)

type sessionRow struct {
	Token     string       `db:"token"`
	Identity  string       `db:"identity"`
	LoginAt   sql.NullTime `db:"login_at"`
	Recovery  string       `db:"recovery"`
	CreatedAt time.Time    `db:"created_at"`
	ExpiresAt time.Time    `db:"expires_at"`
}

func encodeRecovery(r models.RecoveryState) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode recovery state: %w", err)
	}
	return string(b), nil
}

// CreateSession inserts a new server-side session.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	recovery, err := encodeRecovery(sess.Recovery)
	if err != nil {
		return err
	}
	sess.CreatedAt = dbTime(sess.CreatedAt)
	sess.ExpiresAt = dbTime(sess.ExpiresAt)

	query := s.db.Rebind(`
		INSERT INTO sessions (token, identity, login_at, recovery, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		sess.Token, sess.Identity, nullTime(sess.LoginAt), recovery, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return common.StoreError("create session", err)
	}
	return nil
}

// GetSession loads a session by token. Expiry is left to the caller.
func (s *Store) GetSession(ctx context.Context, token string) (*models.Session, error) {
	var row sessionRow
	query := s.db.Rebind(`SELECT token, identity, login_at, recovery, created_at, expires_at FROM sessions WHERE token = ?`)
	if err := s.db.GetContext(ctx, &row, query, token); err != nil {
		return nil, notFound("get session", err)
	}

	sess := &models.Session{
		Token:     row.Token,
		Identity:  row.Identity,
		LoginAt:   timePtr(row.LoginAt),
		CreatedAt: row.CreatedAt.UTC(),
		ExpiresAt: row.ExpiresAt.UTC(),
	}
	if row.Recovery != "" {
		if err := json.Unmarshal([]byte(row.Recovery), &sess.Recovery); err != nil {
			return nil, common.StoreError("decode session", err)
		}
	}
	return sess, nil
}

// SaveSession rewrites the mutable parts of a session.
func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	recovery, err := encodeRecovery(sess.Recovery)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`UPDATE sessions SET identity = ?, login_at = ?, recovery = ?, expires_at = ? WHERE token = ?`)
	res, err := s.db.ExecContext(ctx, query,
		sess.Identity, nullTime(sess.LoginAt), recovery, dbTime(sess.ExpiresAt), sess.Token)
	if err != nil {
		return common.StoreError("save session", err)
	}
	return requireRow("save session", res)
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE token = ?`), token); err != nil {
		return common.StoreError("delete session", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry and returns how
// many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), dbTime(now))
	if err != nil {
		return 0, common.StoreError("delete expired sessions", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordSession writes the login/logout telemetry for a finished session.
func (s *Store) RecordSession(ctx context.Context, rec models.SessionRecord) error {
	query := s.db.Rebind(`
		INSERT INTO session_logs (user_email, login_time, logout_time, duration_seconds, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		NormalizeEmail(rec.Email), dbTime(rec.LoginAt), nullTime(rec.LogoutAt), rec.DurationSeconds, rec.IPAddress, rec.UserAgent)
	if err != nil {
		return common.StoreError("record session", err)
	}
	return nil
}

// ListSessionRecords returns the most recent session records for an email.
func (s *Store) ListSessionRecords(ctx context.Context, email string, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []models.SessionRecord
	query := s.db.Rebind(`
		SELECT id, user_email, login_time, logout_time, duration_seconds, ip_address, user_agent
		FROM session_logs WHERE user_email = ? ORDER BY login_time DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &records, query, NormalizeEmail(email), limit); err != nil {
		return nil, common.StoreError("list session records", err)
	}
	return records, nil
}
