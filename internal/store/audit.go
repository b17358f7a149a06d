package store

import (
	"context"
	"time"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/database"
	"github.com/cricketstatspack/portal/internal/models"
)

func insertAudit(ctx context.Context, q database.DBTX, e models.AuditEntry, now time.Time) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO audit_logs (user_email, action, details, timestamp) VALUES (?, ?, ?, ?)`),
		e.ActorEmail, string(e.Action), e.Detail, dbTime(e.CreatedAt),
	)
	return err
}

// AppendAudit writes one audit entry. There is no update or delete.
func (s *Store) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	if err := insertAudit(ctx, s.db, e, s.now()); err != nil {
		return common.StoreError("append audit", err)
	}
	return nil
}

// ListAudit returns the most recent entries, optionally for one actor.
func (s *Store) ListAudit(ctx context.Context, email string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		entries []models.AuditEntry
		err     error
	)
	if email != "" {
		query := s.db.Rebind(`SELECT id, user_email, action, details, timestamp FROM audit_logs WHERE user_email = ? ORDER BY timestamp DESC, id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &entries, query, NormalizeEmail(email), limit)
	} else {
		query := s.db.Rebind(`SELECT id, user_email, action, details, timestamp FROM audit_logs ORDER BY timestamp DESC, id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &entries, query, limit)
	}
	if err != nil {
		return nil, common.StoreError("list audit", err)
	}
	return entries, nil
}
