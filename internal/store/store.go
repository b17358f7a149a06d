package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
)

// Store handles all database operations. Every method takes its connection
// from the shared pool and returns it before the call completes.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger
	now func() time.Time
}

// New creates a new store instance
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{
		db:  db,
		log: logger.Named("store"),
		now: time.Now,
	}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// dbTime normalises timestamps before they are written so that SQLite's
// text representation compares in time order.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dbTime(*t), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// notFound maps sql.ErrNoRows to common.ErrNotFound and wraps anything else
// as a store failure.
func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	return common.StoreError(op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return common.StoreError(op, err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
