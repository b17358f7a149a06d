package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
)

const accountColumns = `id, email, display_name, password_hash, failed_logins, lock_until,
	security_question_1, security_answer_1_hash, security_question_2, security_answer_2_hash,
	reset_attempts, status, force_password_reset, notify_newsletter,
	is_premium, subscription_type, subscription_status, stripe_customer_id, stripe_subscription_id,
	current_period_end, created_at, updated_at`

type accountRow struct {
	ID                   int64        `db:"id"`
	Email                string       `db:"email"`
	DisplayName          string       `db:"display_name"`
	PasswordHash         string       `db:"password_hash"`
	FailedLogins         int          `db:"failed_logins"`
	LockUntil            sql.NullTime `db:"lock_until"`
	Question1            string       `db:"security_question_1"`
	Answer1Hash          string       `db:"security_answer_1_hash"`
	Question2            string       `db:"security_question_2"`
	Answer2Hash          string       `db:"security_answer_2_hash"`
	ResetAttempts        int          `db:"reset_attempts"`
	Status               string       `db:"status"`
	ForcePasswordReset   bool         `db:"force_password_reset"`
	NotifyNewsletter     bool         `db:"notify_newsletter"`
	IsPremium            bool         `db:"is_premium"`
	SubscriptionType     string       `db:"subscription_type"`
	SubscriptionStatus   string       `db:"subscription_status"`
	StripeCustomerID     string       `db:"stripe_customer_id"`
	StripeSubscriptionID string       `db:"stripe_subscription_id"`
	CurrentPeriodEnd     sql.NullTime `db:"current_period_end"`
	CreatedAt            time.Time    `db:"created_at"`
	UpdatedAt            time.Time    `db:"updated_at"`
}

func (r *accountRow) toModel() (*models.Account, error) {
	status, err := models.ParseAccountStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", r.ID, err)
	}
	return &models.Account{
		ID:           r.ID,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		PasswordHash: r.PasswordHash,
		FailedLogins: r.FailedLogins,
		LockUntil:    timePtr(r.LockUntil),
		Questions: [2]models.SecurityQuestion{
			{Prompt: r.Question1, AnswerHash: r.Answer1Hash},
			{Prompt: r.Question2, AnswerHash: r.Answer2Hash},
		},
		ResetAttempts:      r.ResetAttempts,
		Status:             status,
		ForcePasswordReset: r.ForcePasswordReset,
		NotifyNewsletter:   r.NotifyNewsletter,
		Subscription: models.Subscription{
			IsPremium:        r.IsPremium,
			Plan:             r.SubscriptionType,
			Status:           r.SubscriptionStatus,
			CustomerID:       r.StripeCustomerID,
			SubscriptionID:   r.StripeSubscriptionID,
			CurrentPeriodEnd: timePtr(r.CurrentPeriodEnd),
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

// NormalizeEmail is the canonical form used as the account key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount inserts a new account and fills in its ID and timestamps.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	now := dbTime(s.now())
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	a.Email = NormalizeEmail(a.Email)

	query := s.db.Rebind(`
		INSERT INTO users (
			email, display_name, password_hash,
			security_question_1, security_answer_1_hash, security_question_2, security_answer_2_hash,
			status, notify_newsletter, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.QueryRowxContext(ctx, query,
		a.Email, a.DisplayName, a.PasswordHash,
		a.Questions[0].Prompt, a.Questions[0].AnswerHash, a.Questions[1].Prompt, a.Questions[1].AnswerHash,
		string(a.Status), a.NotifyNewsletter, now, now,
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return common.StoreError("create account", err)
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

// GetAccountByEmail retrieves an account by its email
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var row accountRow
	query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM users WHERE email = ?`)
	if err := s.db.GetContext(ctx, &row, query, NormalizeEmail(email)); err != nil {
		return nil, notFound("get account", err)
	}
	return row.toModel()
}

// GetAccountByCustomerID retrieves the account linked to a billing customer
func (s *Store) GetAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	if customerID == "" {
		return nil, common.ErrNotFound
	}
	var row accountRow
	query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM users WHERE stripe_customer_id = ? ORDER BY id LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, query, customerID); err != nil {
		return nil, notFound("get account by customer", err)
	}
	return row.toModel()
}

// ListAccounts returns accounts newest first, optionally filtered by an
// email substring.
func (s *Store) ListAccounts(ctx context.Context, search string, limit, offset int) ([]*models.Account, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []accountRow
	var err error
	if search = strings.TrimSpace(search); search != "" {
		query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM users WHERE email LIKE ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
		err = s.db.SelectContext(ctx, &rows, query, "%"+NormalizeEmail(search)+"%", limit, offset)
	} else {
		query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
		err = s.db.SelectContext(ctx, &rows, query, limit, offset)
	}
	if err != nil {
		return nil, common.StoreError("list accounts", err)
	}

	accounts := make([]*models.Account, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, common.StoreError("list accounts", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// TransitionAccountStatus moves an account to status, but only while its
// current status is one of from. An account in any other status is left
// untouched and a ValidationError naming its status is returned.
func (s *Store) TransitionAccountStatus(ctx context.Context, email string, status models.AccountStatus, from ...models.AccountStatus) error {
	if _, err := models.ParseAccountStatus(string(status)); err != nil {
		return common.Invalid("status", err.Error())
	}
	if len(from) == 0 {
		return common.Invalid("status", "no prior status allowed")
	}
	email = NormalizeEmail(email)

	prior := make([]string, len(from))
	for i, st := range from {
		prior[i] = string(st)
	}
	query, args, err := sqlx.In(`UPDATE users SET status = ?, updated_at = ? WHERE email = ? AND status IN (?)`,
		string(status), dbTime(s.now()), email, prior)
	if err != nil {
		return common.StoreError("set status", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return common.StoreError("set status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.StoreError("set status", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	if err := s.db.GetContext(ctx, &current, s.db.Rebind(`SELECT status FROM users WHERE email = ?`), email); err != nil {
		return notFound("set status", err)
	}
	return common.Invalid("status", fmt.Sprintf("account is %s", current))
}

// SetForcePasswordReset flags an account so the next login must change the password.
func (s *Store) SetForcePasswordReset(ctx context.Context, email string, force bool) error {
	query := s.db.Rebind(`UPDATE users SET force_password_reset = ?, updated_at = ? WHERE email = ?`)
	res, err := s.db.ExecContext(ctx, query, force, dbTime(s.now()), NormalizeEmail(email))
	if err != nil {
		return common.StoreError("set force reset", err)
	}
	return requireRow("set force reset", res)
}

// UpdatePassword stores a new password hash. Reset attempts, lockout
// counters and the forced-reset flag are cleared in the same statement.
func (s *Store) UpdatePassword(ctx context.Context, email, hash string) error {
	query := s.db.Rebind(`
		UPDATE users SET
			password_hash = ?,
			reset_attempts = 0,
			failed_logins = 0,
			lock_until = NULL,
			force_password_reset = ?,
			updated_at = ?
		WHERE email = ?`)
	res, err := s.db.ExecContext(ctx, query, hash, false, dbTime(s.now()), NormalizeEmail(email))
	if err != nil {
		return common.StoreError("update password", err)
	}
	return requireRow("update password", res)
}

// ApplySubscription writes every subscription field in a single update.
func (s *Store) ApplySubscription(ctx context.Context, email string, sub models.Subscription) error {
	query := s.db.Rebind(`
		UPDATE users SET
			is_premium = ?,
			subscription_type = ?,
			subscription_status = ?,
			stripe_customer_id = ?,
			stripe_subscription_id = ?,
			current_period_end = ?,
			updated_at = ?
		WHERE email = ?`)
	res, err := s.db.ExecContext(ctx, query,
		sub.IsPremium,
		sub.Plan,
		sub.Status,
		sub.CustomerID,
		sub.SubscriptionID,
		nullTime(sub.CurrentPeriodEnd),
		dbTime(s.now()),
		NormalizeEmail(email),
	)
	if err != nil {
		return common.StoreError("apply subscription", err)
	}
	return requireRow("apply subscription", res)
}
