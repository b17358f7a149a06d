// Package admin is the back-office: account moderation, exports and
// dashboard figures. Every operation passes the admin gate first.
package admin

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/storage"
)

const (
	monthlyPricePence = 500
	annualPricePence  = 4999

	recentSignupWindow = 7 * 24 * time.Hour
	exportPageSize     = 500
)

// Store is the account and log access the back-office needs.
type Store interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context, search string, limit, offset int) ([]*models.Account, error)
	TransitionAccountStatus(ctx context.Context, email string, status models.AccountStatus, from ...models.AccountStatus) error
	SetForcePasswordReset(ctx context.Context, email string, force bool) error
	Stats(ctx context.Context, signupsSince, now time.Time) (models.Stats, error)
	ListAudit(ctx context.Context, email string, limit int) ([]models.AuditEntry, error)
	ListSessionRecords(ctx context.Context, email string, limit int) ([]models.SessionRecord, error)
}

// Gate authorizes an identity for an admin action.
type Gate interface {
	Authorize(ctx context.Context, identity, action string) error
}

type Auditor interface {
	Record(ctx context.Context, actor string, action models.AuditAction, detail string)
}

// Uploader stores export files. *storage.S3Client implements it.
type Uploader interface {
	UploadExport(ctx context.Context, name string, body io.Reader) (*storage.UploadResult, error)
}

// Service implements the admin operations.
type Service struct {
	store    Store
	gate     Gate
	audit    Auditor
	uploader Uploader
	log      *zap.Logger
	now      func() time.Time
}

// NewService builds the back-office. uploader may be nil, in which case
// exports are returned inline.
func NewService(store Store, gate Gate, audit Auditor, uploader Uploader, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		gate:     gate,
		audit:    audit,
		uploader: uploader,
		log:      logger.Named("admin"),
		now:      time.Now,
	}
}

// Dashboard is the admin landing page summary.
type Dashboard struct {
	models.Stats
	MonthlyRevenue float64 `json:"monthly_revenue"`
}

// MonthlyRevenue is monthly plans at 5.00 plus annual plans at 49.99
// spread over twelve months, rounded to pence.
func MonthlyRevenue(monthly, annual int) float64 {
	pence := float64(monthly*monthlyPricePence) + float64(annual*annualPricePence)/12
	return float64(int64(pence+0.5)) / 100
}

// Ban blocks an active or disabled account from logging in.
func (s *Service) Ban(ctx context.Context, actor, email string) error {
	return s.setStatus(ctx, actor, email, "ban", models.AccountStatusBanned, models.ActionAdminBan,
		models.AccountStatusActive, models.AccountStatusDisabled)
}

// Unban restores a banned account.
func (s *Service) Unban(ctx context.Context, actor, email string) error {
	return s.setStatus(ctx, actor, email, "unban", models.AccountStatusActive, models.ActionAdminUnban,
		models.AccountStatusBanned)
}

// Disable suspends an active account.
func (s *Service) Disable(ctx context.Context, actor, email string) error {
	return s.setStatus(ctx, actor, email, "disable", models.AccountStatusDisabled, models.ActionAdminDisable,
		models.AccountStatusActive)
}

// Enable restores a disabled account.
func (s *Service) Enable(ctx context.Context, actor, email string) error {
	return s.setStatus(ctx, actor, email, "enable", models.AccountStatusActive, models.ActionAdminEnable,
		models.AccountStatusDisabled)
}

// setStatus applies one moderation transition. An account whose current
// status is not in from is left as it is.
func (s *Service) setStatus(ctx context.Context, actor, email, op string, status models.AccountStatus, action models.AuditAction, from ...models.AccountStatus) error {
	if err := s.gate.Authorize(ctx, actor, op); err != nil {
		return err
	}
	if err := s.store.TransitionAccountStatus(ctx, email, status, from...); err != nil {
		s.log.Error("status change failed", zap.String("op", op), zap.String("email", email), zap.Error(err))
		return err
	}
	s.log.Info("account status changed", zap.String("actor", actor), zap.String("email", email), zap.String("status", string(status)))
	s.audit.Record(ctx, actor, action, fmt.Sprintf("%s set to %s", email, status))
	return nil
}

// ForcePasswordReset requires the account to choose a new password at its
// next login.
func (s *Service) ForcePasswordReset(ctx context.Context, actor, email string) error {
	if err := s.gate.Authorize(ctx, actor, "force_password_reset"); err != nil {
		return err
	}
	if err := s.store.SetForcePasswordReset(ctx, email, true); err != nil {
		return err
	}
	s.log.Info("password reset forced", zap.String("actor", actor), zap.String("email", email))
	s.audit.Record(ctx, actor, models.ActionAdminForceReset, email)
	return nil
}

// Dashboard returns account totals and estimated monthly revenue.
func (s *Service) Dashboard(ctx context.Context, actor string) (Dashboard, error) {
	if err := s.gate.Authorize(ctx, actor, "view_dashboard"); err != nil {
		return Dashboard{}, err
	}
	now := s.now()
	st, err := s.store.Stats(ctx, now.Add(-recentSignupWindow), now)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Stats: st, MonthlyRevenue: MonthlyRevenue(st.MonthlyPlans, st.AnnualPlans)}, nil
}

// Users lists accounts, optionally filtered by email.
func (s *Service) Users(ctx context.Context, actor, search string, limit, offset int) ([]*models.Account, error) {
	if err := s.gate.Authorize(ctx, actor, "list_users"); err != nil {
		return nil, err
	}
	return s.store.ListAccounts(ctx, search, limit, offset)
}

// UserDetail is one account with its recent activity.
type UserDetail struct {
	Account  *models.Account
	Audit    []models.AuditEntry
	Sessions []models.SessionRecord
}

// User returns an account with its latest audit entries and sessions.
func (s *Service) User(ctx context.Context, actor, email string) (*UserDetail, error) {
	if err := s.gate.Authorize(ctx, actor, "view_user"); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListAudit(ctx, acct.Email, 50)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessionRecords(ctx, acct.Email, 20)
	if err != nil {
		return nil, err
	}
	return &UserDetail{Account: acct, Audit: entries, Sessions: sessions}, nil
}

// Audit returns recent audit entries, optionally for one email.
func (s *Service) Audit(ctx context.Context, actor, email string, limit int) ([]models.AuditEntry, error) {
	if err := s.gate.Authorize(ctx, actor, "view_audit"); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, email, limit)
}

// Export is a generated user export. URL is set when it was uploaded;
// otherwise Data holds the CSV.
type Export struct {
	Name string
	URL  string
	Data []byte
}

var exportHeader = []string{
	"id", "email", "display_name", "status", "is_premium", "plan", "subscription_status",
	"current_period_end", "failed_logins", "newsletter", "created_at",
}

// Export writes every account to CSV. Password hashes and security answers
// are never included.
func (s *Service) Export(ctx context.Context, actor string) (*Export, error) {
	if err := s.gate.Authorize(ctx, actor, "export"); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	count := 0
	for offset := 0; ; offset += exportPageSize {
		page, err := s.store.ListAccounts(ctx, "", exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			if err := w.Write(exportRow(a)); err != nil {
				return nil, err
			}
		}
		count += len(page)
		if len(page) < exportPageSize {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	out := &Export{Name: fmt.Sprintf("users-%s.csv", s.now().UTC().Format("20060102-150405"))}
	if s.uploader != nil {
		res, err := s.uploader.UploadExport(ctx, out.Name, bytes.NewReader(buf.Bytes()))
		if err != nil {
			s.log.Error("export upload failed", zap.Error(err))
			return nil, err
		}
		out.URL = res.URL
	} else {
		out.Data = buf.Bytes()
	}

	s.log.Info("users exported", zap.String("actor", actor), zap.Int("count", count))
	s.audit.Record(ctx, actor, models.ActionAdminExport, fmt.Sprintf("%d accounts exported to %s", count, out.Name))
	return out, nil
}

func exportRow(a *models.Account) []string {
	periodEnd := ""
	if a.Subscription.CurrentPeriodEnd != nil {
		periodEnd = a.Subscription.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatInt(a.ID, 10),
		a.Email,
		a.DisplayName,
		string(a.Status),
		strconv.FormatBool(a.Subscription.IsPremium),
		a.Subscription.Plan,
		a.Subscription.Status,
		periodEnd,
		strconv.Itoa(a.FailedLogins),
		strconv.FormatBool(a.NotifyNewsletter),
		a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
