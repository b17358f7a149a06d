package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/metrics"
	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

// Outcome is the result of a login attempt
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeLockedOut
	OutcomeInvalidCredentials
	OutcomeBanned
	OutcomeDisabled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeLockedOut:
		return "locked_out"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeBanned:
		return "banned"
	case OutcomeDisabled:
		return "disabled"
	}
	return "unknown"
}

// LoginResult describes a completed login attempt. Account is only set on
// success; RetryAfter only on lockout.
type LoginResult struct {
	Outcome    Outcome
	Account    *models.Account
	RetryAfter time.Duration
}

// RetryMinutes is the remaining lock rounded up to whole minutes.
func (r LoginResult) RetryMinutes() int {
	return common.RetryMinutes(r.RetryAfter)
}

// Err maps the outcome onto the error taxonomy; nil on success.
func (r LoginResult) Err() error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeLockedOut:
		return &common.LockedOutError{RetryAfter: r.RetryAfter}
	case OutcomeBanned:
		return common.ErrAccountBanned
	case OutcomeDisabled:
		return common.ErrAccountDisabled
	}
	return common.ErrInvalidCredential
}

// Throttle authenticates passwords and enforces the consecutive-failure lockout.
type Throttle struct {
	accounts AccountStore
	verifier *Verifier
	audit    Auditor
	policy   Policy
	log      *zap.Logger
	now      func() time.Time
}

func NewThrottle(accounts AccountStore, verifier *Verifier, audit Auditor, policy Policy, logger *zap.Logger) *Throttle {
	return &Throttle{
		accounts: accounts,
		verifier: verifier,
		audit:    audit,
		policy:   policy,
		log:      logger.Named("throttle"),
		now:      time.Now,
	}
}

// AttemptLogin checks a password against the account, applying lockout,
// banned and disabled rules first. The returned error is only set when the
// store could not be reached; every credential outcome is in the result.
func (t *Throttle) AttemptLogin(ctx context.Context, email, password string) (LoginResult, error) {
	now := t.now()
	email = store.NormalizeEmail(email)
	client := ClientIP(ctx)

	result, err := t.attempt(ctx, email, password, client, now)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		t.log.Error("login attempt failed", zap.String("email", email), zap.Error(err))
		return LoginResult{}, err
	}
	metrics.LoginAttemptsTotal.WithLabelValues(result.Outcome.String()).Inc()
	return result, nil
}

func (t *Throttle) attempt(ctx context.Context, email, password, client string, now time.Time) (LoginResult, error) {
	acct, err := t.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		t.verifier.Burn(password)
		t.audit.Record(ctx, email, models.ActionLoginUnknownEmail, clientDetail(client, "no such account"))
		return LoginResult{Outcome: OutcomeInvalidCredentials}, nil
	}
	if err != nil {
		return LoginResult{}, err
	}

	if outcome, refused := t.screen(ctx, email, acct, client, now); refused {
		return outcome, nil
	}

	if t.verifier.ComparePassword(acct.PasswordHash, password) {
		admitted, err := t.accounts.AdmitLogin(ctx, email, now)
		if err != nil {
			return LoginResult{}, err
		}
		if !admitted {
			return t.refused(ctx, email, client, now)
		}
		acct.FailedLogins = 0
		acct.LockUntil = nil
		t.audit.Record(ctx, email, models.ActionLoginSuccess, clientDetail(client, ""))
		return LoginResult{Outcome: OutcomeSuccess, Account: acct}, nil
	}

	threshold := t.policy.LockoutThreshold
	state, err := t.accounts.RecordLoginFailure(ctx, email, t.policy.lockout(), now, func(st models.LockState) models.AuditEntry {
		if st.Locked(now) {
			return models.AuditEntry{
				Action: models.ActionLockout,
				Detail: clientDetail(client, fmt.Sprintf("locked after %d failed attempts until %s", st.FailedLogins, st.LockUntil.UTC().Format(time.RFC3339))),
			}
		}
		return models.AuditEntry{
			Action: models.ActionLoginFailure,
			Detail: clientDetail(client, fmt.Sprintf("failed attempt %d of %d", st.FailedLogins, threshold)),
		}
	})
	if errors.Is(err, common.ErrNotFound) {
		return LoginResult{Outcome: OutcomeInvalidCredentials}, nil
	}
	if err != nil {
		return LoginResult{}, err
	}

	if state.Locked(now) {
		metrics.LockoutsTotal.Inc()
		t.log.Warn("account locked", zap.String("email", email), zap.Int("failed_logins", state.FailedLogins))
		return LoginResult{Outcome: OutcomeLockedOut, RetryAfter: state.LockUntil.Sub(now)}, nil
	}
	return LoginResult{Outcome: OutcomeInvalidCredentials}, nil
}

// screen applies the lockout, banned and disabled rules to acct.
func (t *Throttle) screen(ctx context.Context, email string, acct *models.Account, client string, now time.Time) (LoginResult, bool) {
	if acct.IsLocked(now) {
		remaining := acct.LockRemaining(now)
		t.audit.Record(ctx, email, models.ActionLoginLocked,
			clientDetail(client, fmt.Sprintf("attempt while locked, %d minute(s) remaining", common.RetryMinutes(remaining))))
		return LoginResult{Outcome: OutcomeLockedOut, RetryAfter: remaining}, true
	}

	switch acct.Status {
	case models.AccountStatusBanned:
		t.audit.Record(ctx, email, models.ActionLoginBanned, clientDetail(client, "banned account"))
		return LoginResult{Outcome: OutcomeBanned}, true
	case models.AccountStatusDisabled:
		t.audit.Record(ctx, email, models.ActionLoginDisabled, clientDetail(client, "disabled account"))
		return LoginResult{Outcome: OutcomeDisabled}, true
	}
	return LoginResult{}, false
}

// refused re-reads an account whose correct password arrived after a
// concurrent lock or status change, and reports that outcome instead.
func (t *Throttle) refused(ctx context.Context, email, client string, now time.Time) (LoginResult, error) {
	acct, err := t.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return LoginResult{Outcome: OutcomeInvalidCredentials}, nil
	}
	if err != nil {
		return LoginResult{}, err
	}
	if outcome, refused := t.screen(ctx, email, acct, client, now); refused {
		return outcome, nil
	}
	return LoginResult{Outcome: OutcomeInvalidCredentials}, nil
}

func clientDetail(client, detail string) string {
	switch {
	case client == "":
		return detail
	case detail == "":
		return "ip=" + client
	}
	return detail + " ip=" + client
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address for audit details.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address set by WithClientIP, if any.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
