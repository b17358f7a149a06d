package models

import (
	"fmt"
	"time"
)

// AccountStatus represents whether an account may authenticate at all
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"   // Normal account
	AccountStatusBanned   AccountStatus = "banned"   // Banned by an admin
	AccountStatusDisabled AccountStatus = "disabled" // Disabled by an admin, reversible
)

// ParseAccountStatus validates a stored status value.
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch AccountStatus(s) {
	case AccountStatusActive, AccountStatusBanned, AccountStatusDisabled:
		return AccountStatus(s), nil
	}
	return "", fmt.Errorf("unknown account status %q", s)
}

// SecurityQuestion is a question prompt paired with the hash of its answer
type SecurityQuestion struct {
	Prompt     string `json:"prompt"`
	AnswerHash string `json:"-"`
}

// Configured reports whether both the prompt and the answer are present.
func (q SecurityQuestion) Configured() bool {
	return q.Prompt != "" && q.AnswerHash != ""
}

// Account represents a registered user and their security state
type Account struct {
	ID                 int64               `json:"id"`
	Email              string              `json:"email"`
	DisplayName        string              `json:"display_name"`
	PasswordHash       string              `json:"-"`
	FailedLogins       int                 `json:"-"`
	LockUntil          *time.Time          `json:"-"`
	Questions          [2]SecurityQuestion `json:"-"`
	ResetAttempts      int                 `json:"-"`
	Status             AccountStatus       `json:"status"`
	ForcePasswordReset bool                `json:"force_password_reset"`
	NotifyNewsletter   bool                `json:"notify_newsletter"`
	Subscription       Subscription        `json:"subscription"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// IsLocked returns true while a lockout is in force
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

// LockRemaining returns the time left on the current lockout, or zero
func (a *Account) LockRemaining(now time.Time) time.Duration {
	if !a.IsLocked(now) {
		return 0
	}
	return a.LockUntil.Sub(now)
}

// CanAuthenticate returns false for banned and disabled accounts
func (a *Account) CanAuthenticate() bool {
	return a.Status == AccountStatusActive
}

// RecoveryEligible returns true when both security questions are set
func (a *Account) RecoveryEligible() bool {
	return a.Questions[0].Configured() && a.Questions[1].Configured()
}

// LockState is the lockout counter pair after an atomic update.
type LockState struct {
	FailedLogins int
	LockUntil    *time.Time
}

// Locked reports whether the update left the account locked at now.
func (l LockState) Locked(now time.Time) bool {
	return l.LockUntil != nil && l.LockUntil.After(now)
}

// HasLoginFailures returns true when a successful login has counters to clear
func (a *Account) HasLoginFailures() bool {
	return a.FailedLogins != 0 || a.LockUntil != nil
}
