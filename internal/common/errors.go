package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (

	// store specific errors
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStoreUnavailable = errors.New("store unavailable")

	// credential errors
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrLockedOut         = errors.New("account locked")
	ErrAccountBanned     = errors.New("account banned")
	ErrAccountDisabled   = errors.New("account disabled")

	// recovery errors
	ErrTooManyAttempts  = errors.New("too many reset attempts")
	ErrNoRecoveryTicket = errors.New("no recovery ticket")

	ErrValidation          = errors.New("validation failed")
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	ErrUnauthorized        = errors.New("unauthorized")
)

// ValidationError carries the offending form field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// LockedOutError reports how long a locked account must wait.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.Minutes())
}

func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

// Minutes rounds the remaining lock up to whole minutes.
func (e *LockedOutError) Minutes() int {
	return RetryMinutes(e.RetryAfter)
}

// RetryMinutes is ceil(d / 1m) with a floor of one minute for any positive d.
func RetryMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds() / 60))
}

// StoreError wraps a database failure so callers can match ErrStoreUnavailable
// while the cause stays available to the log.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ProviderError wraps a billing provider failure.
func ProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
}
