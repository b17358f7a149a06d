package portal

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/common"
)

// flashMessages are the notices a redirect can ask the next page to show
// through ?message=. Unknown keys show nothing.
var flashMessages = map[string]string{
	"registered":        "Your account has been created. Please log in.",
	"logged_out":        "You have been logged out.",
	"password_reset":    "Your password has been reset. Please log in with your new password.",
	"password_changed":  "Your password has been changed.",
	"password_forced":   "An administrator requires you to choose a new password before continuing.",
	"session_expired":   "Your session has ended. Please log in again.",
	"checkout_complete": "Thanks for subscribing. Your premium access is being activated.",
	"checkout_canceled": "Checkout was canceled. You have not been charged.",
	"cancel_scheduled":  "Your subscription will end at the close of the current billing period.",
	"no_subscription":   "You do not have a subscription to cancel.",
	"no_customer":       "There is no billing account for you yet. Subscribe to a plan first.",
}

// userMessage turns a flow error into the text shown on the page, with the
// status the page is served with. Unknown errors never leak their cause.
func userMessage(err error) (int, string) {
	var (
		invalid *common.ValidationError
		locked  *common.LockedOutError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, invalid.Message
	case errors.As(err, &locked):
		return http.StatusLocked, fmt.Sprintf("Too many failed attempts. This account is locked, try again in %d minute(s).", locked.Minutes())
	case errors.Is(err, common.ErrInvalidCredential):
		return http.StatusUnauthorized, "Invalid email or password."
	case errors.Is(err, common.ErrAccountBanned):
		return http.StatusForbidden, "This account has been banned."
	case errors.Is(err, common.ErrAccountDisabled):
		return http.StatusForbidden, "This account has been disabled. Contact support to restore it."
	case errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict, "An account with that email already exists."
	case errors.Is(err, common.ErrTooManyAttempts):
		return http.StatusForbidden, "Too many incorrect answers. Password reset is blocked for this account."
	case errors.Is(err, common.ErrNoRecoveryTicket), errors.Is(err, auth.ErrRecoveryNotStarted):
		return http.StatusForbidden, "Please start the password reset again."
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusForbidden, "You are not allowed to do that."
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "Not found."
	case errors.Is(err, billing.ErrNoCustomer):
		return http.StatusNotFound, flashMessages["no_customer"]
	case errors.Is(err, billing.ErrNoSubscription):
		return http.StatusNotFound, flashMessages["no_subscription"]
	case errors.Is(err, common.ErrProviderUnavailable):
		return http.StatusBadGateway, "Billing is temporarily unavailable. Please try again shortly."
	}
	return http.StatusInternalServerError, "Something went wrong. Please try again."
}
