package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/common"
)

const maxWebhookBytes = 64 << 10

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterMinutes int    `json:"retry_after_minutes,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// LoginHandler exchanges credentials for a bearer token. It runs the same
// throttle as the portal form, so lockouts apply to both.
func (api *Api) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := r.Context()
	result, err := api.deps.Throttle.AttemptLogin(ctx, email, req.Password)
	if err != nil {
		api.log.Error("login failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	switch result.Outcome {
	case auth.OutcomeSuccess:
	case auth.OutcomeLockedOut:
		minutes := result.RetryMinutes()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
		writeJSON(w, http.StatusLocked, errorResponse{Error: "Account is locked", RetryAfterMinutes: minutes})
		return
	case auth.OutcomeBanned:
		writeError(w, http.StatusForbidden, "Account is banned")
		return
	case auth.OutcomeDisabled:
		writeError(w, http.StatusForbidden, "Account is disabled")
		return
	default:
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	acct := result.Account
	api.deps.Reconciler.ReconcileQuietly(ctx, acct)

	token, expires, err := api.deps.Tokens.GenerateToken(acct)
	if err != nil {
		api.log.Error("token generation failed", zap.String("email", acct.Email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, TokenType: "Bearer", ExpiresAt: expires})
}

// AccountHandler returns the caller's account. Tokens for accounts banned or
// disabled since issue are refused.
func (api *Api) AccountHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	acct, err := api.deps.Store.GetAccountByEmail(r.Context(), claims.Email)
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	if err != nil {
		api.log.Error("account lookup failed", zap.String("email", claims.Email), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	if !acct.CanAuthenticate() {
		writeError(w, http.StatusForbidden, "Account is "+string(acct.Status))
		return
	}

	api.deps.Reconciler.RefreshIfInactive(r.Context(), acct)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": acct,
		"premium": acct.Subscription.ActivePremium(),
	})
}

// StripeWebhookHandler verifies and applies a webhook delivery. Non-2xx
// responses make Stripe redeliver, so only real failures return 500.
func (api *Api) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	err = api.deps.Webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, billing.ErrInvalidWebhook):
		writeError(w, http.StatusBadRequest, "Invalid webhook")
	default:
		writeError(w, http.StatusInternalServerError, "Webhook processing failed")
	}
}
