package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/metrics"
	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

// ErrRecoveryNotStarted is returned when answers arrive before questions were issued.
var ErrRecoveryNotStarted = errors.New("recovery not started")

// RecoveryFlow runs the two-step security question challenge. All progress
// lives in the caller's session-owned RecoveryState; each method mutates it
// in place and the caller persists it.
//
// Whether an account exists or has questions configured is never disclosed:
// unknown emails and accounts without questions receive stable decoy
// questions, every answer is rejected as incorrect, and the attempts are
// counted in the store exactly like a real account's.
type RecoveryFlow struct {
	accounts    AccountStore
	verifier    *Verifier
	audit       Auditor
	policy      Policy
	decoySecret []byte
	log         *zap.Logger
}

func NewRecoveryFlow(accounts AccountStore, verifier *Verifier, audit Auditor, policy Policy, decoySecret string, logger *zap.Logger) *RecoveryFlow {
	secret := []byte(decoySecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("decoy secret: %v", err))
		}
	}
	return &RecoveryFlow{
		accounts:    accounts,
		verifier:    verifier,
		audit:       audit,
		policy:      policy,
		decoySecret: secret,
		log:         logger.Named("recovery"),
	}
}

func step(name, outcome string) {
	metrics.RecoveryStepsTotal.WithLabelValues(name, outcome).Inc()
}

// RequestQuestions moves AwaitingEmail to QuestionsIssued and fills in the
// prompts. Any earlier progress, including a ticket, is discarded.
func (f *RecoveryFlow) RequestQuestions(ctx context.Context, state *models.RecoveryState, email string) error {
	email = store.NormalizeEmail(email)
	if !ValidateEmail(email) {
		return common.Invalid("email", "enter a valid email address")
	}
	*state = models.RecoveryState{}

	acct, err := f.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		attempts, err := f.accounts.DecoyAttempts(ctx, email)
		if err != nil {
			return err
		}
		if attempts >= f.policy.ResetAttemptLimit {
			return f.refuse(ctx, state, email, attempts)
		}
		f.issueDecoy(ctx, state, email, "unknown_email", "no such account")
		return nil
	}
	if err != nil {
		return err
	}

	if acct.ResetAttempts >= f.policy.ResetAttemptLimit {
		return f.refuse(ctx, state, email, acct.ResetAttempts)
	}
	if !acct.RecoveryEligible() {
		f.issueDecoy(ctx, state, email, "not_eligible", "security questions not configured")
		return nil
	}

	*state = models.RecoveryState{
		Stage:   models.RecoveryQuestionsIssued,
		Email:   email,
		Prompts: [2]string{acct.Questions[0].Prompt, acct.Questions[1].Prompt},
	}
	step("questions", "issued")
	f.audit.Record(ctx, email, models.ActionRecoveryStep1Success, "security questions issued")
	return nil
}

func (f *RecoveryFlow) issueDecoy(ctx context.Context, state *models.RecoveryState, email, outcome, reason string) {
	*state = models.RecoveryState{
		Stage:   models.RecoveryQuestionsIssued,
		Email:   email,
		Prompts: decoyQuestions(f.decoySecret, email),
	}
	step("questions", outcome)
	f.audit.Record(ctx, email, models.ActionRecoveryStep1Failure, reason+", decoy questions issued")
}

func (f *RecoveryFlow) refuse(ctx context.Context, state *models.RecoveryState, email string, attempts int) error {
	*state = models.RecoveryState{Stage: models.RecoveryBlocked, Email: email}
	step("questions", "blocked")
	f.audit.Record(ctx, email, models.ActionRecoveryBlocked,
		fmt.Sprintf("reset attempts %d reached limit %d", attempts, f.policy.ResetAttemptLimit))
	return common.ErrTooManyAttempts
}

// VerifyAnswers checks both answers. An attempt is reserved in the store
// before comparing, so concurrent submissions can never exceed the limit.
// Success clears the attempts, issues the recovery ticket and moves to
// Verified. A wrong pair stays in QuestionsIssued with
// common.ErrInvalidCredential or, at the limit, moves to Blocked with
// common.ErrTooManyAttempts. Once blocked, answers are not checked again.
func (f *RecoveryFlow) VerifyAnswers(ctx context.Context, state *models.RecoveryState, answer1, answer2 string) error {
	switch state.Stage {
	case models.RecoveryBlocked:
		step("answers", "blocked")
		return common.ErrTooManyAttempts
	case models.RecoveryQuestionsIssued:
	default:
		return ErrRecoveryNotStarted
	}
	email := state.Email

	acct, err := f.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return f.rejectDecoy(ctx, state, answer1, answer2, f.accounts.ReserveDecoyAttempt, "no such account")
	}
	if err != nil {
		return err
	}
	if !acct.RecoveryEligible() {
		return f.rejectDecoy(ctx, state, answer1, answer2, f.accounts.ReserveResetAttempt, "security questions not configured")
	}

	attempts, err := f.reserve(ctx, state, f.accounts.ReserveResetAttempt)
	if err != nil {
		return err
	}

	// compare both unconditionally
	ok1 := f.verifier.CompareAnswer(acct.Questions[0].AnswerHash, answer1)
	ok2 := f.verifier.CompareAnswer(acct.Questions[1].AnswerHash, answer2)

	if ok1 && ok2 {
		if err := f.accounts.ClearResetAttempts(ctx, email); err != nil {
			return err
		}
		ticket, err := newTicket()
		if err != nil {
			return err
		}
		*state = models.RecoveryState{
			Stage:  models.RecoveryVerified,
			Email:  email,
			Ticket: ticket,
		}
		step("answers", "verified")
		f.audit.Record(ctx, email, models.ActionRecoveryStep2Success, "security answers verified")
		return nil
	}
	return f.reject(ctx, state, attempts, "incorrect answers")
}

type reserveFunc func(ctx context.Context, email string, limit int) (int, error)

// reserve takes one attempt from the store. An exhausted count blocks the
// session and a vanished account clears it.
func (f *RecoveryFlow) reserve(ctx context.Context, state *models.RecoveryState, fn reserveFunc) (int, error) {
	attempts, err := fn(ctx, state.Email, f.policy.ResetAttemptLimit)
	switch {
	case errors.Is(err, common.ErrTooManyAttempts):
		f.block(ctx, state, attempts)
		return 0, common.ErrTooManyAttempts
	case errors.Is(err, common.ErrNotFound):
		*state = models.RecoveryState{}
		return 0, common.ErrNotFound
	case err != nil:
		return 0, err
	}
	return attempts, nil
}

func (f *RecoveryFlow) rejectDecoy(ctx context.Context, state *models.RecoveryState, answer1, answer2 string, fn reserveFunc, reason string) error {
	attempts, err := f.reserve(ctx, state, fn)
	if err != nil {
		return err
	}
	f.verifier.Burn(answer1)
	f.verifier.Burn(answer2)
	return f.reject(ctx, state, attempts, reason)
}

func (f *RecoveryFlow) reject(ctx context.Context, state *models.RecoveryState, attempts int, reason string) error {
	f.audit.Record(ctx, state.Email, models.ActionRecoveryStep2Failure,
		fmt.Sprintf("%s, attempt %d of %d", reason, attempts, f.policy.ResetAttemptLimit))
	if attempts >= f.policy.ResetAttemptLimit {
		f.block(ctx, state, attempts)
		return common.ErrTooManyAttempts
	}
	step("answers", "incorrect")
	return common.ErrInvalidCredential
}

func (f *RecoveryFlow) block(ctx context.Context, state *models.RecoveryState, attempts int) {
	*state = models.RecoveryState{Stage: models.RecoveryBlocked, Email: state.Email}
	step("answers", "blocked")
	f.audit.Record(ctx, state.Email, models.ActionRecoveryBlocked,
		fmt.Sprintf("reset attempts %d reached limit %d", attempts, f.policy.ResetAttemptLimit))
}

// HasTicket reports whether the session passed verification and may reset.
func HasTicket(state *models.RecoveryState) bool {
	return state != nil &&
		state.Stage == models.RecoveryVerified &&
		state.Ticket != "" &&
		state.Email != ""
}

// ResetPassword consumes the recovery ticket to set a new password.
// Without a ticket nothing is written. Validation and transient store
// failures keep the ticket so the user can retry; an account that no
// longer exists destroys it and returns common.ErrNotFound.
func (f *RecoveryFlow) ResetPassword(ctx context.Context, state *models.RecoveryState, password, confirm string) error {
	if !HasTicket(state) {
		step("reset", "no_ticket")
		return common.ErrNoRecoveryTicket
	}
	if err := ValidateNewPassword(password, confirm, f.policy.MinPasswordLength); err != nil {
		step("reset", "invalid")
		return err
	}

	hash, err := f.verifier.HashPassword(password)
	if err != nil {
		return err
	}

	email := state.Email
	err = f.accounts.UpdatePassword(ctx, email, hash)
	if errors.Is(err, common.ErrNotFound) {
		*state = models.RecoveryState{}
		step("reset", "account_gone")
		f.log.Warn("account vanished during recovery", zap.String("email", email))
		return common.ErrNotFound
	}
	if err != nil {
		step("reset", "error")
		return err
	}

	*state = models.RecoveryState{Stage: models.RecoveryComplete, Email: email}
	step("reset", "complete")
	f.audit.Record(ctx, email, models.ActionRecoveryComplete, "password reset via security questions")
	return nil
}

// Abandon clears any recovery progress held by the session.
func (f *RecoveryFlow) Abandon(state *models.RecoveryState) {
	*state = models.RecoveryState{}
}
