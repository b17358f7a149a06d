package auth

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

// RegistrationForm is the sign-up input.
type RegistrationForm struct {
	Email            string
	DisplayName      string
	Password         string
	Confirm          string
	Question1        string
	Answer1          string
	Question2        string
	Answer2          string
	NotifyNewsletter bool
}

// Registrar creates accounts with hashed passwords and security answers.
type Registrar struct {
	accounts AccountStore
	verifier *Verifier
	audit    Auditor
	policy   Policy
	log      *zap.Logger
}

func NewRegistrar(accounts AccountStore, verifier *Verifier, audit Auditor, policy Policy, logger *zap.Logger) *Registrar {
	return &Registrar{
		accounts: accounts,
		verifier: verifier,
		audit:    audit,
		policy:   policy,
		log:      logger.Named("register"),
	}
}

func (r *Registrar) validate(form RegistrationForm) error {
	if !ValidateEmail(form.Email) {
		return common.Invalid("email", "enter a valid email address")
	}
	if err := ValidateNewPassword(form.Password, form.Confirm, r.policy.MinPasswordLength); err != nil {
		return err
	}
	if !IsSecurityQuestion(form.Question1) {
		return common.Invalid("question_1", "choose a security question")
	}
	if !IsSecurityQuestion(form.Question2) {
		return common.Invalid("question_2", "choose a security question")
	}
	if form.Question1 == form.Question2 {
		return common.Invalid("question_2", "choose two different security questions")
	}
	if NormalizeAnswer(form.Answer1) == "" {
		return common.Invalid("answer_1", "answer is required")
	}
	if NormalizeAnswer(form.Answer2) == "" {
		return common.Invalid("answer_2", "answer is required")
	}
	return nil
}

// Register validates the form and creates the account. A taken email
// returns common.ErrAlreadyExists.
func (r *Registrar) Register(ctx context.Context, form RegistrationForm) (*models.Account, error) {
	form.Email = store.NormalizeEmail(form.Email)
	if err := r.validate(form); err != nil {
		return nil, err
	}

	passwordHash, err := r.verifier.HashPassword(form.Password)
	if err != nil {
		return nil, err
	}
	answer1, err := r.verifier.HashAnswer(form.Answer1)
	if err != nil {
		return nil, err
	}
	answer2, err := r.verifier.HashAnswer(form.Answer2)
	if err != nil {
		return nil, err
	}

	acct := &models.Account{
		Email:        form.Email,
		DisplayName:  strings.TrimSpace(form.DisplayName),
		PasswordHash: passwordHash,
		Questions: [2]models.SecurityQuestion{
			{Prompt: form.Question1, AnswerHash: answer1},
			{Prompt: form.Question2, AnswerHash: answer2},
		},
		Status:           models.AccountStatusActive,
		NotifyNewsletter: form.NotifyNewsletter,
	}
	if err := r.accounts.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	r.log.Info("account registered", zap.String("email", acct.Email))
	r.audit.Record(ctx, acct.Email, models.ActionRegister, "account created")
	return acct, nil
}
