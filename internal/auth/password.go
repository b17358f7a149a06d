package auth

import (
	"context"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

// PasswordChanger lets a logged-in user replace their password. It also
// satisfies an admin-forced reset, whose flag the store clears on update.
type PasswordChanger struct {
	accounts AccountStore
	verifier *Verifier
	audit    Auditor
	policy   Policy
}

func NewPasswordChanger(accounts AccountStore, verifier *Verifier, audit Auditor, policy Policy) *PasswordChanger {
	return &PasswordChanger{accounts: accounts, verifier: verifier, audit: audit, policy: policy}
}

// ChangePassword checks the current password before writing the new one.
func (p *PasswordChanger) ChangePassword(ctx context.Context, email, current, password, confirm string) error {
	email = store.NormalizeEmail(email)
	if err := ValidateNewPassword(password, confirm, p.policy.MinPasswordLength); err != nil {
		return err
	}

	acct, err := p.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !p.verifier.ComparePassword(acct.PasswordHash, current) {
		p.audit.Record(ctx, email, models.ActionPasswordChangeFail, "current password incorrect")
		return common.Invalid("current_password", "current password is incorrect")
	}
	if p.verifier.ComparePassword(acct.PasswordHash, password) {
		return common.Invalid("password", "new password must differ from the current one")
	}

	hash, err := p.verifier.HashPassword(password)
	if err != nil {
		return err
	}
	if err := p.accounts.UpdatePassword(ctx, email, hash); err != nil {
		return err
	}
	p.audit.Record(ctx, email, models.ActionPasswordChanged, "password changed while logged in")
	return nil
}
