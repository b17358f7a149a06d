package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Verifier hashes and compares passwords and security answers with bcrypt.
// It holds no per-user state.
type Verifier struct {
	cost      int
	dummyHash []byte
}

// NewVerifier creates a Verifier. A cost outside bcrypt's range falls back
// to bcrypt.DefaultCost.
func NewVerifier(cost int) *Verifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("statspack-timing-parity"), cost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt dummy hash: %v", err))
	}
	return &Verifier{cost: cost, dummyHash: dummy}
}

// HashPassword returns the bcrypt hash of a password.
func (v *Verifier) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches hash.
func (v *Verifier) ComparePassword(hash, password string) bool {
	if hash == "" {
		v.Burn(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NormalizeAnswer makes security answers case and whitespace insensitive.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.Join(strings.Fields(answer), " "))
}

// HashAnswer hashes a normalised security answer.
func (v *Verifier) HashAnswer(answer string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(NormalizeAnswer(answer)), v.cost)
	if err != nil {
		return "", fmt.Errorf("hash answer: %w", err)
	}
	return string(hash), nil
}

// CompareAnswer reports whether the normalised answer matches hash.
func (v *Verifier) CompareAnswer(hash, answer string) bool {
	return v.ComparePassword(hash, NormalizeAnswer(answer))
}

// Burn runs a comparison against a fixed hash so that a missing account
// costs the same time as a wrong password.
func (v *Verifier) Burn(secret string) {
	_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(secret))
}
