package auth

import (
	"fmt"
	"regexp"

	"github.com/cricketstatspack/portal/internal/common"
)

// bcrypt rejects longer inputs
const maxPasswordBytes = 72

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks if an email is valid
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email) && len(email) < 255
}

// ValidateNewPassword checks a new password and its confirmation. Nothing is
// written by callers when this fails.
func ValidateNewPassword(password, confirm string, minLength int) error {
	if password != confirm {
		return common.Invalid("confirm_password", "passwords do not match")
	}
	if len(password) < minLength {
		return common.Invalid("password", fmt.Sprintf("password must be at least %d characters", minLength))
	}
	if len(password) > maxPasswordBytes {
		return common.Invalid("password", fmt.Sprintf("password must be at most %d characters", maxPasswordBytes))
	}
	return nil
}

// GetPasswordRequirements returns a list of password requirements
func GetPasswordRequirements(minLength int) []string {
	return []string{
		fmt.Sprintf("At least %d characters long", minLength),
		fmt.Sprintf("Maximum %d characters", maxPasswordBytes),
		"Both entries must match",
	}
}
