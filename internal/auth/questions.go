package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// SecurityQuestions are the prompts offered at registration.
var SecurityQuestions = []string{
	"What was your first pet's name?",
	"What is your mother's maiden name?",
	"What was the name of your elementary school?",
	"What city were you born in?",
	"What is your favorite book?",
}

// IsSecurityQuestion reports whether q is one of the offered prompts.
func IsSecurityQuestion(q string) bool {
	for _, s := range SecurityQuestions {
		if s == q {
			return true
		}
	}
	return false
}

// decoyQuestions picks two distinct prompts for an email with no account.
// The choice is keyed so it is stable per email and does not reveal
// whether the account exists.
func decoyQuestions(secret []byte, email string) [2]string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(email))
	sum := mac.Sum(nil)

	n := uint64(len(SecurityQuestions))
	first := binary.BigEndian.Uint64(sum[0:8]) % n
	second := binary.BigEndian.Uint64(sum[8:16]) % (n - 1)
	if second >= first {
		second++
	}
	return [2]string{SecurityQuestions[first], SecurityQuestions[second]}
}
