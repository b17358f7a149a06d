package auth

import (
	"time"

	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/store"
)

// Policy holds the security thresholds shared by the login and recovery flows.
type Policy struct {
	LockoutThreshold  int
	LockoutDuration   time.Duration
	ResetAttemptLimit int
	MinPasswordLength int
}

// DefaultPolicy is five failures, a fifteen minute lock, three reset
// attempts and eight character passwords.
func DefaultPolicy() Policy {
	return Policy{
		LockoutThreshold:  5,
		LockoutDuration:   15 * time.Minute,
		ResetAttemptLimit: 3,
		MinPasswordLength: 8,
	}
}

// PolicyFromConfig reads the thresholds from configuration.
func PolicyFromConfig(cfg config.AuthConfig) Policy {
	return Policy{
		LockoutThreshold:  cfg.LockoutThreshold,
		LockoutDuration:   cfg.LockoutDuration,
		ResetAttemptLimit: cfg.ResetAttemptLimit,
		MinPasswordLength: cfg.MinPasswordLength,
	}
}

func (p Policy) lockout() store.LockoutPolicy {
	return store.LockoutPolicy{Threshold: p.LockoutThreshold, Duration: p.LockoutDuration}
}
