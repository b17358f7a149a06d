package models

import "time"

// RecoveryStage is the position of a session in the password recovery flow
type RecoveryStage string

const (
	RecoveryAwaitingEmail   RecoveryStage = ""
	RecoveryQuestionsIssued RecoveryStage = "questions_issued"
	RecoveryVerified        RecoveryStage = "verified"
	RecoveryComplete        RecoveryStage = "complete"
	RecoveryBlocked         RecoveryStage = "blocked"
)

// RecoveryState is the recovery marker a session carries between requests.
// Ticket is only ever set after both answers were verified.
type RecoveryState struct {
	Stage   RecoveryStage `json:"stage,omitempty"`
	Email   string        `json:"email,omitempty"`
	Prompts [2]string     `json:"prompts,omitempty"`
	Ticket  string        `json:"ticket,omitempty"`
}

// Session represents a server-side web session
type Session struct {
	Token     string        `json:"-"`
	Identity  string        `json:"identity"`
	LoginAt   *time.Time    `json:"login_at,omitempty"`
	Recovery  RecoveryState `json:"recovery"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Authenticated reports whether a user is logged in on this session
func (s *Session) Authenticated() bool {
	return s.Identity != ""
}

// Expired reports whether the session has passed its expiry
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionRecord is login/logout telemetry written when a session ends
type SessionRecord struct {
	ID              int64      `json:"id" db:"id"`
	Email           string     `json:"email" db:"user_email"`
	LoginAt         time.Time  `json:"login_time" db:"login_time"`
	LogoutAt        *time.Time `json:"logout_time" db:"logout_time"`
	DurationSeconds int64      `json:"duration_seconds" db:"duration_seconds"`
	IPAddress       string     `json:"ip_address" db:"ip_address"`
	UserAgent       string     `json:"user_agent" db:"user_agent"`
}

// Stats is the admin dashboard summary
type Stats struct {
	TotalUsers     int `json:"total_users" db:"total_users"`
	PremiumUsers   int `json:"premium_users" db:"premium_users"`
	FreeUsers      int `json:"free_users" db:"free_users"`
	MonthlyPlans   int `json:"monthly_plans" db:"monthly_plans"`
	AnnualPlans    int `json:"annual_plans" db:"annual_plans"`
	RecentSignups  int `json:"recent_signups" db:"recent_signups"`
	ActiveSessions int `json:"active_sessions" db:"active_sessions"`
}
