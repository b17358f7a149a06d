package models

import "time"

const (
	PlanMonthly = "monthly"
	PlanAnnual  = "annual"
)

// Subscription is the locally cached view of the billing provider's record.
type Subscription struct {
	IsPremium        bool       `json:"is_premium"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	CustomerID       string     `json:"-"`
	SubscriptionID   string     `json:"-"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// Equal compares every field. Period ends are compared at second precision
// because the provider only reports whole seconds.
func (s Subscription) Equal(o Subscription) bool {
	if s.IsPremium != o.IsPremium ||
		s.Plan != o.Plan ||
		s.Status != o.Status ||
		s.CustomerID != o.CustomerID ||
		s.SubscriptionID != o.SubscriptionID {
		return false
	}
	switch {
	case s.CurrentPeriodEnd == nil && o.CurrentPeriodEnd == nil:
		return true
	case s.CurrentPeriodEnd == nil || o.CurrentPeriodEnd == nil:
		return false
	}
	return s.CurrentPeriodEnd.Unix() == o.CurrentPeriodEnd.Unix()
}

// ActivePremium reports whether local state already shows a paid subscription.
func (s Subscription) ActivePremium() bool {
	return s.IsPremium && (s.Status == "active" || s.Status == "trialing" || s.Status == "canceling")
}
