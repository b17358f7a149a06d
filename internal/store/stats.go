package store

import (
	"context"
	"time"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
)

const statsSQL = `
	SELECT
		COUNT(*) AS total_users,
		COALESCE(SUM(CASE WHEN is_premium THEN 1 ELSE 0 END), 0) AS premium_users,
		COALESCE(SUM(CASE WHEN is_premium AND subscription_type = ? THEN 1 ELSE 0 END), 0) AS monthly_plans,
		COALESCE(SUM(CASE WHEN is_premium AND subscription_type = ? THEN 1 ELSE 0 END), 0) AS annual_plans,
		COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS recent_signups
	FROM users`

// Stats summarises accounts for the admin dashboard. Signups since
// signupsSince count as recent; sessions still valid at now count as active.
func (s *Store) Stats(ctx context.Context, signupsSince, now time.Time) (models.Stats, error) {
	var st models.Stats
	if err := s.db.GetContext(ctx, &st, s.db.Rebind(statsSQL),
		models.PlanMonthly, models.PlanAnnual, dbTime(signupsSince)); err != nil {
		return st, common.StoreError("stats", err)
	}
	st.FreeUsers = st.TotalUsers - st.PremiumUsers

	var active int
	query := s.db.Rebind(`SELECT COUNT(*) FROM sessions WHERE identity <> '' AND expires_at > ?`)
	if err := s.db.GetContext(ctx, &active, query, dbTime(now)); err != nil {
		return st, common.StoreError("stats", err)
	}
	st.ActiveSessions = active
	return st, nil
}
