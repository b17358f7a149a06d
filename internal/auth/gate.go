package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/metrics"
	"github.com/cricketstatspack/portal/internal/models"
)

// AdminChecker decides whether an identity is the configured admin.
// *config.Config implements it.
type AdminChecker interface {
	IsAdmin(email string) bool
}

// Gate is the one check every admin operation passes through.
type Gate struct {
	admins AdminChecker
	audit  Auditor
	log    *zap.Logger
}

func NewGate(admins AdminChecker, audit Auditor, logger *zap.Logger) *Gate {
	return &Gate{admins: admins, audit: audit, log: logger.Named("gate")}
}

// Authorize fails closed with common.ErrUnauthorized unless identity is the
// admin. Both outcomes are audited.
func (g *Gate) Authorize(ctx context.Context, identity, action string) error {
	if identity == "" || !g.admins.IsAdmin(identity) {
		metrics.AdminActionsTotal.WithLabelValues(action, "unauthorized").Inc()
		g.log.Warn("unauthorized admin attempt", zap.String("identity", identity), zap.String("action", action))
		g.audit.Record(ctx, identity, models.ActionAdminUnauthorized, fmt.Sprintf("attempted %s", action))
		return common.ErrUnauthorized
	}
	metrics.AdminActionsTotal.WithLabelValues(action, "authorized").Inc()
	g.audit.Record(ctx, identity, models.ActionAdminAuthorized, fmt.Sprintf("authorized for %s", action))
	return nil
}
