// Package audit writes append-only audit entries on a best-effort basis.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/metrics"
	"github.com/cricketstatspack/portal/internal/models"
)

// Sink persists audit entries.
type Sink interface {
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// Recorder writes audit entries without ever failing the caller.
type Recorder struct {
	sink Sink
	log  *zap.Logger
	now  func() time.Time
}

func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	return &Recorder{
		sink: sink,
		log:  logger.Named("audit"),
		now:  time.Now,
	}
}

// Record appends one entry. A failed write is logged and counted, never returned.
func (r *Recorder) Record(ctx context.Context, actor string, action models.AuditAction, detail string) {
	entry := models.AuditEntry{
		ActorEmail: actor,
		Action:     action,
		Detail:     detail,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.sink.AppendAudit(ctx, entry); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		r.log.Error("audit write failed",
			zap.String("actor", actor),
			zap.String("action", string(action)),
			zap.String("detail", detail),
			zap.Error(err),
		)
	}
}
