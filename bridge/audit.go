package bridge

import (
	"context"
	"time"

	"github.com/lcportal/gamebridge/db"
	"github.com/lcportal/gamebridge/helpers"
	"github.com/lcportal/gamebridge/logger"
	"github.com/lcportal/gamebridge/pkg/metrics"
)

// Audit actions recorded by the bridge.
const (
	ActionLinkAccount    = "game.link_account"
	ActionUnlinkAccount  = "game.unlink_account"
	ActionRateLimited    = "security.rate_limit"
	ActionInvalidAttempt = "security.invalid_attempt"
)

// AuditEvent is one security-relevant action to record.
type AuditEvent struct {
	ActorID  string
	Action   string
	Target   string
	Metadata map[string]any
}

// AuditSink records events best-effort. Implementations must never fail the
// caller: a broken audit trail is an operational problem, not a reason to
// abort an account operation.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// StoreAuditSink persists audit events to the portal database. Metadata is
// redacted before it leaves the process; write failures are swallowed and
// logged locally.
type StoreAuditSink struct {
	store        *db.Database
	writeTimeout time.Duration
}

// NewStoreAuditSink wraps the portal store as an audit sink.
func NewStoreAuditSink(store *db.Database, writeTimeout time.Duration) *StoreAuditSink {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &StoreAuditSink{store: store, writeTimeout: writeTimeout}
}

// Record implements AuditSink.
func (s *StoreAuditSink) Record(ctx context.Context, event AuditEvent) {
	metrics.AuditEventsTotal.WithLabelValues(event.Action).Inc()

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	err := s.store.InsertAuditEvent(writeCtx, &db.AuditEvent{
		ActorID:  event.ActorID,
		Action:   event.Action,
		Target:   event.Target,
		Metadata: helpers.RedactMetadata(event.Metadata),
	})
	if err != nil {
		metrics.AuditFailuresTotal.Inc()
		logger.Error("failed to record audit event",
			"action", event.Action, "target", event.Target, "error", err)
	}
}
