// Package audit delivers per-claim decision events to an external audit
// trail. Delivery is best effort: a failed send never blocks or fails
// claim processing, it parks the event in a store-backed retry queue.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/claims-cli/internal/model"
)

// Sink receives audit events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, event model.AuditEvent) error
}

// LogSink writes audit events to the process log. It is the default
// sink when no webhook is configured.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, event model.AuditEvent) error {
	zap.L().Info("audit: decision recorded",
		zap.String("session_id", event.SessionID),
		zap.String("claim_id", event.ClaimID),
		zap.String("decision", event.Decision),
		zap.Float64("cost_usd", event.CostUSD),
	)
	return nil
}
