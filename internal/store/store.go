package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store is the document/metadata persistence boundary. Writes are durable
// before they acknowledge; the orchestrator treats a failed put as fatal for
// the affected claim.
type Store interface {
	// Claims
	PutClaim(ctx context.Context, claim *model.Claim) error
	GetClaim(ctx context.Context, claimID string) (*model.Claim, error)

	// Validation results
	PutResult(ctx context.Context, result *model.ValidationResult) error
	GetResult(ctx context.Context, claimID string) (*model.ValidationResult, error)

	// Sessions
	CreateSession(ctx context.Context, session *model.Session) error
	UpdateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	ListSessions(ctx context.Context, limit int) ([]model.Session, error)

	// Cost ledger entries
	AppendCostEntries(ctx context.Context, entries []model.CostEntry) error
	ListCostEntries(ctx context.Context, sessionID string) ([]model.CostEntry, error)

	// Audit retry queue: events that failed fire-and-forget delivery wait
	// here for out-of-band retry.
	EnqueueAudit(ctx context.Context, event model.AuditEvent) error
	PendingAudit(ctx context.Context, limit int) ([]model.AuditEvent, error)
	DeleteAudit(ctx context.Context, eventID string) error
	CountAudit(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
