// Package session manages the lifecycle of a demonstration session: a
// provisioned environment, a hard cost budget, and a bounded stream of
// claim validations. Whatever path a session takes, its environment is
// torn down exactly once and its cost history is flushed to the store.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-cli/internal/audit"
	"github.com/sells-group/claims-cli/internal/cost"
	"github.com/sells-group/claims-cli/internal/ledger"
	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/provision"
	"github.com/sells-group/claims-cli/internal/store"
	"github.com/sells-group/claims-cli/internal/validator"
	"github.com/sells-group/claims-cli/pkg/compliance"
	"github.com/sells-group/claims-cli/pkg/reasoning"
)

// ErrNotActive is returned by Submit when the session is not accepting claims.
var ErrNotActive = eris.New("session: not active")

// Config holds session tuning. Zero values select the defaults.
type Config struct {
	BudgetUSD        float64       // hard limit, default 50
	WarnUSD          float64       // soft warning threshold, default 45
	ProvisionTimeout time.Duration // default 60s
	MaxConcurrent    int           // concurrent claim validations, default 4
	Validator        validator.Config
}

func (c Config) withDefaults() Config {
	if c.BudgetUSD <= 0 {
		c.BudgetUSD = 50
	}
	if c.WarnUSD <= 0 {
		c.WarnUSD = 45
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = 60 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	return c
}

// Manager owns one demonstration session from provisioning to cleanup.
type Manager struct {
	cfg   Config
	store store.Store
	prov  provision.Provisioner
	sink  audit.Sink

	reasoningClient  reasoning.Client
	complianceClient compliance.Client
	estimator        *cost.Estimator

	mu      sync.Mutex
	session model.Session
	ledger  *ledger.Ledger
	orch    *validator.Orchestrator
	sem     chan struct{}

	teardownOnce sync.Once
	teardownErr  error
}

// NewManager creates a Manager. Call Start before submitting claims.
func NewManager(
	st store.Store,
	prov provision.Provisioner,
	sink audit.Sink,
	rc reasoning.Client,
	cc compliance.Client,
	est *cost.Estimator,
	cfg Config,
) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:              cfg,
		store:            st,
		prov:             prov,
		sink:             sink,
		reasoningClient:  rc,
		complianceClient: cc,
		estimator:        est,
		sem:              make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start provisions the session environment and activates the session.
// If the environment never becomes ready the session is aborted and torn
// down before the error returns.
func (m *Manager) Start(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	if m.session.ID != "" {
		m.mu.Unlock()
		return nil, eris.New("session: already started")
	}
	m.session = model.Session{
		ID:        model.GenerateSessionID(),
		StartedAt: time.Now().UTC(),
		Status:    model.SessionProvisioning,
	}
	sessionID := m.session.ID

	m.ledger = ledger.New(sessionID, m.cfg.BudgetUSD,
		ledger.WithWarning(m.cfg.WarnUSD, m.budgetWarning(sessionID)))

	vcfg := m.cfg.Validator
	vcfg.SessionID = sessionID
	m.orch = validator.New(m.reasoningClient, m.complianceClient,
		m.estimator, m.ledger, m.store, m.sink, vcfg)
	m.mu.Unlock()

	snapshot := m.snapshot()
	if err := m.store.CreateSession(ctx, &snapshot); err != nil {
		m.transition(model.SessionAborted)
		m.teardown(context.WithoutCancel(ctx))
		return nil, eris.Wrap(err, "session: create")
	}

	zap.L().Info("session: provisioning",
		zap.String("session_id", sessionID),
		zap.Float64("budget_usd", m.cfg.BudgetUSD),
	)

	readyCtx, cancel := context.WithTimeout(ctx, m.cfg.ProvisionTimeout)
	defer cancel()
	if err := m.prov.ConfirmReady(readyCtx, sessionID); err != nil {
		m.transition(model.SessionAborted)
		m.teardown(context.WithoutCancel(ctx))
		return nil, eris.Wrapf(err, "session: environment for %s never became ready", sessionID)
	}

	if !m.transition(model.SessionActive) {
		return nil, eris.New("session: activation raced with teardown")
	}
	snapshot = m.snapshot()
	if err := m.store.UpdateSession(ctx, &snapshot); err != nil {
		// The environment is already provisioned; it must not leak.
		m.transition(model.SessionAborted)
		m.teardown(context.WithoutCancel(ctx))
		return nil, eris.Wrap(err, "session: activate")
	}

	zap.L().Info("session: active", zap.String("session_id", sessionID))
	return &snapshot, nil
}

// Submit validates one claim within the session. Claims are rejected
// once the session has left the active state.
func (m *Manager) Submit(ctx context.Context, claim *model.Claim) (*model.ValidationResult, error) {
	if m.Status() != model.SessionActive {
		return nil, ErrNotActive
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "session: submit")
	}
	release := func() { <-m.sem }

	// Re-check after acquiring the slot: a budget checkpoint may have
	// closed the session while this claim waited.
	if m.Status() != model.SessionActive {
		release()
		return nil, ErrNotActive
	}

	if err := m.store.PutClaim(ctx, claim); err != nil {
		release()
		return nil, eris.Wrapf(err, "session: store claim %s", claim.ID)
	}

	result, err := m.orch.Validate(ctx, claim)
	if err != nil {
		release()
		return nil, err
	}

	m.mu.Lock()
	m.session.ClaimsProcessed++
	m.session.TotalCostUSD = m.ledger.Total()
	m.mu.Unlock()

	// The slot is released before the checkpoint so teardown can drain
	// the semaphore without waiting on this claim's own slot.
	release()

	// Budget checkpoint: a committed overrun or a reservation the ledger
	// could not grant closes the session to new claims.
	if m.ledger.Overrun() || result.ReasonCode == model.ReasonBudgetExhausted {
		if m.transition(model.SessionBudgetExceeded) {
			zap.L().Warn("session: budget exceeded, closing",
				zap.String("session_id", m.snapshot().ID),
				zap.Float64("spent_usd", m.ledger.Total()),
				zap.Float64("budget_usd", m.cfg.BudgetUSD),
			)
			m.teardown(context.WithoutCancel(ctx))
		}
	}

	return result, nil
}

// End completes an active session and tears it down.
func (m *Manager) End(ctx context.Context) error {
	if !m.started() {
		return nil
	}
	if m.transition(model.SessionCompleted) {
		snap := m.snapshot()
		zap.L().Info("session: completed",
			zap.String("session_id", snap.ID),
			zap.Int("claims_processed", snap.ClaimsProcessed),
			zap.Float64("total_cost_usd", snap.TotalCostUSD),
		)
	}
	return m.teardown(context.WithoutCancel(ctx))
}

// Abort force-closes the session from any non-terminal state. Before
// Start it is a no-op: there is no environment and no ledger yet.
func (m *Manager) Abort(ctx context.Context) error {
	if !m.started() {
		return nil
	}
	m.transition(model.SessionAborted)
	return m.teardown(context.WithoutCancel(ctx))
}

func (m *Manager) started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID != ""
}

// Status returns the current lifecycle state.
func (m *Manager) Status() model.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Status
}

// Session returns a snapshot of the session record.
func (m *Manager) Session() model.Session {
	return m.snapshot()
}

// Spend returns committed spend and remaining headroom in USD.
func (m *Manager) Spend() (totalUSD, remainingUSD float64) {
	return m.ledger.Total(), m.ledger.Remaining()
}

func (m *Manager) snapshot() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	s.TotalCostUSD = 0
	if m.ledger != nil {
		s.TotalCostUSD = m.ledger.Total()
	}
	return s
}

// transition attempts a state change, reporting whether it applied.
// Illegal transitions are dropped, never forced.
func (m *Manager) transition(next model.SessionStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.Status.CanTransition(next) {
		return false
	}
	m.session.Status = next
	return true
}

// teardown releases the environment, flushes the cost history, and marks
// the session cleaned up. It runs at most once; later callers get the
// first run's error.
func (m *Manager) teardown(ctx context.Context) error {
	m.teardownOnce.Do(func() {
		sessionID := m.snapshot().ID

		// In-flight claims settle their costs before releasing their
		// slot, so holding every slot means the ledger and counters are
		// final. The slots are returned afterwards so blocked submitters
		// wake up and observe the closed session.
		for i := 0; i < cap(m.sem); i++ {
			m.sem <- struct{}{}
		}
		defer func() {
			for i := 0; i < cap(m.sem); i++ {
				<-m.sem
			}
		}()

		if err := m.prov.Teardown(ctx, sessionID); err != nil {
			// The session still closes; a leaked environment is logged
			// for manual cleanup rather than blocking shutdown.
			zap.L().Error("session: environment teardown failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			m.teardownErr = err
		}

		if err := m.store.AppendCostEntries(ctx, m.ledger.Entries()); err != nil {
			zap.L().Error("session: cost history flush failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			if m.teardownErr == nil {
				m.teardownErr = err
			}
		}

		m.mu.Lock()
		now := time.Now().UTC()
		m.session.EndedAt = &now
		m.session.TotalCostUSD = m.ledger.Total()
		m.mu.Unlock()

		// Persist the terminal state, then the cleaned-up marker.
		snapshot := m.snapshot()
		if err := m.store.UpdateSession(ctx, &snapshot); err != nil {
			zap.L().Error("session: persist terminal state failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			if m.teardownErr == nil {
				m.teardownErr = err
			}
			return
		}

		if m.transition(model.SessionCleanedUp) {
			snapshot = m.snapshot()
			if err := m.store.UpdateSession(ctx, &snapshot); err != nil {
				zap.L().Error("session: persist cleaned up failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				if m.teardownErr == nil {
					m.teardownErr = err
				}
				return
			}
		}

		zap.L().Info("session: cleaned up",
			zap.String("session_id", sessionID),
			zap.Float64("total_cost_usd", snapshot.TotalCostUSD),
		)
	})
	return m.teardownErr
}

// budgetWarning returns the ledger soft-warning callback. The warning is
// advisory: it logs and audits but does not close the session.
func (m *Manager) budgetWarning(sessionID string) func(totalUSD float64) {
	return func(totalUSD float64) {
		zap.L().Warn("session: budget warning threshold crossed",
			zap.String("session_id", sessionID),
			zap.Float64("spent_usd", totalUSD),
			zap.Float64("warn_usd", m.cfg.WarnUSD),
			zap.Float64("budget_usd", m.cfg.BudgetUSD),
		)
		event := model.AuditEvent{
			ID:        model.GenerateResultID(),
			SessionID: sessionID,
			Decision:  "budget_warning",
			CostUSD:   totalUSD,
			Timestamp: time.Now().UTC(),
		}
		if err := m.sink.Emit(context.Background(), event); err != nil {
			zap.L().Warn("session: budget warning audit failed", zap.Error(err))
		}
	}
}
