// Package ledger enforces a hard per-session spending cap through an
// explicit reserve/commit/release protocol. It is the one piece of shared
// mutable state touched by concurrent claim validations; every operation is
// serialized under a single mutex.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-cli/internal/model"
)

// ErrBudgetExceeded is returned by Reserve when granting the reservation
// would allow total spend to exceed the hard limit.
var ErrBudgetExceeded = eris.New("ledger: budget exceeded")

// ErrUnknownReservation is returned by Commit and Release for reservation
// IDs that were never issued or were already settled.
var ErrUnknownReservation = eris.New("ledger: unknown reservation")

// Item is one measured expenditure settled against a reservation.
type Item struct {
	Source    model.CostSource
	ClaimID   string
	AmountUSD float64
}

type reservation struct {
	amount  float64
	claimID string
}

// Ledger tracks spend for one session against a hard budget limit.
// Reservations hold estimated headroom before an external call is issued;
// commits replace the hold with measured cost after the call settles.
type Ledger struct {
	sessionID string
	limit     float64
	warnAt    float64
	onWarn    func(totalUSD float64)

	mu           sync.Mutex
	committed    float64
	reserved     float64
	reservations map[string]reservation
	entries      []model.CostEntry
	overrun      bool
	warned       bool

	nowFunc func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithWarning sets the soft-warning threshold and the callback fired once
// when committed spend crosses it.
func WithWarning(thresholdUSD float64, fn func(totalUSD float64)) Option {
	return func(l *Ledger) {
		l.warnAt = thresholdUSD
		l.onWarn = fn
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.nowFunc = now
	}
}

// New creates a Ledger for the session with the given hard limit in USD.
func New(sessionID string, limitUSD float64, opts ...Option) *Ledger {
	l := &Ledger{
		sessionID:    sessionID,
		limit:        limitUSD,
		reservations: make(map[string]reservation),
		nowFunc:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Reserve holds amount of headroom before an external call is issued. It
// fails fast with ErrBudgetExceeded when committed + reserved + amount would
// exceed the hard limit, preventing the call from ever being made.
func (l *Ledger) Reserve(amountUSD float64, claimID string) (string, error) {
	if amountUSD < 0 {
		return "", eris.New("ledger: reservation amount must be non-negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.committed+l.reserved+amountUSD > l.limit {
		zap.L().Warn("ledger: reservation rejected",
			zap.String("session_id", l.sessionID),
			zap.String("claim_id", claimID),
			zap.Float64("requested_usd", amountUSD),
			zap.Float64("committed_usd", l.committed),
			zap.Float64("reserved_usd", l.reserved),
			zap.Float64("limit_usd", l.limit),
		)
		return "", ErrBudgetExceeded
	}

	id := uuid.New().String()
	l.reservations[id] = reservation{amount: amountUSD, claimID: claimID}
	l.reserved += amountUSD
	return id, nil
}

// Commit settles a reservation with the measured costs of the calls it
// covered. Actual cost may exceed the estimate; the commit still lands (the
// spend already happened) but the ledger is flagged overrun for the session
// manager's next checkpoint instead of silently clamping.
func (l *Ledger) Commit(reservationID string, items ...Item) error {
	l.mu.Lock()

	res, ok := l.reservations[reservationID]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownReservation
	}
	delete(l.reservations, reservationID)
	l.reserved -= res.amount

	now := l.nowFunc().UTC()
	for _, it := range items {
		l.committed += it.AmountUSD
		l.entries = append(l.entries, model.CostEntry{
			ID:         uuid.New().String(),
			SessionID:  l.sessionID,
			Source:     it.Source,
			AmountUSD:  it.AmountUSD,
			ClaimID:    it.ClaimID,
			RecordedAt: now,
		})
	}

	if l.committed > l.limit && !l.overrun {
		l.overrun = true
		zap.L().Error("ledger: hard limit overrun after commit",
			zap.String("session_id", l.sessionID),
			zap.Float64("committed_usd", l.committed),
			zap.Float64("limit_usd", l.limit),
		)
	}

	var warn func(float64)
	var total float64
	if !l.warned && l.warnAt > 0 && l.committed >= l.warnAt {
		l.warned = true
		warn = l.onWarn
		total = l.committed
	}
	l.mu.Unlock()

	// Fire outside the lock so the callback may query the ledger.
	if warn != nil {
		warn(total)
	}
	return nil
}

// Release returns an unused reservation to headroom. Used when a call
// failed before consuming billable resources.
func (l *Ledger) Release(reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return ErrUnknownReservation
	}
	delete(l.reservations, reservationID)
	l.reserved -= res.amount
	return nil
}

// Total returns committed spend in USD.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

// Reserved returns the sum of outstanding reservations in USD.
func (l *Ledger) Reserved() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved
}

// Remaining returns headroom available for new reservations.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - l.committed - l.reserved
}

// Limit returns the configured hard limit.
func (l *Ledger) Limit() float64 {
	return l.limit
}

// Overrun reports whether an actual-cost commit pushed committed spend past
// the hard limit. Once set it never clears.
func (l *Ledger) Overrun() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overrun
}

// Entries returns a copy of all committed cost entries in commit order.
func (l *Ledger) Entries() []model.CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.CostEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
