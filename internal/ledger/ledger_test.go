package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/claims-cli/internal/model"
)

func TestLedger_ReserveCommit(t *testing.T) {
	t.Parallel()

	l := New("DEMO_20260115_ABC123", 50.0)

	id, err := l.Reserve(5.0, "CLAIM_20260115_001")
	require.NoError(t, err)
	assert.Equal(t, 5.0, l.Reserved())
	assert.Equal(t, 0.0, l.Total())

	require.NoError(t, l.Commit(id,
		Item{Source: model.CostReasoningCall, ClaimID: "CLAIM_20260115_001", AmountUSD: 0.04},
		Item{Source: model.CostComplianceCall, ClaimID: "CLAIM_20260115_001", AmountUSD: 0.10},
	))

	assert.Equal(t, 0.0, l.Reserved())
	assert.InDelta(t, 0.14, l.Total(), 1e-9)
	assert.False(t, l.Overrun())

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.CostReasoningCall, entries[0].Source)
	assert.Equal(t, model.CostComplianceCall, entries[1].Source)
	assert.Equal(t, "DEMO_20260115_ABC123", entries[0].SessionID)
}

func TestLedger_ReserveRejectsOverBudget(t *testing.T) {
	t.Parallel()

	// $2 of a $50 budget remaining; next combined estimate is $5.
	l := New("s", 50.0)
	id, err := l.Reserve(48.0, "")
	require.NoError(t, err)
	require.NoError(t, l.Commit(id, Item{Source: model.CostInfraOverhead, AmountUSD: 48.0}))

	_, err = l.Reserve(5.0, "CLAIM_20260115_002")
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// No spend happened for the rejected claim.
	assert.Equal(t, 48.0, l.Total())
}

func TestLedger_ReserveCountsOutstandingReservations(t *testing.T) {
	t.Parallel()

	l := New("s", 10.0)
	_, err := l.Reserve(6.0, "a")
	require.NoError(t, err)

	// 6 reserved, only 4 headroom left.
	_, err = l.Reserve(5.0, "b")
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	_, err = l.Reserve(4.0, "c")
	assert.NoError(t, err)
}

func TestLedger_Release(t *testing.T) {
	t.Parallel()

	l := New("s", 10.0)
	id, err := l.Reserve(6.0, "a")
	require.NoError(t, err)
	require.NoError(t, l.Release(id))

	assert.Equal(t, 0.0, l.Reserved())
	assert.Equal(t, 10.0, l.Remaining())
	assert.Empty(t, l.Entries())

	// Settling the same reservation twice is an error.
	assert.ErrorIs(t, l.Release(id), ErrUnknownReservation)
	assert.ErrorIs(t, l.Commit(id), ErrUnknownReservation)
}

func TestLedger_OverrunFlaggedNotClamped(t *testing.T) {
	t.Parallel()

	l := New("s", 1.0)
	id, err := l.Reserve(0.9, "a")
	require.NoError(t, err)

	// Actual cost came in over the hard limit. The commit lands, the ledger
	// flags overrun for the next session checkpoint.
	require.NoError(t, l.Commit(id, Item{Source: model.CostReasoningCall, ClaimID: "a", AmountUSD: 1.3}))
	assert.InDelta(t, 1.3, l.Total(), 1e-9)
	assert.True(t, l.Overrun())

	// All headroom is gone now.
	_, err = l.Reserve(0.01, "b")
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestLedger_WarningFiresOnce(t *testing.T) {
	t.Parallel()

	var warnings []float64
	l := New("s", 50.0, WithWarning(40.0, func(total float64) {
		warnings = append(warnings, total)
	}))

	for range 3 {
		id, err := l.Reserve(15.0, "")
		require.NoError(t, err)
		require.NoError(t, l.Commit(id, Item{Source: model.CostComplianceCall, AmountUSD: 15.0}))
	}

	require.Len(t, warnings, 1)
	assert.InDelta(t, 45.0, warnings[0], 1e-9)
}

func TestLedger_ConcurrentClaimsNeverExceedLimit(t *testing.T) {
	t.Parallel()

	const limit = 50.0
	l := New("s", limit)

	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := l.Reserve(0.5, "")
			if err != nil {
				return
			}
			l.Commit(id, Item{Source: model.CostReasoningCall, AmountUSD: 0.5}) //nolint:errcheck
		}()
	}
	wg.Wait()

	// 200 workers wanted $100 total; the ledger must have admitted at most
	// the hard limit.
	assert.LessOrEqual(t, l.Total(), limit)
	assert.Equal(t, 0.0, l.Reserved())
	assert.False(t, l.Overrun())
}
