package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/claims-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "claims_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testClaim(id string) *model.Claim {
	return &model.Claim{
		ID:            id,
		PatientID:     "PAT_001",
		ProviderID:    "PROV_001",
		ServiceDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		ProcedureCode: "99213",
		DiagnosisCode: "E11.9",
		Amount:        150.00,
		Priority:      model.PriorityRoutine,
		SubmittedAt:   time.Now().UTC(),
		Status:        model.ClaimStatusSubmitted,
	}
}

func TestSQLiteClaimRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	claim := testClaim("CLAIM_20260801_001")
	require.NoError(t, s.PutClaim(ctx, claim))

	got, err := s.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, claim.ID, got.ID)
	assert.Equal(t, claim.ProcedureCode, got.ProcedureCode)
	assert.Equal(t, claim.Amount, got.Amount)

	_, err = s.GetClaim(ctx, "CLAIM_20260801_999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLitePutClaimUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	claim := testClaim("CLAIM_20260801_001")
	require.NoError(t, s.PutClaim(ctx, claim))

	claim.Status = model.ClaimStatusProcessing
	require.NoError(t, s.PutClaim(ctx, claim))

	got, err := s.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusProcessing, got.Status)
}

func TestSQLiteResultWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &model.ValidationResult{
		ID:        "RESULT_20260801_001",
		ClaimID:   "CLAIM_20260801_001",
		SessionID: "DEMO_20260801_abc123",
		Status:    model.StatusApproved,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutResult(ctx, first))

	second := *first
	second.ID = "RESULT_20260801_002"
	second.Status = model.StatusDenied
	require.NoError(t, s.PutResult(ctx, &second))

	got, err := s.GetResult(ctx, first.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.StatusApproved, got.Status)
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &model.Session{
		ID:        "DEMO_20260801_abc123",
		StartedAt: time.Now().UTC(),
		Status:    model.SessionProvisioning,
	}
	require.NoError(t, s.CreateSession(ctx, session))

	session.Status = model.SessionActive
	session.ClaimsProcessed = 3
	session.TotalCostUSD = 1.14
	require.NoError(t, s.UpdateSession(ctx, session))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, got.Status)
	assert.Equal(t, 3, got.ClaimsProcessed)
	assert.InDelta(t, 1.14, got.TotalCostUSD, 1e-9)

	err = s.UpdateSession(ctx, &model.Session{ID: "DEMO_20260801_nosuch", Status: model.SessionActive})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"DEMO_20260801_aaa111", "DEMO_20260801_bbb222"} {
		require.NoError(t, s.CreateSession(ctx, &model.Session{
			ID:        id,
			StartedAt: time.Now().UTC(),
			Status:    model.SessionProvisioning,
		}))
	}

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSQLiteCostEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []model.CostEntry{
		{
			ID:         "ce-1",
			SessionID:  "DEMO_20260801_abc123",
			Source:     model.CostReasoningCall,
			AmountUSD:  0.03,
			ClaimID:    "CLAIM_20260801_001",
			RecordedAt: time.Now().UTC(),
		},
		{
			ID:         "ce-2",
			SessionID:  "DEMO_20260801_abc123",
			Source:     model.CostComplianceCall,
			AmountUSD:  0.30,
			ClaimID:    "CLAIM_20260801_001",
			RecordedAt: time.Now().UTC().Add(time.Second),
		},
	}
	require.NoError(t, s.AppendCostEntries(ctx, entries))
	require.NoError(t, s.AppendCostEntries(ctx, nil))

	got, err := s.ListCostEntries(ctx, "DEMO_20260801_abc123")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.CostReasoningCall, got[0].Source)
	assert.InDelta(t, 0.30, got[1].AmountUSD, 1e-9)
}

func TestSQLiteAuditQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	event := model.AuditEvent{
		ID:        "ae-1",
		SessionID: "DEMO_20260801_abc123",
		ClaimID:   "CLAIM_20260801_001",
		Decision:  string(model.StatusApproved),
		CostUSD:   0.38,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, s.EnqueueAudit(ctx, event))
	require.NoError(t, s.EnqueueAudit(ctx, event)) // idempotent

	n, err := s.CountAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.PendingAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.ClaimID, pending[0].ClaimID)

	require.NoError(t, s.DeleteAudit(ctx, event.ID))
	n, err = s.CountAudit(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
