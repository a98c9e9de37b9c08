package validator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/claims-cli/internal/cost"
	"github.com/sells-group/claims-cli/internal/ledger"
	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/resilience"
)

const testSessionID = "DEMO_20260801_abc123"

func testClaim() *model.Claim {
	return &model.Claim{
		ID:               "CLAIM_20260801_001",
		PatientID:        "PAT_001",
		ProviderID:       "PROV_001",
		ServiceDate:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		ProcedureCode:    "99213",
		DiagnosisCode:    "E11.9",
		Amount:           150.00,
		Priority:         model.PriorityRoutine,
		NecessityContext: "Type 2 diabetes follow-up visit",
		SubmittedAt:      time.Now().UTC(),
		Status:           model.ClaimStatusSubmitted,
	}
}

func approveVerdict(kind model.ServiceKind, confidence, costUSD float64) *model.Verdict {
	v := &model.Verdict{
		Service:    kind,
		Status:     model.VerdictApprove,
		Confidence: confidence,
		Rationale:  "Medically necessary for the documented diagnosis.",
		CostUSD:    costUSD,
	}
	if kind == model.ServiceCompliance {
		v.Checks = passingChecks()
	}
	return v
}

func passingChecks() []model.ComplianceCheck {
	return []model.ComplianceCheck{
		{Type: model.CheckHIPAAPrivacy, Passed: true, Framework: "HIPAA"},
		{Type: model.CheckMedicalNecessity, Passed: true, Framework: "CMS"},
		{Type: model.CheckCMSGuidelines, Passed: true, Framework: "CMS"},
	}
}

type fixture struct {
	reasoning  *mockService
	compliance *mockService
	store      *memStore
	sink       *recordSink
	ledger     *ledger.Ledger
	orch       *Orchestrator
}

func newFixture(t *testing.T, budgetUSD float64) *fixture {
	t.Helper()
	f := &fixture{
		reasoning:  &mockService{},
		compliance: &mockService{},
		store:      newMemStore(),
		sink:       &recordSink{},
		ledger:     ledger.New(testSessionID, budgetUSD),
	}
	f.orch = New(f.reasoning, f.compliance,
		cost.NewEstimator(cost.DefaultRates()), f.ledger, f.store, f.sink,
		Config{
			SessionID: testSessionID,
			Retry:     resilience.Policy{MaxAttempts: 1},
		})
	return f
}

func TestValidate_BothApprove(t *testing.T) {
	f := newFixture(t, 50)
	claim := testClaim()

	f.reasoning.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceReasoning, 92, 0.04), nil)
	f.compliance.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceCompliance, 88, 0.30), nil)

	result, err := f.orch.Validate(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, result.Status)
	assert.InDelta(t, 90, result.Confidence, 1e-9) // average of 92 and 88
	assert.False(t, result.HumanReview)
	assert.Empty(t, result.ReasonCode)
	assert.InDelta(t, 0.04+0.30+cost.OverheadUSD, result.CostUSD, 1e-9)
	assert.InDelta(t, result.CostUSD, f.ledger.Total(), 1e-9)

	// Reservation fully settled: nothing held back.
	assert.Zero(t, f.ledger.Reserved())

	require.Len(t, f.sink.all(), 1)
	assert.Equal(t, "approved", f.sink.all()[0].Decision)
}

func TestValidate_Disagreement(t *testing.T) {
	f := newFixture(t, 50)
	claim := testClaim()

	deny := &model.Verdict{
		Service:    model.ServiceCompliance,
		Status:     model.VerdictDeny,
		Confidence: 71,
		Rationale:  "Procedure frequency exceeds plan guidelines.",
		Checks:     passingChecks(),
		CostUSD:    0.30,
	}
	f.reasoning.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceReasoning, 90, 0.04), nil)
	f.compliance.On("Evaluate", mock.Anything, claim).Return(deny, nil)

	result, err := f.orch.Validate(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartialApproval, result.Status)
	assert.InDelta(t, 71, result.Confidence, 1e-9) // lower of the two
	assert.True(t, result.HumanReview)
}

func TestValidate_ComplianceViolationGates(t *testing.T) {
	f := newFixture(t, 50)
	claim := testClaim()

	violation := &model.Verdict{
		Service:    model.ServiceCompliance,
		Status:     model.VerdictDeny,
		Confidence: 97,
		Rationale:  "Procedure is excluded under CMS coverage rules.",
		Violation:  true,
		Checks: []model.ComplianceCheck{
			{Type: model.CheckCMSGuidelines, Passed: false, Details: "excluded procedure", Framework: "CMS"},
		},
		CostUSD: 0.30,
	}
	// High-confidence reasoning approval must not override the gate.
	f.reasoning.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceReasoning, 99, 0.04), nil)
	f.compliance.On("Evaluate", mock.Anything, claim).Return(violation, nil)

	result, err := f.orch.Validate(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplianceViolation, result.Status)
	assert.True(t, result.HumanReview)
	assert.False(t, result.IsApproved())
}

func TestValidate_BudgetRejection(t *testing.T) {
	// $0.10 budget cannot cover the ~$0.38 combined estimate.
	f := newFixture(t, 0.10)
	claim := testClaim()

	result, err := f.orch.Validate(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, model.StatusInsufficientData, result.Status)
	assert.Equal(t, model.ReasonBudgetExhausted, result.ReasonCode)
	assert.True(t, result.HumanReview)
	assert.Zero(t, result.CostUSD)
	assert.Zero(t, f.ledger.Total())

	// No external call was ever issued.
	f.reasoning.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
	f.compliance.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)

	// The rejection is still a recorded, audited decision.
	require.Len(t, f.sink.all(), 1)
	assert.Equal(t, string(model.StatusInsufficientData), f.sink.all()[0].Decision)
}

func TestValidate_ServiceFailure(t *testing.T) {
	f := newFixture(t, 50)
	claim := testClaim()

	f.reasoning.On("Evaluate", mock.Anything, claim).
		Return(nil, resilience.NewTransient(errPutFailed, 503))
	f.compliance.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceCompliance, 85, 0.30), nil)

	result, err := f.orch.Validate(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, model.StatusInsufficientData, result.Status)
	assert.Equal(t, model.ReasonServiceFailure, result.ReasonCode)
	assert.Zero(t, result.Confidence)
	assert.True(t, result.HumanReview)

	// Failed call bills its floor cost; the successful call bills actual.
	rates := cost.DefaultRates()
	want := cost.OverheadUSD + rates.Reasoning.FailedCall + 0.30
	assert.InDelta(t, want, result.CostUSD, 1e-9)
	assert.InDelta(t, want, f.ledger.Total(), 1e-9)
}

func TestValidate_FailedCheckFlagsReview(t *testing.T) {
	f := newFixture(t, 50)
	claim := testClaim()

	cv := approveVerdict(model.ServiceCompliance, 80, 0.30)
	cv.Checks[1].Passed = false // medical necessity check failed, not a violation

	f.reasoning.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceReasoning, 90, 0.04), nil)
	f.compliance.On("Evaluate", mock.Anything, claim).Return(cv, nil)

	result, err := f.orch.Validate(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, result.Status)
	assert.True(t, result.HumanReview)
}

func TestValidate_Idempotent(t *testing.T) {
	f := newFixture(t, 50)
	claim := testClaim()

	existing := &model.ValidationResult{
		ID:        "RESULT_20260801_001",
		ClaimID:   claim.ID,
		SessionID: testSessionID,
		Status:    model.StatusApproved,
	}
	require.NoError(t, f.store.PutResult(context.Background(), existing))

	result, err := f.orch.Validate(context.Background(), claim)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, result.ID)
	assert.Zero(t, f.ledger.Total())
	f.reasoning.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestValidate_PersistFailureIsFatal(t *testing.T) {
	f := newFixture(t, 50)
	f.store.failPutResult = true
	claim := testClaim()

	f.reasoning.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceReasoning, 90, 0.04), nil)
	f.compliance.On("Evaluate", mock.Anything, claim).
		Return(approveVerdict(model.ServiceCompliance, 85, 0.30), nil)

	_, err := f.orch.Validate(context.Background(), claim)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, f.sink.all())
}

func TestValidate_InvalidClaimRejected(t *testing.T) {
	f := newFixture(t, 50)
	claim := testClaim()
	claim.ProcedureCode = "abc" // not a five-digit CPT code

	_, err := f.orch.Validate(context.Background(), claim)
	require.Error(t, err)
	assert.Zero(t, f.ledger.Total())
}

func TestMerge_BothReview(t *testing.T) {
	rv := &model.Verdict{Service: model.ServiceReasoning, Status: model.VerdictReview, Confidence: 55}
	cv := &model.Verdict{Service: model.ServiceCompliance, Status: model.VerdictReview, Confidence: 60, Checks: passingChecks()}

	out := merge(rv, cv, nil)
	assert.Equal(t, model.StatusRequiresHumanReview, out.status)
	assert.InDelta(t, 55, out.confidence, 1e-9)
	assert.True(t, out.humanReview)
}

func TestMerge_BothDeny(t *testing.T) {
	rv := &model.Verdict{Service: model.ServiceReasoning, Status: model.VerdictDeny, Confidence: 80}
	cv := &model.Verdict{Service: model.ServiceCompliance, Status: model.VerdictDeny, Confidence: 90, Checks: passingChecks()}

	out := merge(rv, cv, nil)
	assert.Equal(t, model.StatusDenied, out.status)
	assert.InDelta(t, 85, out.confidence, 1e-9)
	assert.False(t, out.humanReview)
}
