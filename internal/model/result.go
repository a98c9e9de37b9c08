package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidationStatus is the merged decision for a claim. Exactly these six
// values are valid.
type ValidationStatus string

const (
	StatusApproved            ValidationStatus = "approved"
	StatusDenied              ValidationStatus = "denied"
	StatusPartialApproval     ValidationStatus = "partial_approval"
	StatusComplianceViolation ValidationStatus = "compliance_violation"
	StatusInsufficientData    ValidationStatus = "insufficient_data"
	StatusRequiresHumanReview ValidationStatus = "requires_human_review"
)

// Valid reports whether s is one of the six defined statuses.
func (s ValidationStatus) Valid() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusPartialApproval,
		StatusComplianceViolation, StatusInsufficientData, StatusRequiresHumanReview:
		return true
	}
	return false
}

// Reason codes attached to degraded results.
const (
	ReasonBudgetExhausted = "budget-exhausted"
	ReasonServiceFailure  = "service-failure"
	ReasonClaimTimeout    = "claim-timeout"
)

// ValidationResult is the merged, persisted decision for a claim. Produced
// exactly once per claim per session attempt; immutable once persisted.
// Confidence is only meaningful when Status is approved or denied.
type ValidationResult struct {
	ID          string            `json:"result_id"`
	ClaimID     string            `json:"claim_id"`
	SessionID   string            `json:"session_id"`
	Status      ValidationStatus  `json:"validation_status"`
	Confidence  float64           `json:"confidence_score"` // 0-100
	Reasoning   string            `json:"ai_reasoning_text"`
	Checks      []ComplianceCheck `json:"compliance_checks"`
	ReasonCode  string            `json:"reason_code,omitempty"`
	HumanReview bool              `json:"requires_human_review"`
	CostUSD     float64           `json:"cost_usd"`
	Duration    time.Duration     `json:"processing_duration_ns"`
	CreatedAt   time.Time         `json:"created_at"`
}

// IsApproved reports whether the claim was approved in full or in part.
func (r *ValidationResult) IsApproved() bool {
	return r.Status == StatusApproved || r.Status == StatusPartialApproval
}

// GenerateResultID creates a result ID for the current date. Result IDs
// also key audit events, so the suffix is wide enough that collisions do
// not silently drop a queued event.
func GenerateResultID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:12]
	return fmt.Sprintf("RESULT_%s_%s", time.Now().UTC().Format("20060102"), suffix)
}
