package model

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

// ClaimPriority is the processing urgency of a claim.
type ClaimPriority string

const (
	PriorityRoutine   ClaimPriority = "routine"
	PriorityUrgent    ClaimPriority = "urgent"
	PriorityEmergency ClaimPriority = "emergency"
)

// ClaimStatus tracks a claim through the validation workflow.
type ClaimStatus string

const (
	ClaimStatusSubmitted  ClaimStatus = "submitted"
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusResolved   ClaimStatus = "resolved"
	ClaimStatusFailed     ClaimStatus = "failed"
)

var (
	claimIDPattern   = regexp.MustCompile(`^CLAIM_\d{8}_\d{3}$`)
	procedurePattern = regexp.MustCompile(`^\d{5}$`)
	diagnosisPattern = regexp.MustCompile(`^[A-Z]\d{2}\.\d$`)
)

// maxClaimAmount caps demo claims at $50k.
const maxClaimAmount = 50000.0

// Claim is a medical claim submitted for necessity and compliance validation.
// Claims are read-only after submission; validation produces a
// ValidationResult referencing the claim, never mutates it.
type Claim struct {
	ID               string        `json:"claim_id" yaml:"claim_id"`
	PatientID        string        `json:"patient_id" yaml:"patient_id"`
	ProviderID       string        `json:"provider_id" yaml:"provider_id"`
	ServiceDate      time.Time     `json:"service_date" yaml:"service_date"`
	ProcedureCode    string        `json:"procedure_code" yaml:"procedure_code"`
	DiagnosisCode    string        `json:"diagnosis_code" yaml:"diagnosis_code"`
	Amount           float64       `json:"claim_amount" yaml:"claim_amount"`
	Priority         ClaimPriority `json:"priority" yaml:"priority"`
	NecessityContext string        `json:"medical_necessity_context,omitempty" yaml:"medical_necessity_context,omitempty"`
	SupportingDocs   []string      `json:"supporting_documents,omitempty" yaml:"supporting_documents,omitempty"`
	SubmittedAt      time.Time     `json:"submitted_at" yaml:"submitted_at"`
	Status           ClaimStatus   `json:"status" yaml:"status"`
}

// Validate checks structural invariants on a submitted claim.
func (c *Claim) Validate() error {
	if !claimIDPattern.MatchString(c.ID) {
		return eris.Errorf("claim: invalid id %q (want CLAIM_YYYYMMDD_NNN)", c.ID)
	}
	if !procedurePattern.MatchString(c.ProcedureCode) {
		return eris.Errorf("claim %s: invalid procedure code %q", c.ID, c.ProcedureCode)
	}
	if !diagnosisPattern.MatchString(c.DiagnosisCode) {
		return eris.Errorf("claim %s: invalid diagnosis code %q", c.ID, c.DiagnosisCode)
	}
	if c.Amount <= 0 {
		return eris.Errorf("claim %s: amount must be positive", c.ID)
	}
	if c.Amount > maxClaimAmount {
		return eris.Errorf("claim %s: amount $%.2f exceeds demo maximum $%.0f", c.ID, c.Amount, maxClaimAmount)
	}
	switch c.Priority {
	case PriorityRoutine, PriorityUrgent, PriorityEmergency:
	default:
		return eris.Errorf("claim %s: unknown priority %q", c.ID, c.Priority)
	}
	return nil
}

// IsHighPriority reports whether the claim needs expedited processing.
func (c *Claim) IsHighPriority() bool {
	return c.Priority == PriorityUrgent || c.Priority == PriorityEmergency
}

// GenerateClaimID creates a claim ID for the current date.
func GenerateClaimID() string {
	return fmt.Sprintf("CLAIM_%s_%03d", time.Now().UTC().Format("20060102"), rand.IntN(1000))
}

// ValidClaimID reports whether id matches the claim ID format.
func ValidClaimID(id string) bool {
	return claimIDPattern.MatchString(id)
}
