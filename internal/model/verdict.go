package model

import "time"

// ServiceKind identifies which external service produced a verdict.
type ServiceKind string

const (
	ServiceReasoning  ServiceKind = "reasoning"
	ServiceCompliance ServiceKind = "compliance"
)

// VerdictStatus is the recommendation of a single external service.
type VerdictStatus string

const (
	VerdictApprove VerdictStatus = "approve"
	VerdictDeny    VerdictStatus = "deny"
	VerdictReview  VerdictStatus = "review"
)

// ComplianceCheck is one regulatory check performed by the governance service.
type ComplianceCheck struct {
	Type      string `json:"check_type"`
	Passed    bool   `json:"passed"`
	Details   string `json:"details"`
	Framework string `json:"regulatory_framework"`
}

// Well-known compliance check types.
const (
	CheckHIPAAPrivacy     = "HIPAA_PRIVACY"
	CheckMedicalNecessity = "MEDICAL_NECESSITY"
	CheckCMSGuidelines    = "CMS_GUIDELINES"
)

// Verdict is the typed outcome of one external service's evaluation.
// The orchestrator's merge logic never depends on which concrete service
// produced it beyond the violation gate.
type Verdict struct {
	Service    ServiceKind       `json:"service"`
	Status     VerdictStatus     `json:"status"`
	Confidence float64           `json:"confidence"` // 0-100
	Rationale  string            `json:"rationale"`
	Checks     []ComplianceCheck `json:"checks,omitempty"`
	Violation  bool              `json:"violation"`
	CostUSD    float64           `json:"cost_usd"`
	Duration   time.Duration     `json:"duration_ns"`
}

// AllChecksPassed reports whether every compliance check passed.
// Vacuously true for verdicts without checks.
func (v *Verdict) AllChecksPassed() bool {
	for _, c := range v.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}
