package cost

import "github.com/sells-group/claims-cli/internal/model"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Reasoning  ReasoningRate  `yaml:"reasoning" mapstructure:"reasoning"`
	Compliance ComplianceRate `yaml:"compliance" mapstructure:"compliance"`
}

// ReasoningRate holds token pricing for the medical-reasoning service
// (USD per million tokens) plus fixed per-call components.
type ReasoningRate struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
	BaseCall      float64 `yaml:"base_call" mapstructure:"base_call"`
	FailedCall    float64 `yaml:"failed_call" mapstructure:"failed_call"`
}

// ComplianceRate holds per-check pricing for the governance service.
type ComplianceRate struct {
	PerCheck   float64 `yaml:"per_check" mapstructure:"per_check"`
	Checks     int     `yaml:"checks" mapstructure:"checks"`
	FailedCall float64 `yaml:"failed_call" mapstructure:"failed_call"`
}

// Estimator computes conservative pre-call estimates and measured costs for
// external validation calls. Estimates feed ledger reservations, so they
// deliberately round up.
type Estimator struct {
	rates Rates
}

// NewEstimator creates an Estimator with the given rates.
func NewEstimator(rates Rates) *Estimator {
	return &Estimator{rates: rates}
}

// priorityMultiplier scales estimates for expedited claims, which carry
// longer prompts and stricter review.
func priorityMultiplier(p model.ClaimPriority) float64 {
	switch p {
	case model.PriorityUrgent:
		return 1.2
	case model.PriorityEmergency:
		return 1.5
	default:
		return 1.0
	}
}

// ReasoningEstimate returns the conservative per-call reservation amount for
// the medical-reasoning service.
func (e *Estimator) ReasoningEstimate(claim *model.Claim) float64 {
	est := e.rates.Reasoning.BaseCall
	// Longer clinical context means more prompt tokens.
	est += float64(len(claim.NecessityContext)) / 1000 * 0.01
	return est * priorityMultiplier(claim.Priority)
}

// ComplianceEstimate returns the conservative per-call reservation amount
// for the governance service.
func (e *Estimator) ComplianceEstimate(claim *model.Claim) float64 {
	est := e.rates.Compliance.PerCheck * float64(e.rates.Compliance.Checks)
	return est * priorityMultiplier(claim.Priority)
}

// OverheadUSD is the fixed infrastructure overhead billed per processed
// claim, independent of which external calls succeed.
const OverheadUSD = 0.05

// ClaimEstimate returns the combined reservation amount for validating one
// claim: both external calls plus fixed processing overhead.
func (e *Estimator) ClaimEstimate(claim *model.Claim) float64 {
	return OverheadUSD + e.ReasoningEstimate(claim) + e.ComplianceEstimate(claim)
}

// ReasoningActual computes the measured cost of a completed reasoning call
// from its token usage.
func (e *Estimator) ReasoningActual(inputTokens, outputTokens int64) float64 {
	in := float64(inputTokens) / 1e6 * e.rates.Reasoning.InputPerMTok
	out := float64(outputTokens) / 1e6 * e.rates.Reasoning.OutputPerMTok
	return e.rates.Reasoning.BaseCall + in + out
}

// ComplianceActual computes the measured cost of a completed compliance call
// from the number of checks performed.
func (e *Estimator) ComplianceActual(checks int) float64 {
	if checks <= 0 {
		checks = 1
	}
	return e.rates.Compliance.PerCheck * float64(checks)
}

// FailedCallCost returns the floor cost billed for a call that failed after
// it was issued. Failed calls still consume provider-side resources.
func (e *Estimator) FailedCallCost(kind model.ServiceKind) float64 {
	if kind == model.ServiceCompliance {
		return e.rates.Compliance.FailedCall
	}
	return e.rates.Reasoning.FailedCall
}

// DefaultRates returns the default demo pricing.
func DefaultRates() Rates {
	return Rates{
		Reasoning: ReasoningRate{
			InputPerMTok:  3.00,
			OutputPerMTok: 15.00,
			BaseCall:      0.03,
			FailedCall:    0.01,
		},
		Compliance: ComplianceRate{
			PerCheck:   0.10,
			Checks:     3,
			FailedCall: 0.05,
		},
	}
}
