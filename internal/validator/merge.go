package validator

import "github.com/sells-group/claims-cli/internal/model"

// outcome is the merged decision before persistence fields are attached.
type outcome struct {
	status      model.ValidationStatus
	confidence  float64
	reasoning   string
	checks      []model.ComplianceCheck
	reasonCode  string
	humanReview bool
}

// merge combines the two service verdicts into a single decision. Rules
// apply in order; the first match wins:
//
//  1. either service failed: insufficient data, route to a human
//  2. compliance violation: hard gate, no reasoning verdict overrides it
//  3. services agree: merged status with averaged confidence
//  4. services disagree: partial approval at the lower confidence
//
// A compliance check failure that is not a violation never blocks the
// decision, it only flags the result for human review.
func merge(rv, cv *model.Verdict, callErr error) outcome {
	if rv == nil || cv == nil {
		return outcome{
			status:      model.StatusInsufficientData,
			confidence:  0,
			reasoning:   failureNarrative(rv, cv, callErr),
			reasonCode:  model.ReasonServiceFailure,
			humanReview: true,
		}
	}

	if cv.Violation {
		return outcome{
			status:      model.StatusComplianceViolation,
			confidence:  cv.Confidence,
			reasoning:   cv.Rationale,
			checks:      cv.Checks,
			humanReview: true,
		}
	}

	out := outcome{
		reasoning: rv.Rationale,
		checks:    cv.Checks,
	}

	switch {
	case rv.Status == model.VerdictApprove && cv.Status == model.VerdictApprove:
		out.status = model.StatusApproved
		out.confidence = (rv.Confidence + cv.Confidence) / 2
	case rv.Status == model.VerdictDeny && cv.Status == model.VerdictDeny:
		out.status = model.StatusDenied
		out.confidence = (rv.Confidence + cv.Confidence) / 2
	case rv.Status == model.VerdictReview && cv.Status == model.VerdictReview:
		out.status = model.StatusRequiresHumanReview
		out.confidence = minConfidence(rv, cv)
		out.humanReview = true
	default:
		out.status = model.StatusPartialApproval
		out.confidence = minConfidence(rv, cv)
		out.humanReview = true
	}

	if !cv.AllChecksPassed() {
		out.humanReview = true
	}
	return out
}

func minConfidence(rv, cv *model.Verdict) float64 {
	if rv.Confidence < cv.Confidence {
		return rv.Confidence
	}
	return cv.Confidence
}

func failureNarrative(rv, cv *model.Verdict, callErr error) string {
	switch {
	case rv == nil && cv == nil:
		return "Both validation services were unavailable: " + errText(callErr)
	case rv == nil:
		return "Medical reasoning service was unavailable: " + errText(callErr)
	default:
		return "Compliance service was unavailable: " + errText(callErr)
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}
