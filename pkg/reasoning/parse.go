package reasoning

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/claims-cli/internal/model"
)

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+(\d+(?:\.\d+)?)`)

// parseVerdict extracts the recommendation and confidence from the model's
// free-text reasoning. Completions that state no clear recommendation, or
// state one with low confidence, degrade to a review verdict.
func parseVerdict(text string) (model.VerdictStatus, float64) {
	confidence := extractConfidence(text)

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "recommendation: denied") || strings.Contains(lower, "denied"):
		if confidence >= 70 {
			return model.VerdictDeny, confidence
		}
	case strings.Contains(lower, "recommendation: approved") || strings.Contains(lower, "approved"):
		if confidence >= 70 {
			return model.VerdictApprove, confidence
		}
	}

	return model.VerdictReview, confidence
}

// extractConfidence finds a stated confidence score, falling back to a
// heuristic over hedging language when the model omits one.
func extractConfidence(text string) float64 {
	if m := confidencePattern.FindStringSubmatch(strings.ToLower(text)); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return min(100, max(0, v))
		}
	}

	lower := strings.ToLower(text)
	strong := 0
	for _, word := range []string{"clearly", "definitely", "strongly indicated", "appropriate"} {
		if strings.Contains(lower, word) {
			strong++
		}
	}
	weak := 0
	for _, word := range []string{"possibly", "might", "unclear", "insufficient"} {
		if strings.Contains(lower, word) {
			weak++
		}
	}

	if strong > weak {
		return min(100, 75+float64(strong)*5)
	}
	return max(0, 60-float64(weak)*5)
}
