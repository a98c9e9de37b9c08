package reasoning

import (
	"fmt"
	"strings"

	"github.com/sells-group/claims-cli/internal/model"
)

const systemPrompt = `You are a healthcare claims reviewer specializing in medical necessity validation.
You have extensive knowledge of CPT/HCPCS procedure codes, ICD-10 diagnosis codes,
medical necessity criteria, and evidence-based care guidelines.
Provide clear, evidence-based reasoning focused on patient safety, medical
appropriateness, and cost-effective care.`

// buildPrompt renders the medical-necessity review prompt for one claim.
func buildPrompt(claim *model.Claim) string {
	var b strings.Builder

	b.WriteString("Analyze this healthcare claim for medical necessity and appropriateness.\n\n")
	b.WriteString("CLAIM DETAILS:\n")
	fmt.Fprintf(&b, "- Procedure: %s\n", claim.ProcedureCode)
	fmt.Fprintf(&b, "- Diagnosis: %s\n", claim.DiagnosisCode)
	fmt.Fprintf(&b, "- Amount: $%.2f\n", claim.Amount)
	fmt.Fprintf(&b, "- Priority: %s\n", claim.Priority)

	context := claim.NecessityContext
	if context == "" {
		context = "Not provided"
	}
	fmt.Fprintf(&b, "- Clinical Context: %s\n", context)

	b.WriteString(`
EVALUATION CRITERIA:
1. Medical necessity based on the diagnosis
2. Appropriateness of the procedure for the condition
3. Cost-effectiveness compared to alternatives
4. Compliance with standard care guidelines

Respond with:
1. Detailed medical reasoning (150-300 words)
2. RECOMMENDATION: APPROVED, DENIED, or REQUIRES_REVIEW
3. CONFIDENCE: <0-100>
`)

	return b.String()
}
