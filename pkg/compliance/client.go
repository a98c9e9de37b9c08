// Package compliance calls the external governance service that screens
// claims against regulatory frameworks (HIPAA, CMS).
package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/resilience"
)

const defaultBaseURL = "https://api.govcheck.example.com/v2"

// Client performs compliance validation against the governance API.
type Client interface {
	Evaluate(ctx context.Context, claim *model.Claim) (*model.Verdict, error)
}

// validateRequest is the request body for POST /compliance/validate.
type validateRequest struct {
	ClaimID       string  `json:"claim_id"`
	ProcedureCode string  `json:"procedure_code"`
	DiagnosisCode string  `json:"diagnosis_code"`
	Amount        float64 `json:"claim_amount"`
	Priority      string  `json:"priority"`
	Context       string  `json:"medical_necessity_context,omitempty"`
}

// validateResponse is the response from POST /compliance/validate.
type validateResponse struct {
	Status     string        `json:"status"` // "approve", "deny", "review"
	Confidence float64       `json:"confidence"`
	Rationale  string        `json:"rationale"`
	Checks     []checkResult `json:"checks"`
	Violation  bool          `json:"violation"`
	BilledUSD  float64       `json:"billed_usd"`
}

type checkResult struct {
	Type      string `json:"check_type"`
	Passed    bool   `json:"passed"`
	Details   string `json:"details"`
	Framework string `json:"regulatory_framework"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound request rate. Governance API contracts cap
// demo tenants at a few requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a governance API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Evaluate(ctx context.Context, claim *model.Claim) (*model.Verdict, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "compliance: rate limit wait")
		}
	}

	start := time.Now()

	body, err := json.Marshal(validateRequest{
		ClaimID:       claim.ID,
		ProcedureCode: claim.ProcedureCode,
		DiagnosisCode: claim.DiagnosisCode,
		Amount:        claim.Amount,
		Priority:      string(claim.Priority),
		Context:       claim.NecessityContext,
	})
	if err != nil {
		return nil, eris.Wrap(err, "compliance: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compliance/validate", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "compliance: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "compliance: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "compliance: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("compliance: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransient(err, resp.StatusCode)
		}
		return nil, err
	}

	var result validateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "compliance: unmarshal response")
	}

	return toVerdict(&result, time.Since(start)), nil
}

// toVerdict maps the wire response onto the shared verdict shape.
func toVerdict(r *validateResponse, elapsed time.Duration) *model.Verdict {
	checks := make([]model.ComplianceCheck, len(r.Checks))
	for i, c := range r.Checks {
		checks[i] = model.ComplianceCheck{
			Type:      c.Type,
			Passed:    c.Passed,
			Details:   c.Details,
			Framework: c.Framework,
		}
	}

	status := model.VerdictStatus(r.Status)
	switch status {
	case model.VerdictApprove, model.VerdictDeny, model.VerdictReview:
	default:
		status = model.VerdictReview
	}

	return &model.Verdict{
		Service:    model.ServiceCompliance,
		Status:     status,
		Confidence: min(100, max(0, r.Confidence)),
		Rationale:  r.Rationale,
		Checks:     checks,
		Violation:  r.Violation,
		CostUSD:    r.BilledUSD,
		Duration:   elapsed,
	}
}
