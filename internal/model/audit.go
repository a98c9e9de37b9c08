package model

import "time"

// AuditEvent is one entry in the validation audit trail. Every submitted
// claim produces exactly one, including degraded and budget-exhausted paths.
type AuditEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ClaimID   string    `json:"claim_id"`
	Decision  string    `json:"decision"`
	CostUSD   float64   `json:"cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}
