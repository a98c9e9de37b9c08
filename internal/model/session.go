package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a demonstration session.
// Transitions are monotonic: no session re-enters active after leaving it,
// and every state eventually reaches cleaned_up.
type SessionStatus string

const (
	SessionProvisioning   SessionStatus = "provisioning"
	SessionActive         SessionStatus = "active"
	SessionBudgetExceeded SessionStatus = "budget_exceeded"
	SessionCompleted      SessionStatus = "completed"
	SessionAborted        SessionStatus = "aborted"
	SessionCleanedUp      SessionStatus = "cleaned_up"
)

// sessionTransitions encodes the allowed state machine edges.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionProvisioning:   {SessionActive, SessionAborted},
	SessionActive:         {SessionCompleted, SessionBudgetExceeded, SessionAborted},
	SessionBudgetExceeded: {SessionCleanedUp},
	SessionCompleted:      {SessionCleanedUp},
	SessionAborted:        {SessionCleanedUp},
	SessionCleanedUp:      nil,
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the session has left active duty. cleaned_up is
// the only final state; the other terminal states still owe a teardown.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionBudgetExceeded, SessionCompleted, SessionAborted, SessionCleanedUp:
		return true
	}
	return false
}

// Session is the bounded-lifetime context in which claims are processed.
// Owned exclusively by the session manager; the orchestrator holds a
// read/append handle but never constructs or destroys one.
type Session struct {
	ID              string        `json:"session_id"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	TotalCostUSD    float64       `json:"total_cost_usd"`
	ClaimsProcessed int           `json:"claims_processed"`
	Status          SessionStatus `json:"status"`
}

// CostSource categorizes a ledger expenditure.
type CostSource string

const (
	CostReasoningCall  CostSource = "reasoning_call"
	CostComplianceCall CostSource = "compliance_call"
	CostInfraOverhead  CostSource = "infrastructure_overhead"
)

// CostEntry is one recorded expenditure against a session budget.
// ClaimID is empty for fixed infrastructure overhead.
type CostEntry struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Source     CostSource `json:"source"`
	AmountUSD  float64    `json:"amount_usd"`
	ClaimID    string     `json:"claim_id,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// GenerateSessionID creates a session ID of the form DEMO_YYYYMMDD_XXXXXX.
func GenerateSessionID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:6]
	return fmt.Sprintf("DEMO_%s_%s", time.Now().UTC().Format("20060102"), suffix)
}
