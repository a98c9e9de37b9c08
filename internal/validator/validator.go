// Package validator orchestrates the full validation of a single claim:
// budget reservation, concurrent external service calls, verdict merging,
// cost settlement, and result persistence.
package validator

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/claims-cli/internal/audit"
	"github.com/sells-group/claims-cli/internal/cost"
	"github.com/sells-group/claims-cli/internal/ledger"
	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/resilience"
	"github.com/sells-group/claims-cli/internal/store"
	"github.com/sells-group/claims-cli/pkg/compliance"
	"github.com/sells-group/claims-cli/pkg/reasoning"
)

// timeoutMargin extends the per-claim deadline past the slowest allowed
// external call so retries near the edge can still settle.
const timeoutMargin = 5 * time.Second

// ErrPersistence marks a failure to durably record a decision. Fatal for
// the claim: an unrecorded decision must surface, not vanish.
var ErrPersistence = eris.New("validator: result not persisted")

// Config holds orchestrator tuning. Zero values select the defaults.
type Config struct {
	SessionID         string
	ReasoningTimeout  time.Duration // default 30s
	ComplianceTimeout time.Duration // default 90s
	Retry             resilience.Policy
	BreakerThreshold  int
	BreakerReset      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReasoningTimeout <= 0 {
		c.ReasoningTimeout = 30 * time.Second
	}
	if c.ComplianceTimeout <= 0 {
		c.ComplianceTimeout = 90 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = resilience.DefaultPolicy()
	}
	return c
}

// Orchestrator validates claims against both external services and
// settles every cent spent against the session ledger.
type Orchestrator struct {
	cfg        Config
	reasoning  reasoning.Client
	compliance compliance.Client
	estimator  *cost.Estimator
	ledger     *ledger.Ledger
	store      store.Store
	sink       audit.Sink

	reasoningBreaker  *resilience.Breaker
	complianceBreaker *resilience.Breaker
}

// New creates an Orchestrator bound to one session's ledger.
func New(
	rc reasoning.Client,
	cc compliance.Client,
	est *cost.Estimator,
	led *ledger.Ledger,
	st store.Store,
	sink audit.Sink,
	cfg Config,
) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:               cfg,
		reasoning:         rc,
		compliance:        cc,
		estimator:         est,
		ledger:            led,
		store:             st,
		sink:              sink,
		reasoningBreaker:  resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		complianceBreaker: resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
	}
}

// Validate produces the single, final decision for a claim. A claim that
// already has a persisted result returns it unchanged; reprocessing never
// spends money twice.
func (o *Orchestrator) Validate(ctx context.Context, claim *model.Claim) (*model.ValidationResult, error) {
	start := time.Now()

	if err := claim.Validate(); err != nil {
		return nil, err
	}

	existing, err := o.store.GetResult(ctx, claim.ID)
	if err == nil {
		zap.L().Info("validator: claim already decided",
			zap.String("claim_id", claim.ID),
			zap.String("status", string(existing.Status)),
		)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "validator: lookup result for %s", claim.ID)
	}

	// The combined estimate is reserved up front so a claim never starts a
	// call it cannot pay for.
	estimate := o.estimator.ClaimEstimate(claim)
	reservationID, err := o.ledger.Reserve(estimate, claim.ID)
	if errors.Is(err, ledger.ErrBudgetExceeded) {
		return o.finalize(ctx, claim, start, outcome{
			status:      model.StatusInsufficientData,
			reasoning:   "Validation was not attempted: remaining session budget cannot cover the estimated cost.",
			reasonCode:  model.ReasonBudgetExhausted,
			humanReview: true,
		}, 0)
	}
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.claimDeadline())
	defer cancel()

	var rv, cv *model.Verdict
	var rvErr, cvErr error

	// Both services run concurrently; one failing must not cancel the
	// other, so errors are captured instead of returned to the group.
	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		rv, rvErr = o.callService(gctx, model.ServiceReasoning, o.reasoningBreaker,
			o.cfg.ReasoningTimeout, o.reasoning.Evaluate, claim)
		return nil
	})
	g.Go(func() error {
		cv, cvErr = o.callService(gctx, model.ServiceCompliance, o.complianceBreaker,
			o.cfg.ComplianceTimeout, o.compliance.Evaluate, claim)
		return nil
	})
	_ = g.Wait()

	spent := o.settle(claim, reservationID, rv, cv, rvErr, cvErr)

	out := merge(rv, cv, firstErr(rvErr, cvErr))
	if out.status == model.StatusInsufficientData && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		out.reasonCode = model.ReasonClaimTimeout
	}
	return o.finalize(ctx, claim, start, out, spent)
}

// claimDeadline bounds one claim end to end: the slower of the two
// services plus settling margin.
func (o *Orchestrator) claimDeadline() time.Duration {
	d := o.cfg.ReasoningTimeout
	if o.cfg.ComplianceTimeout > d {
		d = o.cfg.ComplianceTimeout
	}
	return d + timeoutMargin
}

type evaluateFunc func(ctx context.Context, claim *model.Claim) (*model.Verdict, error)

func (o *Orchestrator) callService(
	ctx context.Context,
	kind model.ServiceKind,
	breaker *resilience.Breaker,
	timeout time.Duration,
	fn evaluateFunc,
	claim *model.Claim,
) (*model.Verdict, error) {
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	policy := o.cfg.Retry
	policy.OnRetry = resilience.RetryLogger(string(kind))

	verdict, err := resilience.Do(ctx, policy, func(ctx context.Context) (*model.Verdict, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx, claim)
	})
	breaker.Record(err)
	if err != nil {
		zap.L().Warn("validator: service call failed",
			zap.String("service", string(kind)),
			zap.String("claim_id", claim.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return verdict, nil
}

// settle commits measured costs against the reservation and returns total
// spend for the claim. Failed calls that reached the provider still bill
// their floor cost; calls rejected by an open breaker never do.
func (o *Orchestrator) settle(
	claim *model.Claim,
	reservationID string,
	rv, cv *model.Verdict,
	rvErr, cvErr error,
) float64 {
	items := []ledger.Item{
		{Source: model.CostInfraOverhead, ClaimID: claim.ID, AmountUSD: cost.OverheadUSD},
	}

	switch {
	case rv != nil:
		items = append(items, ledger.Item{Source: model.CostReasoningCall, ClaimID: claim.ID, AmountUSD: rv.CostUSD})
	case !errors.Is(rvErr, resilience.ErrCircuitOpen):
		items = append(items, ledger.Item{Source: model.CostReasoningCall, ClaimID: claim.ID,
			AmountUSD: o.estimator.FailedCallCost(model.ServiceReasoning)})
	}

	switch {
	case cv != nil:
		items = append(items, ledger.Item{Source: model.CostComplianceCall, ClaimID: claim.ID, AmountUSD: cv.CostUSD})
	case !errors.Is(cvErr, resilience.ErrCircuitOpen):
		items = append(items, ledger.Item{Source: model.CostComplianceCall, ClaimID: claim.ID,
			AmountUSD: o.estimator.FailedCallCost(model.ServiceCompliance)})
	}

	if err := o.ledger.Commit(reservationID, items...); err != nil {
		zap.L().Error("validator: cost commit failed",
			zap.String("claim_id", claim.ID),
			zap.Error(err),
		)
		return 0
	}

	var total float64
	for _, it := range items {
		total += it.AmountUSD
	}
	return total
}

// finalize persists and audits the decision. Persistence failure is fatal:
// an unrecorded decision must surface, not vanish.
func (o *Orchestrator) finalize(
	ctx context.Context,
	claim *model.Claim,
	start time.Time,
	out outcome,
	spentUSD float64,
) (*model.ValidationResult, error) {
	result := &model.ValidationResult{
		ID:          model.GenerateResultID(),
		ClaimID:     claim.ID,
		SessionID:   o.cfg.SessionID,
		Status:      out.status,
		Confidence:  out.confidence,
		Reasoning:   out.reasoning,
		Checks:      out.checks,
		ReasonCode:  out.reasonCode,
		HumanReview: out.humanReview,
		CostUSD:     spentUSD,
		Duration:    time.Since(start),
		CreatedAt:   time.Now().UTC(),
	}

	if err := o.store.PutResult(ctx, result); err != nil {
		zap.L().Error("validator: persist result failed",
			zap.String("claim_id", claim.ID),
			zap.Error(err),
		)
		return nil, eris.Wrapf(ErrPersistence, "claim %s: %v", claim.ID, err)
	}

	event := model.AuditEvent{
		ID:        result.ID,
		SessionID: o.cfg.SessionID,
		ClaimID:   claim.ID,
		Decision:  string(result.Status),
		CostUSD:   result.CostUSD,
		Timestamp: result.CreatedAt,
	}
	if err := o.sink.Emit(ctx, event); err != nil {
		zap.L().Warn("validator: audit emit failed",
			zap.String("claim_id", claim.ID),
			zap.Error(err),
		)
	}

	zap.L().Info("validator: claim decided",
		zap.String("claim_id", claim.ID),
		zap.String("status", string(result.Status)),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("cost_usd", result.CostUSD),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
