package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-cli/internal/audit"
	"github.com/sells-group/claims-cli/internal/config"
	"github.com/sells-group/claims-cli/internal/cost"
	"github.com/sells-group/claims-cli/internal/provision"
	"github.com/sells-group/claims-cli/internal/resilience"
	"github.com/sells-group/claims-cli/internal/session"
	"github.com/sells-group/claims-cli/internal/store"
	"github.com/sells-group/claims-cli/internal/validator"
	"github.com/sells-group/claims-cli/pkg/compliance"
	"github.com/sells-group/claims-cli/pkg/reasoning"
)

// env holds the wired application dependencies shared by the commands.
type env struct {
	store store.Store
	sink  audit.Sink
	prov  provision.Provisioner

	reasoning  reasoning.Client
	compliance compliance.Client
	estimator  *cost.Estimator
}

// initEnv opens the store and builds the service clients from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	var sink audit.Sink = audit.LogSink{}
	if cfg.Audit.WebhookURL != "" {
		sink = audit.NewWebhookSink(cfg.Audit.WebhookURL, st)
	}

	var prov provision.Provisioner = provision.Static{}
	if cfg.Provision.BaseURL != "" {
		prov = provision.NewHTTP(cfg.Provision.BaseURL, cfg.Provision.Key)
	}

	return &env{
		store: st,
		sink:  sink,
		prov:  prov,
		reasoning: reasoning.NewClient(cfg.Reasoning.Key, reasoning.Config{
			Model:         cfg.Reasoning.Model,
			MaxTokens:     cfg.Reasoning.MaxTokens,
			Temperature:   cfg.Reasoning.Temperature,
			InputPerMTok:  cfg.Reasoning.InputPerMTok,
			OutputPerMTok: cfg.Reasoning.OutputPerMTok,
			BaseCallUSD:   cfg.Reasoning.BaseCallUSD,
		}),
		compliance: compliance.NewClient(cfg.Compliance.Key,
			compliance.WithBaseURL(cfg.Compliance.BaseURL),
			compliance.WithRateLimit(cfg.Compliance.RatePerSec, 1),
		),
		estimator: cost.NewEstimator(ratesFromConfig(cfg)),
	}, nil
}

func (e *env) Close() {
	e.store.Close()
}

// newManager creates a session manager over the shared environment.
func (e *env) newManager() *session.Manager {
	retry := resilience.DefaultPolicy()
	if cfg.Session.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.Session.RetryMaxAttempts
	}

	return session.NewManager(e.store, e.prov, e.sink,
		e.reasoning, e.compliance, e.estimator,
		session.Config{
			BudgetUSD:        cfg.Budget.LimitUSD,
			WarnUSD:          cfg.Budget.WarnUSD,
			ProvisionTimeout: cfg.Session.ProvisionTimeout(),
			MaxConcurrent:    cfg.Session.MaxConcurrentClaims,
			Validator: validator.Config{
				ReasoningTimeout:  cfg.Reasoning.Timeout(),
				ComplianceTimeout: cfg.Compliance.Timeout(),
				Retry:             retry,
			},
		})
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(sc.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", sc.Driver)
	}
}

func ratesFromConfig(c *config.Config) cost.Rates {
	rates := cost.DefaultRates()
	if c.Reasoning.InputPerMTok > 0 {
		rates.Reasoning.InputPerMTok = c.Reasoning.InputPerMTok
	}
	if c.Reasoning.OutputPerMTok > 0 {
		rates.Reasoning.OutputPerMTok = c.Reasoning.OutputPerMTok
	}
	if c.Reasoning.BaseCallUSD > 0 {
		rates.Reasoning.BaseCall = c.Reasoning.BaseCallUSD
	}
	if c.Compliance.PerCheckUSD > 0 {
		rates.Compliance.PerCheck = c.Compliance.PerCheckUSD
	}
	return rates
}
