package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/claims-cli/internal/ledger"
	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/session"
	"github.com/sells-group/claims-cli/internal/validator"
)

// Exit codes for the run command.
const (
	exitOK          = 0
	exitBudget      = 1
	exitProvision   = 2
	exitPersistence = 3
)

var runFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one demonstration session over a file of claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, err := loadClaims(runFile)
		if err != nil {
			return err
		}

		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		code, err := runSession(cmd, e, claims)
		if err != nil {
			return err
		}
		if code != exitOK {
			os.Exit(code)
		}
		return nil
	},
}

func runSession(cmd *cobra.Command, e *env, claims []*model.Claim) (int, error) {
	ctx := cmd.Context()
	m := e.newManager()

	sess, err := m.Start(ctx)
	if err != nil {
		zap.L().Error("session start failed", zap.Error(err))
		return exitProvision, nil
	}
	// End is idempotent; the deferred call covers early returns.
	defer m.End(ctx) //nolint:errcheck

	code := exitOK
	for _, claim := range claims {
		result, err := m.Submit(ctx, claim)
		if errors.Is(err, session.ErrNotActive) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  skipped: session closed\n", claim.ID)
			code = exitBudget
			continue
		}
		if err != nil {
			zap.L().Error("claim failed", zap.String("claim_id", claim.ID), zap.Error(err))
			switch {
			case errors.Is(err, ledger.ErrBudgetExceeded):
				code = exitBudget
			case errors.Is(err, validator.ErrPersistence):
				code = exitPersistence
			}
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-22s confidence=%5.1f  cost=$%.4f\n",
			result.ClaimID, result.Status, result.Confidence, result.CostUSD)
		if result.ReasonCode == model.ReasonBudgetExhausted {
			code = exitBudget
		}
	}

	if err := m.End(ctx); err != nil {
		zap.L().Error("session end failed", zap.Error(err))
	}

	final := m.Session()
	fmt.Fprintf(cmd.OutOrStdout(), "\nsession %s: %d claims, $%.4f of $%.2f spent, status %s\n",
		sess.ID, final.ClaimsProcessed, final.TotalCostUSD, cfg.Budget.LimitUSD, final.Status)
	return code, nil
}

// claimsFile is the YAML fixture format accepted by run.
type claimsFile struct {
	Claims []*model.Claim `yaml:"claims"`
}

func loadClaims(path string) ([]*model.Claim, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read claims file %s", path)
	}

	var file claimsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrapf(err, "parse claims file %s", path)
	}
	if len(file.Claims) == 0 {
		return nil, eris.Errorf("claims file %s contains no claims", path)
	}

	for _, c := range file.Claims {
		if c.ID == "" {
			c.ID = model.GenerateClaimID()
		}
		if c.Status == "" {
			c.Status = model.ClaimStatusSubmitted
		}
		if err := c.Validate(); err != nil {
			return nil, eris.Wrapf(err, "claim %s", c.ID)
		}
	}
	return file.Claims, nil
}

func init() {
	runCmd.Flags().StringVar(&runFile, "file", "claims.yaml", "YAML file of claims to validate")
	rootCmd.AddCommand(runCmd)
}
