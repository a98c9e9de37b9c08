// Package reasoning calls the medical-necessity reasoning service and maps
// its completions onto typed verdicts.
package reasoning

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-cli/internal/model"
)

// Client evaluates the medical necessity of a claim.
type Client interface {
	Evaluate(ctx context.Context, claim *model.Claim) (*model.Verdict, error)
}

// Config holds reasoning service settings.
type Config struct {
	Model         string
	MaxTokens     int64
	Temperature   float64
	InputPerMTok  float64
	OutputPerMTok float64
	BaseCallUSD   float64
}

// sdkClient implements Client against the Anthropic Messages API.
type sdkClient struct {
	client sdk.Client
	cfg    Config
}

// NewClient creates a reasoning client backed by the SDK.
func NewClient(apiKey string, cfg Config) Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		cfg:    cfg,
	}
}

func (c *sdkClient) Evaluate(ctx context.Context, claim *model.Claim) (*model.Verdict, error) {
	start := time.Now()

	temp := c.cfg.Temperature
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.cfg.Model),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: sdk.Float(temp),
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(claim))),
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reasoning: evaluate claim %s", claim.ID)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	rationale := text.String()
	if rationale == "" {
		return nil, eris.Errorf("reasoning: empty completion for claim %s", claim.ID)
	}

	status, confidence := parseVerdict(rationale)
	cost := c.callCost(msg.Usage.InputTokens, msg.Usage.OutputTokens)

	zap.L().Info("reasoning: verdict received",
		zap.String("claim_id", claim.ID),
		zap.String("status", string(status)),
		zap.Float64("confidence", confidence),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Float64("cost_usd", cost),
	)

	return &model.Verdict{
		Service:    model.ServiceReasoning,
		Status:     status,
		Confidence: confidence,
		Rationale:  rationale,
		CostUSD:    cost,
		Duration:   time.Since(start),
	}, nil
}

func (c *sdkClient) callCost(inputTokens, outputTokens int64) float64 {
	in := float64(inputTokens) / 1e6 * c.cfg.InputPerMTok
	out := float64(outputTokens) / 1e6 * c.cfg.OutputPerMTok
	return c.cfg.BaseCallUSD + in + out
}
