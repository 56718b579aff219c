package llm

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-enricher/pkg/anthropic"
)

// AnthropicClient completes prompts with the Anthropic Messages API.
type AnthropicClient struct {
	api   anthropic.Client
	model string
	log   *zap.Logger
}

// NewAnthropic builds a client with SDK retries disabled.
func NewAnthropic(cfg Config, log *zap.Logger) *AnthropicClient {
	api := anthropic.NewClient(cfg.APIKey,
		anthropic.WithBaseURL(cfg.BaseURL),
		anthropic.WithTimeout(cfg.Timeout),
		anthropic.WithMaxRetries(0),
	)
	return NewAnthropicWithAPI(api, cfg.ModelName(), log)
}

// NewAnthropicWithAPI wraps an existing anthropic.Client.
func NewAnthropicWithAPI(api anthropic.Client, model string, log *zap.Logger) *AnthropicClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnthropicClient{api: api, model: model, log: log}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, p Prompt) (string, error) {
	req := anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: int64(p.MaxTokens),
		Messages:  []anthropic.Message{{Role: "user", Content: p.User}},
	}
	if p.System != "" {
		req.System = []anthropic.SystemBlock{{Text: p.System}}
	}
	temp := p.Temperature
	req.Temperature = &temp

	resp, err := c.api.CreateMessage(ctx, req)
	if err != nil {
		return "", eris.Wrap(err, "llm: anthropic completion")
	}
	resp.Usage.LogCost(c.log, c.model)

	text := resp.Text()
	if text == "" {
		return "", eris.Errorf("llm: anthropic returned no text (stop_reason=%s)", resp.StopReason)
	}
	return text, nil
}
