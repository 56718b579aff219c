package llm

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// OpenAIClient completes prompts with an OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	model llms.Model
	name  string
	log   *zap.Logger
}

// NewOpenAI builds a langchaingo-backed client.
func NewOpenAI(cfg Config, log *zap.Logger) (*OpenAIClient, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.ModelName()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	m, err := openai.New(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "llm: create openai client")
	}
	return NewOpenAIWithModel(m, cfg.ModelName(), log), nil
}

// NewOpenAIWithModel wraps any langchaingo model.
func NewOpenAIWithModel(m llms.Model, name string, log *zap.Logger) *OpenAIClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIClient{model: m, name: name, log: log}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (string, error) {
	var msgs []llms.MessageContent
	if p.System != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, p.System))
	}
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, p.User))

	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(p.Temperature),
		llms.WithMaxTokens(p.MaxTokens),
	)
	if err != nil {
		return "", eris.Wrap(err, "llm: openai completion")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", eris.New("llm: openai returned no choices")
	}

	choice := resp.Choices[0]
	c.log.Debug("llm: openai completion",
		zap.String("model", c.name),
		zap.String("stop_reason", choice.StopReason),
		zap.Int("chars", len(choice.Content)),
	)
	return choice.Content, nil
}
