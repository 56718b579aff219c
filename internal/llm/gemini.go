package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiClient completes prompts with Google Gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGemini creates a Gemini client. The connection is established lazily.
func NewGemini(ctx context.Context, cfg Config, log *zap.Logger) (*GeminiClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "llm: create gemini client")
	}
	return &GeminiClient{client: client, model: cfg.ModelName(), log: log}, nil
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, p Prompt) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(float32(p.Temperature))
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.MaxTokens)) //nolint:gosec
	}
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", eris.Wrap(err, "llm: gemini completion")
	}
	text, err := geminiText(resp)
	if err != nil {
		return "", err
	}
	c.log.Debug("llm: gemini completion", zap.String("model", c.model), zap.Int("chars", len(text)))
	return text, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", eris.New("llm: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", eris.New("llm: gemini returned no content")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", eris.New("llm: gemini returned no text parts")
	}
	return b.String(), nil
}
