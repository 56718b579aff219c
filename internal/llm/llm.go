// Package llm hides the generative model provider behind a single
// completion call. Exactly one request is made per Complete; callers decide
// what to do with failures.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Default models per provider, used when Config.Model is empty.
var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-5-20250929",
	ProviderOpenAI:    "gpt-4o",
	ProviderGemini:    "gemini-1.5-pro",
}

// Prompt is one system/user exchange with sampling parameters.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Client completes a prompt and returns the model's raw text.
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// ModelName returns the configured model or the provider default.
func (c Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return defaultModels[strings.ToLower(c.Provider)]
}

// IsSupported reports whether provider names a known backend.
func IsSupported(provider string) bool {
	_, ok := defaultModels[strings.ToLower(provider)]
	return ok
}

// New builds the Client for cfg.Provider.
func New(ctx context.Context, cfg Config, log *zap.Logger) (Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, eris.New("llm: api key is required")
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic, "":
		return NewAnthropic(cfg, log), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg, log)
	case ProviderGemini:
		return NewGemini(ctx, cfg, log)
	default:
		return nil, eris.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
