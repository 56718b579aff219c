package config

import (
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/org-enricher/internal/llm"
)

// Command modes accepted by Validate.
const (
	ModeServe  = "serve"
	ModeEnrich = "enrich"
	ModeFields = "fields"
)

// Config holds the full application configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Pipedrive PipedriveConfig `yaml:"pipedrive" mapstructure:"pipedrive"`
	Mapping   MappingConfig   `yaml:"mapping" mapstructure:"mapping"`
	Dispatch  DispatchConfig  `yaml:"dispatch" mapstructure:"dispatch"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// LLMConfig selects and tunes the language model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider" validate:"required"`
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
}

// Timeout returns the per-call model timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ClientConfig converts to the llm factory configuration.
func (c LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider: strings.ToLower(c.Provider),
		Model:    c.Model,
		APIKey:   c.Key,
		BaseURL:  c.BaseURL,
		Timeout:  c.Timeout(),
	}
}

// PipedriveConfig holds CRM API settings.
type PipedriveConfig struct {
	Key               string      `yaml:"key" mapstructure:"key"`
	BaseURL           string      `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	TimeoutSecs       int         `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	RateLimit         float64     `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	IndustryFieldKey  string      `yaml:"industry_field_key" mapstructure:"industry_field_key" validate:"required"`
	NarrativeFieldKey string      `yaml:"narrative_field_key" mapstructure:"narrative_field_key" validate:"required"`
	VisibleTo         int         `yaml:"visible_to" mapstructure:"visible_to" validate:"gte=0"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// Timeout returns the HTTP client timeout.
func (c PipedriveConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RetryConfig tunes backoff for idempotent CRM reads.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
}

// MappingConfig points at an optional YAML mapping table.
type MappingConfig struct {
	TablePath         string `yaml:"table_path" mapstructure:"table_path"`
	ValidateOnStartup bool   `yaml:"validate_on_startup" mapstructure:"validate_on_startup"`
}

// DispatchConfig controls how the gateway runs enrichment workers.
type DispatchConfig struct {
	// Mode is "subprocess" (isolated child process) or "inprocess".
	Mode                 string   `yaml:"mode" mapstructure:"mode" validate:"oneof=subprocess inprocess"`
	WorkerCommand        []string `yaml:"worker_command" mapstructure:"worker_command"`
	WorkerTimeoutSecs    int      `yaml:"worker_timeout_secs" mapstructure:"worker_timeout_secs" validate:"gt=0"`
	MaxConcurrentWorkers int      `yaml:"max_concurrent_workers" mapstructure:"max_concurrent_workers" validate:"gt=0"`
	ArtifactDir          string   `yaml:"artifact_dir" mapstructure:"artifact_dir"`
}

// WorkerTimeout returns the wall-clock limit for one worker run.
func (c DispatchConfig) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSecs) * time.Second
}

// LockConfig selects the per-organization lock backend.
type LockConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver" validate:"oneof=memory redis none"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db" validate:"gte=0"`
	TTLSecs       int    `yaml:"ttl_secs" mapstructure:"ttl_secs" validate:"gt=0"`
}

// TTL returns the lease length of a Redis lock.
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port" validate:"gt=0,lte=65535"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyBytes int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gt=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
	// File is an extra sink next to stderr. Empty disables it.
	File string `yaml:"file" mapstructure:"file"`
}

// providerKeyEnv maps a provider to the plain environment variable its key
// is read from when ENRICHER_LLM_KEY is unset.
var providerKeyEnv = map[string]string{
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderGemini:    "GEMINI_API_KEY",
}

// Load reads configuration from config.yaml (if present) and ENRICHER_*
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("pipedrive.key", "ENRICHER_PIPEDRIVE_KEY", "PIPEDRIVE_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Defaults
	v.SetDefault("llm.provider", llm.ProviderAnthropic)
	v.SetDefault("llm.key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.5)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("pipedrive.base_url", "https://api.pipedrive.com")
	v.SetDefault("pipedrive.timeout_secs", 30)
	v.SetDefault("pipedrive.rate_limit", 5)
	v.SetDefault("pipedrive.industry_field_key", "industry")
	v.SetDefault("pipedrive.narrative_field_key", "48fb74b3799b461f0153614366a1c589bf1a2fb0")
	v.SetDefault("pipedrive.visible_to", 3)
	v.SetDefault("pipedrive.retry.max_attempts", 3)
	v.SetDefault("pipedrive.retry.initial_backoff_ms", 500)
	v.SetDefault("pipedrive.retry.max_backoff_ms", 5000)
	v.SetDefault("mapping.table_path", "")
	v.SetDefault("mapping.validate_on_startup", true)
	v.SetDefault("dispatch.mode", "subprocess")
	v.SetDefault("dispatch.worker_command", []string{})
	v.SetDefault("dispatch.worker_timeout_secs", 300)
	v.SetDefault("dispatch.max_concurrent_workers", 4)
	v.SetDefault("dispatch.artifact_dir", "")
	v.SetDefault("lock.driver", "memory")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl_secs", 600)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.LLM.Key == "" {
		if name, ok := providerKeyEnv[strings.ToLower(cfg.LLM.Provider)]; ok {
			cfg.LLM.Key = os.Getenv(name)
		}
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. serve and
// enrich need both secrets; fields only talks to the CRM.
func (c *Config) Validate(mode string) error {
	v := newValidator()

	if err := v.Struct(c); err != nil {
		return formatValidation(err)
	}
	if !llm.IsSupported(strings.ToLower(c.LLM.Provider)) {
		return eris.Errorf("config: unknown llm.provider %q (want anthropic, openai or gemini)", c.LLM.Provider)
	}
	// A redis lock that expires mid-run lets a second worker start on the
	// same organization.
	if c.Lock.Driver == "redis" && c.Lock.TTLSecs <= c.Dispatch.WorkerTimeoutSecs {
		return eris.Errorf("config: lock.ttl_secs (%d) must exceed dispatch.worker_timeout_secs (%d) with the redis lock driver",
			c.Lock.TTLSecs, c.Dispatch.WorkerTimeoutSecs)
	}

	secrets := map[string]string{"pipedrive.key": c.Pipedrive.Key}
	switch mode {
	case ModeServe, ModeEnrich:
		secrets["llm.key"] = c.LLM.Key
	case ModeFields:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var missing []string
	for name, value := range secrets {
		if err := v.Var(value, "required"); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return eris.Errorf("config: missing required secrets for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// formatValidation turns validator errors into dotted config keys, e.g.
// "lock.redis_addr failed required_if".
func formatValidation(err error) error {
	var verrs validator.ValidationErrors
	if !eris.As(err, &verrs) {
		return eris.Wrap(err, "config: validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		msg := key + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return eris.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// NewLogger builds a zap logger that writes to stderr and, when File is
// set, to that file too. stdout is left alone for worker results.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.File)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}
