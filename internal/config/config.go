package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Anomaly    AnomalyConfig    `yaml:"anomaly" mapstructure:"anomaly"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractConfig configures the field extraction engine.
type ExtractConfig struct {
	AIEnabled     bool          `yaml:"ai_enabled" mapstructure:"ai_enabled"`
	AITimeoutSecs int           `yaml:"ai_timeout_secs" mapstructure:"ai_timeout_secs"`
	AIRatePerSec  float64       `yaml:"ai_rate_per_sec" mapstructure:"ai_rate_per_sec"`
	Retry         RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit       CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig holds retry tuning for AI backend calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker tuning for AI backend calls.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	ChunkDelayMs   int `yaml:"chunk_delay_ms" mapstructure:"chunk_delay_ms"`
}

// ValidationConfig points at an optional rules file; empty uses the built-in rules.
type ValidationConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// AnomalyConfig configures anomaly detection thresholds.
type AnomalyConfig struct {
	SpikeThresholdPct float64 `yaml:"spike_threshold_pct" mapstructure:"spike_threshold_pct"`
	DueWindowDays     int     `yaml:"due_window_days" mapstructure:"due_window_days"`
	HistoryLimit      int     `yaml:"history_limit" mapstructure:"history_limit"`
}

// NotifyConfig configures alert webhooks.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	MinSeverity string `yaml:"min_severity" mapstructure:"min_severity"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExportConfig configures the XLSX export location.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AIConfigured reports whether the AI extraction strategy can run.
func (c *Config) AIConfigured() bool {
	return c.Extract.AIEnabled && c.Anthropic.Key != ""
}

// Validate checks that required configuration is present for the given mode.
// Modes: "pipeline" (submit/run/retry), "serve", "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "pipeline", "serve":
		if c.Batch.MaxConcurrency < 1 || c.Batch.MaxConcurrency > 50 {
			errs = append(errs, "batch.max_concurrency must be between 1 and 50")
		}
		if c.Batch.ChunkDelayMs < 0 {
			errs = append(errs, "batch.chunk_delay_ms must be >= 0")
		}
		if c.Extract.AIEnabled && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required when extract.ai_enabled is set (INVOICE_ANTHROPIC_KEY)")
		}
		if c.Anomaly.SpikeThresholdPct <= 0 {
			errs = append(errs, "anomaly.spike_threshold_pct must be > 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "invoices.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("extract.ai_enabled", false)
	v.SetDefault("extract.ai_timeout_secs", 45)
	v.SetDefault("extract.ai_rate_per_sec", 2.0)
	v.SetDefault("extract.retry.max_attempts", 2)
	v.SetDefault("extract.retry.initial_backoff_ms", 500)
	v.SetDefault("extract.retry.max_backoff_ms", 5000)
	v.SetDefault("extract.retry.multiplier", 2.0)
	v.SetDefault("extract.retry.jitter_fraction", 0.25)
	v.SetDefault("extract.circuit.failure_threshold", 5)
	v.SetDefault("extract.circuit.reset_timeout_secs", 60)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("batch.max_concurrency", 5)
	v.SetDefault("batch.chunk_delay_ms", 200)
	v.SetDefault("validation.rules_path", "")
	v.SetDefault("anomaly.spike_threshold_pct", 20.0)
	v.SetDefault("anomaly.due_window_days", 7)
	v.SetDefault("anomaly.history_limit", 6)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.min_severity", "high")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

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

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
