package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Narrative NarrativeConfig `yaml:"narrative" mapstructure:"narrative"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	PDF       PDFConfig       `yaml:"pdf" mapstructure:"pdf"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds model API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	ExtractModel   string `yaml:"extract_model" mapstructure:"extract_model"`
	NarrativeModel string `yaml:"narrative_model" mapstructure:"narrative_model"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout bounds a single model call.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ExtractConfig configures fact extraction prompt assembly.
type ExtractConfig struct {
	TranscriptBudget  int `yaml:"transcript_budget" mapstructure:"transcript_budget"`
	QuoteBudget       int `yaml:"quote_budget" mapstructure:"quote_budget"`
	NotesBudget       int `yaml:"notes_budget" mapstructure:"notes_budget"`
	MaxOutputTokens   int `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	RetryOutputTokens int `yaml:"retry_output_tokens" mapstructure:"retry_output_tokens"`
}

// NarrativeConfig configures narrative section generation.
type NarrativeConfig struct {
	MaxOutputTokens int `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// ProvidersConfig configures KiwiSaver fund-fact lookups.
type ProvidersConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// Timeout bounds a single fund-fact fetch.
func (c ProvidersConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheTTL is the fund-fact memoization window.
func (c ProvidersConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// PDFConfig configures the headless export engine.
type PDFConfig struct {
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
	AssetsDir   string `yaml:"assets_dir" mapstructure:"assets_dir"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout bounds a single PDF export.
func (c PDFConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int     `yaml:"port" mapstructure:"port"`
	RateLimitPerMin float64 `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ADVICEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "advicegen.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_min", 2)
	v.SetDefault("server.rate_limit_burst", 3)
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.narrative_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 90)
	v.SetDefault("extract.transcript_budget", 24000)
	v.SetDefault("extract.quote_budget", 16000)
	v.SetDefault("extract.notes_budget", 12000)
	v.SetDefault("extract.max_output_tokens", 4096)
	v.SetDefault("extract.retry_output_tokens", 2048)
	v.SetDefault("narrative.max_output_tokens", 8192)
	v.SetDefault("providers.base_url", "https://fundfacts.sorted.org.nz")
	v.SetDefault("providers.timeout_secs", 20)
	v.SetDefault("providers.cache_ttl_hours", 12)
	v.SetDefault("pdf.output_dir", "documents")
	v.SetDefault("pdf.assets_dir", "assets")
	v.SetDefault("pdf.timeout_secs", 60)

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
