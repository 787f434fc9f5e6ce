package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GeminiConfig holds the search-grounded extraction model settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds the cross-verification model settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// QuotaConfig configures the daily call budget against the extraction service.
type QuotaConfig struct {
	DailyLimit      int     `yaml:"daily_limit" mapstructure:"daily_limit"`
	WarnPercent     float64 `yaml:"warn_percent" mapstructure:"warn_percent"`
	CriticalPercent float64 `yaml:"critical_percent" mapstructure:"critical_percent"`
}

// SourcesConfig configures source URL classification.
type SourcesConfig struct {
	// DomainsPath optionally points to a YAML file with extra blocked domains
	// and school→domain mappings, merged over the embedded defaults.
	DomainsPath string `yaml:"domains_path" mapstructure:"domains_path"`
}

// PipelineConfig configures extraction/verification behavior.
type PipelineConfig struct {
	ExtractTimeoutSecs int  `yaml:"extract_timeout_secs" mapstructure:"extract_timeout_secs"`
	VerifyTimeoutSecs  int  `yaml:"verify_timeout_secs" mapstructure:"verify_timeout_secs"`
	CrossVerify        bool `yaml:"cross_verify" mapstructure:"cross_verify"`
	CacheTTLHours      int  `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// BatchConfig configures bulk extraction runs.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Gemini    map[string]ModelPricing `yaml:"gemini" mapstructure:"gemini"`
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	// GroundedQuerySurcharge is the flat per-call cost of the search grounding
	// tool, billed on top of token usage.
	GroundedQuerySurcharge float64 `yaml:"grounded_query_surcharge" mapstructure:"grounded_query_surcharge"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// MonitoringConfig configures metrics collection and webhook alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("TUITION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tuition.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("quota.daily_limit", 500)
	v.SetDefault("quota.warn_percent", 80)
	v.SetDefault("quota.critical_percent", 95)
	v.SetDefault("pipeline.extract_timeout_secs", 60)
	v.SetDefault("pipeline.verify_timeout_secs", 30)
	v.SetDefault("pipeline.cross_verify", true)
	v.SetDefault("pipeline.cache_ttl_hours", 24)
	v.SetDefault("batch.max_concurrent", 5)
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("pricing.grounded_query_surcharge", 0.035)

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
