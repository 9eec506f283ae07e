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
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Apollo    ApolloConfig    `yaml:"apollo" mapstructure:"apollo"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Filters   FiltersConfig   `yaml:"filters" mapstructure:"filters"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local snapshot store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig configures the shared organization cache.
type CacheConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	TTLHours    int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the staleness threshold as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ApolloConfig holds enrichment provider API settings.
type ApolloConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSecond  float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RetryDelaySecs int     `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
}

// RetryDelay returns the fixed backoff before the single provider retry.
func (c ApolloConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures the stage engine.
type PipelineConfig struct {
	WindowSize         int `yaml:"window_size" mapstructure:"window_size"`
	InterWindowDelayMS int `yaml:"inter_window_delay_ms" mapstructure:"inter_window_delay_ms"`
	CancelTimeoutSecs  int `yaml:"cancel_timeout_secs" mapstructure:"cancel_timeout_secs"`
	EventBufferSize    int `yaml:"event_buffer_size" mapstructure:"event_buffer_size"`
}

// InterWindowDelay returns the pause between batch windows.
func (c PipelineConfig) InterWindowDelay() time.Duration {
	return time.Duration(c.InterWindowDelayMS) * time.Millisecond
}

// CancelTimeout returns the hard bound on cooperative cancellation.
func (c PipelineConfig) CancelTimeout() time.Duration {
	return time.Duration(c.CancelTimeoutSecs) * time.Second
}

// FiltersConfig holds the numeric bounds for the filter stages.
type FiltersConfig struct {
	MinHeadcount int     `yaml:"min_headcount" mapstructure:"min_headcount"`
	MaxHeadcount int     `yaml:"max_headcount" mapstructure:"max_headcount"`
	MinRevenue   float64 `yaml:"min_revenue" mapstructure:"min_revenue"`
}

// PricingConfig holds per-provider unit rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Apollo    ApolloPricing           `yaml:"apollo" mapstructure:"apollo"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ApolloPricing holds the per-credit rate for enrichment calls.
type ApolloPricing struct {
	PerCredit float64 `yaml:"per_credit" mapstructure:"per_credit"`
}

// ServerConfig configures the state server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the settings the pipeline commands depend on are
// present. Modes: "pipeline" requires both provider keys; anything else only
// needs local settings.
func (c *Config) Validate(mode string) error {
	if mode != "pipeline" {
		return nil
	}
	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required (set FUNNEL_ANTHROPIC_KEY)")
	}
	if c.Apollo.Key == "" {
		return eris.New("config: apollo.key is required (set FUNNEL_APOLLO_KEY)")
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "funnel.db")
	v.SetDefault("cache.ttl_hours", 720)
	v.SetDefault("apollo.base_url", "https://api.apollo.io/v1")
	v.SetDefault("apollo.rate_per_second", 2.0)
	v.SetDefault("apollo.retry_delay_secs", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("pipeline.window_size", 5)
	v.SetDefault("pipeline.inter_window_delay_ms", 1000)
	v.SetDefault("pipeline.cancel_timeout_secs", 30)
	v.SetDefault("pipeline.event_buffer_size", 256)
	v.SetDefault("filters.min_headcount", 10)
	v.SetDefault("filters.max_headcount", 2000)
	v.SetDefault("filters.min_revenue", 1000000)
	v.SetDefault("pricing.apollo.per_credit", 0.015)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
