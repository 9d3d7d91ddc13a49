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
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the content store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver         string  `yaml:"driver" mapstructure:"driver"`
	DatabaseURL    string  `yaml:"database_url" mapstructure:"database_url"`
	RetentionHours int     `yaml:"retention_hours" mapstructure:"retention_hours"`
	USDPerGBMonth  float64 `yaml:"usd_per_gb_month" mapstructure:"usd_per_gb_month"`
}

// FetchConfig configures content retrieval.
type FetchConfig struct {
	Strategy         string   `yaml:"strategy" mapstructure:"strategy"` // "browser" or "http"
	Headless         bool     `yaml:"headless" mapstructure:"headless"`
	TimeoutSecs      int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SettleDelayMs    int      `yaml:"settle_delay_ms" mapstructure:"settle_delay_ms"`
	Proxies          []string `yaml:"proxies" mapstructure:"proxies"`
	ProxyRotateAfter int      `yaml:"proxy_rotate_after" mapstructure:"proxy_rotate_after"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ExtractConfig configures signal extraction.
type ExtractConfig struct {
	RuleFile       string `yaml:"rule_file" mapstructure:"rule_file"`
	MaxPromptChars int    `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars"`
	Synthesis      bool   `yaml:"synthesis" mapstructure:"synthesis"`
}

// ScoringConfig configures lead scoring tiers and rules.
type ScoringConfig struct {
	RuleFile string `yaml:"rule_file" mapstructure:"rule_file"`
	HotMin   int    `yaml:"hot_min" mapstructure:"hot_min"`
	WarmMin  int    `yaml:"warm_min" mapstructure:"warm_min"`
	ColdMin  int    `yaml:"cold_min" mapstructure:"cold_min"`
}

// DiscoveryConfig configures the orchestrator.
type DiscoveryConfig struct {
	MaxSessions   int     `yaml:"max_sessions" mapstructure:"max_sessions"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	CheckIntervalSecs       int      `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold    float64  `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BlockedThreshold        int      `yaml:"blocked_threshold" mapstructure:"blocked_threshold"`
	StorageCostThresholdUSD float64  `yaml:"storage_cost_threshold_usd" mapstructure:"storage_cost_threshold_usd"`
	WebhookURL              string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	Organizations           []string `yaml:"organizations" mapstructure:"organizations"`
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
	v.SetEnvPrefix("DISTILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "distill.db")
	v.SetDefault("store.retention_hours", 168)
	v.SetDefault("store.usd_per_gb_month", 0.023)
	v.SetDefault("fetch.strategy", "browser")
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.settle_delay_ms", 1000)
	v.SetDefault("fetch.proxy_rotate_after", 3)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("extract.rule_file", "rules/default.yaml")
	v.SetDefault("extract.max_prompt_chars", 8000)
	v.SetDefault("extract.synthesis", true)
	v.SetDefault("scoring.hot_min", 75)
	v.SetDefault("scoring.warm_min", 50)
	v.SetDefault("scoring.cold_min", 30)
	v.SetDefault("discovery.max_sessions", 4)
	v.SetDefault("discovery.rate_per_second", 1)
	v.SetDefault("discovery.rate_burst", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.blocked_threshold", 10)
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

// Validate checks the fields required for a given run mode: "discover",
// "serve", or "sweep". Errors name every missing or out-of-range entry.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func() {
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Store.RetentionHours <= 0 {
			problems = append(problems, "store.retention_hours must be > 0")
		}
	}

	switch mode {
	case "sweep":
		check()
	case "discover":
		check()
		if c.Fetch.Strategy != "browser" && c.Fetch.Strategy != "http" {
			problems = append(problems, "fetch.strategy must be browser or http")
		}
		if c.Extract.Synthesis && c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required when extract.synthesis is on")
		}
		if c.Discovery.MaxSessions < 1 || c.Discovery.MaxSessions > 50 {
			problems = append(problems, "discovery.max_sessions must be between 1 and 50")
		}
	case "serve":
		check()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Discovery.MaxSessions < 1 || c.Discovery.MaxSessions > 50 {
			problems = append(problems, "discovery.max_sessions must be between 1 and 50")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
