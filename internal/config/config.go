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
	Store        StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Search       SearchConfig    `yaml:"search" mapstructure:"search"`
	Verify       VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Scan         ScanConfig      `yaml:"scan" mapstructure:"scan"`
	Cost         CostConfig      `yaml:"cost" mapstructure:"cost"`
	Server       ServerConfig    `yaml:"server" mapstructure:"server"`
	Log          LogConfig       `yaml:"log" mapstructure:"log"`
	CriteriaPath string          `yaml:"criteria_path" mapstructure:"criteria_path"`
}

// StoreConfig configures the entity graph backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SearchConfig configures the web search and page fetch clients.
type SearchConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	PagesPerQuery int    `yaml:"pages_per_query" mapstructure:"pages_per_query"`
	DelaySecs     int    `yaml:"delay_secs" mapstructure:"delay_secs"`
	FetchMaxChars int    `yaml:"fetch_max_chars" mapstructure:"fetch_max_chars"`
}

// VerifyConfig configures YouTube channel verification.
type VerifyConfig struct {
	SubscriberMin int `yaml:"subscriber_min" mapstructure:"subscriber_min"`
	SubscriberMax int `yaml:"subscriber_max" mapstructure:"subscriber_max"`
}

// ScanConfig configures a resolution run.
type ScanConfig struct {
	MaxWaves         int     `yaml:"max_waves" mapstructure:"max_waves"`
	MaxTriagePages   int     `yaml:"max_triage_pages" mapstructure:"max_triage_pages"`
	MinTriageScore   float64 `yaml:"min_triage_score" mapstructure:"min_triage_score"`
	MinLocalityScore float64 `yaml:"min_locality_score" mapstructure:"min_locality_score"`
	MinTotalScore    float64 `yaml:"min_total_score" mapstructure:"min_total_score"`
	Unattended       bool    `yaml:"unattended" mapstructure:"unattended"`
	OutputDir        string  `yaml:"output_dir" mapstructure:"output_dir"`
}

// CostConfig configures the cost/value engine.
type CostConfig struct {
	InitialPatience int     `yaml:"initial_patience" mapstructure:"initial_patience"`
	RechargePerHit  int     `yaml:"recharge_per_hit" mapstructure:"recharge_per_hit"`
	DrainPerMiss    int     `yaml:"drain_per_miss" mapstructure:"drain_per_miss"`
	Epsilon         float64 `yaml:"epsilon" mapstructure:"epsilon"`
	MinROI          float64 `yaml:"min_roi" mapstructure:"min_roi"`
	Budget          int     `yaml:"budget" mapstructure:"budget"`
}

// ServerConfig configures the control server.
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
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("criteria_path", "")
	v.SetDefault("store.sqlite_path", "scout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("search.base_url", "https://search.brave.com")
	v.SetDefault("search.pages_per_query", 2)
	v.SetDefault("search.delay_secs", 5)
	v.SetDefault("search.fetch_max_chars", 20000)
	v.SetDefault("verify.subscriber_min", 20000)
	v.SetDefault("verify.subscriber_max", 150000)
	v.SetDefault("scan.max_waves", 3)
	v.SetDefault("scan.max_triage_pages", 25)
	v.SetDefault("scan.min_triage_score", 4.0)
	v.SetDefault("scan.min_locality_score", 0.4)
	v.SetDefault("scan.min_total_score", 0.5)
	v.SetDefault("scan.output_dir", "results")
	v.SetDefault("cost.initial_patience", 30)
	v.SetDefault("cost.recharge_per_hit", 20)
	v.SetDefault("cost.drain_per_miss", 1)
	v.SetDefault("cost.epsilon", 0.10)
	v.SetDefault("cost.min_roi", 0.05)
	v.SetDefault("cost.budget", 5000)

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
