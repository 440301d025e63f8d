// Package config handles configuration loading for papertrader.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Ledger    LedgerConfig    `mapstructure:"ledger"    yaml:"ledger"`
	Replay    ReplayConfig    `mapstructure:"replay"    yaml:"replay"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Redis     RedisConfig     `mapstructure:"redis"     yaml:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"  yaml:"postgres"`
	Sentiment SentimentConfig `mapstructure:"sentiment" yaml:"sentiment"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// LedgerConfig holds the simulated account and matching settings.
type LedgerConfig struct {
	InitialCapital    float64 `mapstructure:"initial_capital"     yaml:"initial_capital"`
	CommissionRate    float64 `mapstructure:"commission_rate"     yaml:"commission_rate"`
	StampDutyRate     float64 `mapstructure:"stamp_duty_rate"     yaml:"stamp_duty_rate"` // sell side only
	Slippage          float64 `mapstructure:"slippage"            yaml:"slippage"`
	ExecutionDelayMs  int     `mapstructure:"execution_delay_ms"  yaml:"execution_delay_ms"` // advisory
	LotSize           int     `mapstructure:"lot_size"            yaml:"lot_size"`
	PublishIntervalMs int     `mapstructure:"publish_interval_ms" yaml:"publish_interval_ms"`
	CloseTimeoutMs    int     `mapstructure:"close_timeout_ms"    yaml:"close_timeout_ms"`
	DepthLimitedFills bool    `mapstructure:"depth_limited_fills" yaml:"depth_limited_fills"`
}

// ReplayConfig holds defaults for the historical replay runner.
type ReplayConfig struct {
	DataDir      string  `mapstructure:"data_dir"      yaml:"data_dir"`
	StrategyFile string  `mapstructure:"strategy_file" yaml:"strategy_file"`
	Start        string  `mapstructure:"start"         yaml:"start"` // YYYY-MM-DD, inclusive
	End          string  `mapstructure:"end"           yaml:"end"`   // YYYY-MM-DD, inclusive
	Speed        float64 `mapstructure:"speed"         yaml:"speed"` // 0 = as fast as possible
	WarmupBars   int     `mapstructure:"warmup_bars"   yaml:"warmup_bars"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// RedisConfig holds settings for the Redis event publisher.
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"        yaml:"enabled"`
	Addr          string `mapstructure:"addr"           yaml:"addr"`
	Password      string `mapstructure:"password"       yaml:"password"       json:"-"`
	DB            int    `mapstructure:"db"             yaml:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
	Stream        string `mapstructure:"stream"         yaml:"stream"`
}

// PostgresConfig holds settings for the trade journal.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"   yaml:"enabled"`
	DSN      string `mapstructure:"dsn"       yaml:"dsn"       json:"-"`
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns"`
}

// SentimentConfig holds news sentiment settings.
type SentimentConfig struct {
	Enabled     bool     `mapstructure:"enabled"       yaml:"enabled"`
	Feeds       []string `mapstructure:"feeds"         yaml:"feeds"`
	CacheSize   int      `mapstructure:"cache_size"    yaml:"cache_size"`
	CacheTTLSec int      `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	RatePerSec  int      `mapstructure:"rate_per_sec"  yaml:"rate_per_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.papertrader/config.yaml (home directory)
//  3. /etc/papertrader/config.yaml (system)
//
// Environment variables override config file values.
// Format: PAPERTRADER_<SECTION>_<KEY>, e.g., PAPERTRADER_LEDGER_INITIAL_CAPITAL.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".papertrader"))
	v.AddConfigPath("/etc/papertrader")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PAPERTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Ledger defaults (A-share retail cost model)
	v.SetDefault("ledger.initial_capital", 1000000)
	v.SetDefault("ledger.commission_rate", 0.0003)
	v.SetDefault("ledger.stamp_duty_rate", 0.001)
	v.SetDefault("ledger.slippage", 0.001)
	v.SetDefault("ledger.execution_delay_ms", 100)
	v.SetDefault("ledger.lot_size", 100)
	v.SetDefault("ledger.publish_interval_ms", 1000)
	v.SetDefault("ledger.close_timeout_ms", 3000)
	v.SetDefault("ledger.depth_limited_fills", false)

	// Replay defaults
	v.SetDefault("replay.data_dir", "./data")
	v.SetDefault("replay.speed", 0)
	v.SetDefault("replay.warmup_bars", 30)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "papertrader")
	v.SetDefault("redis.stream", "papertrader:events")

	// Postgres defaults
	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.max_conns", 4)

	// Sentiment defaults
	v.SetDefault("sentiment.enabled", false)
	v.SetDefault("sentiment.cache_size", 512)
	v.SetDefault("sentiment.cache_ttl_sec", 600) // 10 minutes
	v.SetDefault("sentiment.rate_per_sec", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if pw := os.Getenv("PAPERTRADER_REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if dsn := os.Getenv("PAPERTRADER_POSTGRES_DSN"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
