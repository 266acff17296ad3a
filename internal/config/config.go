package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env       string `mapstructure:"env"`
	LogFile   string `mapstructure:"log_file"`
	Feed      FeedConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Directory DirectoryConfig
}

// FeedConfig holds upstream feed connection and policy settings.
type FeedConfig struct {
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	KeyPath string `mapstructure:"key_path"`

	// ReconnectPolicy is "resync" (drop books on reconnect, require fresh
	// snapshots) or "carry" (apply deltas against carried-over state).
	ReconnectPolicy string `mapstructure:"reconnect_policy"`

	// SequenceScope is "channel" (upstream-compatible) or "market"
	// (strict per-market gap detection).
	SequenceScope string `mapstructure:"sequence_scope"`

	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

// KafkaConfig holds replication transport settings. When disabled, an
// in-process hub carries replication instead of a broker.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
}

// RedisConfig holds best-of-book sink settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DirectoryConfig selects the markets to track. Tickers, when set, is used
// as-is; otherwise the REST directory is walked for the given series.
type DirectoryConfig struct {
	BaseURL string   `mapstructure:"base_url"`
	Series  []string `mapstructure:"series"`
	Tickers []string `mapstructure:"tickers"`
}

// Load reads configuration from environment variables prefixed with PARLAY_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("log_file", "")

	// Feed defaults
	v.SetDefault("feed.url", "wss://api.elections.kalshi.com/trade-api/ws/v2")
	v.SetDefault("feed.api_key", "")
	v.SetDefault("feed.key_path", "")
	v.SetDefault("feed.reconnect_policy", "resync")
	v.SetDefault("feed.sequence_scope", "channel")
	v.SetDefault("feed.heartbeat_timeout", 30*time.Second)
	v.SetDefault("feed.backoff_initial", 50*time.Millisecond)
	v.SetDefault("feed.backoff_max", 5*time.Second)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Directory defaults
	v.SetDefault("directory.base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("directory.series", []string{})
	v.SetDefault("directory.tickers", []string{})

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LogFile = v.GetString("log_file")

	cfg.Feed = FeedConfig{
		URL:              v.GetString("feed.url"),
		APIKey:           v.GetString("feed.api_key"),
		KeyPath:          v.GetString("feed.key_path"),
		ReconnectPolicy:  v.GetString("feed.reconnect_policy"),
		SequenceScope:    v.GetString("feed.sequence_scope"),
		HeartbeatTimeout: v.GetDuration("feed.heartbeat_timeout"),
		BackoffInitial:   v.GetDuration("feed.backoff_initial"),
		BackoffMax:       v.GetDuration("feed.backoff_max"),
	}

	cfg.Kafka = KafkaConfig{
		Enabled: v.GetBool("kafka.enabled"),
		Brokers: v.GetStringSlice("kafka.brokers"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("redis.enabled"),
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Directory = DirectoryConfig{
		BaseURL: v.GetString("directory.base_url"),
		Series:  v.GetStringSlice("directory.series"),
		Tickers: v.GetStringSlice("directory.tickers"),
	}

	return cfg, nil
}
