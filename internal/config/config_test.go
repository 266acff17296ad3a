package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env=development, got %s", cfg.Env)
	}

	if cfg.Feed.URL != "wss://api.elections.kalshi.com/trade-api/ws/v2" {
		t.Errorf("unexpected feed url: %s", cfg.Feed.URL)
	}

	if cfg.Feed.ReconnectPolicy != "resync" {
		t.Errorf("expected reconnect_policy=resync, got %s", cfg.Feed.ReconnectPolicy)
	}

	if cfg.Feed.SequenceScope != "channel" {
		t.Errorf("expected sequence_scope=channel, got %s", cfg.Feed.SequenceScope)
	}

	if cfg.Feed.HeartbeatTimeout != 30*time.Second {
		t.Errorf("expected heartbeat_timeout=30s, got %s", cfg.Feed.HeartbeatTimeout)
	}

	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}

	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("unexpected kafka brokers: %v", cfg.Kafka.Brokers)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr localhost:6379, got %s", cfg.Redis.Addr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("PARLAY_ENV", "production")
	os.Setenv("PARLAY_FEED_RECONNECT_POLICY", "carry")
	os.Setenv("PARLAY_FEED_SEQUENCE_SCOPE", "market")
	os.Setenv("PARLAY_KAFKA_ENABLED", "true")
	defer os.Unsetenv("PARLAY_ENV")
	defer os.Unsetenv("PARLAY_FEED_RECONNECT_POLICY")
	defer os.Unsetenv("PARLAY_FEED_SEQUENCE_SCOPE")
	defer os.Unsetenv("PARLAY_KAFKA_ENABLED")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env=production, got %s", cfg.Env)
	}

	if cfg.Feed.ReconnectPolicy != "carry" {
		t.Errorf("expected reconnect_policy=carry, got %s", cfg.Feed.ReconnectPolicy)
	}

	if cfg.Feed.SequenceScope != "market" {
		t.Errorf("expected sequence_scope=market, got %s", cfg.Feed.SequenceScope)
	}

	if !cfg.Kafka.Enabled {
		t.Error("expected kafka enabled via env")
	}
}

func TestLoadDurationsFromEnv(t *testing.T) {
	os.Setenv("PARLAY_FEED_HEARTBEAT_TIMEOUT", "10s")
	os.Setenv("PARLAY_FEED_BACKOFF_MAX", "2s")
	defer os.Unsetenv("PARLAY_FEED_HEARTBEAT_TIMEOUT")
	defer os.Unsetenv("PARLAY_FEED_BACKOFF_MAX")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Feed.HeartbeatTimeout != 10*time.Second {
		t.Errorf("expected heartbeat_timeout=10s, got %s", cfg.Feed.HeartbeatTimeout)
	}

	if cfg.Feed.BackoffMax != 2*time.Second {
		t.Errorf("expected backoff_max=2s, got %s", cfg.Feed.BackoffMax)
	}
}
