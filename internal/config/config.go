package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the gateway.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Session   SessionConfig             `mapstructure:"session"`
	Hub       HubConfig                 `mapstructure:"hub"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
}

// ServerConfig contains network level settings for the HTTP/WebSocket listener.
type ServerConfig struct {
	BindAddr        string        `mapstructure:"bind_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
}

// SessionConfig controls the per-client gateway session state machine.
type SessionConfig struct {
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	SubscriberQueueDepth int           `mapstructure:"subscriber_queue_capacity"`
	BookDepthDefault     int           `mapstructure:"book_depth_default"`
}

// HubConfig controls topic lifecycle timing in the pub/sub stream hub.
type HubConfig struct {
	TopicGraceMs   int `mapstructure:"topic_grace_ms"`
	DegradationMs  int `mapstructure:"degradation_ms"`
}

// CacheConfig controls per-channel ring buffer sizing in the replay cache.
type CacheConfig struct {
	TickerRingSize       int `mapstructure:"ticker_ring_size"`
	BookSnapshotRingSize int `mapstructure:"book_snapshot_ring_size"`
	BookDeltaRingSize    int `mapstructure:"book_delta_ring_size"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ExchangeConfig describes one venue adapter's upstream connection.
type ExchangeConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	WSURL             string        `mapstructure:"ws_url"`
	RateLimitPerSec   float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	BackoffBaseMs     int           `mapstructure:"backoff_base_ms"`
	BackoffCapMs      int           `mapstructure:"backoff_cap_ms"`
	BackoffResetMs    int           `mapstructure:"backoff_reset_ms"`
}

// Load reads configuration from environment variables and an optional
// config file named "gateway" on the search path.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.bind_addr", "0.0.0.0:8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.read_buffer_size", 16<<10)
	v.SetDefault("server.write_buffer_size", 16<<10)

	v.SetDefault("session.write_timeout", 15*time.Second)
	v.SetDefault("session.idle_timeout", 90*time.Second)
	v.SetDefault("session.subscriber_queue_capacity", 1024)
	v.SetDefault("session.book_depth_default", 50)

	v.SetDefault("hub.topic_grace_ms", 5000)
	v.SetDefault("hub.degradation_ms", 10000)

	v.SetDefault("cache.ticker_ring_size", 1)
	v.SetDefault("cache.book_snapshot_ring_size", 1)
	v.SetDefault("cache.book_delta_ring_size", 64)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("exchanges.binance.enabled", true)
	v.SetDefault("exchanges.binance.ws_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("exchanges.binance.rate_limit_per_sec", 5.0)
	v.SetDefault("exchanges.binance.rate_limit_burst", 10)
	v.SetDefault("exchanges.binance.heartbeat_interval", 20*time.Second)
	v.SetDefault("exchanges.binance.heartbeat_timeout", 60*time.Second)
	v.SetDefault("exchanges.binance.backoff_base_ms", 500)
	v.SetDefault("exchanges.binance.backoff_cap_ms", 30000)
	v.SetDefault("exchanges.binance.backoff_reset_ms", 60000)

	v.SetDefault("exchanges.bybit.enabled", true)
	v.SetDefault("exchanges.bybit.ws_url", "wss://stream.bybit.com/v5/public/linear")
	v.SetDefault("exchanges.bybit.rate_limit_per_sec", 5.0)
	v.SetDefault("exchanges.bybit.rate_limit_burst", 10)
	v.SetDefault("exchanges.bybit.heartbeat_interval", 20*time.Second)
	v.SetDefault("exchanges.bybit.heartbeat_timeout", 60*time.Second)
	v.SetDefault("exchanges.bybit.backoff_base_ms", 500)
	v.SetDefault("exchanges.bybit.backoff_cap_ms", 30000)
	v.SetDefault("exchanges.bybit.backoff_reset_ms", 60000)

	v.SetDefault("exchanges.mock.enabled", false)

	v.SetConfigName("gateway")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Session.SubscriberQueueDepth <= 0 {
		cfg.Session.SubscriberQueueDepth = 1024
	}
	if cfg.Cache.BookDeltaRingSize <= 0 {
		cfg.Cache.BookDeltaRingSize = 64
	}

	return cfg, nil
}
