package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of the coordinator process.
type Config struct {
	Admin    AdminConfig
	RPC      RPCConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

// AdminConfig configures the control-plane HTTP server (create/inspect
// TaskHandles, health, metrics, the event websocket).
type AdminConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RateLimitRPS caps per-client requests/second on /api/v1 routes; 0
	// disables rate limiting.
	RateLimitRPS int
}

// RPCConfig holds the controller-side RPC timeouts plus the HTTP tracing
// flag, shared by every TaskHandle created from this configuration.
type RPCConfig struct {
	// StatusRefreshMaxWait is sent as X-Presto-Max-Wait on GET .../status.
	StatusRefreshMaxWait time.Duration
	// InfoUpdateInterval is the InfoFetcher's poll cadence.
	InfoUpdateInterval time.Duration
	// TaskInfoRefreshMaxWait caps the InfoFetcher's long-poll wait.
	TaskInfoRefreshMaxWait time.Duration
	// MaxErrorDuration is the wall-clock window transient RPC failures are
	// tolerated before a loop gives up and fails the task with
	// REMOTE_TASK_ERROR.
	MaxErrorDuration time.Duration
	// MinErrorDuration is the floor of the exponential backoff applied
	// between retried RPCs.
	MinErrorDuration time.Duration
	// TraceHTTP logs method/URI/status/duration for every outbound RPC.
	TraceHTTP bool
	// RequestTimeout bounds any single RPC round trip (separate from the
	// server-held long-poll MaxWait, which is carried in the header).
	RequestTimeout time.Duration
	// PreferBinaryCodec selects the msgpack BinaryCodec as the outbound
	// framing, while still accepting JSON replies. False falls back to
	// JSON-only, with no negotiation.
	PreferBinaryCodec bool
}

// RedisConfig configures the transient pub/sub event bus. It is never
// consulted to reconstruct authoritative task state.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/remotetask")

	setDefaults()

	viper.SetEnvPrefix("REMOTETASK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Admin server defaults
	viper.SetDefault("admin.host", "0.0.0.0")
	viper.SetDefault("admin.port", 8080)
	viper.SetDefault("admin.readtimeout", 30*time.Second)
	viper.SetDefault("admin.writetimeout", 30*time.Second)
	viper.SetDefault("admin.idletimeout", 120*time.Second)
	viper.SetDefault("admin.ratelimitrps", 0)

	// RPC defaults, matching Presto/Trino-style coordinator defaults
	viper.SetDefault("rpc.statusrefreshmaxwait", 1*time.Second)
	viper.SetDefault("rpc.infoupdateinterval", 3*time.Second)
	viper.SetDefault("rpc.taskinforefreshmaxwait", 2*time.Second)
	viper.SetDefault("rpc.maxerrorduration", 5*time.Minute)
	viper.SetDefault("rpc.minerrorduration", 100*time.Millisecond)
	viper.SetDefault("rpc.tracehttp", false)
	viper.SetDefault("rpc.requesttimeout", 10*time.Second)
	viper.SetDefault("rpc.preferbinarycodec", true)

	// Redis (event bus) defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 50)
	viper.SetDefault("redis.minidleconns", 5)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
