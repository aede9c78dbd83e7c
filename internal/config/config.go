package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Limits    LimitsConfig    `yaml:"limits"`
	Cache     CacheConfig     `yaml:"cache"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Streaming StreamingConfig `yaml:"streaming"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	MetricsPort      int           `yaml:"metrics_port"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// LimitsConfig configures the per-provider fixed-window rate limiter.
type LimitsConfig struct {
	// Default applies to providers without an explicit override.
	Default   ProviderLimit            `yaml:"default"`
	Providers map[string]ProviderLimit `yaml:"providers"`
}

type ProviderLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

type MonitorConfig struct {
	DailyCostLimitUSD  float64       `yaml:"daily_cost_limit_usd"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateCritical  float64       `yaml:"error_rate_critical"`
	LatencyCeilingMs   float64       `yaml:"latency_ceiling_ms"`
	AuditBuffer        int           `yaml:"audit_buffer"`
	AuditWriteTimeout  time.Duration `yaml:"audit_write_timeout"`
}

type StreamingConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	EventBuffer   int           `yaml:"event_buffer"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "meridian",
			User:            "meridian",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			LogFormat:        "json",
			MetricsPort:      9090,
			SnapshotInterval: time.Minute,
		},
		Limits: LimitsConfig{
			Default: ProviderLimit{Requests: 50, Window: time.Minute},
			Providers: map[string]ProviderLimit{
				"anthropic": {Requests: 30, Window: time.Minute},
			},
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     10 * time.Minute,
		},
		Monitor: MonitorConfig{
			DailyCostLimitUSD:  100,
			ErrorRateThreshold: 0.05,
			ErrorRateCritical:  0.10,
			LatencyCeilingMs:   10_000,
			AuditBuffer:        256,
			AuditWriteTimeout:  2 * time.Second,
		},
		Streaming: StreamingConfig{
			StaleAfter:    5 * time.Minute,
			SweepInterval: time.Minute,
			EventBuffer:   16,
		},
	}
}
