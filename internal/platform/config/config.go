// Package config loads marketpulse configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the marketpulse service
type Config struct {
	Namespaces    []NamespaceConfig   `mapstructure:"namespaces"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Store         StoreConfig         `mapstructure:"store"`
	Warming       WarmingConfig       `mapstructure:"warming"`
	Coordination  CoordinationConfig  `mapstructure:"coordination"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// NamespaceConfig holds per-namespace cache policy
type NamespaceConfig struct {
	Name         string        `mapstructure:"name"`
	L1TTL        time.Duration `mapstructure:"l1_ttl"`
	L2TTL        time.Duration `mapstructure:"l2_ttl"`
	StaleWindow  time.Duration `mapstructure:"stale_window"` // time from insert until stale; 0 disables stale-while-revalidate
	MaxL1Entries int           `mapstructure:"max_l1_entries"`
	WriteThrough bool          `mapstructure:"write_through"` // populate caches on write instead of invalidating
}

// RetryConfig holds backing store retry policy
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// CacheConfig holds cache tier tuning
type CacheConfig struct {
	L1SweepInterval      time.Duration `mapstructure:"l1_sweep_interval"`
	ExpiredRetention     time.Duration `mapstructure:"expired_retention"` // how long expired entries stay servable for degraded reads
	MaxConcurrentFetches int64         `mapstructure:"max_concurrent_fetches"`
	RefreshWorkers       int           `mapstructure:"refresh_workers"`
	RefreshQueueSize     int           `mapstructure:"refresh_queue_size"`
	RefreshTimeout       time.Duration `mapstructure:"refresh_timeout"`
}

// RedisConfig holds Redis (L2 tier) connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig holds backing store configuration
type StoreConfig struct {
	Backend        string  `mapstructure:"backend"` // "dynamodb" or "memory"
	Table          string  `mapstructure:"table"`
	Region         string  `mapstructure:"region"`
	Endpoint       string  `mapstructure:"endpoint"` // non-empty for local endpoints
	WriteRate      float64 `mapstructure:"write_rate"`
	WriteRateMin   float64 `mapstructure:"write_rate_min"`
	WriteRateMax   float64 `mapstructure:"write_rate_max"`
	WriteRateBurst int     `mapstructure:"write_rate_burst"`
}

// WarmingConfig holds cache warming configuration
type WarmingConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Timeout time.Duration       `mapstructure:"timeout"`
	Tasks   []WarmingTaskConfig `mapstructure:"tasks"`
}

// WarmingTaskConfig describes one scheduled pre-fetch
type WarmingTaskConfig struct {
	Name      string        `mapstructure:"name"`
	Namespace string        `mapstructure:"namespace"`
	Keys      []string      `mapstructure:"keys"`
	Interval  time.Duration `mapstructure:"interval"`
	Priority  string        `mapstructure:"priority"` // "critical" or "normal"
}

// CoordinationConfig lists keys requiring single-writer semantics
type CoordinationConfig struct {
	Keys []string `mapstructure:"keys"` // fully namespaced, e.g. "sentiment:refresh-cursor"
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Namespace defaults cover the three logical domains this service caches.
	v.SetDefault("namespaces", []map[string]any{
		{
			"name":           "sentiment",
			"l1_ttl":         "60s",
			"l2_ttl":         "10m",
			"stale_window":   "45s",
			"max_l1_entries": 2000,
		},
		{
			"name":           "market-data",
			"l1_ttl":         "15s",
			"l2_ttl":         "2m",
			"stale_window":   "10s",
			"max_l1_entries": 5000,
		},
		{
			"name":           "reports",
			"l1_ttl":         "10m",
			"l2_ttl":         "6h",
			"stale_window":   "8m",
			"max_l1_entries": 500,
			"write_through":  true,
		},
	})

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "100ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.jitter", 0.2)

	// Cache defaults
	v.SetDefault("cache.l1_sweep_interval", "1m")
	v.SetDefault("cache.expired_retention", "10m")
	v.SetDefault("cache.max_concurrent_fetches", 16)
	v.SetDefault("cache.refresh_workers", 4)
	v.SetDefault("cache.refresh_queue_size", 256)
	v.SetDefault("cache.refresh_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Store defaults
	v.SetDefault("store.backend", "dynamodb")
	v.SetDefault("store.table", "marketpulse-data")
	v.SetDefault("store.region", "us-east-1")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.write_rate", 25.0)
	v.SetDefault("store.write_rate_min", 1.0)
	v.SetDefault("store.write_rate_max", 100.0)
	v.SetDefault("store.write_rate_burst", 50)

	// Warming defaults
	v.SetDefault("warming.enabled", true)
	v.SetDefault("warming.timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("at least one namespace is required")
	}

	seen := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("namespace name is required")
		}
		if seen[ns.Name] {
			return fmt.Errorf("duplicate namespace: %s", ns.Name)
		}
		seen[ns.Name] = true

		if ns.L1TTL <= 0 || ns.L2TTL <= 0 {
			return fmt.Errorf("namespace %s: TTLs must be positive", ns.Name)
		}
		if ns.StaleWindow < 0 {
			return fmt.Errorf("namespace %s: stale window must be >= 0", ns.Name)
		}
		if ns.StaleWindow > ns.L1TTL {
			return fmt.Errorf("namespace %s: stale window %v exceeds L1 TTL %v", ns.Name, ns.StaleWindow, ns.L1TTL)
		}
		if ns.MaxL1Entries <= 0 {
			return fmt.Errorf("namespace %s: max L1 entries must be positive", ns.Name)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry base delay %v exceeds max delay %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry jitter must be in [0,1]")
	}

	switch c.Store.Backend {
	case "dynamodb":
		if c.Store.Table == "" {
			return fmt.Errorf("store table is required for dynamodb backend")
		}
		if c.Store.Region == "" {
			return fmt.Errorf("store region is required for dynamodb backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	for _, task := range c.Warming.Tasks {
		if task.Namespace == "" || len(task.Keys) == 0 {
			return fmt.Errorf("warming task %q: namespace and keys are required", task.Name)
		}
		if !seen[task.Namespace] {
			return fmt.Errorf("warming task %q: unknown namespace %s", task.Name, task.Namespace)
		}
		if task.Interval <= 0 {
			return fmt.Errorf("warming task %q: interval must be positive", task.Name)
		}
		switch task.Priority {
		case "", "normal", "critical":
		default:
			return fmt.Errorf("warming task %q: invalid priority %s", task.Name, task.Priority)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
