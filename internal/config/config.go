package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything needed to boot the dashboard backend.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Policy    PolicyConfig    `yaml:"policy"`
	Identity  IdentityConfig  `yaml:"identity"`
	Cache     CacheConfig     `yaml:"cache"`
	Generator GeneratorConfig `yaml:"generator"`
	Feed      FeedConfig      `yaml:"feed"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress        string        `yaml:"httpAddress"`
	GRPCAddress        string        `yaml:"grpcAddress"`
	MetricsAddress     string        `yaml:"metricsAddress"`
	GracefulTimeout    time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins     []string      `yaml:"allowedOrigins"`
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"`
	RateLimitBurst     int           `yaml:"rateLimitBurst"`
	// TrustProxyHeaders keys rate limits on X-Forwarded-For / X-Real-IP instead of the peer address.
	TrustProxyHeaders  bool          `yaml:"trustProxyHeaders"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PolicyConfig points at an optional role/permission file. Empty uses the built-in table.
type PolicyConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig selects the demo user and whether callers may pick another.
type IdentityConfig struct {
	DefaultUser   string `yaml:"defaultUser"`
	AllowOverride bool   `yaml:"allowOverride"`
}

// CacheConfig controls response caching. Addr empty with Enabled set means in-process.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ResponseTTL  time.Duration `yaml:"responseTTL"`
	StaleTTL     time.Duration `yaml:"staleTTL"`
	// MaxEntries caps the in-process cache.
	MaxEntries   int           `yaml:"maxEntries"`
}

// GeneratorConfig seeds synthetic data. Zero seeds from the clock.
type GeneratorConfig struct {
	Seed int64 `yaml:"seed"`
}

// FeedConfig sets the dashboard refresh cadence and history depth.
type FeedConfig struct {
	OverviewInterval    time.Duration `yaml:"overviewInterval"`
	PerformanceInterval time.Duration `yaml:"performanceInterval"`
	TraceInterval       time.Duration `yaml:"traceInterval"`
	AnomalyInterval     time.Duration `yaml:"anomalyInterval"`
	PerformanceHistory  int           `yaml:"performanceHistory"`
	TraceHistory        int           `yaml:"traceHistory"`
	AnomalyHistory      int           `yaml:"anomalyHistory"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PULSE_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:        ":8080",
			GRPCAddress:        ":50051",
			MetricsAddress:     ":2112",
			GracefulTimeout:    10 * time.Second,
			AllowedOrigins:     []string{"http://localhost:3000"},
			RateLimitPerMinute: 600,
			RateLimitBurst:     60,
		},
		Logging:  LoggingConfig{Level: "info"},
		Identity: IdentityConfig{DefaultUser: "engineer"},
		Cache: CacheConfig{
			ResponseTTL:  2 * time.Second,
			StaleTTL:     5 * time.Second,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			MaxEntries:   10000,
		},
		Feed: FeedConfig{
			OverviewInterval:    5 * time.Second,
			PerformanceInterval: 3 * time.Second,
			TraceInterval:       4 * time.Second,
			AnomalyInterval:     10 * time.Second,
			PerformanceHistory:  12,
			TraceHistory:        5,
			AnomalyHistory:      5,
		},
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var problems []string
	if c.Server.HTTPAddress == "" {
		problems = append(problems, "server.httpAddress is required")
	}
	if c.Server.RateLimitPerMinute < 0 || c.Server.RateLimitBurst < 0 {
		problems = append(problems, "server rate limits must not be negative")
	}
	if c.Cache.MaxEntries < 0 {
		problems = append(problems, "cache.maxEntries must not be negative")
	}
	if c.Cache.ResponseTTL < 0 {
		problems = append(problems, "cache.responseTTL must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"overviewInterval":    c.Feed.OverviewInterval,
		"performanceInterval": c.Feed.PerformanceInterval,
		"traceInterval":       c.Feed.TraceInterval,
		"anomalyInterval":     c.Feed.AnomalyInterval,
	} {
		if d <= 0 {
			problems = append(problems, "feed."+name+" must be positive")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	envString("PULSE_HTTP_ADDRESS", &cfg.Server.HTTPAddress)
	envString("PULSE_GRPC_ADDRESS", &cfg.Server.GRPCAddress)
	envString("PULSE_METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	envDuration("PULSE_GRACEFUL_TIMEOUT", &cfg.Server.GracefulTimeout)
	if v := os.Getenv("PULSE_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	envInt("PULSE_RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute)
	envInt("PULSE_RATE_LIMIT_BURST", &cfg.Server.RateLimitBurst)
	envBool("PULSE_TRUST_PROXY_HEADERS", &cfg.Server.TrustProxyHeaders)

	envString("PULSE_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("PULSE_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}

	envString("PULSE_POLICY_PATH", &cfg.Policy.Path)
	envString("PULSE_DEFAULT_USER", &cfg.Identity.DefaultUser)
	envBool("PULSE_ALLOW_USER_OVERRIDE", &cfg.Identity.AllowOverride)

	envBool("PULSE_CACHE_ENABLED", &cfg.Cache.Enabled)
	envString("PULSE_CACHE_ADDR", &cfg.Cache.Addr)
	envString("PULSE_CACHE_USERNAME", &cfg.Cache.Username)
	envString("PULSE_CACHE_PASSWORD", &cfg.Cache.Password)
	envInt("PULSE_CACHE_DB", &cfg.Cache.DB)
	envBool("PULSE_CACHE_TLS", &cfg.Cache.TLS)
	envDuration("PULSE_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	envDuration("PULSE_CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout)
	envDuration("PULSE_CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout)
	envInt("PULSE_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)
	envDuration("PULSE_CACHE_RESPONSE_TTL", &cfg.Cache.ResponseTTL)
	envDuration("PULSE_CACHE_STALE_TTL", &cfg.Cache.StaleTTL)
	envInt("PULSE_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)

	if v := os.Getenv("PULSE_GENERATOR_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Generator.Seed = seed
		}
	}

	envDuration("PULSE_FEED_OVERVIEW_INTERVAL", &cfg.Feed.OverviewInterval)
	envDuration("PULSE_FEED_PERFORMANCE_INTERVAL", &cfg.Feed.PerformanceInterval)
	envDuration("PULSE_FEED_TRACE_INTERVAL", &cfg.Feed.TraceInterval)
	envDuration("PULSE_FEED_ANOMALY_INTERVAL", &cfg.Feed.AnomalyInterval)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
