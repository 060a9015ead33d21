// Package config resolves runtime settings for the emergency data service.
//
// Resolution order is defaults, then an optional YAML file, then environment
// variables. Upstream credentials come only from the environment (or the
// platform's secret store) and never from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/erboard/erboard/pkg/cache"
	"github.com/erboard/erboard/pkg/ermct"
	"github.com/erboard/erboard/pkg/middleware"
	"github.com/erboard/erboard/pkg/ratelimit"
)

// Limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the resolved runtime configuration.
type Config struct {
	LogLevel       string
	LogDevelopment bool
	TracingEnabled bool

	Upstream          ermct.Config
	Credentials       []string
	CooldownThreshold int
	CooldownDuration  time.Duration

	Families map[string]cache.FamilyConfig

	RateLimits       map[string]ratelimit.Rule
	DefaultRateLimit ratelimit.Rule
	LimiterBackend   string
	Redis            ratelimit.RedisOptions

	AllowedOrigins        []string
	AllowLocalhostOrigins bool

	Coalesce        bool
	AlertCooldown   time.Duration
	JanitorInterval time.Duration
	OrgTypesPath    string
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		LogLevel:          "info",
		Upstream:          ermct.DefaultConfig(),
		CooldownThreshold: ermct.DefaultErrorThreshold,
		CooldownDuration:  ermct.DefaultCooldown,
		Families:          cache.DefaultFamilies(),
		RateLimits:        ratelimit.DefaultRules(),
		DefaultRateLimit:  ratelimit.DefaultRule,
		LimiterBackend:    BackendMemory,
		Redis:             ratelimit.RedisOptions{Addr: "localhost:6379", DialTimeout: 2 * time.Second, ReadTimeout: time.Second},
		AllowedOrigins:    append([]string(nil), middleware.DefaultAllowedOrigins...),
		AlertCooldown:     30 * time.Minute,
		JanitorInterval:   5 * time.Minute,
	}
}

type ruleFile struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// configFile mirrors the YAML schema. Unset fields keep their defaults.
type configFile struct {
	Log struct {
		Level       string `yaml:"level"`
		Development *bool  `yaml:"development"`
	} `yaml:"log"`
	Tracing struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"tracing"`
	Upstream struct {
		BaseURL      string        `yaml:"base_url"`
		Timeout      time.Duration `yaml:"timeout"`
		RPS          *float64      `yaml:"rps"`
		Burst        int           `yaml:"burst"`
		MaxBodyBytes int64         `yaml:"max_body_bytes"`
		Cooldown     struct {
			Threshold int           `yaml:"threshold"`
			Duration  time.Duration `yaml:"duration"`
		} `yaml:"cooldown"`
	} `yaml:"upstream"`
	Cache struct {
		Families map[string]cache.FamilyConfig `yaml:"families"`
		Coalesce *bool                         `yaml:"coalesce"`
	} `yaml:"cache"`
	RateLimit struct {
		Backend   string                 `yaml:"backend"`
		Default   *ruleFile              `yaml:"default"`
		Endpoints map[string]ruleFile    `yaml:"endpoints"`
		Redis     ratelimit.RedisOptions `yaml:"redis"`
	} `yaml:"rate_limit"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		AllowLocalhost *bool    `yaml:"allow_localhost"`
	} `yaml:"cors"`
	Alerts struct {
		Cooldown time.Duration `yaml:"cooldown"`
	} `yaml:"alerts"`
	Maintenance struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"maintenance"`
	OrgTypesPath string `yaml:"org_types_path"`
}

// Load resolves configuration from path (optional; a missing file is not an
// error) and the process environment.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

// LoadFromEnv is Load without a file.
func LoadFromEnv() (Config, error) {
	return load("", os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	env := envReader{lookup: lookup}
	applyEnv(&cfg, &env)
	if env.err != nil {
		return Config{}, env.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Log.Level != "" {
		cfg.LogLevel = f.Log.Level
	}
	if f.Log.Development != nil {
		cfg.LogDevelopment = *f.Log.Development
	}
	if f.Tracing.Enabled != nil {
		cfg.TracingEnabled = *f.Tracing.Enabled
	}

	if f.Upstream.BaseURL != "" {
		cfg.Upstream.BaseURL = f.Upstream.BaseURL
	}
	if f.Upstream.Timeout > 0 {
		cfg.Upstream.Timeout = f.Upstream.Timeout
	}
	if f.Upstream.RPS != nil {
		cfg.Upstream.RPS = *f.Upstream.RPS
	}
	if f.Upstream.Burst > 0 {
		cfg.Upstream.Burst = f.Upstream.Burst
	}
	if f.Upstream.MaxBodyBytes > 0 {
		cfg.Upstream.MaxBodyBytes = f.Upstream.MaxBodyBytes
	}
	if f.Upstream.Cooldown.Threshold > 0 {
		cfg.CooldownThreshold = f.Upstream.Cooldown.Threshold
	}
	if f.Upstream.Cooldown.Duration > 0 {
		cfg.CooldownDuration = f.Upstream.Cooldown.Duration
	}

	for name, fc := range f.Cache.Families {
		cfg.Families[name] = fc
	}
	if f.Cache.Coalesce != nil {
		cfg.Coalesce = *f.Cache.Coalesce
	}

	if f.RateLimit.Backend != "" {
		cfg.LimiterBackend = f.RateLimit.Backend
	}
	if d := f.RateLimit.Default; d != nil {
		cfg.DefaultRateLimit = ratelimit.Rule{Window: d.Window, MaxRequests: d.MaxRequests}
	}
	for name, r := range f.RateLimit.Endpoints {
		cfg.RateLimits[name] = ratelimit.Rule{Window: r.Window, MaxRequests: r.MaxRequests}
	}
	mergeRedis(&cfg.Redis, f.RateLimit.Redis)

	if len(f.CORS.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = f.CORS.AllowedOrigins
	}
	if f.CORS.AllowLocalhost != nil {
		cfg.AllowLocalhostOrigins = *f.CORS.AllowLocalhost
	}
	if f.Alerts.Cooldown > 0 {
		cfg.AlertCooldown = f.Alerts.Cooldown
	}
	if f.Maintenance.Interval > 0 {
		cfg.JanitorInterval = f.Maintenance.Interval
	}
	if f.OrgTypesPath != "" {
		cfg.OrgTypesPath = f.OrgTypesPath
	}
	return nil
}

func mergeRedis(dst *ratelimit.RedisOptions, src ratelimit.RedisOptions) {
	if src.Addr != "" {
		dst.Addr = src.Addr
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if src.DB != 0 {
		dst.DB = src.DB
	}
	if src.DialTimeout > 0 {
		dst.DialTimeout = src.DialTimeout
	}
	if src.ReadTimeout > 0 {
		dst.ReadTimeout = src.ReadTimeout
	}
	if src.PoolSize > 0 {
		dst.PoolSize = src.PoolSize
	}
}

func applyEnv(cfg *Config, env *envReader) {
	cfg.LogLevel = env.String("LOG_LEVEL", cfg.LogLevel)
	cfg.LogDevelopment = env.Bool("LOG_DEVELOPMENT", cfg.LogDevelopment)
	cfg.TracingEnabled = env.Bool("TRACING_ENABLED", cfg.TracingEnabled)

	cfg.Upstream.BaseURL = env.String("ERMCT_BASE_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.Timeout = env.Duration("ERMCT_TIMEOUT", cfg.Upstream.Timeout)
	cfg.Upstream.RPS = env.Float("ERMCT_RPS", cfg.Upstream.RPS)
	cfg.Upstream.Burst = env.Int("ERMCT_BURST", cfg.Upstream.Burst)
	cfg.CooldownThreshold = env.Int("ERMCT_COOLDOWN_THRESHOLD", cfg.CooldownThreshold)
	cfg.CooldownDuration = env.Duration("ERMCT_COOLDOWN", cfg.CooldownDuration)

	cfg.Credentials = cfg.Credentials[:0]
	for _, slot := range ermct.KeySlots {
		if v, ok := env.lookup(slot); ok && strings.TrimSpace(v) != "" {
			cfg.Credentials = append(cfg.Credentials, v)
		}
	}

	cfg.LimiterBackend = strings.ToLower(env.String("RATE_LIMIT_BACKEND", cfg.LimiterBackend))
	cfg.Redis.Addr = env.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = env.String("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = env.Int("REDIS_DB", cfg.Redis.DB)

	if v := env.String("CORS_ALLOWED_ORIGINS", ""); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	cfg.AllowLocalhostOrigins = env.Bool("CORS_ALLOW_LOCALHOST", cfg.AllowLocalhostOrigins)

	cfg.Coalesce = env.Bool("CACHE_COALESCE", cfg.Coalesce)
	cfg.AlertCooldown = env.Duration("ALERT_COOLDOWN", cfg.AlertCooldown)
	cfg.JanitorInterval = env.Duration("MAINTENANCE_INTERVAL", cfg.JanitorInterval)
	cfg.OrgTypesPath = env.String("ORG_TYPES_PATH", cfg.OrgTypesPath)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.LimiterBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown rate limit backend %q (want %s or %s)", c.LimiterBackend, BackendMemory, BackendRedis)
	}
	if c.LimiterBackend == BackendRedis && c.Redis.Addr == "" {
		return errors.New("rate limit backend redis requires an address")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("upstream timeout must be positive")
	}
	if c.Upstream.RPS < 0 {
		return errors.New("upstream rps cannot be negative")
	}
	for name, fc := range c.Families {
		if fc.MaxSize <= 0 || fc.TTL <= 0 {
			return fmt.Errorf("cache family %s: max_size and ttl must be positive", name)
		}
	}
	for name, r := range c.RateLimits {
		if r.MaxRequests <= 0 || r.Window <= 0 {
			return fmt.Errorf("rate limit %s: window and max_requests must be positive", name)
		}
	}
	if c.DefaultRateLimit.MaxRequests <= 0 || c.DefaultRateLimit.Window <= 0 {
		return errors.New("default rate limit: window and max_requests must be positive")
	}
	return nil
}

// envReader reads typed environment values, remembering the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) raw(name string) (string, bool) {
	v, ok := e.lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s: %w", name, err)
	}
}

func (e *envReader) String(name, fallback string) string {
	if v, ok := e.raw(name); ok {
		return v
	}
	return fallback
}

func (e *envReader) Int(name string, fallback int) int {
	v, ok := e.raw(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return fallback
	}
	return n
}

func (e *envReader) Float(name string, fallback float64) float64 {
	v, ok := e.raw(name)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, err)
		return fallback
	}
	return f
}

func (e *envReader) Bool(name string, fallback bool) bool {
	v, ok := e.raw(name)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, err)
		return fallback
	}
	return b
}

// Duration accepts Go duration strings ("30s", "5m").
func (e *envReader) Duration(name string, fallback time.Duration) time.Duration {
	v, ok := e.raw(name)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, err)
		return fallback
	}
	return d
}
