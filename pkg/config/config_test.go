package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erboard/erboard/pkg/cache"
	"github.com/erboard/erboard/pkg/middleware"
	"github.com/erboard/erboard/pkg/ratelimit"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "erboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, BackendMemory, cfg.LimiterBackend)
	assert.Equal(t, 30*time.Minute, cfg.AlertCooldown)
	assert.Equal(t, 5*time.Minute, cfg.JanitorInterval)
	assert.Equal(t, 3, cfg.CooldownThreshold)
	assert.Equal(t, 100, cfg.Families[cache.FamilyBedInfo].MaxSize)
	assert.Equal(t, 30, cfg.RateLimits["bed-info"].MaxRequests)
	assert.Empty(t, cfg.Credentials)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), envOf(nil))
	assert.NoError(t, err)
}

func TestLoad_FileOverlay(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
upstream:
  timeout: 15s
  rps: 0
  cooldown:
    threshold: 5
    duration: 10m
cache:
  coalesce: true
  families:
    bed-info:
      max_size: 50
      ttl: 2m
rate_limit:
  backend: redis
  default:
    window: 30s
    max_requests: 10
  endpoints:
    bed-info:
      window: 1m
      max_requests: 5
  redis:
    addr: redis:6379
alerts:
  cooldown: 1h
org_types_path: /etc/erboard/orgtypes.yaml
`)
	cfg, err := load(path, envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.Upstream.Timeout)
	assert.Zero(t, cfg.Upstream.RPS)
	assert.Equal(t, 5, cfg.CooldownThreshold)
	assert.Equal(t, 10*time.Minute, cfg.CooldownDuration)
	assert.True(t, cfg.Coalesce)
	assert.Equal(t, cache.FamilyConfig{MaxSize: 50, TTL: 2 * time.Minute}, cfg.Families[cache.FamilyBedInfo])
	assert.Equal(t, 500, cfg.Families[cache.FamilyMessages].MaxSize, "other families keep defaults")
	assert.Equal(t, BackendRedis, cfg.LimiterBackend)
	assert.Equal(t, ratelimit.Rule{Window: 30 * time.Second, MaxRequests: 10}, cfg.DefaultRateLimit)
	assert.Equal(t, 5, cfg.RateLimits["bed-info"].MaxRequests)
	assert.Equal(t, 60, cfg.RateLimits["emergency-messages"].MaxRequests)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Redis.DialTimeout)
	assert.Equal(t, time.Hour, cfg.AlertCooldown)
	assert.Equal(t, "/etc/erboard/orgtypes.yaml", cfg.OrgTypesPath)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := writeFile(t, "log:\n  level: debug\nrate_limit:\n  backend: redis\n")
	cfg, err := load(path, envOf(map[string]string{
		"LOG_LEVEL":          "warn",
		"RATE_LIMIT_BACKEND": "MEMORY",
		"ERMCT_TIMEOUT":      "5s",
		"ERMCT_RPS":          "2.5",
		"CACHE_COALESCE":     "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.LimiterBackend)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 2.5, cfg.Upstream.RPS)
	assert.True(t, cfg.Coalesce)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	cfg, err := load("", envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, middleware.DefaultAllowedOrigins, cfg.AllowedOrigins)
	assert.False(t, cfg.AllowLocalhostOrigins)

	path := writeFile(t, "cors:\n  allowed_origins: [https://a.example]\n  allow_localhost: true\n")
	cfg, err = load(path, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AllowLocalhostOrigins)

	cfg, err = load(path, envOf(map[string]string{
		"CORS_ALLOWED_ORIGINS": "https://b.example, ,https://c.example",
		"CORS_ALLOW_LOCALHOST": "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.AllowLocalhostOrigins)
}

func TestLoad_CredentialSlots(t *testing.T) {
	cfg, err := load("", envOf(map[string]string{
		"ERMCT_API_KEY_BACKUP": "c",
		"ERMCT_API_KEY":        "a",
		"ERMCT_API_KEY_2":      "  ",
		"ERMCT_API_KEY3":       "b",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Credentials, "slot order, blanks dropped")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "bad yaml", file: "log: [unclosed"},
		{name: "bad backend", env: map[string]string{"RATE_LIMIT_BACKEND": "memcached"}},
		{name: "bad duration", env: map[string]string{"ERMCT_TIMEOUT": "soon"}},
		{name: "bad bool", env: map[string]string{"CACHE_COALESCE": "maybe"}},
		{name: "bad family", file: "cache:\n  families:\n    bed-info:\n      max_size: 0\n      ttl: 1m\n"},
		{name: "negative rps", env: map[string]string{"ERMCT_RPS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			_, err := load(path, envOf(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ProcessEnv(t *testing.T) {
	t.Setenv("ERMCT_API_KEY", "from-env")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"from-env"}, cfg.Credentials)
	assert.Equal(t, "error", cfg.LogLevel)
}
