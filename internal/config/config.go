// Package config provides configuration loading and parsing for gem-relay.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/omarluq/gem-relay/internal/cache"
	"github.com/omarluq/gem-relay/internal/health"
)

// RuntimeConfig defines the interface for accessing runtime configuration that supports hot-reload.
// Components that need to observe config changes should use this interface instead of
// holding a direct *Config pointer, which would become stale after hot-reload.
//
// Usage pattern:
//
//	func (h *Handler) maxRetries() int {
//		return h.runtime.Get().Keys.GetEffectiveMaxRetries()
//	}
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// DefaultBaseURL is the default upstream endpoint for the Gemini API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Config represents the complete gem-relay configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream"`
	Keys     KeysConfig     `yaml:"keys" toml:"keys"`
	Pool     PoolConfig     `yaml:"pool" toml:"pool"`
	Stream   StreamConfig   `yaml:"stream" toml:"stream"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Cache    cache.Config   `yaml:"cache" toml:"cache"`
}

// ServerConfig defines server-level settings.
type ServerConfig struct {
	Listen        string `yaml:"listen" toml:"listen"`
	AdminToken    string `yaml:"admin_token" toml:"admin_token"`
	TimeoutMS     int    `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxConcurrent int    `yaml:"max_concurrent" toml:"max_concurrent"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
	EnableHTTP2   bool   `yaml:"enable_http2" toml:"enable_http2"` // Enable HTTP/2 cleartext (h2c) support
}

// GetTimeoutOption returns the request timeout as a duration Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetMaxConcurrentOption returns the max concurrent setting as an Option.
// Returns None if MaxConcurrent is zero (unlimited).
func (s *ServerConfig) GetMaxConcurrentOption() mo.Option[int] {
	if s.MaxConcurrent <= 0 {
		return mo.None[int]()
	}
	return mo.Some(s.MaxConcurrent)
}

// GetMaxBodyBytesOption returns the request body size limit as an Option.
// Returns None if MaxBodyBytes is zero (unlimited).
func (s *ServerConfig) GetMaxBodyBytesOption() mo.Option[int64] {
	if s.MaxBodyBytes <= 0 {
		return mo.None[int64]()
	}
	return mo.Some(s.MaxBodyBytes)
}

// IsAdminEnabled returns true if the admin API is reachable (a token is configured).
func (s *ServerConfig) IsAdminEnabled() bool {
	return s.AdminToken != ""
}

// UpstreamConfig defines the upstream Gemini endpoint settings.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url" toml:"base_url"`
	TimeoutMS int           `yaml:"timeout_ms" toml:"timeout_ms"`
	Breaker   health.Config `yaml:"breaker" toml:"breaker"`
}

// GetEffectiveBaseURL returns the upstream base URL with default fallback.
func (u *UpstreamConfig) GetEffectiveBaseURL() string {
	if u.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u.BaseURL, "/")
}

// GetTimeoutOption returns the upstream call timeout as a duration Option.
// Returns None if TimeoutMS is zero (use the HTTP client default).
func (u *UpstreamConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if u.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(u.TimeoutMS) * time.Millisecond)
}

// KeysConfig defines the credential lists and registry behavior.
type KeysConfig struct {
	APIKeys        []string `yaml:"api_keys" toml:"api_keys"`
	VertexAPIKeys  []string `yaml:"vertex_api_keys" toml:"vertex_api_keys"`
	Timezone       string   `yaml:"timezone" toml:"timezone"`
	MaxFailures    int      `yaml:"max_failures" toml:"max_failures"`
	MaxRetries     int      `yaml:"max_retries" toml:"max_retries"`
	QuotaResetHour int      `yaml:"quota_reset_hour" toml:"quota_reset_hour"`
}

// GetEffectiveMaxFailures returns the failure threshold with default fallback.
func (k *KeysConfig) GetEffectiveMaxFailures() int {
	if k.MaxFailures <= 0 {
		return 3
	}
	return k.MaxFailures
}

// GetEffectiveMaxRetries returns the per-request retry budget with default fallback.
func (k *KeysConfig) GetEffectiveMaxRetries() int {
	if k.MaxRetries <= 0 {
		return 3
	}
	return k.MaxRetries
}

// GetEffectiveTimezone returns the IANA zone used for quota-reset cooldowns.
// Gemini quotas reset at midnight Pacific, so that is the default clock.
func (k *KeysConfig) GetEffectiveTimezone() string {
	if k.Timezone == "" {
		return "America/Los_Angeles"
	}
	return k.Timezone
}

// PoolConfig defines valid-key-pool behavior.
type PoolConfig struct {
	ProModels                  []string `yaml:"pro_models" toml:"pro_models"`
	TestModel                  string   `yaml:"test_model" toml:"test_model"`
	Size                       int      `yaml:"size" toml:"size"`
	MinThreshold               int      `yaml:"min_threshold" toml:"min_threshold"`
	EmergencyRefillCount       int      `yaml:"emergency_refill_count" toml:"emergency_refill_count"`
	ConcurrentVerifications    int      `yaml:"concurrent_verifications" toml:"concurrent_verifications"`
	KeyTTLHours                int      `yaml:"key_ttl_hours" toml:"key_ttl_hours"`
	MaintenanceIntervalMinutes int      `yaml:"maintenance_interval_minutes" toml:"maintenance_interval_minutes"`
	ProModelMaxUsage           int      `yaml:"pro_model_max_usage" toml:"pro_model_max_usage"`
	NonProModelMaxUsage        int      `yaml:"non_pro_model_max_usage" toml:"non_pro_model_max_usage"`
	Enabled                    bool     `yaml:"enabled" toml:"enabled"`
}

// GetEffectiveSize returns the pool capacity with default fallback.
func (p *PoolConfig) GetEffectiveSize() int {
	if p.Size <= 0 {
		return 50
	}
	return p.Size
}

// GetEffectiveMinThreshold returns the aggressive-refill threshold with default fallback.
func (p *PoolConfig) GetEffectiveMinThreshold() int {
	if p.MinThreshold <= 0 {
		return 10
	}
	return p.MinThreshold
}

// GetEffectiveEmergencyRefillCount returns the emergency verify fan-out with default fallback.
func (p *PoolConfig) GetEffectiveEmergencyRefillCount() int {
	if p.EmergencyRefillCount <= 0 {
		return 5
	}
	return p.EmergencyRefillCount
}

// GetEffectiveConcurrentVerifications returns the verification semaphore size with default fallback.
func (p *PoolConfig) GetEffectiveConcurrentVerifications() int {
	if p.ConcurrentVerifications <= 0 {
		return 1
	}
	return p.ConcurrentVerifications
}

// GetKeyTTL returns the pooled-key TTL with default fallback (1 hour).
// The pool applies +/-10% jitter on top of this base value.
func (p *PoolConfig) GetKeyTTL() time.Duration {
	if p.KeyTTLHours <= 0 {
		return time.Hour
	}
	return time.Duration(p.KeyTTLHours) * time.Hour
}

// GetMaintenanceInterval returns the scheduled maintenance interval with default fallback.
func (p *PoolConfig) GetMaintenanceInterval() time.Duration {
	if p.MaintenanceIntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.MaintenanceIntervalMinutes) * time.Minute
}

// GetEffectiveProModelMaxUsage returns the per-checkout cap for Pro-class models.
// Negative values mean unlimited and are passed through as-is.
func (p *PoolConfig) GetEffectiveProModelMaxUsage() int {
	if p.ProModelMaxUsage == 0 {
		return 5
	}
	return p.ProModelMaxUsage
}

// GetEffectiveNonProModelMaxUsage returns the per-checkout cap for non-Pro models.
// Negative values mean unlimited and are passed through as-is.
func (p *PoolConfig) GetEffectiveNonProModelMaxUsage() int {
	if p.NonProModelMaxUsage == 0 {
		return 20
	}
	return p.NonProModelMaxUsage
}

// GetEffectiveTestModel returns the model used for key verification probes.
func (p *PoolConfig) GetEffectiveTestModel() string {
	if p.TestModel == "" {
		return "gemini-2.5-flash"
	}
	return p.TestModel
}

// StreamConfig defines stream-retry behavior.
type StreamConfig struct {
	MaxRetries                int  `yaml:"max_retries" toml:"max_retries"`
	RetryDelayMS              int  `yaml:"retry_delay_ms" toml:"retry_delay_ms"`
	SwallowThoughtsAfterRetry bool `yaml:"swallow_thoughts_after_retry" toml:"swallow_thoughts_after_retry"`
}

// GetEffectiveMaxRetries returns the in-band stream retry budget with default fallback.
func (s *StreamConfig) GetEffectiveMaxRetries() int {
	if s.MaxRetries <= 0 {
		return 3
	}
	return s.MaxRetries
}

// GetRetryDelay returns the pause applied after a failed continuation attempt.
func (s *StreamConfig) GetRetryDelay() time.Duration {
	if s.RetryDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"` // enable colored console output
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
