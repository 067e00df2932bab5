package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError collects every problem found in one validation pass so a
// bad config is reported in full instead of one field at a time.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("config validation failed: %s", e.Errors[0])
	}
	return fmt.Sprintf("config validation failed with %d errors:\n  - %s",
		len(e.Errors), strings.Join(e.Errors, "\n  - "))
}

// Add appends an error message to the validation errors.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf appends a formatted error message to the validation errors.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns the ValidationError as an error if there are errors, otherwise nil.
func (e *ValidationError) ToError() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Validate checks the configuration for errors.
// It validates all required fields, valid values, and cross-field constraints.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateKeys(c, errs)
	validatePool(c, errs)
	validateStream(c, errs)
	validateLogging(c, errs)

	return errs.ToError()
}

// validateServer validates the server configuration section.
func validateServer(c *Config, errs *ValidationError) {
	if c.Server.Listen == "" {
		errs.Add("server.listen is required")
	} else {
		validateListenAddress(c.Server.Listen, errs)
	}

	if c.Server.TimeoutMS < 0 {
		errs.Add("server.timeout_ms must be >= 0")
	}
	if c.Server.MaxConcurrent < 0 {
		errs.Add("server.max_concurrent must be >= 0")
	}
	if c.Server.MaxBodyBytes < 0 {
		errs.Add("server.max_body_bytes must be >= 0")
	}
	if c.Upstream.TimeoutMS < 0 {
		errs.Add("upstream.timeout_ms must be >= 0")
	}
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}

	// Host can be empty (listen on all interfaces) or a valid IP/hostname
	if host != "" {
		if ip := net.ParseIP(host); ip == nil {
			if strings.ContainsAny(host, " \t\n") {
				errs.Add("server.listen host contains invalid characters")
			}
		}
	}

	// Port must be present (SplitHostPort doesn't validate this)
	if port == "" {
		errs.Add("server.listen port is required")
	}
}

// validateKeys validates the credential and registry configuration section.
func validateKeys(c *Config, errs *ValidationError) {
	seen := make(map[string]bool)
	for i, key := range c.Keys.APIKeys {
		if key == "" {
			errs.Addf("keys.api_keys[%d] is empty", i)
			continue
		}
		if seen[key] {
			errs.Addf("keys.api_keys[%d] is a duplicate", i)
		}
		seen[key] = true
	}

	if c.Keys.MaxFailures < 0 {
		errs.Add("keys.max_failures must be >= 0")
	}
	if c.Keys.MaxRetries < 0 {
		errs.Add("keys.max_retries must be >= 0")
	}
	if c.Keys.QuotaResetHour < 0 || c.Keys.QuotaResetHour > 23 {
		errs.Addf("keys.quota_reset_hour must be 0-23 (got %d)", c.Keys.QuotaResetHour)
	}
	if c.Keys.Timezone != "" {
		if _, err := time.LoadLocation(c.Keys.Timezone); err != nil {
			errs.Addf("keys.timezone is not a valid IANA zone (got %q)", c.Keys.Timezone)
		}
	}
}

// validatePool validates the valid-key-pool configuration section.
func validatePool(c *Config, errs *ValidationError) {
	p := &c.Pool

	if p.Size < 0 {
		errs.Add("pool.size must be >= 0")
	}
	if p.MinThreshold < 0 {
		errs.Add("pool.min_threshold must be >= 0")
	}
	if p.EmergencyRefillCount < 0 {
		errs.Add("pool.emergency_refill_count must be >= 0")
	}
	if p.ConcurrentVerifications < 0 {
		errs.Add("pool.concurrent_verifications must be >= 0")
	}
	if p.KeyTTLHours < 0 {
		errs.Add("pool.key_ttl_hours must be >= 0")
	}
	if p.MaintenanceIntervalMinutes < 0 {
		errs.Add("pool.maintenance_interval_minutes must be >= 0")
	}
	if p.Enabled && len(c.Keys.APIKeys) == 0 {
		errs.Add("pool.enabled requires keys.api_keys to be non-empty")
	}
}

// validateStream validates the stream-retry configuration section.
func validateStream(c *Config, errs *ValidationError) {
	if c.Stream.MaxRetries < 0 {
		errs.Add("stream.max_retries must be >= 0")
	}
	if c.Stream.RetryDelayMS < 0 {
		errs.Add("stream.retry_delay_ms must be >= 0")
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}

	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)",
			c.Logging.Format)
	}
}
