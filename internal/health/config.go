package health

import "time"

// Default circuit breaker settings, applied when config values are zero or negative.
const (
	DefaultFailureThreshold = 5
	DefaultOpenDurationMS   = 30000
	DefaultHalfOpenProbes   = 3
)

// Config defines circuit breaker settings for the upstream Gemini host.
type Config struct {
	FailureThreshold int `yaml:"failure_threshold" toml:"failure_threshold"`
	OpenDurationMS   int `yaml:"open_duration_ms" toml:"open_duration_ms"`
	HalfOpenProbes   int `yaml:"half_open_probes" toml:"half_open_probes"`
}

// GetFailureThreshold returns the consecutive failure count that opens the circuit.
func (c Config) GetFailureThreshold() uint32 {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return uint32(c.FailureThreshold) //nolint:gosec // validated positive above
}

// GetOpenDuration returns how long the circuit stays open before allowing probes.
func (c Config) GetOpenDuration() time.Duration {
	if c.OpenDurationMS <= 0 {
		return DefaultOpenDurationMS * time.Millisecond
	}
	return time.Duration(c.OpenDurationMS) * time.Millisecond
}

// GetHalfOpenProbes returns the number of probe requests allowed in half-open state.
func (c Config) GetHalfOpenProbes() uint32 {
	if c.HalfOpenProbes <= 0 {
		return DefaultHalfOpenProbes
	}
	return uint32(c.HalfOpenProbes) //nolint:gosec // validated positive above
}
