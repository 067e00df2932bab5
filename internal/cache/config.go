package cache

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects the cache backend.
type Mode string

const (
	// ModeSingle uses the local Ristretto cache. Right for a single
	// relay instance.
	ModeSingle Mode = "single"

	// ModeHA uses the distributed Olric cache so a relay cluster shares
	// one view of cached data.
	ModeHA Mode = "ha"

	// ModeDisabled turns caching off entirely.
	ModeDisabled Mode = "disabled"
)

// Config defines cache configuration. Validate before use.
type Config struct {
	Mode      Mode            `yaml:"mode" toml:"mode"`
	Olric     OlricConfig     `yaml:"olric" toml:"olric"`
	Ristretto RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
}

// RistrettoConfig configures the local in-memory backend.
type RistrettoConfig struct {
	// NumCounters is the number of 4-bit access counters. Use roughly
	// 10x the expected item count.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost is the cache capacity in bytes of stored values.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	// BufferItems is the admission buffer size per Get. 64 is the
	// recommended value.
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// OlricConfig configures the distributed backend. With Embedded set the
// relay runs its own Olric node and joins Peers; otherwise it connects as
// a client to Addresses.
type OlricConfig struct {
	DMapName          string        `yaml:"dmap_name" toml:"dmap_name"`
	BindAddr          string        `yaml:"bind_addr" toml:"bind_addr"`
	Environment       string        `yaml:"environment" toml:"environment"`
	Addresses         []string      `yaml:"addresses" toml:"addresses"`
	Peers             []string      `yaml:"peers" toml:"peers"`
	ReplicaCount      int           `yaml:"replica_count" toml:"replica_count"`
	ReadQuorum        int           `yaml:"read_quorum" toml:"read_quorum"`
	WriteQuorum       int           `yaml:"write_quorum" toml:"write_quorum"`
	LeaveTimeout      time.Duration `yaml:"leave_timeout" toml:"leave_timeout"`
	MemberCountQuorum int32         `yaml:"member_count_quorum" toml:"member_count_quorum"`
	Embedded          bool          `yaml:"embedded" toml:"embedded"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if c.Ristretto.MaxCost <= 0 {
			return errors.New("cache: ristretto.max_cost must be positive")
		}
		if c.Ristretto.NumCounters <= 0 {
			return errors.New("cache: ristretto.num_counters must be positive")
		}
	case ModeHA:
		if !c.Olric.Embedded && len(c.Olric.Addresses) == 0 {
			return errors.New("cache: olric.addresses required when not embedded")
		}
		if c.Olric.Embedded && c.Olric.BindAddr == "" {
			return errors.New("cache: olric.bind_addr required when embedded")
		}
	case ModeDisabled:
	case "":
		return errors.New("cache: mode is required")
	default:
		return fmt.Errorf("cache: unknown mode %q", c.Mode)
	}
	return nil
}

// DefaultRistrettoConfig returns defaults sized for roughly 100K items
// and 100 MB of cached values.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1_000_000,
		MaxCost:     100 << 20,
		BufferItems: 64,
	}
}

// DefaultOlricConfig returns an OlricConfig with the relay's DMap name.
func DefaultOlricConfig() OlricConfig {
	return OlricConfig{
		DMapName: "gem-relay",
	}
}
