package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextQuotaReset(t *testing.T) {
	t.Run("later today when the hour has not passed", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)

		got := NextQuotaReset(now, "UTC", 3)

		assert.Equal(t, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), got)
	})

	t.Run("tomorrow when the hour has passed", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

		got := NextQuotaReset(now, "UTC", 3)

		assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), got)
	})

	t.Run("exactly at the hour rolls to tomorrow", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

		got := NextQuotaReset(now, "UTC", 3)

		assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), got)
	})

	t.Run("computes in the configured zone and returns UTC", func(t *testing.T) {
		loc, err := time.LoadLocation("America/Los_Angeles")
		require.NoError(t, err)

		// 23:00 Pacific on Jan 5 is 07:00 UTC Jan 6. Midnight Pacific
		// Jan 6 is 08:00 UTC Jan 6.
		now := time.Date(2026, 1, 5, 23, 0, 0, 0, loc)

		got := NextQuotaReset(now, "America/Los_Angeles", 0)

		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC), got)
	})

	t.Run("unknown zone falls back to UTC", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)

		got := NextQuotaReset(now, "Not/AZone", 5)

		assert.Equal(t, time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC), got)
	})

	t.Run("empty zone falls back to UTC", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

		got := NextQuotaReset(now, "", 0)

		assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("result is always in the future", func(t *testing.T) {
		now := time.Now()
		for hour := 0; hour < 24; hour++ {
			got := NextQuotaReset(now, "America/Los_Angeles", hour)
			assert.True(t, got.After(now), "reset hour %d produced %v not after %v", hour, got, now)
		}
	})
}

func TestCoolDownStoresNextReset(t *testing.T) {
	reg := New([]string{"AIzaTest-key-00"}, Options{QuotaResetHour: 3, Timezone: "UTC"}, nil)

	before := time.Now()
	reg.CoolDown("AIzaTest-key-00", "gemini-2.5-pro")

	reg.mu.Lock()
	until, ok := reg.cooldowns[cooldownKey{credential: "AIzaTest-key-00", model: "gemini-2.5-pro"}]
	reg.mu.Unlock()

	require.True(t, ok)
	assert.Equal(t, 3, until.Hour())
	assert.Equal(t, 0, until.Minute())
	assert.Equal(t, time.UTC, until.Location())
	assert.True(t, until.After(before))
	assert.True(t, reg.IsCoolingDown("AIzaTest-key-00", "gemini-2.5-pro"))
}
