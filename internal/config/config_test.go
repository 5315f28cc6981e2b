package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "Africa/Nairobi", cfg.Timezone)
	assert.Equal(t, "0 6,9,12,18 * * *", cfg.DeliveryCron)
	assert.Equal(t, 5.0, cfg.DailyCost)
	assert.Equal(t, 30.0, cfg.WeeklyCost)
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
	assert.Equal(t, 100*time.Millisecond, cfg.SendDelay)
	assert.Equal(t, 182, cfg.USSDMaxLength)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("SCHEDULER_WORKERS", "0")
	t.Setenv("WEEKLY_SUBSCRIPTION_COST", "25")
	t.Setenv("TRANSPORT_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 25.0, cfg.CycleCost("weekly"))
	assert.Equal(t, 5.0, cfg.CycleCost("daily"))
	assert.Equal(t, 3*time.Second, cfg.TransportTimeout)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.Error(t, err)
}
