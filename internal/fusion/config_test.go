package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qurore/vanbus/internal/features"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Minute, cfg.WeatherBucket)
	assert.Equal(t, time.Hour, cfg.EventBucket)
	assert.Equal(t, 5.0, cfg.RadiusKm)
	assert.Equal(t, 50.0, cfg.NoEventDistanceKm)
	assert.Equal(t, features.DefaultRushHours(), cfg.RushHours)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero weather bucket", func(c *Config) { c.WeatherBucket = 0 }},
		{"sub-second event bucket", func(c *Config) { c.EventBucket = 500 * time.Millisecond }},
		{"fractional bucket", func(c *Config) { c.WeatherBucket = 1500 * time.Millisecond }},
		{"zero radius", func(c *Config) { c.RadiusKm = 0 }},
		{"negative default distance", func(c *Config) { c.NoEventDistanceKm = -1 }},
		{"unknown policy", func(c *Config) { c.Policy = "weekly" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"rush hour out of range", func(c *Config) { c.RushHours = []features.RushHourWindow{{Start: 7, End: 24}} }},
		{"rush hour reversed", func(c *Config) { c.RushHours = []features.RushHourWindow{{Start: 9, End: 7}} }},
		{"unknown time zone", func(c *Config) { c.TimeZone = "Not/AZone" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := New(cfg, nil, nil)
			assert.Error(t, err)
		})
	}
}
