package fusion

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/qurore/vanbus/internal/features"
	"github.com/qurore/vanbus/internal/roadevents"
)

// Config carries every tunable constant of a fusion run.
type Config struct {
	// WeatherBucket is the width weather reports are averaged over.
	WeatherBucket time.Duration `yaml:"weather_bucket" validate:"gte=1s"`
	// EventBucket is the width observations are batched by under the hourly
	// road-event policy.
	EventBucket time.Duration `yaml:"event_bucket" validate:"gte=1s"`

	RadiusKm          float64 `yaml:"radius_km" validate:"gt=0"`
	NoEventDistanceKm float64 `yaml:"no_event_distance_km" validate:"gte=0"`

	RushHours []features.RushHourWindow `yaml:"rush_hours" validate:"dive"`

	Policy roadevents.Policy `yaml:"policy" validate:"oneof=aggregated fine_grained hourly"`

	// Workers bounds the road-condition phase; zero uses every CPU.
	Workers int `yaml:"workers" validate:"gte=0"`

	// TimeZone is the IANA zone time features are computed in. Empty means
	// UTC.
	TimeZone string `yaml:"time_zone"`
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		WeatherBucket:     10 * time.Minute,
		EventBucket:       time.Hour,
		RadiusKm:          5,
		NoEventDistanceKm: 50,
		RushHours:         features.DefaultRushHours(),
		Policy:            roadevents.PolicyAggregated,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the time zone resolves.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid fusion config: %w", err)
	}
	if c.WeatherBucket%time.Second != 0 || c.EventBucket%time.Second != 0 {
		return fmt.Errorf("invalid fusion config: bucket widths must be whole seconds")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid fusion config: %w", err)
	}
	return nil
}

// Location resolves TimeZone.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
