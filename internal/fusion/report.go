package fusion

import (
	"time"

	"github.com/qurore/vanbus/internal/features"
	"github.com/qurore/vanbus/internal/roadevents"
)

// Phase names reported to observers and logs.
const (
	PhaseWeather        = "weather"
	PhaseRoadConditions = "road_conditions"
	PhaseAssemble       = "assemble"
)

// Report is the completeness report of one run. It is a side channel and
// never part of the matrix.
type Report struct {
	RunID     string            `json:"run_id"`
	StartedAt time.Time         `json:"started_at"`
	Now       time.Time         `json:"now"`
	Duration  time.Duration     `json:"duration"`
	Policy    roadevents.Policy `json:"policy"`

	InputDelays     int `json:"input_delays"`
	InputWeather    int `json:"input_weather"`
	InputRoadEvents int `json:"input_road_events"`
	OutputRows      int `json:"output_rows"`

	DroppedRows     map[features.DropReason]int         `json:"dropped_rows"`
	DefaultedFields map[string]int                      `json:"defaulted_fields"`
	ExcludedEvents  map[roadevents.ExclusionReason]int `json:"excluded_events"`

	ValidEvents       int `json:"valid_events"`
	RoadKeys          int `json:"road_keys"`
	CoordinatesFilled int `json:"coordinates_filled"`

	WeatherBuckets    int `json:"weather_buckets"`
	WeatherSkipped    int `json:"weather_skipped"`
	WeatherFilledRows int `json:"weather_filled_rows"`

	WeatherDatasetEmpty bool `json:"weather_dataset_empty"`
	RoadEventsEmpty     bool `json:"road_events_empty"`

	DelayMean   float64 `json:"delay_mean"`
	DelayStdDev float64 `json:"delay_std_dev"`

	PhaseDurations map[string]time.Duration `json:"phase_durations"`
}

// DroppedTotal is the number of delay observations that produced no row.
func (r *Report) DroppedTotal() int {
	n := 0
	for _, v := range r.DroppedRows {
		n += v
	}
	return n
}

// ExcludedTotal is the number of road events left out of resolution.
func (r *Report) ExcludedTotal() int {
	n := 0
	for _, v := range r.ExcludedEvents {
		n += v
	}
	return n
}
