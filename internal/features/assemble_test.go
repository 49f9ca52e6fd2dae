package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qurore/vanbus/internal/models"
	"github.com/qurore/vanbus/internal/roadcond"
	"github.com/qurore/vanbus/internal/weather"
)

func ptr[T any](v T) *T { return &v }

type stubRoad map[string]roadcond.Conditions

func (s stubRoad) Lookup(d models.DelayObservation) (roadcond.Conditions, bool) {
	c, ok := s[d.StopID]
	return c, ok
}

func fullVector(temp float64) weather.Vector {
	var v weather.Vector
	for f := range v {
		v[f] = weather.Value{Float64: float64(f) + 1, Valid: true}
	}
	v[weather.Temperature] = weather.Value{Float64: temp, Valid: true}
	return v
}

func observation(at time.Time) models.DelayObservation {
	return models.DelayObservation{
		RouteID:      "6641",
		StopID:       "S1",
		TripID:       "T1",
		DelaySeconds: ptr(120),
		RecordedAt:   at,
		StopLat:      ptr(49.28),
		StopLon:      ptr(-123.12),
		DirectionID:  ptr(1),
	}
}

func TestColumns(t *testing.T) {
	assert.Equal(t, []string{
		"hour", "day_of_week", "is_weekend", "is_rush_hour",
		"route_short_name", "direction_id", "stop_sequence", "stop_lat", "stop_lon",
		"temperature_c", "humidity_percent", "wind_speed_kmh", "precipitation_mm", "visibility_km",
		"active_incidents", "active_construction", "nearest_event_distance_km",
	}, Columns)
	assert.Equal(t, "delay_seconds", Header()[len(Header())-1])
}

func TestAssemble_FullRow(t *testing.T) {
	// 2026-02-01 is a Sunday.
	d := observation(time.Date(2026, 2, 1, 8, 15, 0, 0, time.UTC))
	static := models.NewStaticAttributes()
	static.RouteShortNames["6641"] = "130"
	static.StopSequences[models.TripStop{TripID: "T1", StopID: "S1"}] = 7

	m, rep := Assemble(Input{
		Delays:  []models.DelayObservation{d},
		Weather: []weather.Vector{fullVector(5.0)},
		Road:    stubRoad{"S1": {ActiveIncidents: 1, NearestEventDistanceKm: 2.0}},
		Static:  static,
	})

	require.Len(t, m.Rows, 1)
	row := m.Rows[0]
	assert.Equal(t, 8, row.Hour)
	assert.Equal(t, 6, row.DayOfWeek)
	assert.Equal(t, 1, row.IsWeekend)
	assert.Equal(t, 1, row.IsRushHour)
	assert.Equal(t, "130", row.RouteShortName)
	assert.Equal(t, 1, row.DirectionID)
	assert.Equal(t, 7, row.StopSequence)
	assert.Equal(t, 5.0, row.Weather[weather.Temperature])
	assert.Equal(t, 1, row.ActiveIncidents)
	assert.Equal(t, 0, row.ActiveConstruction)
	assert.Equal(t, 2.0, row.NearestEventDistanceKm)
	assert.Equal(t, 120, row.DelaySeconds)

	assert.Equal(t, 1, rep.OutputRows)
	assert.Empty(t, rep.Dropped)
	assert.Empty(t, rep.Defaulted)

	rec := row.Record()
	require.Len(t, rec, len(Header()))
	assert.Equal(t, []string{"8", "6", "1", "1", "130", "1", "7", "49.28", "-123.12", "5", "2", "3", "4", "5", "1", "0", "2", "120"}, rec)
}

func TestAssemble_DropsIncompleteRows(t *testing.T) {
	at := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	noDelay := observation(at)
	noDelay.DelaySeconds = nil
	noTime := observation(time.Time{})
	noCoords := observation(at)
	noCoords.StopLon = nil

	delays := []models.DelayObservation{observation(at), noDelay, noTime, noCoords}
	m, rep := Assemble(Input{Delays: delays, Road: stubRoad{}})

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 4, rep.InputRows)
	assert.Equal(t, 1, rep.OutputRows)
	assert.Equal(t, 3, rep.DroppedTotal())
	assert.Equal(t, map[DropReason]int{
		DroppedMissingDelay:       1,
		DroppedMissingTimestamp:   1,
		DroppedMissingCoordinates: 1,
	}, rep.Dropped)
	assert.LessOrEqual(t, rep.OutputRows, rep.InputRows)
}

func TestAssemble_NonFiniteCoordinatesDropped(t *testing.T) {
	at := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	infLat := observation(at)
	infLat.StopLat = ptr(math.Inf(-1))
	nanLon := observation(at)
	nanLon.StopLon = ptr(math.NaN())

	m, rep := Assemble(Input{Delays: []models.DelayObservation{infLat, nanLon, observation(at)}, Road: stubRoad{}})
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, map[DropReason]int{DroppedMissingCoordinates: 2}, rep.Dropped)
}

func TestAssemble_DefaultsAreZeroAndCounted(t *testing.T) {
	d := observation(time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC))
	d.DirectionID = nil

	m, rep := Assemble(Input{Delays: []models.DelayObservation{d}})
	require.Len(t, m.Rows, 1)
	row := m.Rows[0]

	assert.Equal(t, "6641", row.RouteShortName, "falls back to the route id")
	assert.Equal(t, 0, row.DirectionID)
	assert.Equal(t, 0, row.StopSequence)
	assert.Equal(t, [weather.NumFields]float64{}, row.Weather)
	assert.Equal(t, 0.0, row.NearestEventDistanceKm)

	for _, col := range []string{
		ColDirectionID, ColStopSequence,
		"temperature_c", "humidity_percent", "wind_speed_kmh", "precipitation_mm", "visibility_km",
		ColActiveIncidents, ColActiveConstruction, ColNearestEventDistanceKm,
	} {
		assert.Equal(t, 1, rep.Defaulted[col], col)
	}
	assert.NotContains(t, rep.Defaulted, ColRouteShortName)
}

func TestAssemble_TimeFeatures(t *testing.T) {
	tests := []struct {
		name    string
		at      time.Time
		loc     *time.Location
		hour    int
		dow     int
		weekend int
		rush    int
	}{
		{"monday morning rush", time.Date(2026, 2, 2, 7, 0, 0, 0, time.UTC), nil, 7, 0, 0, 1},
		{"end of morning window inclusive", time.Date(2026, 2, 2, 9, 59, 0, 0, time.UTC), nil, 9, 0, 0, 1},
		{"midday", time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC), nil, 12, 1, 0, 0},
		{"evening rush friday", time.Date(2026, 2, 6, 18, 0, 0, 0, time.UTC), nil, 18, 4, 0, 1},
		{"saturday night", time.Date(2026, 2, 7, 19, 0, 0, 0, time.UTC), nil, 19, 5, 1, 0},
		{"fixed zone shifts hour and day", time.Date(2026, 2, 3, 3, 0, 0, 0, time.UTC), time.FixedZone("PST", -8*3600), 19, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := Assemble(Input{Delays: []models.DelayObservation{observation(tt.at)}, Location: tt.loc})
			require.Len(t, m.Rows, 1)
			r := m.Rows[0]
			assert.Equal(t, tt.hour, r.Hour)
			assert.Equal(t, tt.dow, r.DayOfWeek)
			assert.Equal(t, tt.weekend, r.IsWeekend)
			assert.Equal(t, tt.rush, r.IsRushHour)
		})
	}
}

func TestAssemble_CustomRushHours(t *testing.T) {
	d := observation(time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC))
	m, _ := Assemble(Input{
		Delays:    []models.DelayObservation{d},
		RushHours: []RushHourWindow{{Start: 10, End: 11}},
	})
	assert.Equal(t, 0, m.Rows[0].IsRushHour)
}
