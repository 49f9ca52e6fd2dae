package features

import (
	"strconv"

	"github.com/qurore/vanbus/internal/weather"
)

const (
	ColHour                   = "hour"
	ColDayOfWeek              = "day_of_week"
	ColIsWeekend              = "is_weekend"
	ColIsRushHour             = "is_rush_hour"
	ColRouteShortName         = "route_short_name"
	ColDirectionID            = "direction_id"
	ColStopSequence           = "stop_sequence"
	ColStopLat                = "stop_lat"
	ColStopLon                = "stop_lon"
	ColActiveIncidents        = "active_incidents"
	ColActiveConstruction     = "active_construction"
	ColNearestEventDistanceKm = "nearest_event_distance_km"

	// TargetColumn is the regression target, written after the features.
	TargetColumn = "delay_seconds"
)

// Columns lists the feature columns in output order.
var Columns = []string{
	ColHour,
	ColDayOfWeek,
	ColIsWeekend,
	ColIsRushHour,
	ColRouteShortName,
	ColDirectionID,
	ColStopSequence,
	ColStopLat,
	ColStopLon,
	weather.Temperature.Column(),
	weather.Humidity.Column(),
	weather.WindSpeed.Column(),
	weather.Precipitation.Column(),
	weather.Visibility.Column(),
	ColActiveIncidents,
	ColActiveConstruction,
	ColNearestEventDistanceKm,
}

// Header returns the feature columns followed by the target.
func Header() []string {
	h := make([]string, 0, len(Columns)+1)
	h = append(h, Columns...)
	return append(h, TargetColumn)
}

// Row is one assembled feature vector plus its target.
type Row struct {
	Hour       int `json:"hour"`
	DayOfWeek  int `json:"day_of_week"`
	IsWeekend  int `json:"is_weekend"`
	IsRushHour int `json:"is_rush_hour"`

	RouteShortName string  `json:"route_short_name"`
	DirectionID    int     `json:"direction_id"`
	StopSequence   int     `json:"stop_sequence"`
	StopLat        float64 `json:"stop_lat"`
	StopLon        float64 `json:"stop_lon"`

	Weather [weather.NumFields]float64 `json:"weather"`

	ActiveIncidents        int     `json:"active_incidents"`
	ActiveConstruction     int     `json:"active_construction"`
	NearestEventDistanceKm float64 `json:"nearest_event_distance_km"`

	DelaySeconds int `json:"delay_seconds"`
}

// Record formats r in Header order.
func (r Row) Record() []string {
	rec := make([]string, 0, len(Columns)+1)
	rec = append(rec,
		strconv.Itoa(r.Hour),
		strconv.Itoa(r.DayOfWeek),
		strconv.Itoa(r.IsWeekend),
		strconv.Itoa(r.IsRushHour),
		r.RouteShortName,
		strconv.Itoa(r.DirectionID),
		strconv.Itoa(r.StopSequence),
		formatFloat(r.StopLat),
		formatFloat(r.StopLon),
	)
	for _, v := range r.Weather {
		rec = append(rec, formatFloat(v))
	}
	return append(rec,
		strconv.Itoa(r.ActiveIncidents),
		strconv.Itoa(r.ActiveConstruction),
		formatFloat(r.NearestEventDistanceKm),
		strconv.Itoa(r.DelaySeconds),
	)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Matrix is the fusion output.
type Matrix struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (m Matrix) Len() int { return len(m.Rows) }
