// Package features assembles the final feature matrix: time features, route
// and stop attributes, the aligned weather vector and the road-condition
// triple, one row per usable delay observation.
package features

import (
	"time"

	"github.com/qurore/vanbus/internal/geo"
	"github.com/qurore/vanbus/internal/models"
	"github.com/qurore/vanbus/internal/roadcond"
	"github.com/qurore/vanbus/internal/weather"
)

// DropReason explains why a delay observation produced no row.
type DropReason string

const (
	DroppedMissingDelay       DropReason = "missing_delay"
	DroppedMissingTimestamp   DropReason = "missing_timestamp"
	DroppedMissingCoordinates DropReason = "missing_coordinates"
)

// RushHourWindow is an inclusive range of hours of the day.
type RushHourWindow struct {
	Start int `yaml:"start" validate:"gte=0,lte=23"`
	End   int `yaml:"end" validate:"gte=0,lte=23,gtefield=Start"`
}

// DefaultRushHours returns the 07-09 and 16-18 windows.
func DefaultRushHours() []RushHourWindow {
	return []RushHourWindow{{Start: 7, End: 9}, {Start: 16, End: 18}}
}

// RoadLookup resolves the road conditions of an observation.
type RoadLookup interface {
	Lookup(d models.DelayObservation) (roadcond.Conditions, bool)
}

// Input collects everything merged into the matrix. Weather, when set, is
// aligned index for index with Delays. Road and Static may be nil.
type Input struct {
	Delays    []models.DelayObservation
	Weather   []weather.Vector
	Road      RoadLookup
	Static    *models.StaticAttributes
	Location  *time.Location
	RushHours []RushHourWindow
}

// Report is the completeness summary of one assembly.
type Report struct {
	InputRows  int                `json:"input_rows"`
	OutputRows int                `json:"output_rows"`
	Dropped    map[DropReason]int `json:"dropped"`
	// Defaulted counts, per column, rows where no value was available and
	// the neutral zero was written instead.
	Defaulted map[string]int `json:"defaulted"`
}

// DroppedTotal is the number of rows dropped for any reason.
func (r Report) DroppedTotal() int {
	n := 0
	for _, v := range r.Dropped {
		n += v
	}
	return n
}

func dropReason(d models.DelayObservation) (DropReason, bool) {
	switch {
	case d.DelaySeconds == nil:
		return DroppedMissingDelay, true
	case !d.HasTimestamp():
		return DroppedMissingTimestamp, true
	case !d.HasCoordinates() || !geo.ValidCoordinate(*d.StopLat, *d.StopLon):
		return DroppedMissingCoordinates, true
	}
	return "", false
}

// Assemble builds the matrix. It never fails: unusable rows are dropped and
// missing values default to zero, both counted in the report.
func Assemble(in Input) (Matrix, Report) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	rush := in.RushHours
	if rush == nil {
		rush = DefaultRushHours()
	}

	rep := Report{
		InputRows: len(in.Delays),
		Dropped:   make(map[DropReason]int),
		Defaulted: make(map[string]int),
	}
	m := Matrix{Columns: Header(), Rows: make([]Row, 0, len(in.Delays))}

	for i, d := range in.Delays {
		if reason, drop := dropReason(d); drop {
			rep.Dropped[reason]++
			continue
		}

		local := d.RecordedAt.In(loc)
		row := Row{
			Hour:         local.Hour(),
			DayOfWeek:    (int(local.Weekday()) + 6) % 7,
			IsWeekend:    boolInt(local.Weekday() == time.Saturday || local.Weekday() == time.Sunday),
			IsRushHour:   boolInt(inRushHour(local.Hour(), rush)),
			StopLat:      *d.StopLat,
			StopLon:      *d.StopLon,
			DelaySeconds: *d.DelaySeconds,
		}

		row.RouteShortName = routeShortName(d, in.Static)
		if row.RouteShortName == "" {
			rep.Defaulted[ColRouteShortName]++
		}
		if d.DirectionID != nil {
			row.DirectionID = *d.DirectionID
		} else {
			rep.Defaulted[ColDirectionID]++
		}
		if seq, ok := in.Static.StopSequence(d.TripID, d.StopID); ok {
			row.StopSequence = seq
		} else {
			rep.Defaulted[ColStopSequence]++
		}

		var wv weather.Vector
		if i < len(in.Weather) {
			wv = in.Weather[i]
		}
		for f := range wv {
			if wv[f].Valid {
				row.Weather[f] = wv[f].Float64
			} else {
				rep.Defaulted[weather.Field(f).Column()]++
			}
		}

		var c roadcond.Conditions
		found := false
		if in.Road != nil {
			c, found = in.Road.Lookup(d)
		}
		if found {
			row.ActiveIncidents = c.ActiveIncidents
			row.ActiveConstruction = c.ActiveConstruction
			row.NearestEventDistanceKm = c.NearestEventDistanceKm
		} else {
			rep.Defaulted[ColActiveIncidents]++
			rep.Defaulted[ColActiveConstruction]++
			rep.Defaulted[ColNearestEventDistanceKm]++
		}

		m.Rows = append(m.Rows, row)
	}

	rep.OutputRows = len(m.Rows)
	return m, rep
}

// routeShortName prefers the observation's own value, then the static
// lookup, then the raw route id.
func routeShortName(d models.DelayObservation, static *models.StaticAttributes) string {
	if d.RouteShortName != "" {
		return d.RouteShortName
	}
	if name, ok := static.RouteShortName(d.RouteID); ok {
		return name
	}
	return d.RouteID
}

func inRushHour(hour int, windows []RushHourWindow) bool {
	for _, w := range windows {
		if hour >= w.Start && hour <= w.End {
			return true
		}
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
