package fusiondb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qurore/vanbus/internal/fusion"
	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/models"
)

// Trip is a schedule trip row used to resolve the direction of a delay.
type Trip struct {
	ID          string
	RouteID     string
	DirectionID *int
}

const delaysQuery = `
SELECT
    bd.route_id,
    COALESCE(r.route_short_name, bd.route_short_name, ''),
    COALESCE(bd.stop_id, ''),
    COALESCE(bd.trip_id, ''),
    COALESCE(bd.vehicle_id, ''),
    bd.delay_seconds,
    bd.recorded_at,
    COALESCE(bd.stop_lat, s.stop_lat),
    COALESCE(bd.stop_lon, s.stop_lon),
    COALESCE(bd.direction_id, t.direction_id)
FROM bus_delays bd
LEFT JOIN routes r ON r.route_id = bd.route_id
LEFT JOIN stops s ON s.stop_id = bd.stop_id
LEFT JOIN trips t ON t.trip_id = bd.trip_id
WHERE bd.route_id IS NOT NULL`

// LoadDelays reads delay observations joined with the schedule tables.
// Stop coordinates and direction fall back to the stop and trip rows when
// the delay row has none.
func (c *Client) LoadDelays(ctx context.Context, filter models.DelayFilter) ([]models.DelayObservation, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(delaysQuery)
	if len(filter.RouteShortNames) > 0 {
		query.WriteString("\n  AND COALESCE(r.route_short_name, bd.route_short_name) IN (")
		query.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(filter.RouteShortNames)), ", "))
		query.WriteString(")")
		for _, name := range filter.RouteShortNames {
			args = append(args, name)
		}
	}
	if !filter.Since.IsZero() {
		query.WriteString("\n  AND bd.recorded_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	query.WriteString("\nORDER BY bd.id")

	rows, err := c.DB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bus delays: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "bus_delays_rows")

	var out []models.DelayObservation
	for rows.Next() {
		var (
			d          models.DelayObservation
			delay      sql.NullInt64
			recordedAt sql.NullString
			lat, lon   sql.NullFloat64
			direction  sql.NullInt64
		)
		if err := rows.Scan(&d.RouteID, &d.RouteShortName, &d.StopID, &d.TripID, &d.VehicleID,
			&delay, &recordedAt, &lat, &lon, &direction); err != nil {
			return nil, fmt.Errorf("failed to scan bus delay: %w", err)
		}
		if recordedAt.Valid && recordedAt.String != "" {
			t, err := parseTime(recordedAt.String)
			if err != nil {
				return nil, fmt.Errorf("bus delay recorded_at: %w", err)
			}
			d.RecordedAt = t
		}
		d.DelaySeconds = nullIntPtr(delay)
		d.StopLat = nullFloatPtr(lat)
		d.StopLon = nullFloatPtr(lon)
		d.DirectionID = nullIntPtr(direction)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.LogOperation(c.logger, "bus_delays_loaded",
		slog.Int("count", len(out)),
		slog.Int("route_filter", len(filter.RouteShortNames)))
	return out, nil
}

// LoadWeather reads weather observations recorded at or after since. A
// zero since loads every row.
func (c *Client) LoadWeather(ctx context.Context, since time.Time) ([]models.WeatherObservation, error) {
	query := `
SELECT COALESCE(station_id, ''), recorded_at, lat, lon,
       temperature_c, humidity_percent, wind_speed_kmh, precipitation_mm, visibility_km
FROM weather
WHERE recorded_at IS NOT NULL`
	var args []any
	if !since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, formatTime(since))
	}
	query += " ORDER BY recorded_at, id"

	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query weather: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "weather_rows")

	var out []models.WeatherObservation
	for rows.Next() {
		var (
			w                                        models.WeatherObservation
			recordedAt                               string
			lat, lon                                 sql.NullFloat64
			temp, humidity, wind, precip, visibility sql.NullFloat64
		)
		if err := rows.Scan(&w.StationID, &recordedAt, &lat, &lon,
			&temp, &humidity, &wind, &precip, &visibility); err != nil {
			return nil, fmt.Errorf("failed to scan weather: %w", err)
		}
		if w.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("weather recorded_at: %w", err)
		}
		w.Lat = nullFloatPtr(lat)
		w.Lon = nullFloatPtr(lon)
		w.TemperatureC = nullFloatPtr(temp)
		w.HumidityPercent = nullFloatPtr(humidity)
		w.WindSpeedKmh = nullFloatPtr(wind)
		w.PrecipitationMm = nullFloatPtr(precip)
		w.VisibilityKm = nullFloatPtr(visibility)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.LogOperation(c.logger, "weather_loaded", slog.Int("count", len(out)))
	return out, nil
}

// LoadRoadEvents reads every stored road event. Rows without a location or
// timestamps are returned as-is; the resolver decides whether they are
// usable and counts the exclusions.
func (c *Client) LoadRoadEvents(ctx context.Context) ([]models.RoadEvent, error) {
	rows, err := c.DB.QueryContext(ctx, `
SELECT event_id, COALESCE(event_type, ''), COALESCE(severity, ''), COALESCE(status, ''),
       lat, lon, created_at, updated_at
FROM road_conditions
ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query road conditions: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "road_conditions_rows")

	var out []models.RoadEvent
	for rows.Next() {
		var (
			e                 models.RoadEvent
			eventType, status string
			lat, lon          sql.NullFloat64
			created, updated  sql.NullString
		)
		if err := rows.Scan(&e.EventID, &eventType, &e.Severity, &status,
			&lat, &lon, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan road condition: %w", err)
		}
		e.Type = models.ParseEventType(eventType)
		e.Status = models.ParseEventStatus(status)
		e.Lat = nullFloatPtr(lat)
		e.Lon = nullFloatPtr(lon)
		if e.CreatedAt, err = optionalTime(created); err != nil {
			return nil, fmt.Errorf("road condition %s created_at: %w", e.EventID, err)
		}
		if e.UpdatedAt, err = optionalTime(updated); err != nil {
			return nil, fmt.Errorf("road condition %s updated_at: %w", e.EventID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.LogOperation(c.logger, "road_conditions_loaded", slog.Int("count", len(out)))
	return out, nil
}

func optionalTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadStaticAttributes builds the schedule lookups from the routes, stops
// and stop_times tables. The lowest sequence wins when a trip visits a stop
// twice.
func (c *Client) LoadStaticAttributes(ctx context.Context) (*models.StaticAttributes, error) {
	attrs := models.NewStaticAttributes()

	routes, err := c.DB.QueryContext(ctx, `SELECT route_id, COALESCE(route_short_name, '') FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer logging.SafeCloseWithLogging(routes, c.logger, "routes_rows")
	for routes.Next() {
		var id, name string
		if err := routes.Scan(&id, &name); err != nil {
			return nil, err
		}
		attrs.RouteShortNames[id] = name
	}
	if err := routes.Err(); err != nil {
		return nil, err
	}

	stops, err := c.DB.QueryContext(ctx, `SELECT stop_id, stop_lat, stop_lon FROM stops
WHERE stop_lat IS NOT NULL AND stop_lon IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer logging.SafeCloseWithLogging(stops, c.logger, "stops_rows")
	for stops.Next() {
		var (
			id string
			co models.Coordinate
		)
		if err := stops.Scan(&id, &co.Lat, &co.Lon); err != nil {
			return nil, err
		}
		attrs.StopCoordinates[id] = co
	}
	if err := stops.Err(); err != nil {
		return nil, err
	}

	stopTimes, err := c.DB.QueryContext(ctx, `SELECT trip_id, stop_id, MIN(stop_sequence)
FROM stop_times GROUP BY trip_id, stop_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop times: %w", err)
	}
	defer logging.SafeCloseWithLogging(stopTimes, c.logger, "stop_times_rows")
	for stopTimes.Next() {
		var (
			key models.TripStop
			seq int
		)
		if err := stopTimes.Scan(&key.TripID, &key.StopID, &seq); err != nil {
			return nil, err
		}
		attrs.StopSequences[key] = seq
	}
	if err := stopTimes.Err(); err != nil {
		return nil, err
	}

	logging.LogOperation(c.logger, "static_attributes_loaded",
		slog.Int("routes", len(attrs.RouteShortNames)),
		slog.Int("stops", len(attrs.StopCoordinates)),
		slog.Int("stop_times", len(attrs.StopSequences)))
	return attrs, nil
}

var delayColumns = []string{
	"route_id", "route_short_name", "stop_id", "trip_id", "vehicle_id",
	"delay_seconds", "recorded_at", "stop_lat", "stop_lon", "direction_id",
}

func delayRows(delays []models.DelayObservation) rowSet {
	return rowSet{table: "bus_delays", columns: delayColumns, n: len(delays), row: func(i int) []any {
		d := delays[i]
		recordedAt := d.RecordedAt
		return []any{
			toNullString(d.RouteID), toNullString(d.RouteShortName), toNullString(d.StopID),
			toNullString(d.TripID), toNullString(d.VehicleID),
			ptrNullInt64(d.DelaySeconds), nullTime(&recordedAt),
			ptrNullFloat64(d.StopLat), ptrNullFloat64(d.StopLon), ptrNullInt64(d.DirectionID),
		}
	}}
}

// InsertDelays appends delay observations.
func (c *Client) InsertDelays(ctx context.Context, delays []models.DelayObservation) error {
	return c.bulkInsert(ctx, delayRows(delays))
}

var weatherColumns = []string{
	"station_id", "recorded_at", "lat", "lon",
	"temperature_c", "humidity_percent", "wind_speed_kmh", "precipitation_mm", "visibility_km",
}

func weatherRows(obs []models.WeatherObservation) rowSet {
	return rowSet{table: "weather", columns: weatherColumns, n: len(obs), row: func(i int) []any {
		w := obs[i]
		recordedAt := w.RecordedAt
		return []any{
			toNullString(w.StationID), nullTime(&recordedAt),
			ptrNullFloat64(w.Lat), ptrNullFloat64(w.Lon),
			ptrNullFloat64(w.TemperatureC), ptrNullFloat64(w.HumidityPercent),
			ptrNullFloat64(w.WindSpeedKmh), ptrNullFloat64(w.PrecipitationMm),
			ptrNullFloat64(w.VisibilityKm),
		}
	}}
}

// InsertWeather appends weather observations.
func (c *Client) InsertWeather(ctx context.Context, obs []models.WeatherObservation) error {
	return c.bulkInsert(ctx, weatherRows(obs))
}

var roadEventColumns = []string{
	"event_id", "event_type", "severity", "status", "lat", "lon", "created_at", "updated_at",
}

// roadEventRows keeps the Open511 spellings of type and status.
func roadEventRows(events []models.RoadEvent) rowSet {
	return rowSet{table: "road_conditions", columns: roadEventColumns, n: len(events), row: func(i int) []any {
		e := events[i]
		return []any{
			e.EventID,
			strings.ToUpper(string(e.Type)), toNullString(e.Severity), strings.ToUpper(string(e.Status)),
			ptrNullFloat64(e.Lat), ptrNullFloat64(e.Lon),
			nullTime(e.CreatedAt), nullTime(e.UpdatedAt),
		}
	}}
}

// InsertRoadEvents stores road events with their Open511 spellings.
func (c *Client) InsertRoadEvents(ctx context.Context, events []models.RoadEvent) error {
	return c.bulkInsert(ctx, roadEventRows(events))
}

func tripRows(trips []Trip) rowSet {
	return rowSet{table: "trips", columns: []string{"trip_id", "route_id", "direction_id"}, n: len(trips), row: func(i int) []any {
		t := trips[i]
		return []any{t.ID, toNullString(t.RouteID), ptrNullInt64(t.DirectionID)}
	}}
}

// tripsOf derives one trip per distinct trip id seen in delays, keeping the
// first route and direction reported for it.
func tripsOf(delays []models.DelayObservation) []Trip {
	seen := make(map[string]bool)
	var trips []Trip
	for _, d := range delays {
		if d.TripID == "" || seen[d.TripID] {
			continue
		}
		seen[d.TripID] = true
		trips = append(trips, Trip{ID: d.TripID, RouteID: d.RouteID, DirectionID: d.DirectionID})
	}
	return trips
}

// staticRows flattens the schedule lookups into the routes, stops and
// stop_times tables.
func staticRows(attrs *models.StaticAttributes) []rowSet {
	if attrs == nil {
		return nil
	}

	type route struct{ id, name string }
	routes := make([]route, 0, len(attrs.RouteShortNames))
	for id, name := range attrs.RouteShortNames {
		routes = append(routes, route{id, name})
	}

	type stop struct {
		id string
		co models.Coordinate
	}
	stops := make([]stop, 0, len(attrs.StopCoordinates))
	for id, co := range attrs.StopCoordinates {
		stops = append(stops, stop{id, co})
	}

	type stopTime struct {
		key models.TripStop
		seq int
	}
	stopTimes := make([]stopTime, 0, len(attrs.StopSequences))
	for key, seq := range attrs.StopSequences {
		stopTimes = append(stopTimes, stopTime{key, seq})
	}

	return []rowSet{
		{table: "routes", columns: []string{"route_id", "route_short_name"}, n: len(routes), row: func(i int) []any {
			return []any{routes[i].id, toNullString(routes[i].name)}
		}},
		{table: "stops", columns: []string{"stop_id", "stop_lat", "stop_lon"}, n: len(stops), row: func(i int) []any {
			return []any{stops[i].id, stops[i].co.Lat, stops[i].co.Lon}
		}},
		{table: "stop_times", columns: []string{"trip_id", "stop_id", "stop_sequence"}, n: len(stopTimes), row: func(i int) []any {
			st := stopTimes[i]
			return []any{st.key.TripID, st.key.StopID, st.seq}
		}},
	}
}

// InsertStaticAttributes stores the schedule lookups in the routes, stops
// and stop_times tables.
func (c *Client) InsertStaticAttributes(ctx context.Context, attrs *models.StaticAttributes) error {
	return c.bulkInsert(ctx, staticRows(attrs)...)
}

var inputTables = []string{"bus_delays", "weather", "road_conditions"}

func clearInputs(ctx context.Context, tx *sql.Tx) error {
	for _, table := range inputTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// ReplaceInputs swaps the stored inputs for in within one transaction: the
// previous delays, weather and road events are deleted and in is written
// together with its trips and schedule lookups. On error the previous
// inputs are left untouched.
func (c *Client) ReplaceInputs(ctx context.Context, in fusion.Input) error {
	sets := []rowSet{delayRows(in.Delays), weatherRows(in.Weather), roadEventRows(in.RoadEvents)}
	sets = append(sets, staticRows(in.Static)...)
	sets = append(sets, tripRows(tripsOf(in.Delays)))

	err := c.inTx(ctx, "replace_inputs", func(tx *sql.Tx) error {
		if err := clearInputs(ctx, tx); err != nil {
			return err
		}
		return c.insertSets(ctx, tx, sets...)
	})
	if err != nil {
		return fmt.Errorf("replace inputs: %w", err)
	}
	logging.LogOperation(c.logger, "inputs_replaced",
		slog.Int("delays", len(in.Delays)),
		slog.Int("weather", len(in.Weather)),
		slog.Int("road_events", len(in.RoadEvents)))
	return nil
}
