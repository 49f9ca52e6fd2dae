// Package warehouse reads the collector tables from the PostgreSQL
// compatible warehouse the realtime, weather and road-condition collectors
// write to.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/models"
)

// Warehouse is a read-only view over the collector tables.
type Warehouse struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Warehouse{
		pool:   pool,
		logger: logger.With(slog.String("component", "warehouse")),
	}, nil
}

func (w *Warehouse) Close() {
	w.pool.Close()
}

// delaysQuery builds the delay query. Observations must join to a route,
// stop and trip; the route filter is applied only when names are given.
func delaysQuery(filter models.DelayFilter) (string, []any) {
	query := `
		SELECT
			bd.route_id,
			COALESCE(r.route_short_name, ''),
			bd.stop_id,
			bd.trip_id,
			COALESCE(bd.vehicle_id, ''),
			bd.delay_seconds,
			bd.recorded_at,
			s.stop_lat,
			s.stop_lon,
			t.direction_id
		FROM bus_delays bd
		JOIN routes r ON bd.route_id = r.route_id
		JOIN stops s ON bd.stop_id = s.stop_id
		JOIN trips t ON bd.trip_id = t.trip_id
		WHERE bd.route_id IS NOT NULL`

	var args []any
	if len(filter.RouteShortNames) > 0 {
		args = append(args, filter.RouteShortNames)
		query += fmt.Sprintf("\n\t\t  AND r.route_short_name = ANY($%d)", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf("\n\t\t  AND bd.recorded_at >= $%d", len(args))
	}
	return query + "\n\t\tORDER BY bd.recorded_at", args
}

// LoadDelays reads delay observations joined with routes, stops and trips.
func (w *Warehouse) LoadDelays(ctx context.Context, filter models.DelayFilter) ([]models.DelayObservation, error) {
	query, args := delaysQuery(filter)
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bus delays: %w", err)
	}
	defer rows.Close()

	var delays []models.DelayObservation
	for rows.Next() {
		var (
			d          models.DelayObservation
			recordedAt *time.Time
		)
		err := rows.Scan(
			&d.RouteID,
			&d.RouteShortName,
			&d.StopID,
			&d.TripID,
			&d.VehicleID,
			&d.DelaySeconds,
			&recordedAt,
			&d.StopLat,
			&d.StopLon,
			&d.DirectionID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bus delay row: %w", err)
		}
		if recordedAt != nil {
			d.RecordedAt = recordedAt.UTC()
		}
		delays = append(delays, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bus delay rows: %w", err)
	}

	logging.LogOperation(w.logger, "bus_delays_loaded", slog.Int("count", len(delays)))
	return delays, nil
}

// LoadWeather reads station observations recorded at or after since.
func (w *Warehouse) LoadWeather(ctx context.Context, since time.Time) ([]models.WeatherObservation, error) {
	query := `
		SELECT
			COALESCE(station_id, ''),
			recorded_at,
			lat,
			lon,
			temperature_c,
			humidity_percent,
			wind_speed_kmh,
			precipitation_mm,
			visibility_km
		FROM weather
		WHERE recorded_at IS NOT NULL
		  AND recorded_at >= $1
		ORDER BY recorded_at
	`

	rows, err := w.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query weather: %w", err)
	}
	defer rows.Close()

	var out []models.WeatherObservation
	for rows.Next() {
		var o models.WeatherObservation
		err := rows.Scan(
			&o.StationID,
			&o.RecordedAt,
			&o.Lat,
			&o.Lon,
			&o.TemperatureC,
			&o.HumidityPercent,
			&o.WindSpeedKmh,
			&o.PrecipitationMm,
			&o.VisibilityKm,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan weather row: %w", err)
		}
		o.RecordedAt = o.RecordedAt.UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating weather rows: %w", err)
	}

	logging.LogOperation(w.logger, "weather_loaded", slog.Int("count", len(out)))
	return out, nil
}

// LoadRoadEvents reads road events that carry a location.
func (w *Warehouse) LoadRoadEvents(ctx context.Context) ([]models.RoadEvent, error) {
	query := `
		SELECT
			event_id,
			COALESCE(event_type, ''),
			COALESCE(severity, ''),
			COALESCE(status, ''),
			lat,
			lon,
			created_at,
			updated_at
		FROM road_conditions
		WHERE lat IS NOT NULL AND lon IS NOT NULL
		ORDER BY event_id
	`

	rows, err := w.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query road conditions: %w", err)
	}
	defer rows.Close()

	var out []models.RoadEvent
	for rows.Next() {
		var (
			e                 models.RoadEvent
			eventType, status string
		)
		err := rows.Scan(
			&e.EventID,
			&eventType,
			&e.Severity,
			&status,
			&e.Lat,
			&e.Lon,
			&e.CreatedAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan road condition row: %w", err)
		}
		e.Type = models.ParseEventType(eventType)
		e.Status = models.ParseEventStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating road condition rows: %w", err)
	}

	logging.LogOperation(w.logger, "road_conditions_loaded", slog.Int("count", len(out)))
	return out, nil
}

// LoadStaticAttributes reads route names and stop coordinates, plus the
// distinct (trip, stop) sequences from stop_times.
func (w *Warehouse) LoadStaticAttributes(ctx context.Context) (*models.StaticAttributes, error) {
	attrs := models.NewStaticAttributes()

	rows, err := w.pool.Query(ctx, `SELECT route_id, COALESCE(route_short_name, '') FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan route row: %w", err)
		}
		attrs.RouteShortNames[id] = name
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating route rows: %w", err)
	}

	rows, err = w.pool.Query(ctx, `SELECT stop_id, stop_lat, stop_lon FROM stops
		WHERE stop_lat IS NOT NULL AND stop_lon IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	for rows.Next() {
		var (
			id string
			c  models.Coordinate
		)
		if err := rows.Scan(&id, &c.Lat, &c.Lon); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stop row: %w", err)
		}
		attrs.StopCoordinates[id] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop rows: %w", err)
	}

	rows, err = w.pool.Query(ctx, `SELECT trip_id, stop_id, MIN(stop_sequence)
		FROM stop_times GROUP BY trip_id, stop_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop times: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key models.TripStop
			seq int
		)
		if err := rows.Scan(&key.TripID, &key.StopID, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan stop time row: %w", err)
		}
		attrs.StopSequences[key] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop time rows: %w", err)
	}

	logging.LogOperation(w.logger, "static_attributes_loaded",
		slog.Int("routes", len(attrs.RouteShortNames)),
		slog.Int("stops", len(attrs.StopCoordinates)),
		slog.Int("stop_times", len(attrs.StopSequences)))
	return attrs, nil
}
