package fusiondb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qurore/vanbus/internal/features"
	"github.com/qurore/vanbus/internal/fusion"
	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/weather"
)

// ErrRunNotFound is returned when a run id has no stored report.
var ErrRunNotFound = errors.New("fusion run not found")

var runColumns = []string{
	"run_id", "started_at", "evaluated_at", "policy",
	"input_delays", "input_weather", "input_road_events", "output_rows",
	"dropped_rows", "excluded_events", "weather_dataset_empty", "road_events_empty",
	"duration_ms", "report_json",
}

func runRows(rep *fusion.Report) (rowSet, error) {
	if rep == nil || rep.RunID == "" {
		return rowSet{}, errors.New("report has no run id")
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return rowSet{}, fmt.Errorf("encode report: %w", err)
	}
	return rowSet{table: "fusion_runs", columns: runColumns, n: 1, row: func(int) []any {
		return []any{
			rep.RunID, formatTime(rep.StartedAt), formatTime(rep.Now), rep.Policy.String(),
			rep.InputDelays, rep.InputWeather, rep.InputRoadEvents, rep.OutputRows,
			rep.DroppedTotal(), rep.ExcludedTotal(),
			boolToInt(rep.WeatherDatasetEmpty), boolToInt(rep.RoadEventsEmpty),
			rep.Duration.Milliseconds(), string(payload),
		}
	}}, nil
}

// LoadRun returns the stored report of a run.
func (c *Client) LoadRun(ctx context.Context, runID string) (*fusion.Report, error) {
	var payload string
	err := c.DB.QueryRowContext(ctx, `SELECT report_json FROM fusion_runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var rep fusion.Report
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", runID, err)
	}
	return &rep, nil
}

var featureColumns = []string{
	"run_id", "row_index",
	"hour", "day_of_week", "is_weekend", "is_rush_hour",
	"route_short_name", "direction_id", "stop_sequence", "stop_lat", "stop_lon",
	"temperature_c", "humidity_percent", "wind_speed_kmh", "precipitation_mm", "visibility_km",
	"active_incidents", "active_construction", "nearest_event_distance_km",
	"delay_seconds",
}

func featureRows(runID string, m features.Matrix) rowSet {
	return rowSet{table: "delay_features", columns: featureColumns, n: len(m.Rows), row: func(i int) []any {
		r := m.Rows[i]
		return []any{
			runID, i,
			r.Hour, r.DayOfWeek, r.IsWeekend, r.IsRushHour,
			r.RouteShortName, r.DirectionID, r.StopSequence, r.StopLat, r.StopLon,
			r.Weather[weather.Temperature], r.Weather[weather.Humidity], r.Weather[weather.WindSpeed],
			r.Weather[weather.Precipitation], r.Weather[weather.Visibility],
			r.ActiveIncidents, r.ActiveConstruction, r.NearestEventDistanceKm,
			r.DelaySeconds,
		}
	}}
}

// SaveResult stores the report and the matrix of a run in one transaction.
// Either both are written or neither is. The full report is kept as JSON
// next to the headline counters.
func (c *Client) SaveResult(ctx context.Context, res *fusion.Result) error {
	if res == nil {
		return errors.New("no result to save")
	}
	run, err := runRows(res.Report)
	if err != nil {
		return err
	}
	runID := res.Report.RunID
	if err := c.bulkInsert(ctx, run, featureRows(runID, res.Matrix)); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	logging.LogOperation(c.logger, "run_saved",
		slog.String("run_id", runID),
		slog.Int("rows", res.Matrix.Len()))
	return nil
}

// LoadFeatures returns the stored matrix of a run.
func (c *Client) LoadFeatures(ctx context.Context, runID string) (features.Matrix, error) {
	rows, err := c.DB.QueryContext(ctx, `
SELECT hour, day_of_week, is_weekend, is_rush_hour,
       route_short_name, direction_id, stop_sequence, stop_lat, stop_lon,
       temperature_c, humidity_percent, wind_speed_kmh, precipitation_mm, visibility_km,
       active_incidents, active_construction, nearest_event_distance_km,
       delay_seconds
FROM delay_features
WHERE run_id = ?
ORDER BY row_index`, runID)
	if err != nil {
		return features.Matrix{}, fmt.Errorf("failed to query features: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "delay_features_rows")

	m := features.Matrix{Columns: features.Header()}
	for rows.Next() {
		var r features.Row
		if err := rows.Scan(&r.Hour, &r.DayOfWeek, &r.IsWeekend, &r.IsRushHour,
			&r.RouteShortName, &r.DirectionID, &r.StopSequence, &r.StopLat, &r.StopLon,
			&r.Weather[weather.Temperature], &r.Weather[weather.Humidity], &r.Weather[weather.WindSpeed],
			&r.Weather[weather.Precipitation], &r.Weather[weather.Visibility],
			&r.ActiveIncidents, &r.ActiveConstruction, &r.NearestEventDistanceKm,
			&r.DelaySeconds); err != nil {
			return features.Matrix{}, fmt.Errorf("failed to scan feature row: %w", err)
		}
		m.Rows = append(m.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return features.Matrix{}, err
	}

	logging.LogOperation(c.logger, "features_loaded",
		slog.String("run_id", runID),
		slog.Int("rows", len(m.Rows)))
	return m, nil
}
