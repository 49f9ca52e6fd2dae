package fusiondb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qurore/vanbus/internal/logging"
)

// TableCounts returns row counts for the known tables present in the
// database. Tables outside the known set are ignored.
func (c *Client) TableCounts(ctx context.Context) (map[string]int, error) {
	rows, err := c.DB.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tableCountQueries := map[string]string{
		"routes":          "SELECT COUNT(*) FROM routes",
		"stops":           "SELECT COUNT(*) FROM stops",
		"trips":           "SELECT COUNT(*) FROM trips",
		"stop_times":      "SELECT COUNT(*) FROM stop_times",
		"bus_delays":      "SELECT COUNT(*) FROM bus_delays",
		"weather":         "SELECT COUNT(*) FROM weather",
		"road_conditions": "SELECT COUNT(*) FROM road_conditions",
		"fusion_runs":     "SELECT COUNT(*) FROM fusion_runs",
		"delay_features":  "SELECT COUNT(*) FROM delay_features",
	}

	counts := make(map[string]int)
	for _, table := range tables {
		query, ok := tableCountQueries[table]
		if !ok {
			continue
		}

		var count int
		if err := c.DB.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}

	return counts, nil
}
