package fusiondb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qurore/vanbus/internal/appconf"
	"github.com/qurore/vanbus/internal/logging"
)

//go:embed schema.sql
var ddl string

// timeLayout is fixed width so stored timestamps compare lexically in time
// order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// createDB creates a new SQLite database with the run store tables
func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	// Foreign keys are a per-connection setting; the DSN applies it to every
	// pooled connection.
	dsn := config.DBPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Configure connection pool settings before the first statement so an
	// in-memory database is created on the connection that is kept.
	configureConnectionPool(db, config)

	ctx := context.Background()
	err = configureSQLitePerformance(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}

	err = performDatabaseMigration(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	return db, nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	statements := strings.Split(ddl, "-- migrate")
	for _, stmt := range statements {
		trimmedStmt := strings.TrimSpace(stmt)
		if trimmedStmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmedStmt); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmedStmt, err)
		}
	}
	return nil
}

// configureSQLitePerformance applies PRAGMA settings for bulk loads of the
// input tables and the feature matrix.
func configureSQLitePerformance(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		name        string
		description string
	}{
		// Increase cache size to 64MB (negative value means KB)
		{"PRAGMA cache_size=-64000", "Set cache size to 64MB"},
		// Store temp tables and indices in memory for faster operations
		{"PRAGMA temp_store=MEMORY", "Store temporary data in memory"},
		{"PRAGMA foreign_keys=ON", "Enforce foreign keys"},
	}

	logger := slog.Default().With(slog.String("component", "sqlite_performance"))

	for _, pragma := range pragmas {
		_, err := db.ExecContext(ctx, pragma.name)
		if err != nil {
			logging.LogError(logger, fmt.Sprintf("Failed to set %s", pragma.description), err)
			return fmt.Errorf("failed to execute %s: %w", pragma.name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	logging.LogOperation(logger, "sqlite_performance_settings_applied",
		slog.Int("pragma_count", len(pragmas)))

	return nil
}

// configureConnectionPool sets up connection pool settings for SQLite.
//
// Each connection to a :memory: database opens a separate database, so
// in-memory stores are limited to one connection that never expires.
// File databases allow a small pool.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime accepts the store's own layout and the space-separated form
// written by other SQLite clients.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(time.DateTime, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return t, nil
}

func toNullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}

func ptrNullInt64(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func ptrNullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullFloatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// rowSet is a batch of rows bound for one table. row returns the values of
// row i in column order.
type rowSet struct {
	table   string
	columns []string
	n       int
	row     func(i int) []any
}

// inTx runs fn inside one transaction and commits only when fn succeeds.
func (c *Client) inTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, c.logger, operation)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// bulkInsert writes every set in multi-row INSERT statements inside one
// transaction.
func (c *Client) bulkInsert(ctx context.Context, sets ...rowSet) error {
	return c.inTx(ctx, "bulk_insert", func(tx *sql.Tx) error {
		return c.insertSets(ctx, tx, sets...)
	})
}

func (c *Client) insertSets(ctx context.Context, tx *sql.Tx, sets ...rowSet) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))
	for _, s := range sets {
		if s.n == 0 {
			continue
		}
		logging.LogOperation(logger, "inserting_"+s.table, slog.Int("count", s.n))
		if err := insertBatches(ctx, tx, s.table, s.columns, s.n, c.config.GetBulkInsertBatchSize(), s.row); err != nil {
			return err
		}
	}
	return nil
}

func insertBatches(ctx context.Context, tx *sql.Tx, table string, columns []string, n, batchSize int, row func(i int) []any) error {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	baseQuery := "INSERT OR REPLACE INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES "

	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)

		// Only placeholders carry values; table and column names are
		// package constants.
		var query strings.Builder
		query.WriteString(baseQuery)
		args := make([]any, 0, (end-start)*len(columns))
		for i := start; i < end; i++ {
			if i > start {
				query.WriteString(", ")
			}
			query.WriteString(placeholder)
			args = append(args, row(i)...)
		}

		if _, err := tx.ExecContext(ctx, query.String(), args...); err != nil {
			return fmt.Errorf("insert %s rows %d-%d: %w", table, start, end, err)
		}
	}
	return nil
}
