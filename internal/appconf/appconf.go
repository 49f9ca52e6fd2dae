// Package appconf holds the application configuration of the fuse command:
// where inputs come from, where outputs go, and the fusion constants.
package appconf

import (
	"fmt"
	"strings"
	"time"

	"github.com/qurore/vanbus/internal/fusion"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps a flag or file value to an Environment.
// Unknown values map to Development.
func EnvFlagToEnvironment(env string) Environment {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

// Source selects where the input tables are read from.
type Source string

const (
	// SourceSQLite reads the run store itself.
	SourceSQLite Source = "sqlite"
	// SourcePostgres reads the CockroachDB/PostgreSQL warehouse.
	SourcePostgres Source = "postgres"
)

// DefaultRoutes are the 13 route short names the delay model is trained on.
var DefaultRoutes = []string{
	// New Westminster / Burnaby
	"130", "123", "144", "106", "160", "110", "116",
	// Vancouver Downtown
	"006", "019",
	// Vancouver South
	"049", "100",
	// North Vancouver
	"240", "255",
}

// DefaultWeatherSince is the first day of the weather collection.
var DefaultWeatherSince = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

// Config is the resolved application configuration.
type Config struct {
	Env      Environment
	Verbose  bool
	JSONLogs bool

	Source      Source
	DatabaseURL string
	// SQLitePath is the run store. Features and run reports are always
	// written there.
	SQLitePath string
	// Snapshot copies warehouse inputs into the run store before fusing.
	Snapshot bool

	// GTFSPath is a GTFS static zip, local path or URL. Optional.
	GTFSPath string

	Routes       []string
	WeatherSince time.Time

	ExportPath  string
	// ExportRunID re-exports a stored run instead of fusing a new one.
	ExportRunID string
	MetricsPath string
	// NowFile pins the run's "now" when FUSION_NOW is unset.
	NowFile string

	Fusion fusion.Config
}

// Default returns a development configuration reading the local run store.
func Default() Config {
	return Config{
		Env:          Development,
		Source:       SourceSQLite,
		SQLitePath:   "vanbus.db",
		Routes:       append([]string(nil), DefaultRoutes...),
		WeatherSince: DefaultWeatherSince,
		Fusion:       fusion.DefaultConfig(),
	}
}

// Validate checks cross-field requirements after every layer is applied.
func (c Config) Validate() error {
	switch c.Source {
	case SourceSQLite:
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("invalid configuration: source %q requires DATABASE_URL", c.Source)
		}
	default:
		return fmt.Errorf("invalid configuration: unknown source %q", c.Source)
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("invalid configuration: sqlite path is required")
	}
	if c.Env == Test && c.SQLitePath != ":memory:" {
		return fmt.Errorf("invalid configuration: test environment must use :memory:, got %s", c.SQLitePath)
	}
	if c.ExportRunID != "" && c.ExportPath == "" {
		return fmt.Errorf("invalid configuration: exporting run %s requires an export path", c.ExportRunID)
	}
	if err := c.Fusion.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
