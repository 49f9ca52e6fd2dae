package fusiondb

import "github.com/qurore/vanbus/internal/appconf"

const defaultBulkInsertBatchSize = 500

// Config configures the run store.
type Config struct {
	// DBPath is a file path or ":memory:".
	DBPath string
	Env    appconf.Environment
	// BulkInsertBatchSize is the number of rows per multi-row INSERT.
	BulkInsertBatchSize int
	verbose             bool
}

func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}

// GetBulkInsertBatchSize returns the configured batch size or the default.
func (c Config) GetBulkInsertBatchSize() int {
	if c.BulkInsertBatchSize > 0 {
		return c.BulkInsertBatchSize
	}
	return defaultBulkInsertBatchSize
}
