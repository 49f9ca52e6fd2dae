package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/qurore/vanbus/fusiondb"
	"github.com/qurore/vanbus/internal/app"
	"github.com/qurore/vanbus/internal/appconf"
	"github.com/qurore/vanbus/internal/clock"
	"github.com/qurore/vanbus/internal/fusion"
	"github.com/qurore/vanbus/internal/gtfs"
	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/metrics"
	"github.com/qurore/vanbus/internal/warehouse"
)

// NowEnvVar pins the reference time of a run.
const NowEnvVar = "FUSION_NOW"

const dbStatsInterval = 5 * time.Second

// BuildApplication opens the run store and the configured source and
// builds the engine. Callers must Close the application.
func BuildApplication(ctx context.Context, cfg appconf.Config, gtfsCfg gtfs.Config) (*app.Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(os.Stderr, cfg.Verbose, cfg.JSONLogs).
		With(slog.String("env", cfg.Env.String()))
	slog.SetDefault(logger)

	loc, err := cfg.Fusion.Location()
	if err != nil {
		return nil, err
	}
	pinned := clock.NewPinnedClock(NowEnvVar, cfg.NowFile, loc)
	logging.LogOperation(logger, "reference_time_resolved",
		slog.Time("now", pinned.Now()),
		slog.String("source", string(pinned.Source())))

	store, err := fusiondb.NewClient(fusiondb.NewConfig(cfg.SQLitePath, cfg.Env, cfg.Verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	m := metrics.NewWithLogger(logger)
	m.StartDBStatsCollector(store.DB, dbStatsInterval)

	coreApp := &app.Application{
		Config:     cfg,
		GtfsConfig: gtfsCfg,
		Logger:     logger,
		Clock:      pinned,
		Metrics:    m,
		Store:      store,
		Source:     store,
	}

	if cfg.Source == appconf.SourcePostgres {
		w, err := warehouse.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			coreApp.Close()
			return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
		}
		coreApp.Source = w
	}

	engine, err := fusion.New(cfg.Fusion, pinned, logger, fusion.WithObserver(m))
	if err != nil {
		coreApp.Close()
		return nil, err
	}
	coreApp.Engine = engine

	return coreApp, nil
}

// Run executes one fusion pass and logs its summary. With an export run id
// configured it re-exports that stored run instead.
func Run(ctx context.Context, coreApp *app.Application) error {
	if id := coreApp.Config.ExportRunID; id != "" {
		res, err := coreApp.ExportStored(ctx, id)
		if err != nil {
			return err
		}
		logging.LogOperation(coreApp.Logger, "stored_run_exported",
			slog.String("run_id", id),
			slog.Int("rows", res.Matrix.Len()))
		return nil
	}

	res, err := coreApp.Run(ctx)
	if err != nil {
		return err
	}
	logging.LogOperation(coreApp.Logger, "fuse_completed",
		slog.String("run_id", res.Report.RunID),
		slog.Int("rows", res.Matrix.Len()),
		slog.Int("dropped", res.Report.DroppedTotal()),
		slog.Int("excluded_events", res.Report.ExcludedTotal()))
	return nil
}
