// Package app wires the fuse command: input source, run store, fusion
// engine, exports and metrics.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/qurore/vanbus/fusiondb"
	"github.com/qurore/vanbus/internal/appconf"
	"github.com/qurore/vanbus/internal/clock"
	"github.com/qurore/vanbus/internal/export"
	"github.com/qurore/vanbus/internal/features"
	"github.com/qurore/vanbus/internal/fusion"
	"github.com/qurore/vanbus/internal/gtfs"
	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/metrics"
	"github.com/qurore/vanbus/internal/models"
)

// Source reads the three input tables and the schedule lookups.
type Source interface {
	LoadDelays(ctx context.Context, filter models.DelayFilter) ([]models.DelayObservation, error)
	LoadWeather(ctx context.Context, since time.Time) ([]models.WeatherObservation, error)
	LoadRoadEvents(ctx context.Context) ([]models.RoadEvent, error)
	LoadStaticAttributes(ctx context.Context) (*models.StaticAttributes, error)
}

// Application holds the dependencies of one fuse invocation.
type Application struct {
	Config     appconf.Config
	GtfsConfig gtfs.Config
	Logger     *slog.Logger
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Store      *fusiondb.Client
	Source     Source
	Engine     *fusion.Engine
}

// LoadInput reads one closed batch from the source. Schedule lookups from
// the GTFS feed, when configured, take precedence over the source's own.
func (a *Application) LoadInput(ctx context.Context) (fusion.Input, error) {
	var (
		in  fusion.Input
		err error
	)
	filter := models.DelayFilter{RouteShortNames: a.Config.Routes}
	if in.Delays, err = a.Source.LoadDelays(ctx, filter); err != nil {
		return in, fmt.Errorf("load delays: %w", err)
	}
	if in.Weather, err = a.Source.LoadWeather(ctx, a.Config.WeatherSince); err != nil {
		return in, fmt.Errorf("load weather: %w", err)
	}
	if in.RoadEvents, err = a.Source.LoadRoadEvents(ctx); err != nil {
		return in, fmt.Errorf("load road events: %w", err)
	}
	if in.Static, err = a.Source.LoadStaticAttributes(ctx); err != nil {
		return in, fmt.Errorf("load static attributes: %w", err)
	}

	if a.GtfsConfig.Source != "" {
		attrs, err := gtfs.LoadAttributes(ctx, a.GtfsConfig)
		if err != nil {
			return in, fmt.Errorf("load gtfs static: %w", err)
		}
		if in.Static == nil {
			in.Static = models.NewStaticAttributes()
		}
		in.Static.Merge(attrs)
	}
	return in, nil
}

// Snapshot replaces the run store inputs with in. A failed snapshot leaves
// the previous inputs in place.
func (a *Application) Snapshot(ctx context.Context, in fusion.Input) error {
	return a.Store.ReplaceInputs(ctx, in)
}

// Run loads the inputs, fuses them, stores the matrix and report, and
// writes the configured export and metrics files.
func (a *Application) Run(ctx context.Context) (*fusion.Result, error) {
	res, err := a.run(ctx)
	if err != nil {
		a.Metrics.ObserveFailure()
		logging.LogError(a.Logger, "fusion run failed", err)
	}
	if a.Config.MetricsPath != "" {
		if werr := a.Metrics.WriteTextfile(a.Config.MetricsPath); werr != nil {
			logging.LogError(a.Logger, "failed to write metrics", werr)
		}
	}
	return res, err
}

func (a *Application) run(ctx context.Context) (*fusion.Result, error) {
	in, err := a.LoadInput(ctx)
	if err != nil {
		return nil, err
	}
	if a.Config.Snapshot && a.Config.Source != appconf.SourceSQLite {
		if err := a.Snapshot(ctx, in); err != nil {
			return nil, fmt.Errorf("snapshot inputs: %w", err)
		}
	}

	res, err := a.Engine.Run(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := a.Store.SaveResult(ctx, res); err != nil {
		return nil, err
	}
	if err := a.writeExport(res.Matrix); err != nil {
		return nil, err
	}

	if a.Config.Verbose {
		a.Logger.Debug("fusion report", slog.String("dump", spew.Sdump(res.Report)))
		if res.Matrix.Len() > 0 {
			a.Logger.Debug("first row", slog.String("dump", spew.Sdump(res.Matrix.Rows[0])))
		}
	}
	return res, nil
}

func (a *Application) writeExport(m features.Matrix) error {
	if a.Config.ExportPath == "" {
		return nil
	}
	if err := export.WriteFile(a.Config.ExportPath, m); err != nil {
		return fmt.Errorf("export matrix: %w", err)
	}
	logging.LogOperation(a.Logger, "matrix_exported",
		slog.String("path", a.Config.ExportPath),
		slog.Int("rows", m.Len()))
	return nil
}

// ExportStored reloads a saved run and writes its matrix to the configured
// export path without fusing again.
func (a *Application) ExportStored(ctx context.Context, runID string) (*fusion.Result, error) {
	rep, err := a.Store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	m, err := a.Store.LoadFeatures(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := a.writeExport(m); err != nil {
		return nil, err
	}
	return &fusion.Result{Matrix: m, Report: rep}, nil
}

// Close releases the source, the store and the metrics collector.
func (a *Application) Close() {
	if c, ok := a.Source.(interface{ Close() }); ok {
		c.Close()
	}
	if a.Metrics != nil {
		a.Metrics.Shutdown()
	}
	if a.Store != nil {
		logging.SafeCloseWithLogging(a.Store, a.Logger, "run_store")
	}
}
