// Package fusion runs the phases that turn delay, weather and road-event
// tables into a feature matrix. Weather alignment completes before the
// parallel road-condition phase starts, and both complete before assembly.
// A run yields a complete matrix or an error, never a partial result.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/qurore/vanbus/internal/bucket"
	"github.com/qurore/vanbus/internal/clock"
	"github.com/qurore/vanbus/internal/features"
	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/models"
	"github.com/qurore/vanbus/internal/roadcond"
	"github.com/qurore/vanbus/internal/roadevents"
	"github.com/qurore/vanbus/internal/weather"
)

// ErrInvariant marks a logic defect detected during a run. Runs failing
// with it must not be retried on the same input.
var ErrInvariant = errors.New("fusion invariant violated")

// Observer receives run telemetry.
type Observer interface {
	ObservePhase(phase string, d time.Duration)
	ObserveRun(r *Report)
}

// Input is one closed batch of records.
type Input struct {
	Delays     []models.DelayObservation
	Weather    []models.WeatherObservation
	RoadEvents []models.RoadEvent
	// Static is optional.
	Static *models.StaticAttributes
}

// Result is the output of a successful run.
type Result struct {
	Matrix features.Matrix
	Report *Report
}

// Engine runs fusion passes with a fixed configuration.
type Engine struct {
	cfg           Config
	clock         clock.Clock
	logger        *slog.Logger
	observer      Observer
	location      *time.Location
	weatherBucket bucket.Bucketer
	eventBucket   bucket.Bucketer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithObserver attaches an observer notified of phase timings and the
// final report.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New validates cfg and returns an engine. A nil clock uses the system
// clock; a nil logger uses slog.Default.
func New(cfg Config, clk clock.Clock, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	wb, err := bucket.New(cfg.WeatherBucket)
	if err != nil {
		return nil, fmt.Errorf("weather bucket: %w", err)
	}
	eb, err := bucket.New(cfg.EventBucket)
	if err != nil {
		return nil, fmt.Errorf("event bucket: %w", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:           cfg,
		clock:         clk,
		logger:        logger.With(slog.String("component", "fusion")),
		location:      loc,
		weatherBucket: wb,
		eventBucket:   eb,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run fuses one batch. The input is never modified.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	runStart := time.Now()
	now := e.clock.Now()
	rep := &Report{
		RunID:           uuid.NewString(),
		StartedAt:       runStart.UTC(),
		Now:             now,
		Policy:          e.cfg.Policy,
		InputDelays:     len(in.Delays),
		InputWeather:    len(in.Weather),
		InputRoadEvents: len(in.RoadEvents),
		PhaseDurations:  make(map[string]time.Duration),
	}
	logger := e.logger.With(slog.String("run_id", rep.RunID))
	logging.LogOperation(logger, "fusion_started",
		slog.String("policy", string(e.cfg.Policy)),
		slog.Int("delays", rep.InputDelays),
		slog.Int("weather", rep.InputWeather),
		slog.Int("road_events", rep.InputRoadEvents))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	delays, filled := in.Static.WithStopCoordinates(in.Delays)
	rep.CoordinatesFilled = filled

	// Phase 1: weather.
	phaseStart := time.Now()
	alignment, err := weather.Align(delays, in.Weather, e.weatherBucket)
	if err != nil {
		return nil, fmt.Errorf("%w: weather alignment: %w", ErrInvariant, err)
	}
	if len(alignment.Vectors) != len(delays) {
		return nil, fmt.Errorf("%w: weather alignment returned %d vectors for %d observations",
			ErrInvariant, len(alignment.Vectors), len(delays))
	}
	rep.WeatherBuckets = alignment.Buckets
	rep.WeatherSkipped = alignment.SkippedObservations
	rep.WeatherFilledRows = alignment.FilledRows
	rep.WeatherDatasetEmpty = alignment.Empty
	e.phaseDone(logger, rep, PhaseWeather, phaseStart)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 2: road conditions.
	phaseStart = time.Now()
	resolver := roadevents.NewResolver(in.RoadEvents, now)
	rep.ExcludedEvents = resolver.Excluded()
	rep.ValidEvents = len(resolver.Events())
	rep.RoadEventsEmpty = rep.ValidEvents == 0

	builder, err := roadcond.NewBuilder(roadcond.Config{
		Policy:            e.cfg.Policy,
		RadiusKm:          e.cfg.RadiusKm,
		NoEventDistanceKm: e.cfg.NoEventDistanceKm,
		EventBucket:       e.eventBucket,
		Workers:           e.cfg.Workers,
	}, resolver, logger.With(slog.String("phase", PhaseRoadConditions)))
	if err != nil {
		return nil, fmt.Errorf("road condition builder: %w", err)
	}
	table, err := builder.Build(ctx, delays)
	if err != nil {
		if errors.Is(err, roadcond.ErrInvalidDistance) {
			return nil, fmt.Errorf("%w: %w", ErrInvariant, err)
		}
		return nil, fmt.Errorf("road conditions: %w", err)
	}
	rep.RoadKeys = table.Len()
	e.phaseDone(logger, rep, PhaseRoadConditions, phaseStart)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 3: assembly.
	phaseStart = time.Now()
	matrix, arep := features.Assemble(features.Input{
		Delays:    delays,
		Weather:   alignment.Vectors,
		Road:      table,
		Static:    in.Static,
		Location:  e.location,
		RushHours: e.cfg.RushHours,
	})
	rep.OutputRows = arep.OutputRows
	rep.DroppedRows = arep.Dropped
	rep.DefaultedFields = arep.Defaulted
	if err := checkMatrix(matrix, len(in.Delays), rep.DroppedTotal()); err != nil {
		return nil, err
	}
	rep.DelayMean, rep.DelayStdDev = delayStats(matrix)
	e.phaseDone(logger, rep, PhaseAssemble, phaseStart)

	rep.Duration = time.Since(runStart)
	if rep.WeatherDatasetEmpty {
		logger.Warn("weather dataset empty, weather features defaulted")
	}
	if rep.RoadEventsEmpty {
		logger.Warn("no valid road events, road features use the no-event distance")
	}
	logging.LogOperation(logger, "fusion_completed",
		slog.Int("output_rows", rep.OutputRows),
		slog.Int("dropped_rows", rep.DroppedTotal()),
		slog.Int("excluded_events", rep.ExcludedTotal()),
		slog.Duration("duration", rep.Duration))

	if e.observer != nil {
		e.observer.ObserveRun(rep)
	}
	return &Result{Matrix: matrix, Report: rep}, nil
}

func (e *Engine) phaseDone(logger *slog.Logger, rep *Report, phase string, start time.Time) {
	d := time.Since(start)
	rep.PhaseDurations[phase] = d
	logger.Debug("phase completed", slog.String("phase", phase), slog.Duration("duration", d))
	if e.observer != nil {
		e.observer.ObservePhase(phase, d)
	}
}

// checkMatrix verifies the row-count invariant and the domain of the road
// distance column.
func checkMatrix(m features.Matrix, inputRows, dropped int) error {
	if m.Len() > inputRows {
		return fmt.Errorf("%w: %d output rows for %d input observations", ErrInvariant, m.Len(), inputRows)
	}
	if m.Len()+dropped != inputRows {
		return fmt.Errorf("%w: %d rows plus %d dropped does not match %d observations",
			ErrInvariant, m.Len(), dropped, inputRows)
	}
	for i, r := range m.Rows {
		if r.NearestEventDistanceKm < 0 || math.IsNaN(r.NearestEventDistanceKm) {
			return fmt.Errorf("%w: row %d has nearest event distance %v", ErrInvariant, i, r.NearestEventDistanceKm)
		}
	}
	return nil
}

func delayStats(m features.Matrix) (mean, stdDev float64) {
	if m.Len() == 0 {
		return 0, 0
	}
	values := make([]float64, m.Len())
	for i, r := range m.Rows {
		values[i] = float64(r.DelaySeconds)
	}
	if len(values) == 1 {
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}
