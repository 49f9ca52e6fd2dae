// Package metrics provides Prometheus metrics for fusion runs. A batch job
// has no scrape endpoint, so metrics are written to a node-exporter
// textfile at the end of a run.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qurore/vanbus/internal/fusion"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// Run metrics
	RunsTotal          *prometheus.CounterVec
	InputRecords       *prometheus.GaugeVec
	OutputRows         prometheus.Gauge
	DroppedRows        *prometheus.GaugeVec
	DefaultedFields    *prometheus.GaugeVec
	ExcludedEvents     *prometheus.GaugeVec
	PhaseDuration      *prometheus.HistogramVec
	LastRunTimestamp   prometheus.Gauge
	WeatherFilledRows  prometheus.Gauge
	DatasetEmpty       *prometheus.GaugeVec
	RoadConditionsKeys prometheus.Gauge

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

var _ fusion.Observer = (*Metrics)(nil)

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanbus_fusion_runs_total",
			Help: "Total number of fusion runs by outcome",
		},
		[]string{"outcome"},
	)

	inputRecords := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanbus_fusion_input_records",
			Help: "Records handed to the last fusion run, by table",
		},
		[]string{"table"},
	)

	outputRows := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanbus_fusion_output_rows",
		Help: "Rows in the feature matrix of the last run",
	})

	droppedRows := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanbus_fusion_dropped_rows",
			Help: "Delay observations dropped in the last run, by reason",
		},
		[]string{"reason"},
	)

	defaultedFields := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanbus_fusion_defaulted_fields",
			Help: "Rows where a column fell back to its neutral default in the last run",
		},
		[]string{"column"},
	)

	excludedEvents := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanbus_fusion_excluded_road_events",
			Help: "Road events excluded from resolution in the last run, by reason",
		},
		[]string{"reason"},
	)

	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vanbus_fusion_phase_duration_seconds",
			Help:    "Fusion phase latency distribution",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"phase"},
	)

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanbus_fusion_last_run_timestamp_seconds",
		Help: "Unix time the last fusion run completed",
	})

	weatherFilled := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanbus_fusion_weather_filled_rows",
		Help: "Rows whose weather came from a neighbouring bucket in the last run",
	})

	datasetEmpty := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanbus_fusion_dataset_empty",
			Help: "1 when an auxiliary dataset was empty in the last run",
		},
		[]string{"dataset"},
	)

	roadKeys := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanbus_fusion_road_condition_keys",
		Help: "Distinct evaluation keys computed in the road-condition phase",
	})

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanbus_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanbus_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanbus_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vanbus_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	// Register all metrics with the custom registry
	registry.MustRegister(
		runsTotal,
		inputRecords,
		outputRows,
		droppedRows,
		defaultedFields,
		excludedEvents,
		phaseDuration,
		lastRun,
		weatherFilled,
		datasetEmpty,
		roadKeys,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
	)

	return &Metrics{
		Registry:           registry,
		RunsTotal:          runsTotal,
		InputRecords:       inputRecords,
		OutputRows:         outputRows,
		DroppedRows:        droppedRows,
		DefaultedFields:    defaultedFields,
		ExcludedEvents:     excludedEvents,
		PhaseDuration:      phaseDuration,
		LastRunTimestamp:   lastRun,
		WeatherFilledRows:  weatherFilled,
		DatasetEmpty:       datasetEmpty,
		RoadConditionsKeys: roadKeys,
		DBConnectionsOpen:  dbConnectionsOpen,
		DBConnectionsInUse: dbConnectionsInUse,
		DBConnectionsIdle:  dbConnectionsIdle,
		DBWaitSecondsTotal: dbWaitSecondsTotal,
		logger:             logger,
	}
}

// ObservePhase records the duration of one fusion phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveRun records the completeness report of a successful run.
func (m *Metrics) ObserveRun(r *fusion.Report) {
	m.RunsTotal.WithLabelValues("success").Inc()
	m.InputRecords.WithLabelValues("bus_delays").Set(float64(r.InputDelays))
	m.InputRecords.WithLabelValues("weather").Set(float64(r.InputWeather))
	m.InputRecords.WithLabelValues("road_conditions").Set(float64(r.InputRoadEvents))
	m.OutputRows.Set(float64(r.OutputRows))
	m.WeatherFilledRows.Set(float64(r.WeatherFilledRows))
	m.RoadConditionsKeys.Set(float64(r.RoadKeys))
	m.LastRunTimestamp.Set(float64(r.StartedAt.Add(r.Duration).Unix()))

	m.DroppedRows.Reset()
	for reason, n := range r.DroppedRows {
		m.DroppedRows.WithLabelValues(string(reason)).Set(float64(n))
	}
	m.DefaultedFields.Reset()
	for col, n := range r.DefaultedFields {
		m.DefaultedFields.WithLabelValues(col).Set(float64(n))
	}
	m.ExcludedEvents.Reset()
	for reason, n := range r.ExcludedEvents {
		m.ExcludedEvents.WithLabelValues(string(reason)).Set(float64(n))
	}

	m.DatasetEmpty.WithLabelValues("weather").Set(boolGauge(r.WeatherDatasetEmpty))
	m.DatasetEmpty.WithLabelValues("road_events").Set(boolGauge(r.RoadEventsEmpty))
}

// ObserveFailure counts a run that ended in an error.
func (m *Metrics) ObserveFailure() {
	m.RunsTotal.WithLabelValues("failure").Inc()
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, replacing the file atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// The interval specifies how often to collect stats.
// This method is idempotent - calling it multiple times has no effect after the first call.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.collectDBStats(db, &lastWaitDuration)
			case <-ctx.Done():
				// one last sample so short runs still report pool usage
				m.collectDBStats(db, &lastWaitDuration)
				return
			}
		}
	}()
}

func (m *Metrics) collectDBStats(db *sql.DB, lastWait *time.Duration) {
	stats := db.Stats()
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))

	waitDelta := stats.WaitDuration - *lastWait
	if waitDelta > 0 {
		m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
	}
	*lastWait = stats.WaitDuration
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
