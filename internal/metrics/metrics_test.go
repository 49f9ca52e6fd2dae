package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qurore/vanbus/internal/features"
	"github.com/qurore/vanbus/internal/fusion"
	"github.com/qurore/vanbus/internal/roadevents"
)

func TestNew(t *testing.T) {
	m := New()

	assert.NotNil(t, m.Registry)
	assert.NotNil(t, m.RunsTotal)
	assert.NotNil(t, m.PhaseDuration)
	assert.NotNil(t, m.DBConnectionsOpen)
	assert.NotNil(t, m.DBConnectionsInUse)
	assert.NotNil(t, m.DBConnectionsIdle)
	assert.NotNil(t, m.DBWaitSecondsTotal)
}

func TestNewWithLogger(t *testing.T) {
	m := NewWithLogger(nil)
	assert.NotNil(t, m)
	assert.Nil(t, m.logger)
}

func TestStartDBStatsCollector_NilDB(t *testing.T) {
	m := New()
	// Should not panic with nil DB
	m.StartDBStatsCollector(nil, time.Second)
	// Collector should not be marked as started
	assert.False(t, m.collectorStarted.Load())
}

func TestStartDBStatsCollector_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	m := New()

	// Start collector first time
	m.StartDBStatsCollector(db, 100*time.Millisecond)
	assert.True(t, m.collectorStarted.Load())

	// Second call should be no-op
	m.StartDBStatsCollector(db, 100*time.Millisecond)
	assert.True(t, m.collectorStarted.Load())

	m.Shutdown()
}

func TestStartDBStatsCollector_CollectsStats(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	m := New()
	m.StartDBStatsCollector(db, 50*time.Millisecond)

	// Wait for at least one collection cycle
	time.Sleep(100 * time.Millisecond)

	// Verify metrics were actually collected using testutil
	openConns := testutil.ToFloat64(m.DBConnectionsOpen)
	inUse := testutil.ToFloat64(m.DBConnectionsInUse)
	idle := testutil.ToFloat64(m.DBConnectionsIdle)

	// For an in-memory SQLite DB, we expect at least 0 connections (valid value)
	assert.GreaterOrEqual(t, openConns, float64(0))
	assert.GreaterOrEqual(t, inUse, float64(0))
	assert.GreaterOrEqual(t, idle, float64(0))

	m.Shutdown()
}

func TestShutdown_StopsGoroutine(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	m := New()
	m.StartDBStatsCollector(db, 50*time.Millisecond)

	// Shutdown should block until goroutine exits
	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		// Success - Shutdown completed
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not complete within timeout")
	}
}

func TestShutdown_SafeToCallMultipleTimes(t *testing.T) {
	m := New()

	// Should not panic when called multiple times
	m.Shutdown()
	m.Shutdown()
	m.Shutdown()
}

func TestShutdown_SafeWithoutStartingCollector(t *testing.T) {
	m := New()

	// Should not panic even if collector was never started
	m.Shutdown()
}

func sampleReport() *fusion.Report {
	return &fusion.Report{
		RunID:           "run-1",
		StartedAt:       time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Duration:        3 * time.Second,
		Policy:          roadevents.PolicyAggregated,
		InputDelays:     10,
		InputWeather:    4,
		InputRoadEvents: 3,
		OutputRows:      8,
		DroppedRows: map[features.DropReason]int{
			features.DroppedMissingDelay:       1,
			features.DroppedMissingCoordinates: 1,
		},
		DefaultedFields: map[string]int{"direction_id": 2},
		ExcludedEvents: map[roadevents.ExclusionReason]int{
			roadevents.ExcludedInvalidInterval: 1,
		},
		WeatherFilledRows: 5,
		RoadKeys:          6,
		RoadEventsEmpty:   true,
	}
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(sampleReport())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.InputRecords.WithLabelValues("bus_delays")))
	assert.Equal(t, float64(8), testutil.ToFloat64(m.OutputRows))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DroppedRows.WithLabelValues("missing_delay")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DefaultedFields.WithLabelValues("direction_id")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExcludedEvents.WithLabelValues("invalid_interval")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.WeatherFilledRows))
	assert.Equal(t, float64(6), testutil.ToFloat64(m.RoadConditionsKeys))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DatasetEmpty.WithLabelValues("road_events")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DatasetEmpty.WithLabelValues("weather")))
	assert.Equal(t, float64(1770681603), testutil.ToFloat64(m.LastRunTimestamp))
}

func TestObserveRun_ResetsReasonsBetweenRuns(t *testing.T) {
	m := New()
	m.ObserveRun(sampleReport())

	second := sampleReport()
	second.DroppedRows = nil
	m.ObserveRun(second)

	assert.Equal(t, 0, testutil.CollectAndCount(m.DroppedRows))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
}

func TestObservePhaseAndFailure(t *testing.T) {
	m := New()
	m.ObservePhase(fusion.PhaseWeather, 120*time.Millisecond)
	m.ObservePhase(fusion.PhaseAssemble, 2*time.Second)
	m.ObserveFailure()

	assert.Equal(t, 2, testutil.CollectAndCount(m.PhaseDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("failure")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveRun(sampleReport())

	path := filepath.Join(t.TempDir(), "vanbus.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vanbus_fusion_output_rows 8")
	assert.Contains(t, string(data), `vanbus_fusion_runs_total{outcome="success"} 1`)
}

func TestWriteTextfile_BadPath(t *testing.T) {
	m := New()
	err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
