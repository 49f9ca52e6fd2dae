package roadcond

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qurore/vanbus/internal/bucket"
	"github.com/qurore/vanbus/internal/models"
	"github.com/qurore/vanbus/internal/roadevents"
)

const (
	stopLat = 49.28
	stopLon = -123.12
)

var (
	base = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	now  = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
)

func ptr[T any](v T) *T { return &v }

// northOf returns the latitude km kilometres north of lat.
func northOf(lat, km float64) float64 {
	return lat + km/(6371.0*math.Pi/180)
}

func delay(lat, lon float64, at time.Time) models.DelayObservation {
	return models.DelayObservation{
		RouteID:      "R1",
		StopID:       "S1",
		TripID:       "T1",
		DelaySeconds: ptr(90),
		RecordedAt:   at,
		StopLat:      ptr(lat),
		StopLon:      ptr(lon),
	}
}

func event(id string, typ models.EventType, status models.EventStatus, lat, lon float64, created time.Time, updated *time.Time) models.RoadEvent {
	return models.RoadEvent{
		EventID:   id,
		Type:      typ,
		Status:    status,
		CreatedAt: &created,
		UpdatedAt: updated,
		Lat:       ptr(lat),
		Lon:       ptr(lon),
	}
}

func newBuilder(t *testing.T, policy roadevents.Policy, raw []models.RoadEvent, workers int) *Builder {
	t.Helper()
	hour, err := bucket.New(time.Hour)
	require.NoError(t, err)
	b, err := NewBuilder(Config{
		Policy:            policy,
		RadiusKm:          5,
		NoEventDistanceKm: 50,
		EventBucket:       hour,
		Workers:           workers,
	}, roadevents.NewResolver(raw, now), nil)
	require.NoError(t, err)
	return b
}

func TestBuild_NoEvents(t *testing.T) {
	for _, policy := range roadevents.Policies() {
		t.Run(string(policy), func(t *testing.T) {
			b := newBuilder(t, policy, nil, 2)
			d := delay(stopLat, stopLon, base.Add(15*time.Minute))

			table, err := b.Build(context.Background(), []models.DelayObservation{d})
			require.NoError(t, err)

			c, ok := table.Lookup(d)
			require.True(t, ok)
			assert.Equal(t, Conditions{NearestEventDistanceKm: 50}, c)
		})
	}
}

func TestBuild_CountsWithinRadiusAndNearest(t *testing.T) {
	raw := []models.RoadEvent{
		event("inc-2km", models.EventIncident, models.StatusActive, northOf(stopLat, 2), stopLon, base, nil),
		event("con-4km", models.EventConstruction, models.StatusActive, northOf(stopLat, 4), stopLon, base, nil),
		event("inc-8km", models.EventIncident, models.StatusActive, northOf(stopLat, 8), stopLon, base, nil),
		event("other-1km", models.EventOther, models.StatusActive, northOf(stopLat, 1), stopLon, base, nil),
	}
	b := newBuilder(t, roadevents.PolicyAggregated, raw, 1)
	d := delay(stopLat, stopLon, base.Add(15*time.Minute))

	table, err := b.Build(context.Background(), []models.DelayObservation{d})
	require.NoError(t, err)
	c, ok := table.Lookup(d)
	require.True(t, ok)

	assert.Equal(t, 1, c.ActiveIncidents)
	assert.Equal(t, 1, c.ActiveConstruction)
	assert.InDelta(t, 1.0, c.NearestEventDistanceKm, 1e-6, "nearest counts every candidate type")
}

func TestBuild_NearestOutsideRadius(t *testing.T) {
	raw := []models.RoadEvent{
		event("far", models.EventIncident, models.StatusActive, northOf(stopLat, 12), stopLon, base, nil),
	}
	b := newBuilder(t, roadevents.PolicyAggregated, raw, 1)
	d := delay(stopLat, stopLon, base)

	table, err := b.Build(context.Background(), []models.DelayObservation{d})
	require.NoError(t, err)
	c, _ := table.Lookup(d)

	assert.Equal(t, 0, c.ActiveIncidents)
	assert.InDelta(t, 12.0, c.NearestEventDistanceKm, 1e-6)
}

func TestBuild_PoliciesDisagreeOnTiming(t *testing.T) {
	cleared := base.Add(10 * time.Minute)
	raw := []models.RoadEvent{
		// archived well before the observation
		event("cleared", models.EventIncident, models.StatusArchived, northOf(stopLat, 1), stopLon, base, &cleared),
		// created within the observation's hour, before the observation
		event("fresh", models.EventConstruction, models.StatusActive, northOf(stopLat, 3), stopLon, base.Add(30*time.Minute), nil),
	}
	d := delay(stopLat, stopLon, base.Add(45*time.Minute))

	tests := []struct {
		policy       roadevents.Policy
		incidents    int
		construction int
		nearest      float64
	}{
		{roadevents.PolicyAggregated, 1, 1, 1},
		{roadevents.PolicyFineGrained, 0, 1, 3},
		// evaluated at 08:00: "cleared" is still active, "fresh" not yet created
		{roadevents.PolicyHourly, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			b := newBuilder(t, tt.policy, raw, 1)
			table, err := b.Build(context.Background(), []models.DelayObservation{d})
			require.NoError(t, err)

			c, ok := table.Lookup(d)
			require.True(t, ok)
			assert.Equal(t, tt.incidents, c.ActiveIncidents)
			assert.Equal(t, tt.construction, c.ActiveConstruction)
			assert.InDelta(t, tt.nearest, c.NearestEventDistanceKm, 1e-6)
		})
	}
}

func TestBuild_NoActiveCandidatesUsesDefault(t *testing.T) {
	raw := []models.RoadEvent{
		event("later", models.EventIncident, models.StatusActive, northOf(stopLat, 1), stopLon, base.Add(2*time.Hour), nil),
	}
	b := newBuilder(t, roadevents.PolicyFineGrained, raw, 1)
	d := delay(stopLat, stopLon, base)

	table, err := b.Build(context.Background(), []models.DelayObservation{d})
	require.NoError(t, err)
	c, _ := table.Lookup(d)
	assert.Equal(t, Conditions{NearestEventDistanceKm: 50}, c)
}

func TestBuild_KeysDeduplicate(t *testing.T) {
	b := newBuilder(t, roadevents.PolicyAggregated, nil, 4)
	delays := []models.DelayObservation{
		delay(stopLat, stopLon, base),
		delay(stopLat, stopLon, base.Add(time.Hour)),
		delay(49.25, -123.10, base),
		{StopID: "no-coords", RecordedAt: base},
	}

	table, err := b.Build(context.Background(), delays)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	_, ok := table.Lookup(delays[3])
	assert.False(t, ok)

	hourly := newBuilder(t, roadevents.PolicyHourly, nil, 4)
	assert.Len(t, hourly.Keys(delays), 3)
}

func TestBuild_DeterministicAcrossWorkerCounts(t *testing.T) {
	var raw []models.RoadEvent
	for i := 0; i < 40; i++ {
		typ := models.EventIncident
		if i%3 == 0 {
			typ = models.EventConstruction
		}
		lat := 49.20 + float64(i)*0.004
		raw = append(raw, event("e", typ, models.StatusActive, lat, -123.10+float64(i%7)*0.01, base.Add(time.Duration(i)*time.Minute), nil))
	}
	var delays []models.DelayObservation
	for i := 0; i < 200; i++ {
		delays = append(delays, delay(49.18+float64(i%25)*0.01, -123.15+float64(i%9)*0.01, base.Add(time.Duration(i)*3*time.Minute)))
	}

	for _, policy := range roadevents.Policies() {
		t.Run(string(policy), func(t *testing.T) {
			one, err := newBuilder(t, policy, raw, 1).Build(context.Background(), delays)
			require.NoError(t, err)
			many, err := newBuilder(t, policy, raw, 7).Build(context.Background(), delays)
			require.NoError(t, err)

			assert.Equal(t, one.entries, many.entries)
		})
	}
}

func TestBuild_Cancelled(t *testing.T) {
	b := newBuilder(t, roadevents.PolicyAggregated, nil, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, []models.DelayObservation{delay(stopLat, stopLon, base)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBuilder_Validation(t *testing.T) {
	r := roadevents.NewResolver(nil, now)

	_, err := NewBuilder(Config{Policy: "weekly", RadiusKm: 5}, r, nil)
	assert.ErrorIs(t, err, roadevents.ErrUnknownPolicy)

	_, err = NewBuilder(Config{Policy: roadevents.PolicyAggregated}, r, nil)
	assert.Error(t, err)

	_, err = NewBuilder(Config{Policy: roadevents.PolicyAggregated, RadiusKm: 5, NoEventDistanceKm: -1}, r, nil)
	assert.ErrorIs(t, err, ErrInvalidDistance)

	_, err = NewBuilder(Config{Policy: roadevents.PolicyHourly, RadiusKm: 5}, r, nil)
	assert.ErrorIs(t, err, bucket.ErrInvalidWidth)
}

func TestCheckDistance(t *testing.T) {
	assert.NoError(t, checkDistance(0, Key{}))
	assert.ErrorIs(t, checkDistance(-0.1, Key{}), ErrInvalidDistance)
	assert.ErrorIs(t, checkDistance(math.NaN(), Key{}), ErrInvalidDistance)
}

func TestKeyer_FineGrainedKeepsTimestampsOutsideNanoRange(t *testing.T) {
	k := keyer{policy: roadevents.PolicyFineGrained}
	for _, at := range []time.Time{
		time.Date(2300, 1, 1, 8, 0, 0, 5, time.UTC),
		time.Date(1600, 6, 1, 8, 0, 0, 0, time.UTC),
		base.Add(123 * time.Millisecond),
	} {
		key, ok := k.key(delay(stopLat, stopLon, at))
		require.True(t, ok)
		assert.True(t, at.Equal(k.evaluationTime(key)), "at %v", at)
	}

	b := newBuilder(t, roadevents.PolicyFineGrained, nil, 1)
	keys := b.Keys([]models.DelayObservation{
		delay(stopLat, stopLon, base),
		delay(stopLat, stopLon, base.Add(time.Nanosecond)),
		delay(stopLat, stopLon, base),
	})
	require.Len(t, keys, 2)
	assert.True(t, keys[0].less(keys[1]))
}

func TestKeyer_RejectsNonFiniteCoordinates(t *testing.T) {
	k := keyer{policy: roadevents.PolicyAggregated}
	_, ok := k.key(delay(math.Inf(-1), stopLon, base))
	assert.False(t, ok)
	_, ok = k.key(delay(stopLat, math.NaN(), base))
	assert.False(t, ok)
	_, ok = k.key(delay(stopLat, 200, base))
	assert.False(t, ok)
}
