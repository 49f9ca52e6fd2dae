// Package roadcond turns road events into per-location features: how many
// incidents and construction events are active within a radius of a stop,
// and how far the nearest candidate event is. Each distinct evaluation key
// is computed once and shared by every observation mapping to it.
package roadcond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/qurore/vanbus/internal/bucket"
	"github.com/qurore/vanbus/internal/geo"
	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/models"
	"github.com/qurore/vanbus/internal/roadevents"
)

// ErrInvalidDistance reports a negative or NaN distance. It indicates a
// defect, not bad input.
var ErrInvalidDistance = errors.New("invalid distance")

// Config parameterizes a Builder.
type Config struct {
	Policy            roadevents.Policy
	RadiusKm          float64
	NoEventDistanceKm float64
	// EventBucket is required by the hourly policy.
	EventBucket bucket.Bucketer
	// Workers caps parallelism; zero means GOMAXPROCS.
	Workers int
}

// Builder computes road conditions for delay observations against the
// events of one resolver. It is safe for concurrent use once built.
type Builder struct {
	cfg      Config
	keyer    keyer
	resolver *roadevents.Resolver
	index    *geo.PointIndex
	logger   *slog.Logger
}

// NewBuilder indexes the resolver's valid events.
func NewBuilder(cfg Config, resolver *roadevents.Resolver, logger *slog.Logger) (*Builder, error) {
	if _, err := roadevents.ParsePolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if cfg.RadiusKm <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %v", cfg.RadiusKm)
	}
	if cfg.NoEventDistanceKm < 0 || math.IsNaN(cfg.NoEventDistanceKm) {
		return nil, fmt.Errorf("%w: default distance %v", ErrInvalidDistance, cfg.NoEventDistanceKm)
	}
	if cfg.Policy == roadevents.PolicyHourly && cfg.EventBucket.Width() <= 0 {
		return nil, fmt.Errorf("hourly policy: %w", bucket.ErrInvalidWidth)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "roadcond"))
	}

	events := resolver.Events()
	points := make([]geo.Point, len(events))
	for i, e := range events {
		points[i] = e.Point
	}

	return &Builder{
		cfg:      cfg,
		keyer:    keyer{policy: cfg.Policy, eventBucket: cfg.EventBucket},
		resolver: resolver,
		index:    geo.NewPointIndex(points),
		logger:   logger,
	}, nil
}

// Keys returns the distinct evaluation keys of delays in a deterministic
// order.
func (b *Builder) Keys(delays []models.DelayObservation) []Key {
	seen := make(map[Key]struct{})
	keys := make([]Key, 0)
	for _, d := range delays {
		k, ok := b.keyer.key(d)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// Build evaluates every distinct key of delays. Keys are split into
// contiguous partitions, one per worker; each worker fills its own map and
// the maps are merged once all workers finish. Any invalid distance aborts
// the whole build.
func (b *Builder) Build(ctx context.Context, delays []models.DelayObservation) (*Table, error) {
	keys := b.Keys(delays)

	workers := b.cfg.Workers
	if workers > len(keys) {
		workers = len(keys)
	}
	table := &Table{keyer: b.keyer, entries: make(map[Key]Conditions, len(keys))}
	if workers == 0 {
		return table, nil
	}

	logging.LogOperation(b.logger, "road_conditions_started",
		slog.String("policy", string(b.cfg.Policy)),
		slog.Int("keys", len(keys)),
		slog.Int("events", b.index.Len()),
		slog.Int("workers", workers))

	parts := make([]map[Key]Conditions, workers)
	g, gctx := errgroup.WithContext(ctx)
	size := (len(keys) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		w := w
		lo := w * size
		hi := min(lo+size, len(keys))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			out, err := b.evaluate(gctx, w, keys[lo:hi])
			if err != nil {
				return err
			}
			parts[w] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, part := range parts {
		for k, c := range part {
			table.entries[k] = c
		}
	}
	return table, nil
}

// worker holds the scratch state of one partition.
type worker struct {
	b      *Builder
	atSet  bool
	at     time.Time
	active []bool
	points []geo.Point
	dists  []float64
}

func (b *Builder) evaluate(ctx context.Context, id int, keys []Key) (map[Key]Conditions, error) {
	w := &worker{b: b}
	out := make(map[Key]Conditions, len(keys))
	progress := rate.Sometimes{Interval: 5 * time.Second}

	for i, k := range keys {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c, err := w.conditions(k)
		if err != nil {
			return nil, err
		}
		out[k] = c
		progress.Do(func() {
			b.logger.Debug("road conditions progress",
				slog.Int("worker", id),
				slog.Int("done", i+1),
				slog.Int("total", len(keys)))
		})
	}
	return out, nil
}

// refresh recomputes the candidate set when the evaluation time changes.
// Keys are sorted by time first, so a partition refreshes once per instant.
func (w *worker) refresh(k Key) {
	at := w.b.keyer.evaluationTime(k)
	if w.atSet && at.Equal(w.at) {
		return
	}
	w.atSet, w.at = true, at

	events := w.b.resolver.Events()
	if cap(w.active) < len(events) {
		w.active = make([]bool, len(events))
	}
	w.active = w.active[:len(events)]
	w.points = w.points[:0]

	timeAware := w.b.cfg.Policy.TimeAware()
	for i, e := range events {
		w.active[i] = !timeAware || e.ActiveAt(at)
		if w.active[i] {
			w.points = append(w.points, e.Point)
		}
	}
}

func (w *worker) conditions(k Key) (Conditions, error) {
	w.refresh(k)
	c := Conditions{NearestEventDistanceKm: w.b.cfg.NoEventDistanceKm}
	if len(w.points) == 0 {
		return c, nil
	}

	loc := geo.Point{Lat: k.Lat, Lon: k.Lon}
	events := w.b.resolver.Events()
	nearest := math.Inf(1)
	for _, n := range w.b.index.Within(loc, w.b.cfg.RadiusKm) {
		if !w.active[n.Index] {
			continue
		}
		if err := checkDistance(n.DistanceKm, k); err != nil {
			return Conditions{}, err
		}
		switch events[n.Index].Type {
		case models.EventIncident:
			c.ActiveIncidents++
		case models.EventConstruction:
			c.ActiveConstruction++
		}
		nearest = min(nearest, n.DistanceKm)
	}

	// Nothing inside the radius: the nearest candidate lies outside it.
	if math.IsInf(nearest, 1) {
		w.dists = geo.AppendDistances(w.dists[:0], loc, w.points)
		for _, d := range w.dists {
			if err := checkDistance(d, k); err != nil {
				return Conditions{}, err
			}
			nearest = min(nearest, d)
		}
	}
	c.NearestEventDistanceKm = nearest
	return c, nil
}

func checkDistance(d float64, k Key) error {
	if d < 0 || math.IsNaN(d) {
		return fmt.Errorf("%w: %v km from (%v, %v)", ErrInvalidDistance, d, k.Lat, k.Lon)
	}
	return nil
}
