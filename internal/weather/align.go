// Package weather aligns delay observations with station weather. Station
// reports are averaged per time bucket, then every delay observation takes
// the vector of its own bucket, filling each missing field from the nearest
// earlier bucket that has it, else the nearest later one.
package weather

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/qurore/vanbus/internal/bucket"
	"github.com/qurore/vanbus/internal/models"
)

// Alignment is the per-observation result of Align.
type Alignment struct {
	// Vectors has one entry per input delay observation, in input order.
	Vectors []Vector
	// Buckets is the number of weather buckets with at least one report.
	Buckets int
	// SkippedObservations counts weather reports without a timestamp.
	SkippedObservations int
	// FilledRows counts delay observations where at least one field came
	// from a neighbouring bucket.
	FilledRows int
	// Empty is true when no usable weather report exists at all.
	Empty bool
}

// series is the sorted list of buckets that carry one field, with the
// bucket mean of that field.
type series struct {
	keys   []bucket.Key
	values []float64
}

// lookup returns the value at k, else the nearest earlier, else the nearest
// later. exact is false when the value came from another bucket.
func (s series) lookup(k bucket.Key) (v float64, exact, ok bool) {
	if len(s.keys) == 0 {
		return 0, false, false
	}
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= k })
	switch {
	case i < len(s.keys) && s.keys[i] == k:
		return s.values[i], true, true
	case i > 0:
		return s.values[i-1], false, true
	default:
		return s.values[i], false, true
	}
}

// Means averages every field of obs per bucket, ignoring missing values per
// field. Reports without a timestamp are skipped and counted.
func Means(obs []models.WeatherObservation, b bucket.Bucketer) (map[bucket.Key]Vector, int, error) {
	if b.Width() <= 0 {
		return nil, 0, fmt.Errorf("weather bucket: %w", bucket.ErrInvalidWidth)
	}

	samples := make(map[bucket.Key]*[NumFields][]float64)
	skipped := 0
	for _, o := range obs {
		if o.RecordedAt.IsZero() {
			skipped++
			continue
		}
		k := b.Key(o.RecordedAt)
		s, ok := samples[k]
		if !ok {
			s = new([NumFields][]float64)
			samples[k] = s
		}
		for f, m := range measurements(o) {
			if m == nil || math.IsNaN(*m) {
				continue
			}
			s[f] = append(s[f], *m)
		}
	}

	means := make(map[bucket.Key]Vector, len(samples))
	for k, s := range samples {
		var v Vector
		for f := range s {
			if len(s[f]) == 0 {
				continue
			}
			v[f] = Value{Float64: stat.Mean(s[f], nil), Valid: true}
		}
		means[k] = v
	}
	return means, skipped, nil
}

// Align returns one weather vector per delay observation. Means are taken
// before the time fill. Delay observations without a timestamp get an unset
// vector.
func Align(delays []models.DelayObservation, obs []models.WeatherObservation, b bucket.Bucketer) (Alignment, error) {
	means, skipped, err := Means(obs, b)
	if err != nil {
		return Alignment{}, err
	}

	keys := make([]bucket.Key, 0, len(means))
	for k := range means {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var bySeries [NumFields]series
	for _, k := range keys {
		v := means[k]
		for f := range v {
			if !v[f].Valid {
				continue
			}
			bySeries[f].keys = append(bySeries[f].keys, k)
			bySeries[f].values = append(bySeries[f].values, v[f].Float64)
		}
	}

	a := Alignment{
		Vectors:             make([]Vector, len(delays)),
		Buckets:             len(keys),
		SkippedObservations: skipped,
		Empty:               len(keys) == 0,
	}
	if a.Empty {
		return a, nil
	}

	type resolved struct {
		v      Vector
		filled bool
	}
	memo := make(map[bucket.Key]resolved)
	for i, d := range delays {
		if !d.HasTimestamp() {
			continue
		}
		k := b.Key(d.RecordedAt)
		r, ok := memo[k]
		if !ok {
			for f := range bySeries {
				val, exact, found := bySeries[f].lookup(k)
				if !found {
					continue
				}
				r.v[f] = Value{Float64: val, Valid: true}
				if !exact {
					r.filled = true
				}
			}
			memo[k] = r
		}
		a.Vectors[i] = r.v
		if r.filled {
			a.FilledRows++
		}
	}
	return a, nil
}
