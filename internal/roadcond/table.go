package roadcond

import (
	"time"

	"github.com/qurore/vanbus/internal/bucket"
	"github.com/qurore/vanbus/internal/geo"
	"github.com/qurore/vanbus/internal/models"
	"github.com/qurore/vanbus/internal/roadevents"
)

// Key identifies one evaluation: a stop location plus, for time-aware
// policies, the instant activity is evaluated at. At is zero under the
// aggregated policy, Unix seconds under fine_grained (with the fraction in
// Nsec) and the event bucket key (Unix seconds) under hourly.
type Key struct {
	Lat  float64
	Lon  float64
	At   int64
	Nsec int64
}

func (k Key) less(o Key) bool {
	if k.At != o.At {
		return k.At < o.At
	}
	if k.Nsec != o.Nsec {
		return k.Nsec < o.Nsec
	}
	if k.Lat != o.Lat {
		return k.Lat < o.Lat
	}
	return k.Lon < o.Lon
}

// Conditions is the road-condition triple broadcast to every observation
// sharing a key.
type Conditions struct {
	ActiveIncidents        int
	ActiveConstruction     int
	NearestEventDistanceKm float64
}

type keyer struct {
	policy      roadevents.Policy
	eventBucket bucket.Bucketer
}

// key derives the evaluation key of d. Observations without coordinates,
// or without a timestamp under a time-aware policy, have none.
func (k keyer) key(d models.DelayObservation) (Key, bool) {
	if !d.HasCoordinates() {
		return Key{}, false
	}
	lat, lon := *d.StopLat, *d.StopLon
	if !geo.ValidCoordinate(lat, lon) {
		return Key{}, false
	}
	key := Key{Lat: lat, Lon: lon}
	switch k.policy {
	case roadevents.PolicyFineGrained:
		if !d.HasTimestamp() {
			return Key{}, false
		}
		key.At = d.RecordedAt.Unix()
		key.Nsec = int64(d.RecordedAt.Nanosecond())
	case roadevents.PolicyHourly:
		if !d.HasTimestamp() {
			return Key{}, false
		}
		key.At = int64(k.eventBucket.Key(d.RecordedAt))
	}
	return key, true
}

// evaluationTime is the instant events are checked against for key.
func (k keyer) evaluationTime(key Key) time.Time {
	switch k.policy {
	case roadevents.PolicyFineGrained:
		return time.Unix(key.At, key.Nsec).UTC()
	case roadevents.PolicyHourly:
		return bucket.Key(key.At).Time()
	default:
		return time.Time{}
	}
}

// Table holds the conditions of every evaluated key.
type Table struct {
	keyer   keyer
	entries map[Key]Conditions
}

// Len returns the number of distinct keys.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Get returns the conditions stored for k.
func (t *Table) Get(k Key) (Conditions, bool) {
	if t == nil {
		return Conditions{}, false
	}
	c, ok := t.entries[k]
	return c, ok
}

// Lookup returns the conditions of the key d maps to.
func (t *Table) Lookup(d models.DelayObservation) (Conditions, bool) {
	if t == nil {
		return Conditions{}, false
	}
	k, ok := t.keyer.key(d)
	if !ok {
		return Conditions{}, false
	}
	return t.Get(k)
}
