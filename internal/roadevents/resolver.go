// Package roadevents decides which road events are in effect at a given
// moment. An event is valid over [created, effective_end), where
// effective_end is the run's "now" for active events and the last update
// otherwise. Events that cannot carry a valid interval are excluded once,
// when the resolver is built, and counted by reason.
package roadevents

import (
	"sort"
	"time"

	"github.com/qurore/vanbus/internal/geo"
	"github.com/qurore/vanbus/internal/models"
)

// ExclusionReason explains why an event was left out of resolution.
type ExclusionReason string

const (
	ExcludedMissingCreated  ExclusionReason = "missing_created"
	ExcludedMissingLocation ExclusionReason = "missing_location"
	ExcludedMissingUpdated  ExclusionReason = "missing_updated"
	ExcludedInvalidInterval ExclusionReason = "invalid_interval"
)

// Event is a validated road event.
type Event struct {
	ID       string
	Type     models.EventType
	Severity string
	Created  time.Time
	// Updated is zero for open events that never reported an update.
	Updated time.Time
	// Open is true for events whose status is active.
	Open  bool
	Point geo.Point
}

// ActiveAt reports whether e is in effect at t: created no later than t and
// either still open or last updated no earlier than t.
func (e Event) ActiveAt(t time.Time) bool {
	if e.Created.After(t) {
		return false
	}
	return e.Open || !e.Updated.Before(t)
}

// EffectiveEnd returns the end of the validity interval given the run's now.
func (e Event) EffectiveEnd(now time.Time) time.Time {
	if e.Open {
		return now
	}
	return e.Updated
}

// Resolver holds the valid events of one run.
type Resolver struct {
	now      time.Time
	events   []Event
	excluded map[ExclusionReason]int
}

// NewResolver validates raw against now. Invalid events never reach the
// result; they are only counted.
func NewResolver(raw []models.RoadEvent, now time.Time) *Resolver {
	r := &Resolver{
		now:      now,
		events:   make([]Event, 0, len(raw)),
		excluded: make(map[ExclusionReason]int),
	}
	for _, re := range raw {
		ev, reason, ok := validate(re, now)
		if !ok {
			r.excluded[reason]++
			continue
		}
		r.events = append(r.events, ev)
	}
	// Ordered by creation then id, independent of source row order.
	sort.SliceStable(r.events, func(i, j int) bool {
		if !r.events[i].Created.Equal(r.events[j].Created) {
			return r.events[i].Created.Before(r.events[j].Created)
		}
		return r.events[i].ID < r.events[j].ID
	})
	return r
}

func validate(re models.RoadEvent, now time.Time) (Event, ExclusionReason, bool) {
	if re.CreatedAt == nil || re.CreatedAt.IsZero() {
		return Event{}, ExcludedMissingCreated, false
	}
	if re.Lat == nil || re.Lon == nil || !geo.ValidCoordinate(*re.Lat, *re.Lon) {
		return Event{}, ExcludedMissingLocation, false
	}
	ev := Event{
		ID:       re.EventID,
		Type:     re.Type,
		Severity: re.Severity,
		Created:  re.CreatedAt.UTC(),
		Open:     re.Status == models.StatusActive,
		Point:    geo.Point{Lat: *re.Lat, Lon: *re.Lon},
	}
	if re.UpdatedAt != nil {
		ev.Updated = re.UpdatedAt.UTC()
	}
	if !ev.Open && ev.Updated.IsZero() {
		return Event{}, ExcludedMissingUpdated, false
	}
	if ev.Created.After(ev.EffectiveEnd(now)) {
		return Event{}, ExcludedInvalidInterval, false
	}
	return ev, "", true
}

// Now returns the instant used as effective end for open events.
func (r *Resolver) Now() time.Time { return r.now }

// Events returns the valid events. The slice must not be modified.
func (r *Resolver) Events() []Event { return r.events }

// Excluded returns a copy of the exclusion counts by reason.
func (r *Resolver) Excluded() map[ExclusionReason]int {
	out := make(map[ExclusionReason]int, len(r.excluded))
	for k, v := range r.excluded {
		out[k] = v
	}
	return out
}

// ExcludedTotal is the number of events dropped for any reason.
func (r *Resolver) ExcludedTotal() int {
	n := 0
	for _, v := range r.excluded {
		n += v
	}
	return n
}

// Active returns the valid events in effect at t, in resolver order.
func (r *Resolver) Active(t time.Time) []Event {
	return ActiveEvents(r.events, t)
}

// ActiveEvents filters events down to those in effect at t.
func ActiveEvents(events []Event, t time.Time) []Event {
	var out []Event
	for _, e := range events {
		if e.ActiveAt(t) {
			out = append(out, e)
		}
	}
	return out
}
