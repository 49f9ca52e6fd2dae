package models

// TripStop keys a stop visit within a trip.
type TripStop struct {
	TripID string
	StopID string
}

// StaticAttributes are the schedule-derived lookups joined onto delay
// observations. A nil *StaticAttributes is valid and resolves nothing.
type StaticAttributes struct {
	RouteShortNames map[string]string
	StopCoordinates map[string]Coordinate
	StopSequences   map[TripStop]int
}

// NewStaticAttributes returns empty, writable lookups.
func NewStaticAttributes() *StaticAttributes {
	return &StaticAttributes{
		RouteShortNames: make(map[string]string),
		StopCoordinates: make(map[string]Coordinate),
		StopSequences:   make(map[TripStop]int),
	}
}

// RouteShortName resolves a route id.
func (s *StaticAttributes) RouteShortName(routeID string) (string, bool) {
	if s == nil {
		return "", false
	}
	name, ok := s.RouteShortNames[routeID]
	return name, ok && name != ""
}

// StopSequence resolves the position of a stop within a trip.
func (s *StaticAttributes) StopSequence(tripID, stopID string) (int, bool) {
	if s == nil {
		return 0, false
	}
	seq, ok := s.StopSequences[TripStop{TripID: tripID, StopID: stopID}]
	return seq, ok
}

// StopCoordinate resolves a stop location.
func (s *StaticAttributes) StopCoordinate(stopID string) (Coordinate, bool) {
	if s == nil {
		return Coordinate{}, false
	}
	c, ok := s.StopCoordinates[stopID]
	return c, ok
}

// WithStopCoordinates returns a copy of delays where observations lacking
// stop coordinates take them from the stop lookup. The input slice is not
// modified. The second result counts the filled rows.
func (s *StaticAttributes) WithStopCoordinates(delays []DelayObservation) ([]DelayObservation, int) {
	out := make([]DelayObservation, len(delays))
	copy(out, delays)
	if s == nil || len(s.StopCoordinates) == 0 {
		return out, 0
	}

	filled := 0
	for i := range out {
		if out[i].HasCoordinates() {
			continue
		}
		c, ok := s.StopCoordinates[out[i].StopID]
		if !ok {
			continue
		}
		lat, lon := c.Lat, c.Lon
		out[i].StopLat = &lat
		out[i].StopLon = &lon
		filled++
	}
	return out, filled
}

// Merge copies every entry of other into s, overwriting on conflict.
func (s *StaticAttributes) Merge(other *StaticAttributes) {
	if other == nil {
		return
	}
	for k, v := range other.RouteShortNames {
		s.RouteShortNames[k] = v
	}
	for k, v := range other.StopCoordinates {
		s.StopCoordinates[k] = v
	}
	for k, v := range other.StopSequences {
		s.StopSequences[k] = v
	}
}
