package models

import "time"

// DelayObservation is one recorded arrival delay of a bus at a stop.
// Optional fields are pointers; nil means the upstream row had no value.
type DelayObservation struct {
	RouteID        string    `json:"routeId"`
	RouteShortName string    `json:"routeShortName,omitempty"`
	StopID         string    `json:"stopId"`
	TripID         string    `json:"tripId"`
	VehicleID      string    `json:"vehicleId,omitempty"`
	DelaySeconds   *int      `json:"delaySeconds,omitempty"`
	RecordedAt     time.Time `json:"recordedAt"`
	StopLat        *float64  `json:"stopLat,omitempty"`
	StopLon        *float64  `json:"stopLon,omitempty"`
	DirectionID    *int      `json:"directionId,omitempty"`
}

// HasTimestamp reports whether the observation carries a recorded time.
func (d DelayObservation) HasTimestamp() bool {
	return !d.RecordedAt.IsZero()
}

// HasCoordinates reports whether both stop coordinates are present.
func (d DelayObservation) HasCoordinates() bool {
	return d.StopLat != nil && d.StopLon != nil
}

// Coordinate returns the stop location. Callers check HasCoordinates first.
func (d DelayObservation) Coordinate() Coordinate {
	return Coordinate{Lat: *d.StopLat, Lon: *d.StopLon}
}

// DelayFilter narrows which delay observations a source loads.
type DelayFilter struct {
	// RouteShortNames restricts loading to these routes; empty loads all.
	RouteShortNames []string
	// Since, when non-zero, drops observations recorded before it.
	Since time.Time
}

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
