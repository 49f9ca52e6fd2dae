package models

import (
	"strings"
	"time"
)

// EventType classifies a road event.
type EventType string

const (
	EventIncident     EventType = "incident"
	EventConstruction EventType = "construction"
	EventOther        EventType = "other"
)

// ParseEventType maps an Open511 event_type (INCIDENT, CONSTRUCTION,
// SPECIAL_EVENT, WEATHER_CONDITION, ROAD_CONDITION) to an EventType.
func ParseEventType(s string) EventType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "incident":
		return EventIncident
	case "construction":
		return EventConstruction
	default:
		return EventOther
	}
}

// EventStatus is the lifecycle state reported by the feed.
type EventStatus string

const (
	StatusActive   EventStatus = "active"
	StatusArchived EventStatus = "archived"
)

// ParseEventStatus maps ACTIVE/ARCHIVED; anything else is treated as
// archived so that its interval closes at its last update.
func ParseEventStatus(s string) EventStatus {
	if strings.EqualFold(strings.TrimSpace(s), "active") {
		return StatusActive
	}
	return StatusArchived
}

// RoadEvent is an incident, construction or other road event with a single
// representative point.
type RoadEvent struct {
	EventID   string      `json:"eventId"`
	Type      EventType   `json:"type"`
	Status    EventStatus `json:"status"`
	Severity  string      `json:"severity,omitempty"`
	CreatedAt *time.Time  `json:"createdAt,omitempty"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
	Lat       *float64    `json:"lat,omitempty"`
	Lon       *float64    `json:"lon,omitempty"`
}
