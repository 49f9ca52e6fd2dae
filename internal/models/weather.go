package models

import "time"

// WeatherObservation is a single station report. Measurements missing from
// the report are nil.
type WeatherObservation struct {
	StationID       string    `json:"stationId"`
	RecordedAt      time.Time `json:"recordedAt"`
	Lat             *float64  `json:"lat,omitempty"`
	Lon             *float64  `json:"lon,omitempty"`
	TemperatureC    *float64  `json:"temperatureC,omitempty"`
	HumidityPercent *float64  `json:"humidityPercent,omitempty"`
	WindSpeedKmh    *float64  `json:"windSpeedKmh,omitempty"`
	PrecipitationMm *float64  `json:"precipitationMm,omitempty"`
	VisibilityKm    *float64  `json:"visibilityKm,omitempty"`
}
