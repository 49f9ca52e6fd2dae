package weather

import "github.com/qurore/vanbus/internal/models"

// Field indexes one weather measurement.
type Field int

const (
	Temperature Field = iota
	Humidity
	WindSpeed
	Precipitation
	Visibility

	NumFields
)

var columns = [NumFields]string{
	Temperature:   "temperature_c",
	Humidity:      "humidity_percent",
	WindSpeed:     "wind_speed_kmh",
	Precipitation: "precipitation_mm",
	Visibility:    "visibility_km",
}

// Column returns the feature column name of f.
func (f Field) Column() string {
	if f < 0 || f >= NumFields {
		return ""
	}
	return columns[f]
}

// Fields returns every field in column order.
func Fields() []Field {
	out := make([]Field, NumFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// Value is a measurement that may be unset.
type Value struct {
	Float64 float64
	Valid   bool
}

// Vector is one value per field.
type Vector [NumFields]Value

// Get returns the value of f and whether it is set.
func (v Vector) Get(f Field) (float64, bool) {
	return v[f].Float64, v[f].Valid
}

// Complete reports whether every field is set.
func (v Vector) Complete() bool {
	for _, x := range v {
		if !x.Valid {
			return false
		}
	}
	return true
}

func measurements(o models.WeatherObservation) [NumFields]*float64 {
	return [NumFields]*float64{
		Temperature:   o.TemperatureC,
		Humidity:      o.HumidityPercent,
		WindSpeed:     o.WindSpeedKmh,
		Precipitation: o.PrecipitationMm,
		Visibility:    o.VisibilityKm,
	}
}
