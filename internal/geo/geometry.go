// Package geo is the spatial distance engine: great-circle distances in
// kilometres, their vectorized form, and bounding boxes around a point.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by every distance in the
// module.
const EarthRadiusKm = 6371.0

// Point is a WGS-84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Bounds is a bounding box in degrees.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// ValidCoordinate reports whether lat and lon are finite and inside the
// WGS-84 ranges.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}

// Distance returns the haversine distance in kilometres between two
// coordinates given in degrees. No antimeridian handling is done.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * (math.Pi / 180)
	lat2Rad := lat2 * (math.Pi / 180)
	dLat := (lat2 - lat1) * (math.Pi / 180)
	dLon := (lon2 - lon1) * (math.Pi / 180)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1Rad)*math.Cos(lat2Rad)*sinLon*sinLon
	// rounding can push a a hair outside [0, 1]
	a = math.Min(1, math.Max(0, a))

	return EarthRadiusKm * 2 * math.Asin(math.Sqrt(a))
}

// DistanceBetween is Distance for two Points.
func DistanceBetween(a, b Point) float64 {
	return Distance(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Distances evaluates Distance from one point against every candidate and
// returns a slice of the same length, in candidate order.
func Distances(from Point, candidates []Point) []float64 {
	return AppendDistances(make([]float64, 0, len(candidates)), from, candidates)
}

// AppendDistances is Distances writing into dst, so that a worker can reuse
// one buffer across locations.
func AppendDistances(dst []float64, from Point, candidates []Point) []float64 {
	for _, c := range candidates {
		dst = append(dst, Distance(from.Lat, from.Lon, c.Lat, c.Lon))
	}
	return dst
}

// CalculateBounds returns the smallest box containing every point within
// radiusKm of (lat, lon). The longitude half-width uses the exact spherical
// cap extent, so no point of the circle falls outside the box.
func CalculateBounds(lat, lon, radiusKm float64) Bounds {
	angular := radiusKm / EarthRadiusKm
	latOffset := angular * 180 / math.Pi

	lonOffset := 180.0
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 0 {
		if ratio := math.Sin(angular) / cosLat; ratio < 1 {
			lonOffset = math.Asin(ratio) * 180 / math.Pi
		}
	}

	return Bounds{
		MinLat: lat - latOffset,
		MaxLat: lat + latOffset,
		MinLon: lon - lonOffset,
		MaxLon: lon + lonOffset,
	}
}

// IsOutOfBounds returns true only if the inner bounds have no overlap
// with the outer bounds.
func IsOutOfBounds(inner, outer Bounds) bool {
	return inner.MaxLat < outer.MinLat ||
		inner.MinLat > outer.MaxLat ||
		inner.MaxLon < outer.MinLon ||
		inner.MinLon > outer.MaxLon
}
