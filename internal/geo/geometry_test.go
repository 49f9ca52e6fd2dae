package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lon1      float64
		lat2      float64
		lon2      float64
		expected  float64
		tolerance float64
	}{
		{
			name:      "Same point (zero distance)",
			lat1:      49.28,
			lon1:      -123.12,
			lat2:      49.28,
			lon2:      -123.12,
			expected:  0,
			tolerance: 0,
		},
		{
			name:      "Waterfront to Metrotown",
			lat1:      49.2856,
			lon1:      -123.1115,
			lat2:      49.2258,
			lon2:      -123.0039,
			expected:  10.26,
			tolerance: 0.1,
		},
		{
			name:      "London to Paris",
			lat1:      51.5074,
			lon1:      -0.1278,
			lat2:      48.8566,
			lon2:      2.3522,
			expected:  343.5,
			tolerance: 1,
		},
		{
			name:      "Equator quarter turn",
			lat1:      0,
			lon1:      0,
			lat2:      0,
			lon2:      90,
			expected:  math.Pi / 2 * EarthRadiusKm,
			tolerance: 1e-6,
		},
		{
			name:      "One degree of latitude",
			lat1:      49,
			lon1:      -123,
			lat2:      50,
			lon2:      -123,
			expected:  math.Pi / 180 * EarthRadiusKm,
			tolerance: 1e-6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, got, tt.tolerance)
			assert.GreaterOrEqual(t, got, 0.0)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	points := []Point{
		{49.28, -123.12},
		{49.2, -122.9},
		{49.3201, -123.0724},
		{49.1666, -123.1336},
	}
	for _, a := range points {
		assert.Equal(t, 0.0, DistanceBetween(a, a))
		for _, b := range points {
			assert.InDelta(t, DistanceBetween(a, b), DistanceBetween(b, a), 1e-12)
			if a != b {
				assert.Greater(t, DistanceBetween(a, b), 0.0)
			}
		}
	}
}

func TestDistances(t *testing.T) {
	from := Point{49.28, -123.12}
	candidates := []Point{{49.28, -123.12}, {49.29, -123.12}, {49.2, -122.9}}

	got := Distances(from, candidates)
	require.Len(t, got, len(candidates))
	for i, c := range candidates {
		assert.Equal(t, DistanceBetween(from, c), got[i])
	}

	assert.Empty(t, Distances(from, nil))

	buf := make([]float64, 0, 8)
	buf = AppendDistances(buf, from, candidates[:1])
	buf = AppendDistances(buf, from, candidates[1:])
	assert.Equal(t, got, buf)
}

func TestCalculateBounds(t *testing.T) {
	lat, lon, radius := 49.28, -123.12, 5.0
	b := CalculateBounds(lat, lon, radius)

	// the four compass points of the circle must sit on or inside the box
	north := lat + radius/EarthRadiusKm*180/math.Pi
	assert.InDelta(t, north, b.MaxLat, 1e-9)
	assert.InDelta(t, 2*lat-north, b.MinLat, 1e-9)

	eastDistance := Distance(lat, lon, lat, b.MaxLon)
	assert.GreaterOrEqual(t, eastDistance, radius*0.999)
	assert.Less(t, b.MinLon, lon)

	inner := Bounds{MinLat: 49.27, MaxLat: 49.29, MinLon: -123.13, MaxLon: -123.11}
	assert.False(t, IsOutOfBounds(inner, b))
	far := Bounds{MinLat: 50, MaxLat: 51, MinLon: -123.13, MaxLon: -123.11}
	assert.True(t, IsOutOfBounds(far, b))
}

func TestValidCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"vancouver", 49.28, -123.12, true},
		{"poles and antimeridian", -90, 180, true},
		{"nan latitude", math.NaN(), -123.12, false},
		{"infinite latitude", math.Inf(-1), -123.12, false},
		{"infinite longitude", 49.28, math.Inf(1), false},
		{"latitude out of range", 91, 0, false},
		{"longitude out of range", 0, -180.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidCoordinate(tt.lat, tt.lon))
		})
	}
}
