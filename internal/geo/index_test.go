package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// kmNorth offsets a point due north by km.
func kmNorth(p Point, km float64) Point {
	return Point{Lat: p.Lat + km/EarthRadiusKm*180/math.Pi, Lon: p.Lon}
}

func TestPointIndex_Within(t *testing.T) {
	stop := Point{49.28, -123.12}
	points := []Point{
		kmNorth(stop, 2),   // 0: inside
		kmNorth(stop, 4.9), // 1: inside
		kmNorth(stop, 5.1), // 2: outside
		{49.2, -122.5},     // 3: far away
		stop,               // 4: same location
	}
	idx := NewPointIndex(points)
	assert.Equal(t, len(points), idx.Len())
	assert.Equal(t, points[3], idx.Point(3))

	got := idx.Within(stop, 5)
	if assert.Len(t, got, 3) {
		assert.Equal(t, 0, got[0].Index)
		assert.InDelta(t, 2.0, got[0].DistanceKm, 1e-6)
		assert.Equal(t, 1, got[1].Index)
		assert.Equal(t, 4, got[2].Index)
		assert.Equal(t, 0.0, got[2].DistanceKm)
	}
}

func TestPointIndex_MatchesBruteForce(t *testing.T) {
	var points []Point
	for i := 0; i < 40; i++ {
		for j := 0; j < 40; j++ {
			points = append(points, Point{Lat: 49.0 + float64(i)*0.01, Lon: -123.3 + float64(j)*0.015})
		}
	}
	idx := NewPointIndex(points)
	center := Point{49.2, -123.0}

	for _, radius := range []float64{0.5, 1, 3, 5, 12} {
		var want []int
		for i, p := range points {
			if DistanceBetween(center, p) < radius {
				want = append(want, i)
			}
		}
		var got []int
		for _, n := range idx.Within(center, radius) {
			got = append(got, n.Index)
		}
		assert.Equal(t, want, got, "radius %v", radius)
	}
}

func TestPointIndex_Empty(t *testing.T) {
	idx := NewPointIndex(nil)
	assert.Nil(t, idx.Within(Point{49, -123}, 5))

	idx = NewPointIndex([]Point{{49, -123}})
	assert.Nil(t, idx.Within(Point{49, -123}, 0))
}

func TestPointIndex_QueryOutsideExtent(t *testing.T) {
	idx := NewPointIndex([]Point{{49.28, -123.12}, {49.30, -123.05}})
	assert.Equal(t, Bounds{MinLat: 49.28, MaxLat: 49.30, MinLon: -123.12, MaxLon: -123.05}, idx.extent)

	assert.Nil(t, idx.Within(Point{45.5, -73.6}, 5))
	assert.Len(t, idx.Within(kmNorth(Point{49.30, -123.05}, 1), 5), 2)
}
