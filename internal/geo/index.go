package geo

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"
)

// Neighbor is a point returned by an index query.
type Neighbor struct {
	Index      int
	DistanceKm float64
}

// PointIndex is a read-only R-tree over a fixed set of points. Once built it
// is safe for concurrent queries.
type PointIndex struct {
	tree   rtree.RTreeG[int]
	points []Point
	// extent is the box around every indexed point.
	extent Bounds
}

// NewPointIndex indexes points; query results refer to positions in points.
func NewPointIndex(points []Point) *PointIndex {
	idx := &PointIndex{points: points}
	for i, p := range points {
		if i == 0 {
			idx.extent = Bounds{MinLat: p.Lat, MaxLat: p.Lat, MinLon: p.Lon, MaxLon: p.Lon}
		} else {
			idx.extent.MinLat = math.Min(idx.extent.MinLat, p.Lat)
			idx.extent.MaxLat = math.Max(idx.extent.MaxLat, p.Lat)
			idx.extent.MinLon = math.Min(idx.extent.MinLon, p.Lon)
			idx.extent.MaxLon = math.Max(idx.extent.MaxLon, p.Lon)
		}
		pt := [2]float64{p.Lon, p.Lat}
		idx.tree.Insert(pt, pt, i)
	}
	return idx
}

// Len returns the number of indexed points.
func (idx *PointIndex) Len() int {
	return len(idx.points)
}

// Point returns the indexed point at i.
func (idx *PointIndex) Point(i int) Point {
	return idx.points[i]
}

// Within returns every point strictly closer than radiusKm to center, ordered
// by index.
func (idx *PointIndex) Within(center Point, radiusKm float64) []Neighbor {
	if len(idx.points) == 0 || radiusKm <= 0 {
		return nil
	}
	b := CalculateBounds(center.Lat, center.Lon, radiusKm)
	if IsOutOfBounds(b, idx.extent) {
		return nil
	}

	var found []Neighbor
	idx.tree.Search(
		[2]float64{b.MinLon, b.MinLat},
		[2]float64{b.MaxLon, b.MaxLat},
		func(_, _ [2]float64, i int) bool {
			p := idx.points[i]
			if d := Distance(center.Lat, center.Lon, p.Lat, p.Lon); d < radiusKm {
				found = append(found, Neighbor{Index: i, DistanceKm: d})
			}
			return true
		},
	)

	sort.Slice(found, func(a, b int) bool { return found[a].Index < found[b].Index })
	return found
}
