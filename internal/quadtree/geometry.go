package quadtree

import "math"

// Point is a position in the integer coordinate space of the map.
type Point struct {
	Lat int32
	Lon int32
}

// Rect is an inclusive rectangle [MinLat,MaxLat]×[MinLon,MaxLon].
type Rect struct {
	MinLat int32
	MinLon int32
	MaxLat int32
	MaxLon int32
}

// WorldRect covers the whole int32 coordinate space.
var WorldRect = Rect{
	MinLat: math.MinInt32,
	MinLon: math.MinInt32,
	MaxLat: math.MaxInt32,
	MaxLon: math.MaxInt32,
}

// Valid reports whether the rectangle is non-empty.
func (r Rect) Valid() bool {
	return r.MinLat <= r.MaxLat && r.MinLon <= r.MaxLon
}

// Contains reports whether p lies inside r, borders included.
func (r Rect) Contains(p Point) bool {
	return p.Lat >= r.MinLat && p.Lat <= r.MaxLat &&
		p.Lon >= r.MinLon && p.Lon <= r.MaxLon
}

// ContainsRect reports whether o lies completely inside r.
func (r Rect) ContainsRect(o Rect) bool {
	return o.MinLat >= r.MinLat && o.MaxLat <= r.MaxLat &&
		o.MinLon >= r.MinLon && o.MaxLon <= r.MaxLon
}

// Intersects reports whether r and o share at least one point.
func (r Rect) Intersects(o Rect) bool {
	return r.MinLat <= o.MaxLat && o.MinLat <= r.MaxLat &&
		r.MinLon <= o.MaxLon && o.MinLon <= r.MaxLon
}

// HalfHeight is half the latitude extent. Computed in int64 so the world
// rectangle does not overflow.
func (r Rect) HalfHeight() int64 {
	return (int64(r.MaxLat) - int64(r.MinLat)) / 2
}

// HalfWidth is half the longitude extent.
func (r Rect) HalfWidth() int64 {
	return (int64(r.MaxLon) - int64(r.MinLon)) / 2
}

// Center returns the midpoint, rounded towards the minimum corner.
func (r Rect) Center() Point {
	return Point{
		Lat: int32(int64(r.MinLat) + r.HalfHeight()),
		Lon: int32(int64(r.MinLon) + r.HalfWidth()),
	}
}

// quadrants splits r at its center. The center row/column belongs to the
// south/west halves. A degenerate side produces empty quadrants instead of overflowing.
func (r Rect) quadrants() [4]Rect {
	c := r.Center()
	q := [4]Rect{
		SouthWest: {MinLat: r.MinLat, MinLon: r.MinLon, MaxLat: c.Lat, MaxLon: c.Lon},
		NorthWest: emptyRect,
		NorthEast: emptyRect,
		SouthEast: emptyRect,
	}
	north := c.Lat < r.MaxLat
	east := c.Lon < r.MaxLon
	if north {
		q[NorthWest] = Rect{MinLat: c.Lat + 1, MinLon: r.MinLon, MaxLat: r.MaxLat, MaxLon: c.Lon}
	}
	if east {
		q[SouthEast] = Rect{MinLat: r.MinLat, MinLon: c.Lon + 1, MaxLat: c.Lat, MaxLon: r.MaxLon}
	}
	if north && east {
		q[NorthEast] = Rect{MinLat: c.Lat + 1, MinLon: c.Lon + 1, MaxLat: r.MaxLat, MaxLon: r.MaxLon}
	}
	return q
}

var emptyRect = Rect{MinLat: 1, MinLon: 1, MaxLat: 0, MaxLon: 0}

// DistanceSq is the squared euclidean distance between two points, as float64
// because the int32 space squared does not fit in int64.
func DistanceSq(a, b Point) float64 {
	dLat := float64(a.Lat) - float64(b.Lat)
	dLon := float64(a.Lon) - float64(b.Lon)
	return dLat*dLat + dLon*dLon
}
