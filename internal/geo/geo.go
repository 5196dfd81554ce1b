// Package geo holds the polygon types and the small computational-geometry
// kernel used by delivery zones: ring closing, bounding boxes, segment
// intersection, point-in-polygon and a conservative overlap test.
package geo

// Point is a WGS84 coordinate. Lat is the y axis and Lng the x axis in every
// planar computation below.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Ring is an ordered list of points. It may or may not repeat the first point
// at the end; use CloseRing when a closed ring is required.
type Ring []Point

// Polygon is a list of rings. The first ring is the outer boundary, the
// remaining rings are holes.
type Polygon []Ring

// BBox is an axis-aligned bounding box.
type BBox struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

// Empty reports whether the polygon has no usable outer ring.
func (p Polygon) Empty() bool {
	return len(p) == 0 || len(p[0]) < 3
}

// Outer returns the outer ring, or nil.
func (p Polygon) Outer() Ring {
	if len(p) == 0 {
		return nil
	}
	return p[0]
}

// CloseRing returns a copy of r with the first point appended when the last
// point differs from it.
func CloseRing(r Ring) Ring {
	out := make(Ring, len(r), len(r)+1)
	copy(out, r)
	if len(out) == 0 {
		return out
	}
	if out[len(out)-1] != out[0] {
		out = append(out, out[0])
	}
	return out
}

// BoundsOf computes the bounding box of a ring. The zero BBox is returned for
// an empty ring.
func BoundsOf(r Ring) BBox {
	if len(r) == 0 {
		return BBox{}
	}
	b := BBox{MinLat: r[0].Lat, MaxLat: r[0].Lat, MinLng: r[0].Lng, MaxLng: r[0].Lng}
	for _, p := range r[1:] {
		if p.Lat < b.MinLat {
			b.MinLat = p.Lat
		}
		if p.Lat > b.MaxLat {
			b.MaxLat = p.Lat
		}
		if p.Lng < b.MinLng {
			b.MinLng = p.Lng
		}
		if p.Lng > b.MaxLng {
			b.MaxLng = p.Lng
		}
	}
	return b
}

// Intersects reports whether two boxes share at least one point.
func (b BBox) Intersects(o BBox) bool {
	return !(b.MaxLat < o.MinLat || o.MaxLat < b.MinLat || b.MaxLng < o.MinLng || o.MaxLng < b.MinLng)
}

// Center returns the middle of the box.
func (b BBox) Center() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLng + b.MaxLng) / 2}
}

// RectFromBBox builds a closed rectangular polygon covering b.
func RectFromBBox(b BBox) Polygon {
	return Polygon{Ring{
		{Lat: b.MinLat, Lng: b.MinLng},
		{Lat: b.MinLat, Lng: b.MaxLng},
		{Lat: b.MaxLat, Lng: b.MaxLng},
		{Lat: b.MaxLat, Lng: b.MinLng},
		{Lat: b.MinLat, Lng: b.MinLng},
	}}
}

// Centroid returns the mean of the outer ring vertices, ignoring the closing
// duplicate. It is only used to position the map, not for area math.
func (p Polygon) Centroid() (Point, bool) {
	r := p.Outer()
	n := len(r)
	if n == 0 {
		return Point{}, false
	}
	if n > 1 && r[n-1] == r[0] {
		n--
	}
	var lat, lng float64
	for _, pt := range r[:n] {
		lat += pt.Lat
		lng += pt.Lng
	}
	return Point{Lat: lat / float64(n), Lng: lng / float64(n)}, true
}

// Contains uses even-odd parity over every ring: a hole inside the outer
// ring excludes its area, and the outer rings of a flattened MultiPolygon's
// later parts include theirs.
func (p Polygon) Contains(pt Point) bool {
	if p.Empty() {
		return false
	}
	inside := false
	for _, r := range p {
		if PointInRing(pt, r) {
			inside = !inside
		}
	}
	return inside
}

// GeoJSON encodes the polygon as a GeoJSON Polygon geometry with [lng,lat]
// coordinates and closed rings.
func (p Polygon) GeoJSON() map[string]any {
	coords := make([][][2]float64, 0, len(p))
	for _, r := range p {
		cr := CloseRing(r)
		ring := make([][2]float64, 0, len(cr))
		for _, pt := range cr {
			ring = append(ring, [2]float64{pt.Lng, pt.Lat})
		}
		coords = append(coords, ring)
	}
	return map[string]any{"type": "Polygon", "coordinates": coords}
}
