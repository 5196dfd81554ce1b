package geo

// PolygonsOverlap is a conservative overlap test between the outer rings of
// two polygons. Holes are ignored and containment is detected from the first
// vertex only, which is enough for an overlap warning shown to the operator.
func PolygonsOverlap(a, b Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	ra := CloseRing(a[0])
	rb := CloseRing(b[0])
	if len(ra) < 3 || len(rb) < 3 {
		return false
	}
	if !BoundsOf(ra).Intersects(BoundsOf(rb)) {
		return false
	}
	if RingsCross(ra, rb) {
		return true
	}
	return PointInRing(ra[0], rb) || PointInRing(rb[0], ra)
}

// RingsCross tests every edge of a against every edge of b. Both rings are
// expected to be closed.
func RingsCross(a, b Ring) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if SegmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// SegmentsIntersect reports whether segment p1-q1 and segment p2-q2 share a
// point, collinear overlaps and touching endpoints included.
func SegmentsIntersect(p1, q1, p2, q2 Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if o2 == 0 && onSegment(p1, q2, q1) {
		return true
	}
	if o3 == 0 && onSegment(p2, p1, q2) {
		return true
	}
	if o4 == 0 && onSegment(p2, q1, q2) {
		return true
	}
	return false
}

// orientation of the ordered triplet (p, q, r): 0 collinear, 1 clockwise,
// 2 counter-clockwise.
func orientation(p, q, r Point) int {
	v := (q.Lat-p.Lat)*(r.Lng-q.Lng) - (q.Lng-p.Lng)*(r.Lat-q.Lat)
	switch {
	case v == 0:
		return 0
	case v > 0:
		return 1
	default:
		return 2
	}
}

// onSegment reports whether q lies within the bounding box of segment p-r.
// Callers only use it for collinear triplets.
func onSegment(p, q, r Point) bool {
	return q.Lng <= max(p.Lng, r.Lng) && q.Lng >= min(p.Lng, r.Lng) &&
		q.Lat <= max(p.Lat, r.Lat) && q.Lat >= min(p.Lat, r.Lat)
}

// PointInRing is the even-odd ray casting test. The ring may be open or
// closed.
func PointInRing(pt Point, ring Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lng, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lng, ring[i].Lat
		xj, yj := ring[j].Lng, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
