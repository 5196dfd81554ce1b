package geo

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
)

func rect(lat0, lng0, lat1, lng1 float64) Polygon {
	return Polygon{Ring{{lat0, lng0}, {lat0, lng1}, {lat1, lng1}, {lat1, lng0}}}
}

func TestCloseRingIdempotent(t *testing.T) {
	rings := []Ring{
		{{0, 0}, {1, 1}},
		{{0, 0}, {0, 1}, {1, 1}},
		{{0, 0}, {0, 1}, {1, 1}, {0, 0}},
		{{-17.79, -50.92}, {-17.79, -50.91}, {-17.80, -50.91}, {-17.80, -50.92}},
	}
	for _, r := range rings {
		once := CloseRing(r)
		twice := CloseRing(once)
		if len(once) != len(twice) {
			t.Fatalf("close not idempotent: %v vs %v", once, twice)
		}
		for i := range once {
			if once[i] != twice[i] {
				t.Fatalf("close not idempotent at %d: %v vs %v", i, once, twice)
			}
		}
		if once[0] != once[len(once)-1] {
			t.Fatalf("ring not closed: %v", once)
		}
	}
}

func TestCloseRingDoesNotAlias(t *testing.T) {
	r := Ring{{0, 0}, {0, 1}, {1, 1}}
	c := CloseRing(r)
	c[0] = Point{9, 9}
	if r[0] == (Point{9, 9}) {
		t.Fatal("CloseRing must return a copy")
	}
}

func TestPolygonsOverlapScenarios(t *testing.T) {
	cases := []struct {
		name string
		a, b Polygon
		want bool
	}{
		{"crossing rectangles", rect(0, 0, 2, 2), rect(1, 1, 3, 3), true},
		{"disjoint offset by 10", rect(0, 0, 2, 2), rect(10, 10, 12, 12), false},
		{"full containment", rect(0, 0, 10, 10), rect(2, 2, 3, 3), true},
		{"shared edge", rect(0, 0, 2, 2), rect(0, 2, 2, 4), true},
		{"touching corner", rect(0, 0, 1, 1), rect(1, 1, 2, 2), true},
		{"bbox overlap but apart", Polygon{Ring{{0, 0}, {0, 4}, {4, 0}}}, Polygon{Ring{{4, 4}, {4, 3}, {3, 4}}}, false},
		{"degenerate ring", Polygon{Ring{{0, 0}, {1, 1}}}, rect(0, 0, 2, 2), false},
		{"empty polygon", nil, rect(0, 0, 2, 2), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PolygonsOverlap(tc.a, tc.b); got != tc.want {
				t.Fatalf("overlap(a,b)=%v want %v", got, tc.want)
			}
			if got := PolygonsOverlap(tc.b, tc.a); got != tc.want {
				t.Fatalf("overlap(b,a)=%v want %v", got, tc.want)
			}
		})
	}
}

func TestPolygonsOverlapIgnoresHoles(t *testing.T) {
	donut := Polygon{
		Ring{{0, 0}, {0, 10}, {10, 10}, {10, 0}},
		Ring{{2, 2}, {2, 8}, {8, 8}, {8, 2}},
	}
	inHole := rect(4, 4, 5, 5)
	if !PolygonsOverlap(donut, inHole) {
		t.Fatal("holes are not considered; a polygon inside the hole still overlaps")
	}
}

func randomRing(r *rand.Rand) Ring {
	n := 3 + r.Intn(6)
	cLat, cLng := r.Float64()*40-20, r.Float64()*40-20
	ring := make(Ring, n)
	for i := range ring {
		ring[i] = Point{Lat: cLat + r.Float64()*6 - 3, Lng: cLng + r.Float64()*6 - 3}
	}
	return ring
}

func TestOverlapSymmetryRandom(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		a := Polygon{randomRing(r)}
		b := Polygon{randomRing(r)}
		if PolygonsOverlap(a, b) != PolygonsOverlap(b, a) {
			t.Fatalf("asymmetric overlap for %v / %v", a, b)
		}
	}
}

func TestBBoxRejectHasNoFalseNegatives(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	checked := 0
	for i := 0; i < 5000; i++ {
		a := CloseRing(randomRing(r))
		b := CloseRing(randomRing(r))
		if BoundsOf(a).Intersects(BoundsOf(b)) {
			continue
		}
		checked++
		if RingsCross(a, b) {
			t.Fatalf("bbox disjoint but segments intersect: %v / %v", a, b)
		}
	}
	if checked == 0 {
		t.Fatal("no disjoint pairs generated")
	}
}

func TestSegmentsIntersectCollinear(t *testing.T) {
	if !SegmentsIntersect(Point{0, 0}, Point{0, 2}, Point{0, 1}, Point{0, 3}) {
		t.Fatal("overlapping collinear segments must intersect")
	}
	if SegmentsIntersect(Point{0, 0}, Point{0, 1}, Point{0, 2}, Point{0, 3}) {
		t.Fatal("disjoint collinear segments must not intersect")
	}
}

func TestContainsAndCentroid(t *testing.T) {
	p := Polygon{
		Ring{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}},
		Ring{{4, 4}, {4, 6}, {6, 6}, {6, 4}},
	}
	if !p.Contains(Point{1, 1}) {
		t.Fatal("point inside outer ring")
	}
	if p.Contains(Point{5, 5}) {
		t.Fatal("point inside hole")
	}
	if p.Contains(Point{11, 1}) {
		t.Fatal("point outside")
	}
	c, ok := p.Centroid()
	if !ok || c != (Point{5, 5}) {
		t.Fatalf("centroid: %v %v", c, ok)
	}
}

func TestNormalizeGeoJSONPolygon(t *testing.T) {
	raw := `{"type":"Polygon","coordinates":[[[-50.92,-17.79],[-50.91,-17.79],[-50.91,-17.80],[-50.92,-17.80],[-50.92,-17.79]]]}`
	p, ok := Normalize(raw)
	if !ok {
		t.Fatal("expected polygon")
	}
	if p[0][0] != (Point{Lat: -17.79, Lng: -50.92}) {
		t.Fatalf("coordinates not swapped: %v", p[0][0])
	}
}

func TestNormalizeFeatureAndMultiPolygon(t *testing.T) {
	feature := map[string]any{
		"type": "Feature",
		"geometry": map[string]any{
			"type": "MultiPolygon",
			"coordinates": []any{
				[]any{[]any{[]any{0.0, 0.0}, []any{1.0, 0.0}, []any{1.0, 1.0}}},
				[]any{[]any{[]any{5.0, 5.0}, []any{6.0, 5.0}, []any{6.0, 6.0}}},
			},
		},
	}
	p, ok := Normalize(feature)
	if !ok || len(p) != 2 {
		t.Fatalf("multipolygon rings: %v %v", p, ok)
	}
	if p[1][0] != (Point{Lat: 5, Lng: 5}) {
		t.Fatalf("unexpected second ring: %v", p[1])
	}
	if !p.Contains(Point{Lat: 5.2, Lng: 5.8}) {
		t.Fatal("point in second part not contained")
	}
	if !p.Contains(Point{Lat: 0.2, Lng: 0.8}) || p.Contains(Point{Lat: 3, Lng: 3}) {
		t.Fatal("first part containment wrong")
	}
}

func TestNormalizeRawArrays(t *testing.T) {
	cases := []struct {
		name  string
		in    any
		rings int
	}{
		{"rings of pairs", [][][2]float64{{{-17.79, -50.92}, {-17.79, -50.91}, {-17.80, -50.91}}}, 1},
		{"bare ring", [][2]float64{{1, 1}, {1, 2}, {2, 2}}, 1},
		{"latlng objects", `[[{"lat":1,"lng":1},{"lat":1,"lng":2},{"lat":2,"lng":2}]]`, 1},
		{"polygon list", `[[[[1,1],[1,2],[2,2]]],[[[5,5],[5,6],[6,6]]]]`, 2},
		{"typed polygon", Polygon{Ring{{1, 1}, {1, 2}, {2, 2}}}, 1},
		{"typed points", [][]Point{{{1, 1}, {1, 2}, {2, 2}}}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := Normalize(tc.in)
			if !ok || len(p) != tc.rings {
				t.Fatalf("got %v ok=%v", p, ok)
			}
		})
	}
}

func TestNormalizeDropsBadPoints(t *testing.T) {
	in := []any{[]any{
		[]any{1.0, 1.0},
		[]any{"abc", 2.0},
		[]any{1.0, 2.0},
		[]any{math.Inf(1), 0.0},
		[]any{2.0, 2.0},
	}}
	p, ok := Normalize(in)
	if !ok || len(p[0]) != 3 {
		t.Fatalf("expected 3 surviving points, got %v", p)
	}

	short := []any{[]any{[]any{1.0, 1.0}, []any{"x", 2.0}, []any{2.0, 2.0}}}
	if _, ok := Normalize(short); ok {
		t.Fatal("ring with 2 surviving points must be dropped")
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []any{nil, "", "null", "not json", `{"type":"Point","coordinates":[1,2]}`, 42, []any{}} {
		if p, ok := Normalize(in); ok {
			t.Fatalf("Normalize(%v) = %v, want rejection", in, p)
		}
	}
}

func TestGeoJSONRoundTrip(t *testing.T) {
	p := rect(-17.80, -50.92, -17.79, -50.91)
	b, err := json.Marshal(p.GeoJSON())
	if err != nil {
		t.Fatal(err)
	}
	back, ok := Normalize(b)
	if !ok {
		t.Fatal("round trip failed")
	}
	if len(back[0]) != 5 || back[0][0] != p[0][0] {
		t.Fatalf("unexpected ring after round trip: %v", back[0])
	}
}

func TestRectFromBBox(t *testing.T) {
	b := BBox{MinLat: -1, MinLng: -2, MaxLat: 1, MaxLng: 2}
	p := RectFromBBox(b)
	if !p.Contains(Point{0, 0}) || p.Contains(Point{2, 0}) {
		t.Fatalf("rect contains mismatch: %v", p)
	}
	if BoundsOf(p[0]) != b {
		t.Fatalf("bounds mismatch: %v", BoundsOf(p[0]))
	}
}
