package geo

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Normalize converts any supported polygon representation into a Polygon of
// [lat,lng] rings. It is the only place where raw shapes are inspected.
//
// Accepted inputs:
//   - GeoJSON Polygon, MultiPolygon, Feature, FeatureCollection and
//     GeometryCollection objects ([lng,lat] order, swapped here)
//   - JSON text ([]byte, json.RawMessage or string) holding any of the above
//   - arrays of rings of [lat,lng] pairs or {lat,lng} objects, a bare ring,
//     or an array of such polygons
//   - Polygon, []Ring and Ring values
//
// Points with non-finite or non-numeric coordinates are dropped. Rings left
// with fewer than three points are dropped. The second return is false when
// nothing survives.
func Normalize(raw any) (Polygon, bool) {
	var poly Polygon
	switch v := raw.(type) {
	case nil:
		return nil, false
	case Polygon:
		poly = cleanRings(v)
	case []Ring:
		poly = cleanRings(v)
	case Ring:
		poly = cleanRings([]Ring{v})
	case string:
		return normalizeText([]byte(v))
	case []byte:
		return normalizeText(v)
	case json.RawMessage:
		return normalizeText(v)
	case map[string]any:
		poly = fromGeoJSON(v)
	case []any:
		poly = fromArrays(v)
	default:
		// Typed values (structs, [][][2]float64, ...) go through their JSON
		// form so the shape sniffing above applies.
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return nil, false
		}
		switch generic.(type) {
		case map[string]any, []any:
			return Normalize(generic)
		default:
			return nil, false
		}
	}
	if len(poly) == 0 {
		return nil, false
	}
	return poly, true
}

func normalizeText(b []byte) (Polygon, bool) {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal([]byte(s), &generic); err != nil {
		return nil, false
	}
	return Normalize(generic)
}

func cleanRings(rings []Ring) Polygon {
	var out Polygon
	for _, r := range rings {
		kept := make(Ring, 0, len(r))
		for _, p := range r {
			if finite(p.Lat) && finite(p.Lng) {
				kept = append(kept, p)
			}
		}
		if len(kept) > 2 {
			out = append(out, kept)
		}
	}
	return out
}

func fromGeoJSON(m map[string]any) Polygon {
	typ, _ := m["type"].(string)
	switch strings.ToLower(typ) {
	case "feature":
		if g, ok := m["geometry"].(map[string]any); ok {
			return fromGeoJSON(g)
		}
	case "featurecollection":
		feats, _ := m["features"].([]any)
		for _, f := range feats {
			if fm, ok := f.(map[string]any); ok {
				if p := fromGeoJSON(fm); len(p) > 0 {
					return p
				}
			}
		}
	case "geometrycollection":
		geoms, _ := m["geometries"].([]any)
		for _, g := range geoms {
			if gm, ok := g.(map[string]any); ok {
				if p := fromGeoJSON(gm); len(p) > 0 {
					return p
				}
			}
		}
	case "polygon":
		rings, _ := m["coordinates"].([]any)
		return ringsFrom(rings, true)
	case "multipolygon":
		parts, _ := m["coordinates"].([]any)
		var out Polygon
		for _, part := range parts {
			rings, _ := part.([]any)
			out = append(out, ringsFrom(rings, true)...)
		}
		return out
	}
	return nil
}

// fromArrays handles raw nested arrays already in [lat,lng] order. The depth
// is sniffed from the first element.
func fromArrays(arr []any) Polygon {
	if len(arr) == 0 {
		return nil
	}
	switch depthOf(arr) {
	case 1:
		return ringsFrom([]any{arr}, false)
	case 2:
		return ringsFrom(arr, false)
	case 3:
		var out Polygon
		for _, part := range arr {
			rings, _ := part.([]any)
			out = append(out, ringsFrom(rings, false)...)
		}
		return out
	}
	return nil
}

// depthOf returns 1 for a ring, 2 for a list of rings and 3 for a list of
// polygons; 0 when the first element is not recognisable.
func depthOf(arr []any) int {
	cur := arr
	for depth := 1; depth <= 3; depth++ {
		if len(cur) == 0 {
			return 0
		}
		if isPointLike(cur[0]) {
			return depth
		}
		next, ok := cur[0].([]any)
		if !ok {
			return 0
		}
		cur = next
	}
	return 0
}

func isPointLike(v any) bool {
	switch p := v.(type) {
	case map[string]any:
		_, hasLat := p["lat"]
		return hasLat
	case []any:
		if len(p) < 2 {
			return false
		}
		switch p[0].(type) {
		case []any, map[string]any:
			return false
		}
		return true
	}
	return false
}

func ringsFrom(rings []any, lngFirst bool) Polygon {
	var out Polygon
	for _, r := range rings {
		pts, _ := r.([]any)
		ring := make(Ring, 0, len(pts))
		for _, raw := range pts {
			if p, ok := pointFrom(raw, lngFirst); ok {
				ring = append(ring, p)
			}
		}
		if len(ring) > 2 {
			out = append(out, ring)
		}
	}
	return out
}

func pointFrom(v any, lngFirst bool) (Point, bool) {
	var a, b float64
	var okA, okB bool
	switch p := v.(type) {
	case []any:
		if len(p) < 2 {
			return Point{}, false
		}
		a, okA = toFloat(p[0])
		b, okB = toFloat(p[1])
	case map[string]any:
		lng, hasLng := p["lng"]
		if !hasLng {
			lng = p["lon"]
		}
		lat, okLat := toFloat(p["lat"])
		lon, okLon := toFloat(lng)
		if !okLat || !okLon {
			return Point{}, false
		}
		return Point{Lat: lat, Lng: lon}, true
	default:
		return Point{}, false
	}
	if !okA || !okB {
		return Point{}, false
	}
	if lngFirst {
		return Point{Lat: b, Lng: a}, true
	}
	return Point{Lat: a, Lng: b}, true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	return f, finite(f)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
