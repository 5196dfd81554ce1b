package geocode

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
)

// NoticeNotFound is shown when nothing usable came back.
const NoticeNotFound = "Nenhum limite encontrado. Desenhe a área manualmente."

var ErrEmptyQuery = errors.New("query is empty")

type Kind string

const (
	KindPolygon  Kind = "polygon"
	KindBBox     Kind = "bbox"
	KindPoint    Kind = "point"
	KindNotFound Kind = "not_found"
)

// Resolution is what the zone editor receives: a polygon to start from, or a
// point to fly to and draw around, or a notice.
type Resolution struct {
	Kind        Kind        `json:"kind"`
	Polygon     geo.Polygon `json:"polygon,omitempty"`
	Center      *geo.Point  `json:"center,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Notice      string      `json:"notice,omitempty"`
	Score       float64     `json:"score,omitempty"`
}

// Weights are the scoring heuristic. They are empirical; tune them against
// real queries rather than treating them as fixed.
type Weights struct {
	Polygon   float64
	Boundary  float64
	PlaceType float64
	POI       float64
	CityMatch float64
	CityMiss  float64
	Substring float64
}

var DefaultWeights = Weights{
	Polygon:   5,
	Boundary:  6,
	PlaceType: 4,
	POI:       -4,
	CityMatch: 2,
	CityMiss:  -2,
	Substring: 1,
}

var areaKeywords = []string{
	"bairro", "setor", "zona", "distrito", "vila", "jardim", "loteamento",
	"condominio", "residencial", "parque", "chacara", "regiao", "quadra",
}

var areaPlaceTypes = []string{"neighbourhood", "suburb", "quarter", "city_district", "borough"}

var poiClasses = []string{"amenity", "shop", "building", "highway", "leisure", "natural", "tourism"}

type Resolver struct {
	Search  Searcher
	Scope   string
	Limit   int
	Weights Weights
}

func NewResolver(s Searcher, scope string) *Resolver {
	if strings.TrimSpace(scope) == "" {
		scope = DefaultScope
	}
	return &Resolver{Search: s, Scope: scope, Limit: 8, Weights: DefaultWeights}
}

// Resolve searches query within the resolver's scope and picks the best
// candidate. Finding nothing is a normal KindNotFound result; only a failing
// search service returns an error (a *CollaboratorError).
func (r *Resolver) Resolve(ctx context.Context, query string) (Resolution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Resolution{}, ErrEmptyQuery
	}
	cands, err := r.Search.Search(ctx, SearchRequest{Query: query + ", " + r.Scope, Scope: r.Scope, Limit: r.Limit})
	if err != nil {
		return Resolution{}, err
	}
	res := r.pick(query, cands)
	metrics.GeocodeResolutions.WithLabelValues(string(res.Kind)).Inc()
	logger.L().Info("geocode_resolved", "q", query, "kind", res.Kind, "candidates", len(cands), "display_name", res.DisplayName)
	return res, nil
}

func (r *Resolver) pick(query string, cands []Candidate) Resolution {
	city := scopeCity(r.Scope)
	if inCity := filterCity(cands, city); len(inCity) > 0 {
		cands = inCity
	}
	if hasAreaIntent(query) {
		cands = slices.DeleteFunc(slices.Clone(cands), func(c Candidate) bool { return !isArea(c) })
	}
	if len(cands) == 0 {
		return Resolution{Kind: KindNotFound, Notice: NoticeNotFound}
	}

	fq := Fold(query)
	best, bestScore := -1, 0.0
	for i, c := range cands {
		s := r.score(c, fq, city)
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	c := cands[best]
	res := Resolution{DisplayName: c.DisplayName, Score: bestScore}

	if poly, ok := candidatePolygon(c); ok {
		res.Kind = KindPolygon
		res.Polygon = poly
		if ctr, ok := poly.Centroid(); ok {
			res.Center = &ctr
		}
		return res
	}
	if b, ok := candidateBBox(c); ok {
		res.Kind = KindBBox
		res.Polygon = geo.RectFromBBox(b)
		ctr := b.Center()
		res.Center = &ctr
		return res
	}
	if pt, ok := candidatePoint(c); ok {
		res.Kind = KindPoint
		res.Center = &pt
		return res
	}
	return Resolution{Kind: KindNotFound, Notice: NoticeNotFound}
}

func (r *Resolver) score(c Candidate, foldedQuery, city string) float64 {
	w := r.Weights
	s := c.Importance
	if _, ok := candidatePolygon(c); ok {
		s += w.Polygon
	}
	if c.Class == "boundary" {
		s += w.Boundary
	}
	if isAreaPlaceType(c) {
		s += w.PlaceType
	}
	if slices.Contains(poiClasses, c.Class) {
		s += w.POI
	}
	if city != "" {
		if matchesCity(c, city) {
			s += w.CityMatch
		} else {
			s += w.CityMiss
		}
	}
	if foldedQuery != "" && strings.Contains(Fold(c.DisplayName), foldedQuery) {
		s += w.Substring
	}
	return s
}

func scopeCity(scope string) string {
	city, _, _ := strings.Cut(scope, ",")
	return Fold(city)
}

func filterCity(cands []Candidate, city string) []Candidate {
	if city == "" {
		return cands
	}
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if matchesCity(c, city) {
			out = append(out, c)
		}
	}
	return out
}

func matchesCity(c Candidate, city string) bool {
	for _, k := range []string{"city", "town", "municipality", "village"} {
		if v := c.Address[k]; v != "" && Fold(v) == city {
			return true
		}
	}
	return strings.Contains(Fold(c.DisplayName), city)
}

func hasAreaIntent(query string) bool {
	for _, w := range words(Fold(query)) {
		if slices.Contains(areaKeywords, w) {
			return true
		}
	}
	return false
}

func isArea(c Candidate) bool {
	if c.Class == "boundary" && c.Type == "administrative" {
		return true
	}
	return c.Class == "place" && isAreaPlaceType(c)
}

func isAreaPlaceType(c Candidate) bool {
	return slices.Contains(areaPlaceTypes, c.Type) || slices.Contains(areaPlaceTypes, c.AddressType)
}

func candidatePolygon(c Candidate) (geo.Polygon, bool) {
	if c.GeoJSON == nil {
		return nil, false
	}
	switch c.GeoJSON["type"] {
	case "Polygon", "MultiPolygon":
		return geo.Normalize(c.GeoJSON)
	}
	return nil, false
}

// candidateBBox reads Nominatim's [minLat, maxLat, minLon, maxLon] strings.
// Degenerate boxes are rejected.
func candidateBBox(c Candidate) (geo.BBox, bool) {
	if len(c.BoundingBox) != 4 {
		return geo.BBox{}, false
	}
	var v [4]float64
	for i, s := range c.BoundingBox {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return geo.BBox{}, false
		}
		v[i] = f
	}
	b := geo.BBox{MinLat: v[0], MaxLat: v[1], MinLng: v[2], MaxLng: v[3]}
	if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
		return geo.BBox{}, false
	}
	return b, true
}

func candidatePoint(c Candidate) (geo.Point, bool) {
	lat, err1 := strconv.ParseFloat(c.Lat, 64)
	lng, err2 := strconv.ParseFloat(c.Lon, 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lng: lng}, true
}
