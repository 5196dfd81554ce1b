package zones

import (
	"context"
	"strings"
	"sync"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
)

// Draft is the zone being edited. Nothing in it is persisted until Save.
type Draft struct {
	ZoneID  string      `json:"zoneId,omitempty"`
	Name    string      `json:"name"`
	Color   string      `json:"color,omitempty"`
	Polygon geo.Polygon `json:"polygon,omitempty"`
	// Center is where the map should fly to, when known.
	Center *geo.Point `json:"center,omitempty"`
}

// Editor holds the state of the zone settings screen: at most one draft at a
// time, saved explicitly together with an optional price.
type Editor struct {
	Registry *Registry
	Pricing  *Pricing

	mu    sync.Mutex
	draft *Draft
}

func NewEditor(r *Registry, p *Pricing) *Editor { return &Editor{Registry: r, Pricing: p} }

// NewZone discards any draft in progress and starts an empty one.
func (e *Editor) NewZone(name, color string) Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = &Draft{Name: strings.TrimSpace(name), Color: color}
	return *e.draft
}

// Select loads a stored zone into the draft.
func (e *Editor) Select(z model.Zone) Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := &Draft{ZoneID: z.ID, Name: z.Name, Color: z.Color, Polygon: clonePolygon(z.Polygon)}
	if c, ok := z.Polygon.Centroid(); ok {
		d.Center = &c
	}
	e.draft = d
	return *d
}

// SetPolygon normalizes raw (GeoJSON, rings, JSON text) into the draft. It
// returns false, leaving the draft untouched, when raw holds no usable ring.
func (e *Editor) SetPolygon(raw any) bool {
	poly, ok := geo.Normalize(raw)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		e.draft = &Draft{}
	}
	e.draft.Polygon = poly
	if c, ok := poly.Centroid(); ok {
		e.draft.Center = &c
	}
	return true
}

// Rename changes the draft name and color.
func (e *Editor) Rename(name, color string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		e.draft = &Draft{}
	}
	e.draft.Name = strings.TrimSpace(name)
	e.draft.Color = color
}

// Draft returns a copy of the current draft and whether one exists.
func (e *Editor) Draft() (Draft, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		return Draft{}, false
	}
	d := *e.draft
	d.Polygon = clonePolygon(d.Polygon)
	return d, true
}

// Discard drops the draft without saving.
func (e *Editor) Discard() {
	e.mu.Lock()
	e.draft = nil
	e.mu.Unlock()
}

// OverlapWarnings lists stored zones the draft polygon overlaps.
func (e *Editor) OverlapWarnings(ctx context.Context) ([]model.Zone, error) {
	d, ok := e.Draft()
	if !ok {
		return nil, nil
	}
	return e.Registry.Overlaps(ctx, d.Polygon, d.ZoneID)
}

// Save persists the draft geometry and, when depositID and priceText are both
// set, the price for that deposit. Input is validated before any store call.
// On failure the draft is kept so the operator can retry.
func (e *Editor) Save(ctx context.Context, depositID, priceText string) (model.Zone, error) {
	d, ok := e.Draft()
	if !ok {
		return model.Zone{}, invalid("no zone selected")
	}
	if d.Polygon.Empty() {
		return model.Zone{}, invalid("draw the zone before saving")
	}
	if strings.TrimSpace(d.Name) == "" {
		return model.Zone{}, invalid("zone name is required")
	}
	var price float64
	withPrice := depositID != "" && strings.TrimSpace(priceText) != ""
	if withPrice {
		v, err := ParsePrice(priceText)
		if err != nil {
			return model.Zone{}, err
		}
		price = v
	}

	z, err := e.Registry.UpsertZone(ctx, model.Zone{ID: d.ZoneID, Name: d.Name, Color: d.Color, Polygon: d.Polygon})
	if err != nil {
		return model.Zone{}, err
	}
	// The zone now exists; remember its id so a retry after a price failure
	// updates it instead of creating a duplicate.
	e.mu.Lock()
	if e.draft != nil {
		e.draft.ZoneID = z.ID
	}
	e.mu.Unlock()

	if withPrice {
		if _, err := e.Pricing.SetPrice(ctx, z.ID, depositID, price); err != nil {
			return z, err
		}
	}
	e.Discard()
	return z, nil
}

func clonePolygon(p geo.Polygon) geo.Polygon {
	if p == nil {
		return nil
	}
	out := make(geo.Polygon, len(p))
	for i, r := range p {
		out[i] = append(geo.Ring(nil), r...)
	}
	return out
}
