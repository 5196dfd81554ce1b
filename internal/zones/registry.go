// Package zones manages delivery zones, their sectors and per-deposit
// pricing. Zones are global across deposits.
package zones

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

// ErrValidation marks input rejected before any store call.
var ErrValidation = errors.New("validation failed")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type Registry struct {
	Store store.Store
}

func NewRegistry(s store.Store) *Registry { return &Registry{Store: s} }

// CreateZone stores a new zone. The polygon may be nil for a zone that will
// be drawn later.
func (r *Registry) CreateZone(ctx context.Context, name, color string, polygon geo.Polygon) (model.Zone, error) {
	return r.UpsertZone(ctx, model.Zone{Name: name, Color: color, Polygon: polygon})
}

// UpsertZone creates the zone, or replaces it when the id already exists.
func (r *Registry) UpsertZone(ctx context.Context, z model.Zone) (model.Zone, error) {
	z.Name = strings.TrimSpace(z.Name)
	if z.Name == "" {
		return model.Zone{}, invalid("zone name is required")
	}
	if z.Polygon != nil && z.Polygon.Empty() {
		z.Polygon = nil
	}
	out, err := r.Store.PutZone(ctx, z)
	if err != nil {
		return model.Zone{}, fmt.Errorf("put zone: %w", err)
	}
	logger.L().Info("zone_saved", "zone_id", out.ID, "name", out.Name, "drawn", out.Drawn())
	return out, nil
}

// ZonePatch carries optional changes; nil fields are left alone. A non-nil
// empty Polygon clears the drawing.
type ZonePatch struct {
	Name    *string
	Color   *string
	Polygon *geo.Polygon
}

func (r *Registry) UpdateZone(ctx context.Context, id string, p ZonePatch) (model.Zone, error) {
	z, err := r.Store.GetZone(ctx, id)
	if err != nil {
		return model.Zone{}, err
	}
	if p.Name != nil {
		z.Name = *p.Name
	}
	if p.Color != nil {
		z.Color = *p.Color
	}
	if p.Polygon != nil {
		z.Polygon = *p.Polygon
	}
	return r.UpsertZone(ctx, z)
}

// SectorPolicy says what happens to a zone's sectors when it is deleted.
// An empty MoveTo deletes them.
type SectorPolicy struct {
	MoveTo string
}

// DeleteZone removes the zone together with its price rows, never leaving
// orphan sectors behind.
func (r *Registry) DeleteZone(ctx context.Context, id string, policy SectorPolicy) error {
	if policy.MoveTo == id && id != "" {
		return invalid("cannot move sectors into the zone being deleted")
	}
	if _, err := r.Store.GetZone(ctx, id); err != nil {
		return err
	}
	if policy.MoveTo != "" {
		if _, err := r.Store.GetZone(ctx, policy.MoveTo); err != nil {
			return fmt.Errorf("target zone %s: %w", policy.MoveTo, err)
		}
	}
	if err := r.Store.DeleteZone(ctx, id, policy.MoveTo); err != nil {
		return err
	}
	logger.L().Info("zone_deleted", "zone_id", id, "sectors_moved_to", policy.MoveTo)
	return nil
}

func (r *Registry) ListZones(ctx context.Context) ([]model.Zone, error) {
	return r.Store.ListZones(ctx)
}

func (r *Registry) GetZone(ctx context.Context, id string) (model.Zone, error) {
	return r.Store.GetZone(ctx, id)
}

// Sectors

func (r *Registry) AddSector(ctx context.Context, zoneID, name string) (model.Sector, error) {
	return r.UpsertSector(ctx, model.Sector{ZoneID: zoneID, Name: name})
}

func (r *Registry) UpsertSector(ctx context.Context, s model.Sector) (model.Sector, error) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return model.Sector{}, invalid("sector name is required")
	}
	if s.ZoneID == "" {
		return model.Sector{}, invalid("sector zone is required")
	}
	if _, err := r.Store.GetZone(ctx, s.ZoneID); err != nil {
		return model.Sector{}, fmt.Errorf("zone %s: %w", s.ZoneID, err)
	}
	return r.Store.PutSector(ctx, s)
}

// MoveSector re-parents a sector with a single store write.
func (r *Registry) MoveSector(ctx context.Context, sectorID, newZoneID string) (model.Sector, error) {
	s, err := r.Store.GetSector(ctx, sectorID)
	if err != nil {
		return model.Sector{}, err
	}
	if _, err := r.Store.GetZone(ctx, newZoneID); err != nil {
		return model.Sector{}, fmt.Errorf("zone %s: %w", newZoneID, err)
	}
	s.ZoneID = newZoneID
	return r.Store.PutSector(ctx, s)
}

func (r *Registry) DeleteSector(ctx context.Context, id string) error {
	return r.Store.DeleteSector(ctx, id)
}

// ListSectors lists the sectors of one zone, or of every zone when zoneID is
// empty.
func (r *Registry) ListSectors(ctx context.Context, zoneID string) ([]model.Sector, error) {
	return r.Store.ListSectors(ctx, zoneID)
}

// Overlaps returns every drawn zone whose outer ring overlaps candidate,
// skipping excludeID. The result is a warning list; overlaps are allowed.
func (r *Registry) Overlaps(ctx context.Context, candidate geo.Polygon, excludeID string) ([]model.Zone, error) {
	if candidate.Empty() {
		return nil, nil
	}
	all, err := r.Store.ListZones(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Zone
	for _, z := range all {
		if z.ID == excludeID || !z.Drawn() {
			continue
		}
		if geo.PolygonsOverlap(candidate, z.Polygon) {
			out = append(out, z)
		}
	}
	return out, nil
}

// ZoneAt returns the first drawn zone, in listing order, that contains pt.
func (r *Registry) ZoneAt(ctx context.Context, pt geo.Point) (model.Zone, error) {
	all, err := r.Store.ListZones(ctx)
	if err != nil {
		return model.Zone{}, err
	}
	for _, z := range all {
		if z.Drawn() && z.Polygon.Contains(pt) {
			return z, nil
		}
	}
	return model.Zone{}, store.ErrNotFound
}
