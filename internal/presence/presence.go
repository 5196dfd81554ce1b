// Package presence tracks driver heartbeats. Liveness is derived from the
// last heartbeat at read time; there is no sweeper and nothing expires.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
	"zonedispatch/internal/model"
)

// DefaultWindow is how long a heartbeat keeps a driver online.
const DefaultWindow = 45 * time.Second

var ErrInvalidStatus = errors.New("invalid driver status")

// Store is the subset of persistence presence needs. store.Memory,
// store.Postgres and RedisStore implement it.
type Store interface {
	PutPresence(ctx context.Context, p model.DriverPresence) error
	GetPresence(ctx context.Context, driverID string) (model.DriverPresence, error)
	ListPresence(ctx context.Context) ([]model.DriverPresence, error)
}

type Tracker struct {
	Store  Store
	Window time.Duration
	Now    func() time.Time
}

func NewTracker(s Store, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{Store: s, Window: window, Now: time.Now}
}

// IsOnline reports whether the last heartbeat is recent enough, using the
// default window.
func IsOnline(p model.DriverPresence, now time.Time) bool {
	return isOnline(p, now, DefaultWindow)
}

func isOnline(p model.DriverPresence, now time.Time, window time.Duration) bool {
	if p.LastSeenAt.IsZero() {
		return false
	}
	return now.Sub(p.LastSeenAt) < window
}

// Heartbeat overwrites the driver's record with the given status and the
// current time.
func (t *Tracker) Heartbeat(ctx context.Context, driverID, name string, status model.DriverStatus, at *geo.Point) (model.DriverPresence, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return model.DriverPresence{}, fmt.Errorf("%w: driver id is required", ErrInvalidStatus)
	}
	if !status.Valid() {
		return model.DriverPresence{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	p := model.DriverPresence{
		DriverID:   driverID,
		DriverName: name,
		Status:     status,
		LastSeenAt: t.Now().UTC(),
	}
	if at != nil {
		lat, lng := at.Lat, at.Lng
		p.Lat, p.Lng = &lat, &lng
	}
	if err := t.Store.PutPresence(ctx, p); err != nil {
		return model.DriverPresence{}, err
	}
	metrics.Heartbeats.WithLabelValues(string(status)).Inc()
	logger.L().Debug("driver_heartbeat", "driver_id", driverID, "status", status)
	p.Online = true
	return p, nil
}

// Get returns one driver with Online derived.
func (t *Tracker) Get(ctx context.Context, driverID string) (model.DriverPresence, error) {
	p, err := t.Store.GetPresence(ctx, driverID)
	if err != nil {
		return model.DriverPresence{}, err
	}
	p.Online = t.online(p)
	return p, nil
}

// All returns every known driver with Online derived.
func (t *Tracker) All(ctx context.Context) ([]model.DriverPresence, error) {
	list, err := t.Store.ListPresence(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Online = t.online(list[i])
	}
	return list, nil
}

// Available returns drivers that are DISPONIVEL and online.
func (t *Tracker) Available(ctx context.Context) ([]model.DriverPresence, error) {
	all, err := t.All(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.DriverPresence{}
	for _, p := range all {
		if p.Online && p.Status == model.DriverAvailable {
			out = append(out, p)
		}
	}
	return out, nil
}

// Online is purely time based; a fresh OFFLINE record still counts as live,
// and readers filter on Status themselves.
func (t *Tracker) online(p model.DriverPresence) bool {
	return isOnline(p, t.Now(), t.Window)
}
