package dispatch

import (
	"context"
	"math"
	"slices"

	"zonedispatch/internal/model"
)

// Suggestion is an available driver ranked for one job. DistanceM is nil when
// either side has no coordinates.
type Suggestion struct {
	Driver    model.DriverPresence `json:"driver"`
	DistanceM *float64             `json:"distanceM,omitempty"`
}

// SuggestDrivers lists drivers who could take the job right now, nearest
// first. Drivers without a known position come last in name order. The
// dispatcher still picks; nothing is assigned here.
func (s *Service) SuggestDrivers(ctx context.Context, jobID string) ([]Suggestion, error) {
	j, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	avail, err := s.Presence.Available(ctx)
	if err != nil {
		return nil, err
	}
	dest, hasDest := j.Address.Point()
	out := make([]Suggestion, 0, len(avail))
	for _, d := range avail {
		sg := Suggestion{Driver: d}
		if hasDest && d.Lat != nil && d.Lng != nil {
			m := haversineMeters(*d.Lat, *d.Lng, dest.Lat, dest.Lng)
			sg.DistanceM = &m
		}
		out = append(out, sg)
	}
	slices.SortStableFunc(out, func(a, b Suggestion) int {
		switch {
		case a.DistanceM != nil && b.DistanceM != nil:
			if *a.DistanceM < *b.DistanceM {
				return -1
			}
			if *a.DistanceM > *b.DistanceM {
				return 1
			}
			return 0
		case a.DistanceM != nil:
			return -1
		case b.DistanceM != nil:
			return 1
		}
		if a.Driver.DriverName < b.Driver.DriverName {
			return -1
		}
		if a.Driver.DriverName > b.Driver.DriverName {
			return 1
		}
		return 0
	})
	return out, nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
