package model

import (
	"time"

	"zonedispatch/internal/geo"
)

// Zones, sectors and pricing

type Zone struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Color     string      `json:"color,omitempty"`
	Polygon   geo.Polygon `json:"polygon,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Drawn reports whether the zone has a usable polygon. Undrawn zones may hold
// prices but take no part in overlap checks or point lookup.
func (z Zone) Drawn() bool { return !z.Polygon.Empty() }

type Sector struct {
	ID     string `json:"id"`
	ZoneID string `json:"zoneId"`
	Name   string `json:"name"`
}

type ZonePrice struct {
	ID        string    `json:"id"`
	ZoneID    string    `json:"zoneId"`
	DepositID string    `json:"depositId"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Deposit mirrors the fields of an external deposit that pricing needs.
// FreeShippingMin of 0 disables free shipping.
type Deposit struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	FreeShippingMin float64 `json:"freeShippingMin"`
}

// Dispatch

type JobStatus string

const (
	JobPending   JobStatus = "PENDENTE_ENTREGA"
	JobInRoute   JobStatus = "EM_ROTA"
	JobDone      JobStatus = "CONCLUIDA"
	JobReturned  JobStatus = "DEVOLVIDA"
	JobCancelled JobStatus = "CANCELADA"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool { return s == JobDone || s == JobCancelled }

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobInRoute, JobDone, JobReturned, JobCancelled:
		return true
	}
	return false
}

type Address struct {
	Full     string   `json:"full,omitempty"`
	Street   string   `json:"street,omitempty"`
	Number   string   `json:"number,omitempty"`
	District string   `json:"district,omitempty"`
	City     string   `json:"city,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// Point returns the address coordinates when both are present.
func (a Address) Point() (geo.Point, bool) {
	if a.Lat == nil || a.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *a.Lat, Lng: *a.Lng}, true
}

type DeliveryJob struct {
	ID               string    `json:"id"`
	OSID             string    `json:"osId"`
	CustomerName     string    `json:"customerName,omitempty"`
	CustomerPhone    string    `json:"customerPhone,omitempty"`
	Address          Address   `json:"address"`
	TotalValue       float64   `json:"totalValue"`
	ItemsSummary     string    `json:"itemsSummary,omitempty"`
	Status           JobStatus `json:"status"`
	AssignedDriverID *string   `json:"assignedDriverId,omitempty"`
	DriverName       string    `json:"driverName,omitempty"`
	RefusalReason    *string   `json:"refusalReason,omitempty"`
	Observation      *string   `json:"observation,omitempty"`
	ZoneID           string    `json:"zoneId,omitempty"`
	DepositID        string    `json:"depositId,omitempty"`
	DeliveryFee      *float64  `json:"deliveryFee,omitempty"`
	AssignedAt       time.Time `json:"assignedAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Version          int       `json:"version"`
}

// JobFilter selects jobs for listing. Empty fields match everything.
type JobFilter struct {
	Statuses []JobStatus
	DriverID string
}

// Match reports whether j satisfies the filter.
func (f JobFilter) Match(j DeliveryJob) bool {
	if f.DriverID != "" && (j.AssignedDriverID == nil || *j.AssignedDriverID != f.DriverID) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

// JobEvent is published on every successful job transition.
type JobEvent struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	JobID    string    `json:"jobId"`
	OSID     string    `json:"osId"`
	From     JobStatus `json:"from,omitempty"`
	To       JobStatus `json:"to"`
	DriverID string    `json:"driverId,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	TS       time.Time `json:"ts"`
}

// Presence

type DriverStatus string

const (
	DriverAvailable DriverStatus = "DISPONIVEL"
	DriverBusy      DriverStatus = "OCUPADO"
	DriverOffline   DriverStatus = "OFFLINE"
)

func (s DriverStatus) Valid() bool {
	return s == DriverAvailable || s == DriverBusy || s == DriverOffline
}

type DriverPresence struct {
	DriverID   string       `json:"driverId"`
	DriverName string       `json:"driverName,omitempty"`
	Status     DriverStatus `json:"status"`
	LastSeenAt time.Time    `json:"lastSeenAt"`
	Lat        *float64     `json:"lat,omitempty"`
	Lng        *float64     `json:"lng,omitempty"`
	// Online is derived at read time and never stored.
	Online bool `json:"online"`
}

// Webhooks

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
