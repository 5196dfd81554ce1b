package store

import (
	"context"
	"errors"
	"time"

	"zonedispatch/internal/model"
)

// Store is the persistence interface used by the domain services and the API
// server. Implementations are safe for concurrent use.
type Store interface {
	// Zones
	ListZones(ctx context.Context) ([]model.Zone, error)
	GetZone(ctx context.Context, id string) (model.Zone, error)
	PutZone(ctx context.Context, z model.Zone) (model.Zone, error)
	// DeleteZone removes the zone and its price rows in one step. Sectors are
	// re-parented to moveSectorsTo, or deleted when it is empty.
	DeleteZone(ctx context.Context, id, moveSectorsTo string) error

	// Sectors
	ListSectors(ctx context.Context, zoneID string) ([]model.Sector, error)
	GetSector(ctx context.Context, id string) (model.Sector, error)
	PutSector(ctx context.Context, s model.Sector) (model.Sector, error)
	DeleteSector(ctx context.Context, id string) error

	// Deposits & prices
	GetDeposit(ctx context.Context, id string) (model.Deposit, error)
	PutDeposit(ctx context.Context, d model.Deposit) (model.Deposit, error)
	DeleteDeposit(ctx context.Context, id string) error
	GetPrice(ctx context.Context, zoneID, depositID string) (model.ZonePrice, error)
	PutPrice(ctx context.Context, p model.ZonePrice) (model.ZonePrice, error)
	DeletePrice(ctx context.Context, id string) error
	ListPrices(ctx context.Context, depositID string) ([]model.ZonePrice, error)

	// Delivery jobs
	CreateJob(ctx context.Context, j model.DeliveryJob) (model.DeliveryJob, error)
	GetJob(ctx context.Context, id string) (model.DeliveryJob, error)
	// UpdateJob replaces the job only if its stored version equals
	// expectVersion, returning ErrVersionConflict otherwise.
	UpdateJob(ctx context.Context, j model.DeliveryJob, expectVersion int) (model.DeliveryJob, error)
	ListJobs(ctx context.Context, f model.JobFilter) ([]model.DeliveryJob, error)

	// Driver presence
	PutPresence(ctx context.Context, p model.DriverPresence) error
	GetPresence(ctx context.Context, driverID string) (model.DriverPresence, error)
	ListPresence(ctx context.Context) ([]model.DriverPresence, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]map[string]any, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)
