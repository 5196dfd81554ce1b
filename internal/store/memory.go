package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"zonedispatch/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	zones    map[string]model.Zone
	zoneIDs  []string // insertion order
	sectors  map[string]model.Sector
	deposits map[string]model.Deposit
	prices   map[string]model.ZonePrice // id -> price
	jobs     map[string]model.DeliveryJob
	jobIDs   []string
	presence map[string]model.DriverPresence
	subs     []model.Subscription
	// Webhooks queue state
	deliveries  map[string]*memDelivery
	deliveryIDs []string
	dedup       map[string]bool
	dlq         []map[string]any
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		zones:      map[string]model.Zone{},
		sectors:    map[string]model.Sector{},
		deposits:   map[string]model.Deposit{},
		prices:     map[string]model.ZonePrice{},
		jobs:       map[string]model.DeliveryJob{},
		presence:   map[string]model.DriverPresence{},
		deliveries: map[string]*memDelivery{},
		dedup:      map[string]bool{},
		now:        time.Now,
	}
}

// Zones

func (m *Memory) ListZones(ctx context.Context) ([]model.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Zone, 0, len(m.zoneIDs))
	for _, id := range m.zoneIDs {
		out = append(out, m.zones[id])
	}
	return out, nil
}

func (m *Memory) GetZone(ctx context.Context, id string) (model.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[id]
	if !ok {
		return model.Zone{}, ErrNotFound
	}
	return z, nil
}

func (m *Memory) PutZone(ctx context.Context, z model.Zone) (model.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if z.ID == "" {
		z.ID = uuid.New().String()
	}
	if prev, ok := m.zones[z.ID]; ok {
		z.CreatedAt = prev.CreatedAt
	} else {
		z.CreatedAt = now
		m.zoneIDs = append(m.zoneIDs, z.ID)
	}
	z.UpdatedAt = now
	m.zones[z.ID] = z
	return z, nil
}

func (m *Memory) DeleteZone(ctx context.Context, id, moveSectorsTo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[id]; !ok {
		return ErrNotFound
	}
	if moveSectorsTo != "" {
		if _, ok := m.zones[moveSectorsTo]; !ok {
			return ErrNotFound
		}
	}
	for sid, s := range m.sectors {
		if s.ZoneID != id {
			continue
		}
		if moveSectorsTo == "" {
			delete(m.sectors, sid)
		} else {
			s.ZoneID = moveSectorsTo
			m.sectors[sid] = s
		}
	}
	for pid, p := range m.prices {
		if p.ZoneID == id {
			delete(m.prices, pid)
		}
	}
	delete(m.zones, id)
	m.zoneIDs = slices.DeleteFunc(m.zoneIDs, func(v string) bool { return v == id })
	return nil
}

// Sectors

func (m *Memory) ListSectors(ctx context.Context, zoneID string) ([]model.Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Sector{}
	for _, s := range m.sectors {
		if zoneID == "" || s.ZoneID == zoneID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b model.Sector) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out, nil
}

func (m *Memory) GetSector(ctx context.Context, id string) (model.Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sectors[id]
	if !ok {
		return model.Sector{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) PutSector(ctx context.Context, s model.Sector) (model.Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[s.ZoneID]; !ok {
		return model.Sector{}, ErrNotFound
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	m.sectors[s.ID] = s
	return s, nil
}

func (m *Memory) DeleteSector(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sectors[id]; !ok {
		return ErrNotFound
	}
	delete(m.sectors, id)
	return nil
}

// Deposits & prices

func (m *Memory) GetDeposit(ctx context.Context, id string) (model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deposits[id]
	if !ok {
		return model.Deposit{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) PutDeposit(ctx context.Context, d model.Deposit) (model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	m.deposits[d.ID] = d
	return d, nil
}

func (m *Memory) DeleteDeposit(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deposits[id]; !ok {
		return ErrNotFound
	}
	delete(m.deposits, id)
	return nil
}

func (m *Memory) GetPrice(ctx context.Context, zoneID, depositID string) (model.ZonePrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prices {
		if p.ZoneID == zoneID && p.DepositID == depositID {
			return p, nil
		}
	}
	return model.ZonePrice{}, ErrNotFound
}

func (m *Memory) PutPrice(ctx context.Context, p model.ZonePrice) (model.ZonePrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[p.ZoneID]; !ok {
		return model.ZonePrice{}, ErrNotFound
	}
	p.ID = ""
	for _, cur := range m.prices {
		if cur.ZoneID == p.ZoneID && cur.DepositID == p.DepositID {
			p.ID = cur.ID
			break
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.UpdatedAt = m.now().UTC()
	m.prices[p.ID] = p
	return p, nil
}

func (m *Memory) DeletePrice(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prices[id]; !ok {
		return ErrNotFound
	}
	delete(m.prices, id)
	return nil
}

func (m *Memory) ListPrices(ctx context.Context, depositID string) ([]model.ZonePrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ZonePrice{}
	for _, p := range m.prices {
		if depositID == "" || p.DepositID == depositID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.ZonePrice) int {
		switch {
		case a.ZoneID < b.ZoneID:
			return -1
		case a.ZoneID > b.ZoneID:
			return 1
		case a.DepositID < b.DepositID:
			return -1
		case a.DepositID > b.DepositID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Jobs

func (m *Memory) CreateJob(ctx context.Context, j model.DeliveryJob) (model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.AssignedAt.IsZero() {
		j.AssignedAt = now
	}
	j.UpdatedAt = now
	j.Version = 1
	m.jobs[j.ID] = j
	m.jobIDs = append(m.jobIDs, j.ID)
	return j, nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.DeliveryJob{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) UpdateJob(ctx context.Context, j model.DeliveryJob, expectVersion int) (model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[j.ID]
	if !ok {
		return model.DeliveryJob{}, ErrNotFound
	}
	if cur.Version != expectVersion {
		return model.DeliveryJob{}, ErrVersionConflict
	}
	j.AssignedAt = cur.AssignedAt
	j.Version = cur.Version + 1
	j.UpdatedAt = m.now().UTC()
	m.jobs[j.ID] = j
	return j, nil
}

func (m *Memory) ListJobs(ctx context.Context, f model.JobFilter) ([]model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryJob{}
	for _, id := range m.jobIDs {
		if j := m.jobs[id]; f.Match(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

// Presence

func (m *Memory) PutPresence(ctx context.Context, p model.DriverPresence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Online = false
	m.presence[p.DriverID] = p
	return nil
}

func (m *Memory) GetPresence(ctx context.Context, driverID string) (model.DriverPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[driverID]
	if !ok {
		return model.DriverPresence{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPresence(ctx context.Context) ([]model.DriverPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DriverPresence, 0, len(m.presence))
	for _, p := range m.presence {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b model.DriverPresence) int {
		if a.DriverID < b.DriverID {
			return -1
		}
		if a.DriverID > b.DriverID {
			return 1
		}
		return 0
	})
	return out, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		if slices.Contains(s.Events, eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription{}, m.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = slices.DeleteFunc(m.subs, func(s model.Subscription) bool { return s.ID == id })
	return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + computeDedupKey(payload)
	if m.dedup[key] {
		return "", nil
	}
	m.dedup[key] = true
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"},
		NextAttemptAt:   m.now(),
	}
	m.deliveryIDs = append(m.deliveryIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := m.now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = "failed"
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []map[string]any{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = m.now()
	return nil
}
