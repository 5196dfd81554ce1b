package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

// Migrate applies the embedded goose migrations.
func (p *Postgres) Migrate() error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Zones

const zoneCols = `id, name, COALESCE(color,''), polygon, created_at, updated_at`

func scanZone(row pgx.Row) (model.Zone, error) {
	var z model.Zone
	var poly []byte
	if err := row.Scan(&z.ID, &z.Name, &z.Color, &poly, &z.CreatedAt, &z.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return z, ErrNotFound
		}
		return z, err
	}
	if len(poly) > 0 {
		z.Polygon, _ = geo.Normalize(poly)
	}
	return z, nil
}

func (p *Postgres) ListZones(ctx context.Context) ([]model.Zone, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+zoneCols+` FROM zones ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Zone{}
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

func (p *Postgres) GetZone(ctx context.Context, id string) (model.Zone, error) {
	return scanZone(p.pool.QueryRow(ctx, `SELECT `+zoneCols+` FROM zones WHERE id=$1`, id))
}

func (p *Postgres) PutZone(ctx context.Context, z model.Zone) (model.Zone, error) {
	if z.ID == "" {
		z.ID = uuid.New().String()
	}
	var poly any
	if !z.Polygon.Empty() {
		b, err := json.Marshal(z.Polygon.GeoJSON())
		if err != nil {
			return model.Zone{}, err
		}
		poly = b
	}
	err := p.pool.QueryRow(ctx, `INSERT INTO zones (id, name, color, polygon) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, color=EXCLUDED.color, polygon=EXCLUDED.polygon, updated_at=now()
		RETURNING created_at, updated_at`, z.ID, z.Name, nullIfEmpty(z.Color), poly).Scan(&z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return model.Zone{}, err
	}
	return z, nil
}

func (p *Postgres) DeleteZone(ctx context.Context, id, moveSectorsTo string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if moveSectorsTo != "" {
		var ok bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM zones WHERE id=$1)`, moveSectorsTo).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE sectors SET zone_id=$2 WHERE zone_id=$1`, id, moveSectorsTo); err != nil {
			return err
		}
	} else if _, err := tx.Exec(ctx, `DELETE FROM sectors WHERE zone_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM zone_prices WHERE zone_id=$1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM zones WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// Sectors

func (p *Postgres) ListSectors(ctx context.Context, zoneID string) ([]model.Sector, error) {
	var rows pgx.Rows
	var err error
	if zoneID != "" {
		rows, err = p.pool.Query(ctx, `SELECT id, zone_id, name FROM sectors WHERE zone_id=$1 ORDER BY name, id`, zoneID)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT id, zone_id, name FROM sectors ORDER BY name, id`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Sector{}
	for rows.Next() {
		var s model.Sector
		if err := rows.Scan(&s.ID, &s.ZoneID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSector(ctx context.Context, id string) (model.Sector, error) {
	var s model.Sector
	err := p.pool.QueryRow(ctx, `SELECT id, zone_id, name FROM sectors WHERE id=$1`, id).Scan(&s.ID, &s.ZoneID, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (p *Postgres) PutSector(ctx context.Context, s model.Sector) (model.Sector, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	tag, err := p.pool.Exec(ctx, `INSERT INTO sectors (id, zone_id, name)
		SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM zones WHERE id=$2)
		ON CONFLICT (id) DO UPDATE SET zone_id=EXCLUDED.zone_id, name=EXCLUDED.name`, s.ID, s.ZoneID, s.Name)
	if err != nil {
		return model.Sector{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Sector{}, ErrNotFound
	}
	return s, nil
}

func (p *Postgres) DeleteSector(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sectors WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deposits & prices

func (p *Postgres) GetDeposit(ctx context.Context, id string) (model.Deposit, error) {
	var d model.Deposit
	err := p.pool.QueryRow(ctx, `SELECT id, COALESCE(name,''), free_shipping_min FROM deposits WHERE id=$1`, id).Scan(&d.ID, &d.Name, &d.FreeShippingMin)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, ErrNotFound
	}
	return d, err
}

func (p *Postgres) PutDeposit(ctx context.Context, d model.Deposit) (model.Deposit, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO deposits (id, name, free_shipping_min) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, free_shipping_min=EXCLUDED.free_shipping_min`, d.ID, nullIfEmpty(d.Name), d.FreeShippingMin)
	if err != nil {
		return model.Deposit{}, err
	}
	return d, nil
}

func (p *Postgres) DeleteDeposit(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM deposits WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetPrice(ctx context.Context, zoneID, depositID string) (model.ZonePrice, error) {
	var zp model.ZonePrice
	err := p.pool.QueryRow(ctx, `SELECT id, zone_id, deposit_id, price, updated_at FROM zone_prices WHERE zone_id=$1 AND deposit_id=$2`, zoneID, depositID).
		Scan(&zp.ID, &zp.ZoneID, &zp.DepositID, &zp.Price, &zp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return zp, ErrNotFound
	}
	return zp, err
}

func (p *Postgres) PutPrice(ctx context.Context, zp model.ZonePrice) (model.ZonePrice, error) {
	err := p.pool.QueryRow(ctx, `INSERT INTO zone_prices (id, zone_id, deposit_id, price)
		SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM zones WHERE id=$2)
		ON CONFLICT (zone_id, deposit_id) DO UPDATE SET price=EXCLUDED.price, updated_at=now()
		RETURNING id, updated_at`, uuid.New().String(), zp.ZoneID, zp.DepositID, zp.Price).Scan(&zp.ID, &zp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ZonePrice{}, ErrNotFound
	}
	if err != nil {
		return model.ZonePrice{}, err
	}
	return zp, nil
}

func (p *Postgres) DeletePrice(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM zone_prices WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListPrices(ctx context.Context, depositID string) ([]model.ZonePrice, error) {
	q := `SELECT id, zone_id, deposit_id, price, updated_at FROM zone_prices`
	args := []any{}
	if depositID != "" {
		q += ` WHERE deposit_id=$1`
		args = append(args, depositID)
	}
	rows, err := p.pool.Query(ctx, q+` ORDER BY zone_id, deposit_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ZonePrice{}
	for rows.Next() {
		var zp model.ZonePrice
		if err := rows.Scan(&zp.ID, &zp.ZoneID, &zp.DepositID, &zp.Price, &zp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, zp)
	}
	return out, rows.Err()
}

// Jobs

const jobCols = `id, os_id, COALESCE(customer_name,''), COALESCE(customer_phone,''), address, total_value,
	COALESCE(items_summary,''), status, assigned_driver_id, COALESCE(driver_name,''), refusal_reason, observation,
	COALESCE(zone_id,''), COALESCE(deposit_id,''), delivery_fee, assigned_at, updated_at, version`

func scanJob(row pgx.Row) (model.DeliveryJob, error) {
	var j model.DeliveryJob
	var addr []byte
	var status string
	err := row.Scan(&j.ID, &j.OSID, &j.CustomerName, &j.CustomerPhone, &addr, &j.TotalValue,
		&j.ItemsSummary, &status, &j.AssignedDriverID, &j.DriverName, &j.RefusalReason, &j.Observation,
		&j.ZoneID, &j.DepositID, &j.DeliveryFee, &j.AssignedAt, &j.UpdatedAt, &j.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, err
	}
	j.Status = model.JobStatus(status)
	if len(addr) > 0 {
		_ = json.Unmarshal(addr, &j.Address)
	}
	return j, nil
}

func (p *Postgres) CreateJob(ctx context.Context, j model.DeliveryJob) (model.DeliveryJob, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if j.AssignedAt.IsZero() {
		j.AssignedAt = now
	}
	j.UpdatedAt = now
	j.Version = 1
	addr, err := json.Marshal(j.Address)
	if err != nil {
		return model.DeliveryJob{}, err
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO delivery_jobs (id, os_id, customer_name, customer_phone, address, total_value,
		items_summary, status, assigned_driver_id, driver_name, refusal_reason, observation, zone_id, deposit_id, delivery_fee,
		assigned_at, updated_at, version) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		j.ID, j.OSID, nullIfEmpty(j.CustomerName), nullIfEmpty(j.CustomerPhone), addr, j.TotalValue,
		nullIfEmpty(j.ItemsSummary), string(j.Status), j.AssignedDriverID, nullIfEmpty(j.DriverName), j.RefusalReason, j.Observation,
		nullIfEmpty(j.ZoneID), nullIfEmpty(j.DepositID), j.DeliveryFee, j.AssignedAt, j.UpdatedAt, j.Version)
	if err != nil {
		return model.DeliveryJob{}, err
	}
	return j, nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (model.DeliveryJob, error) {
	return scanJob(p.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM delivery_jobs WHERE id=$1`, id))
}

func (p *Postgres) UpdateJob(ctx context.Context, j model.DeliveryJob, expectVersion int) (model.DeliveryJob, error) {
	addr, err := json.Marshal(j.Address)
	if err != nil {
		return model.DeliveryJob{}, err
	}
	row := p.pool.QueryRow(ctx, `UPDATE delivery_jobs SET os_id=$3, customer_name=$4, customer_phone=$5, address=$6, total_value=$7,
		items_summary=$8, status=$9, assigned_driver_id=$10, driver_name=$11, refusal_reason=$12, observation=$13,
		zone_id=$14, deposit_id=$15, delivery_fee=$16, updated_at=now(), version=version+1
		WHERE id=$1 AND version=$2 RETURNING `+jobCols,
		j.ID, expectVersion, j.OSID, nullIfEmpty(j.CustomerName), nullIfEmpty(j.CustomerPhone), addr, j.TotalValue,
		nullIfEmpty(j.ItemsSummary), string(j.Status), j.AssignedDriverID, nullIfEmpty(j.DriverName), j.RefusalReason, j.Observation,
		nullIfEmpty(j.ZoneID), nullIfEmpty(j.DepositID), j.DeliveryFee)
	out, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing job from a lost race.
		var exists bool
		if qerr := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM delivery_jobs WHERE id=$1)`, j.ID).Scan(&exists); qerr != nil {
			return model.DeliveryJob{}, qerr
		}
		if exists {
			return model.DeliveryJob{}, ErrVersionConflict
		}
	}
	return out, err
}

func (p *Postgres) ListJobs(ctx context.Context, f model.JobFilter) ([]model.DeliveryJob, error) {
	q := `SELECT ` + jobCols + ` FROM delivery_jobs WHERE 1=1`
	args := []any{}
	if len(f.Statuses) > 0 {
		st := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			st[i] = string(s)
		}
		args = append(args, st)
		q += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if f.DriverID != "" {
		args = append(args, f.DriverID)
		q += fmt.Sprintf(` AND assigned_driver_id = $%d`, len(args))
	}
	rows, err := p.pool.Query(ctx, q+` ORDER BY assigned_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Presence

func (p *Postgres) PutPresence(ctx context.Context, dp model.DriverPresence) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO driver_presence (driver_id, driver_name, status, last_seen_at, lat, lng)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (driver_id) DO UPDATE SET driver_name=EXCLUDED.driver_name, status=EXCLUDED.status,
		last_seen_at=EXCLUDED.last_seen_at, lat=EXCLUDED.lat, lng=EXCLUDED.lng`,
		dp.DriverID, nullIfEmpty(dp.DriverName), string(dp.Status), dp.LastSeenAt, dp.Lat, dp.Lng)
	return err
}

const presenceCols = `driver_id, COALESCE(driver_name,''), status, last_seen_at, lat, lng`

func scanPresence(row pgx.Row) (model.DriverPresence, error) {
	var dp model.DriverPresence
	var status string
	if err := row.Scan(&dp.DriverID, &dp.DriverName, &status, &dp.LastSeenAt, &dp.Lat, &dp.Lng); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dp, ErrNotFound
		}
		return dp, err
	}
	dp.Status = model.DriverStatus(status)
	return dp, nil
}

func (p *Postgres) GetPresence(ctx context.Context, driverID string) (model.DriverPresence, error) {
	return scanPresence(p.pool.QueryRow(ctx, `SELECT `+presenceCols+` FROM driver_presence WHERE driver_id=$1`, driverID))
}

func (p *Postgres) ListPresence(ctx context.Context) ([]model.DriverPresence, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+presenceCols+` FROM driver_presence ORDER BY driver_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DriverPresence{}
	for rows.Next() {
		dp, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dp)
	}
	return out, rows.Err()
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.pool.Exec(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, nullIfEmpty(req.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) querySubscriptions(ctx context.Context, q string, args ...any) ([]model.Subscription, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	want, _ := json.Marshal([]string{eventType})
	return p.querySubscriptions(ctx, `SELECT id, url, COALESCE(secret,''), events FROM subscriptions WHERE events @> $1::jsonb`, want)
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return p.querySubscriptions(ctx, `SELECT id, url, COALESCE(secret,''), events FROM subscriptions ORDER BY created_at, id`)
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	return err
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	tag, err := p.pool.Exec(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
		ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", nil
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries`
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = p.pool.Query(ctx, q+` WHERE status=$1 ORDER BY updated_at DESC LIMIT $2`, status, limit)
	} else {
		rows, err = p.pool.Query(ctx, q+` ORDER BY updated_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts int
		var nextAt *time.Time
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil {
			return nil, err
		}
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt != nil {
			m["nextAttemptAt"] = *nextAt
		}
		if lastErr != "" {
			m["lastError"] = lastErr
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
