package presence

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

// RedisStore keeps one hash per driver plus a set of known driver ids, so
// presence survives API restarts and is shared between API replicas.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "presence:"}
}

// NewRedisStoreFromURL parses a redis:// URL.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(redis.NewClient(opt)), nil
}

func (s *RedisStore) key(id string) string { return s.prefix + "driver:" + id }
func (s *RedisStore) index() string      { return s.prefix + "drivers" }

func (s *RedisStore) PutPresence(ctx context.Context, p model.DriverPresence) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		k := s.key(p.DriverID)
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, encodePresence(p))
		pipe.SAdd(ctx, s.index(), p.DriverID)
		return nil
	})
	return err
}

func (s *RedisStore) GetPresence(ctx context.Context, driverID string) (model.DriverPresence, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(driverID)).Result()
	if err != nil {
		return model.DriverPresence{}, err
	}
	if len(m) == 0 {
		return model.DriverPresence{}, store.ErrNotFound
	}
	return decodePresence(driverID, m), nil
}

func (s *RedisStore) ListPresence(ctx context.Context) ([]model.DriverPresence, error) {
	ids, err := s.rdb.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	out := make([]model.DriverPresence, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPresence(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func encodePresence(p model.DriverPresence) map[string]any {
	m := map[string]any{
		"name":     p.DriverName,
		"status":   string(p.Status),
		"lastSeen": p.LastSeenAt.UTC().Format(time.RFC3339Nano),
	}
	if p.Lat != nil && p.Lng != nil {
		m["lat"] = strconv.FormatFloat(*p.Lat, 'f', -1, 64)
		m["lng"] = strconv.FormatFloat(*p.Lng, 'f', -1, 64)
	}
	return m
}

func decodePresence(id string, m map[string]string) model.DriverPresence {
	p := model.DriverPresence{DriverID: id, DriverName: m["name"], Status: model.DriverStatus(m["status"])}
	if t, err := time.Parse(time.RFC3339Nano, m["lastSeen"]); err == nil {
		p.LastSeenAt = t
	}
	lat, errLat := strconv.ParseFloat(m["lat"], 64)
	lng, errLng := strconv.ParseFloat(m["lng"], 64)
	if errLat == nil && errLng == nil {
		p.Lat, p.Lng = &lat, &lng
	}
	return p
}
