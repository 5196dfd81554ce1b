package presence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestTracker() (*Tracker, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(store.NewMemory(), 0)
	tr.Now = c.now
	return tr, c
}

func TestIsOnlineWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := model.DriverPresence{LastSeenAt: base}
	cases := []struct {
		after time.Duration
		want  bool
	}{
		{0, true},
		{44 * time.Second, true},
		{45 * time.Second, false},
		{10 * time.Minute, false},
	}
	for _, tc := range cases {
		if got := IsOnline(p, base.Add(tc.after)); got != tc.want {
			t.Errorf("after %v: got %v want %v", tc.after, got, tc.want)
		}
	}
	if IsOnline(model.DriverPresence{}, base) {
		t.Error("never-seen driver reported online")
	}
}

func TestHeartbeatAndAvailability(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker()

	if _, err := tr.Heartbeat(ctx, "d1", "Ana", model.DriverAvailable, &geo.Point{Lat: -17.8, Lng: -50.9}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Heartbeat(ctx, "d2", "Bruno", model.DriverBusy, nil); err != nil {
		t.Fatal(err)
	}
	avail, _ := tr.Available(ctx)
	if len(avail) != 1 || avail[0].DriverID != "d1" || avail[0].Lat == nil {
		t.Fatalf("available: %+v", avail)
	}

	// d1 goes stale; the stored status still says DISPONIVEL.
	c.t = c.t.Add(46 * time.Second)
	_, _ = tr.Heartbeat(ctx, "d2", "Bruno", model.DriverAvailable, nil)
	all, _ := tr.All(ctx)
	if len(all) != 2 {
		t.Fatalf("all: %+v", all)
	}
	for _, p := range all {
		switch p.DriverID {
		case "d1":
			if p.Online || p.Status != model.DriverAvailable {
				t.Fatalf("d1 should be stale but keep its status: %+v", p)
			}
		case "d2":
			if !p.Online {
				t.Fatalf("d2 should be online: %+v", p)
			}
		}
	}
	avail, _ = tr.Available(ctx)
	if len(avail) != 1 || avail[0].DriverID != "d2" {
		t.Fatalf("available after staleness: %+v", avail)
	}
}

func TestHeartbeatRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker()
	if _, err := tr.Heartbeat(ctx, "d1", "", "DORMINDO", nil); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bad status: %v", err)
	}
	if _, err := tr.Heartbeat(ctx, " ", "", model.DriverAvailable, nil); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("blank id: %v", err)
	}
	if _, err := tr.Get(ctx, "d1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rejected heartbeat was stored: %v", err)
	}
}

func TestPresenceEncoding(t *testing.T) {
	lat, lng := -17.79, -50.92
	in := model.DriverPresence{DriverID: "d1", DriverName: "Ana", Status: model.DriverBusy,
		LastSeenAt: time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC), Lat: &lat, Lng: &lng}
	raw := encodePresence(in)
	m := map[string]string{}
	for k, v := range raw {
		m[k] = v.(string)
	}
	out := decodePresence("d1", m)
	if out.DriverName != "Ana" || out.Status != model.DriverBusy || !out.LastSeenAt.Equal(in.LastSeenAt) {
		t.Fatalf("decode: %+v", out)
	}
	if out.Lat == nil || *out.Lat != lat || *out.Lng != lng {
		t.Fatalf("coordinates lost: %+v", out)
	}
	if noPos := decodePresence("d2", map[string]string{"status": "OFFLINE"}); noPos.Lat != nil {
		t.Fatalf("phantom coordinates: %+v", noPos)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis test")
	}
	rs, err := NewRedisStoreFromURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rs.prefix = "test:presence:" + time.Now().Format("150405.000000") + ":"
	tr := NewTracker(rs, 0)
	ctx := context.Background()
	if _, err := tr.Heartbeat(ctx, "d1", "Ana", model.DriverAvailable, nil); err != nil {
		t.Fatal(err)
	}
	avail, err := tr.Available(ctx)
	if err != nil || len(avail) != 1 {
		t.Fatalf("available: %+v %v", avail, err)
	}
}
