package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
	"zonedispatch/internal/presence"
	"zonedispatch/internal/store"
	"zonedispatch/internal/zones"
)

type recordStore struct {
	*store.Memory
	gets, updates int
	// beforeUpdate runs once before the next UpdateJob, simulating a
	// concurrent writer.
	beforeUpdate func()
}

func (r *recordStore) GetJob(ctx context.Context, id string) (model.DeliveryJob, error) {
	r.gets++
	return r.Memory.GetJob(ctx, id)
}

func (r *recordStore) UpdateJob(ctx context.Context, j model.DeliveryJob, v int) (model.DeliveryJob, error) {
	r.updates++
	if f := r.beforeUpdate; f != nil {
		r.beforeUpdate = nil
		f()
	}
	return r.Memory.UpdateJob(ctx, j, v)
}

type recordNotifier struct {
	mu     sync.Mutex
	events []model.JobEvent
}

func (n *recordNotifier) JobChanged(_ context.Context, evt model.JobEvent, _ model.DeliveryJob) {
	n.mu.Lock()
	n.events = append(n.events, evt)
	n.mu.Unlock()
}

type fixture struct {
	rs      *recordStore
	tracker *presence.Tracker
	clock   time.Time
	svc     *Service
	notes   *recordNotifier
}

func newFixture() *fixture {
	f := &fixture{rs: &recordStore{Memory: store.NewMemory()}, clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), notes: &recordNotifier{}}
	f.tracker = presence.NewTracker(f.rs, presence.DefaultWindow)
	f.tracker.Now = func() time.Time { return f.clock }
	f.svc = NewService(f.rs, f.tracker, nil, f.notes)
	return f
}

func (f *fixture) heartbeat(t *testing.T, id string, status model.DriverStatus) {
	t.Helper()
	if _, err := f.tracker.Heartbeat(context.Background(), id, "Driver "+id, status, nil); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) job(t *testing.T, osID string) model.DeliveryJob {
	t.Helper()
	j, err := f.svc.CreateJob(context.Background(), JobInput{OSID: osID, TotalValue: 120})
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestStartRouteAssignsAvailableDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	j1 := f.job(t, "OS-1")
	if j1.Status != model.JobPending || j1.Version != 1 {
		t.Fatalf("new job = %+v", j1)
	}
	f.heartbeat(t, "D1", model.DriverAvailable)

	got, err := f.svc.StartRoute(ctx, j1.ID, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobInRoute || got.AssignedDriverID == nil || *got.AssignedDriverID != "D1" {
		t.Fatalf("after start = %+v", got)
	}
	if got.DriverName != "Driver D1" {
		t.Fatalf("driver name = %q", got.DriverName)
	}
	if !got.AssignedAt.Equal(j1.AssignedAt) {
		t.Fatalf("assignedAt changed: %v -> %v", j1.AssignedAt, got.AssignedAt)
	}

	active, ok, err := f.svc.ActiveJobFor(ctx, "D1")
	if err != nil || !ok || active.ID != j1.ID {
		t.Fatalf("ActiveJobFor(D1) = %v %v %v", active.ID, ok, err)
	}
	if _, ok, _ := f.svc.ActiveJobFor(ctx, "D2"); ok {
		t.Fatal("D2 has no active job")
	}
}

func TestReturnAndRedispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	j1 := f.job(t, "OS-1")
	f.heartbeat(t, "D1", model.DriverAvailable)
	f.heartbeat(t, "D2", model.DriverAvailable)
	if _, err := f.svc.StartRoute(ctx, j1.ID, "D1"); err != nil {
		t.Fatal(err)
	}

	ret, err := f.svc.ReturnJob(ctx, j1.ID, "Cliente ausente")
	if err != nil {
		t.Fatal(err)
	}
	if ret.Status != model.JobReturned || ret.RefusalReason == nil || *ret.RefusalReason != "Cliente ausente" {
		t.Fatalf("after return = %+v", ret)
	}

	again, err := f.svc.StartRoute(ctx, j1.ID, "D2")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != model.JobInRoute || *again.AssignedDriverID != "D2" {
		t.Fatalf("after re-dispatch = %+v", again)
	}
	if !again.AssignedAt.Equal(j1.AssignedAt) {
		t.Fatalf("assignedAt changed on re-dispatch: %v -> %v", j1.AssignedAt, again.AssignedAt)
	}
	if again.RefusalReason == nil || *again.RefusalReason != "Cliente ausente" {
		t.Fatal("refusal reason should survive re-dispatch")
	}
	if again.Version != 4 {
		t.Fatalf("version = %d, want 4", again.Version)
	}

	f.notes.mu.Lock()
	defer f.notes.mu.Unlock()
	want := []model.JobStatus{model.JobPending, model.JobInRoute, model.JobReturned, model.JobInRoute}
	if len(f.notes.events) != len(want) {
		t.Fatalf("events = %d, want %d", len(f.notes.events), len(want))
	}
	for i, e := range f.notes.events {
		if e.To != want[i] || e.Type != EventJobStatusChanged {
			t.Fatalf("event %d = %+v", i, e)
		}
	}
	if f.notes.events[2].Reason != "Cliente ausente" || f.notes.events[3].DriverID != "D2" {
		t.Fatalf("event details = %+v", f.notes.events[2:])
	}
}

func TestReturnRequiresReasonWithoutStoreCall(t *testing.T) {
	f := newFixture()
	j := f.job(t, "OS-1")
	f.rs.gets, f.rs.updates = 0, 0
	for _, reason := range []string{"", "   ", "\t\n"} {
		if _, err := f.svc.ReturnJob(context.Background(), j.ID, reason); !errors.Is(err, ErrReasonRequired) {
			t.Fatalf("ReturnJob(%q) err = %v", reason, err)
		}
	}
	if f.rs.gets != 0 || f.rs.updates != 0 {
		t.Fatalf("store touched: gets=%d updates=%d", f.rs.gets, f.rs.updates)
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.heartbeat(t, "D1", model.DriverAvailable)

	done := f.job(t, "OS-done")
	if _, err := f.svc.StartRoute(ctx, done.ID, "D1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CompleteJob(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	cancelled := f.job(t, "OS-cancelled")
	if _, err := f.svc.CancelJob(ctx, cancelled.ID); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{done.ID, cancelled.ID} {
		before, _ := f.rs.Memory.GetJob(ctx, id)
		ops := map[string]func() error{
			"start":    func() error { _, err := f.svc.StartRoute(ctx, id, "D1"); return err },
			"complete": func() error { _, err := f.svc.CompleteJob(ctx, id); return err },
			"return":   func() error { _, err := f.svc.ReturnJob(ctx, id, "x"); return err },
			"cancel":   func() error { _, err := f.svc.CancelJob(ctx, id); return err },
		}
		for name, op := range ops {
			if err := op(); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s on %s: err = %v", name, before.Status, err)
			}
		}
		after, _ := f.rs.Memory.GetJob(ctx, id)
		if after.Status != before.Status || after.Version != before.Version {
			t.Fatalf("terminal job changed: %+v -> %+v", before, after)
		}
	}
}

func TestInvalidTransitionsFromLiveStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	j := f.job(t, "OS-1")
	if _, err := f.svc.CompleteJob(ctx, j.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete pending: %v", err)
	}
	if _, err := f.svc.ReturnJob(ctx, j.ID, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("return pending: %v", err)
	}
	f.heartbeat(t, "D1", model.DriverAvailable)
	if _, err := f.svc.StartRoute(ctx, j.ID, "D1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartRoute(ctx, j.ID, "D1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start in-route: %v", err)
	}
	if _, err := f.svc.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("cancel in-route: %v", err)
	}
}

func TestCanTransitionTable(t *testing.T) {
	statuses := []model.JobStatus{model.JobPending, model.JobInRoute, model.JobDone, model.JobReturned, model.JobCancelled}
	allowed := map[[2]model.JobStatus]bool{
		{model.JobPending, model.JobInRoute}:    true,
		{model.JobPending, model.JobCancelled}:  true,
		{model.JobInRoute, model.JobDone}:       true,
		{model.JobInRoute, model.JobReturned}:   true,
		{model.JobInRoute, model.JobCancelled}:  true,
		{model.JobReturned, model.JobInRoute}:   true,
		{model.JobReturned, model.JobCancelled}: true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if got := CanTransition(from, to); got != allowed[[2]model.JobStatus{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestStartRouteDriverChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	j := f.job(t, "OS-1")

	if _, err := f.svc.StartRoute(ctx, j.ID, "ghost"); !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("unknown driver: %v", err)
	}
	if _, err := f.svc.StartRoute(ctx, j.ID, " "); !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("blank driver: %v", err)
	}
	f.heartbeat(t, "busy", model.DriverBusy)
	if _, err := f.svc.StartRoute(ctx, j.ID, "busy"); !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("busy driver: %v", err)
	}
	f.heartbeat(t, "stale", model.DriverAvailable)
	f.clock = f.clock.Add(presence.DefaultWindow + time.Second)
	if _, err := f.svc.StartRoute(ctx, j.ID, "stale"); !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("stale driver: %v", err)
	}
	after, _ := f.svc.GetJob(ctx, j.ID)
	if after.Status != model.JobPending || after.Version != 1 {
		t.Fatalf("job changed by rejected starts: %+v", after)
	}
}

func TestConcurrentWriterMakesTransitionStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	j := f.job(t, "OS-1")
	f.heartbeat(t, "D1", model.DriverAvailable)
	f.heartbeat(t, "D2", model.DriverAvailable)

	f.rs.beforeUpdate = func() {
		cur, _ := f.rs.Memory.GetJob(ctx, j.ID)
		other := "D2"
		cur.Status = model.JobInRoute
		cur.AssignedDriverID = &other
		if _, err := f.rs.Memory.UpdateJob(ctx, cur, cur.Version); err != nil {
			t.Error(err)
		}
	}
	if _, err := f.svc.StartRoute(ctx, j.ID, "D1"); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	got, _ := f.svc.GetJob(ctx, j.ID)
	if *got.AssignedDriverID != "D2" {
		t.Fatalf("losing writer overwrote the winner: %+v", got)
	}
}

func TestParallelStartRouteSingleWinner(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	tracker := presence.NewTracker(mem, presence.DefaultWindow)
	svc := NewService(mem, tracker, nil, nil)
	j, err := svc.CreateJob(ctx, JobInput{OSID: "OS-1"})
	if err != nil {
		t.Fatal(err)
	}
	drivers := []string{"A", "B", "C", "D", "E", "F"}
	for _, d := range drivers {
		if _, err := tracker.Heartbeat(ctx, d, d, model.DriverAvailable, nil); err != nil {
			t.Fatal(err)
		}
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, d := range drivers {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			_, err := svc.StartRoute(ctx, j.ID, d)
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, ErrStale), errors.Is(err, ErrInvalidTransition):
			default:
				t.Errorf("driver %s: %v", d, err)
			}
		}(d)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	got, _ := svc.GetJob(ctx, j.ID)
	if got.Version != 2 {
		t.Fatalf("version = %d, want 2", got.Version)
	}
}

func TestPendingQueueOrdersByAssignedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	mk := func(os string, at time.Time, status model.JobStatus) {
		if _, err := f.rs.Memory.CreateJob(ctx, model.DeliveryJob{OSID: os, Status: status, AssignedAt: at}); err != nil {
			t.Fatal(err)
		}
	}
	mk("late", t0.Add(2*time.Hour), model.JobPending)
	mk("returned", t0.Add(time.Hour), model.JobReturned)
	mk("early", t0, model.JobPending)
	mk("moving", t0.Add(-time.Hour), model.JobInRoute)
	mk("finished", t0.Add(-2*time.Hour), model.JobDone)

	q, err := f.svc.PendingQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, j := range q {
		got = append(got, j.OSID)
	}
	want := []string{"early", "returned", "late"}
	if len(got) != len(want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue = %v, want %v", got, want)
		}
	}
}

func TestBoardSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := f.job(t, "OS-1")
	f.job(t, "OS-2")
	f.heartbeat(t, "D1", model.DriverAvailable)
	f.heartbeat(t, "D2", model.DriverOffline)
	if _, err := f.svc.StartRoute(ctx, a.ID, "D1"); err != nil {
		t.Fatal(err)
	}
	b, err := f.svc.Board(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Queue) != 1 || b.Queue[0].OSID != "OS-2" {
		t.Fatalf("queue = %+v", b.Queue)
	}
	if len(b.InRoute) != 1 || b.InRoute[0].ID != a.ID {
		t.Fatalf("in route = %+v", b.InRoute)
	}
	if len(b.Online) != 1 || b.Online[0].DriverID != "D1" {
		t.Fatalf("online = %+v", b.Online)
	}
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture()
	cases := []JobInput{
		{OSID: ""},
		{OSID: "   "},
		{OSID: "OS-1", TotalValue: -1},
	}
	for _, in := range cases {
		if _, err := f.svc.CreateJob(context.Background(), in); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("CreateJob(%+v) err = %v", in, err)
		}
	}
}

func TestCreateJobQuotesFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	reg := zones.NewRegistry(f.rs)
	pricing := zones.NewPricing(f.rs, reg)
	f.svc.Pricing = pricing
	z, err := reg.CreateZone(ctx, "Centro", "", geo.Polygon{geo.Ring{{Lat: -17.79, Lng: -50.92}, {Lat: -17.79, Lng: -50.91}, {Lat: -17.80, Lng: -50.91}, {Lat: -17.80, Lng: -50.92}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pricing.SetPrice(ctx, z.ID, "DepositoSul", 8.5); err != nil {
		t.Fatal(err)
	}
	lat, lng := -17.795, -50.915
	j, err := f.svc.CreateJob(ctx, JobInput{OSID: "OS-9", TotalValue: 40, DepositID: "DepositoSul", Address: model.Address{Lat: &lat, Lng: &lng}})
	if err != nil {
		t.Fatal(err)
	}
	if j.ZoneID != z.ID || j.DeliveryFee == nil || *j.DeliveryFee != 8.5 {
		t.Fatalf("job = zone %q fee %v", j.ZoneID, j.DeliveryFee)
	}

	outLat := 10.0
	j2, err := f.svc.CreateJob(ctx, JobInput{OSID: "OS-10", DepositID: "DepositoSul", Address: model.Address{Lat: &outLat, Lng: &lng}})
	if err != nil {
		t.Fatal(err)
	}
	if j2.DeliveryFee != nil || j2.ZoneID != "" {
		t.Fatalf("job outside zones got fee %v zone %q", j2.DeliveryFee, j2.ZoneID)
	}
}
