package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
	Next    *time.Time
}

type failRec struct {
	ID      string
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, next *time.Time, lastError string, code int, latency int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: code, LastErr: lastError, Next: next})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, next, lastError, code, latency)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, code int, latency int) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: code, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, code, latency)
}

func TestWorkerDeliversSigned(t *testing.T) {
	var mu sync.Mutex
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3)
	w.HTTP = srv.Client()
	ctx := context.Background()
	if _, err := rs.CreateSubscription(ctx, model.SubscriptionRequest{URL: srv.URL, Events: []string{"job.status.changed"}, Secret: "secret"}); err != nil {
		t.Fatal(err)
	}
	NewPublisher(rs).Emit(ctx, "evt1", "job.status.changed", map[string]any{"jobId": "j1", "to": "EM_ROTA"})

	if n := w.ProcessOnce(ctx); n != 1 {
		t.Fatalf("processed %d, want 1", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotType != "job.status.changed" || !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("bad headers: sig=%q type=%q", gotSig, gotType)
	}
	var env Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil || env.ID != "evt1" || env.Type != "job.status.changed" {
		t.Fatalf("envelope = %+v %v", env, err)
	}
	if len(rs.marks) != 1 || !rs.marks[0].Success {
		t.Fatalf("marks = %+v", rs.marks)
	}
	if n := w.ProcessOnce(ctx); n != 0 {
		t.Fatalf("delivered item processed again: %d", n)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2)
	w.HTTP = srv.Client()
	ctx := context.Background()
	id, err := rs.EnqueueWebhook(ctx, "sub", "job.status.changed", srv.URL, "", []byte(`{"id":"e1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue: %q %v", id, err)
	}

	w.ProcessOnce(ctx)
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 || rs.marks[0].Next == nil {
		t.Fatalf("first attempt marks = %+v", rs.marks)
	}
	if !rs.marks[0].Next.After(time.Now()) {
		t.Fatal("retry must be scheduled in the future")
	}
	if err := rs.RetryWebhookDelivery(ctx, id); err != nil {
		t.Fatal(err)
	}
	w.ProcessOnce(ctx)
	if len(rs.fails) != 1 || rs.fails[0].ID != id || rs.fails[0].LastErr != "http 500" {
		t.Fatalf("fails = %+v", rs.fails)
	}
	failed, _ := rs.ListWebhookDeliveries(ctx, "failed", 10)
	if len(failed) != 1 {
		t.Fatalf("failed list = %v", failed)
	}
}

func TestPublisherWithoutSubscribersEnqueuesNothing(t *testing.T) {
	rs := &recordStore{Memory: store.NewMemory()}
	NewPublisher(rs).Emit(context.Background(), "", "job.status.changed", nil)
	all, _ := rs.ListWebhookDeliveries(context.Background(), "", 10)
	if len(all) != 0 {
		t.Fatalf("deliveries = %v", all)
	}
}

func TestPublisherDedupsByEventID(t *testing.T) {
	ctx := context.Background()
	rs := &recordStore{Memory: store.NewMemory()}
	if _, err := rs.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://example.invalid/hook", Events: []string{"job.status.changed"}}); err != nil {
		t.Fatal(err)
	}
	p := NewPublisher(rs)
	p.Emit(ctx, "evt-same", "job.status.changed", 1)
	p.Emit(ctx, "evt-same", "job.status.changed", 2)
	all, _ := rs.ListWebhookDeliveries(ctx, "", 10)
	if len(all) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(all))
	}
}

func TestWorkerCloseWithoutStart(t *testing.T) {
	w := NewWorker(store.NewMemory(), 3)
	done := make(chan struct{})
	go func() {
		w.Close()
		w.Close()
		w.Start()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a worker that never started")
	}
}

func TestSignature(t *testing.T) {
	sig := SignHMAC("k", []byte("body"))
	if !VerifyHMAC("k", []byte("body"), sig) || VerifyHMAC("k", []byte("other"), sig) || VerifyHMAC("k", []byte("body"), "zz") {
		t.Fatal("signature round trip")
	}
}

func TestBackoffCaps(t *testing.T) {
	if nextBackoff(-1) != time.Second || nextBackoff(3) != 8*time.Second || nextBackoff(50) != 1024*time.Second {
		t.Fatal("backoff schedule changed")
	}
}
