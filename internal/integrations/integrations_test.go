package integrations

import (
	"context"
	"errors"
	"testing"

	"zonedispatch/internal/dispatch"
	"zonedispatch/internal/model"
	"zonedispatch/internal/presence"
	"zonedispatch/internal/store"
)

type fakeSource struct {
	batch    OrderBatch
	fetchErr error
	acked    []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchOrders(ctx context.Context, cursor string) (OrderBatch, error) {
	return f.batch, f.fetchErr
}

func (f *fakeSource) AckOrders(ctx context.Context, refs []string) error {
	f.acked = append(f.acked, refs...)
	return nil
}

type failingCreator struct{}

func (failingCreator) CreateJob(context.Context, dispatch.JobInput) (model.DeliveryJob, error) {
	return model.DeliveryJob{}, errors.New("db down")
}

func newService() *dispatch.Service {
	mem := store.NewMemory()
	return dispatch.NewService(mem, presence.NewTracker(mem, presence.DefaultWindow), nil, nil)
}

func TestImportCreatesAndReportsRows(t *testing.T) {
	src := &fakeSource{batch: OrderBatch{
		Orders: []Order{
			{ExternalRef: "OS-1", Line: 2, Input: dispatch.JobInput{OSID: "OS-1", TotalValue: 50}},
			{ExternalRef: "", Line: 3, Input: dispatch.JobInput{}},
			{ExternalRef: "OS-3", Line: 4, Input: dispatch.JobInput{OSID: "OS-3"}},
		},
		Rejected: []RowError{{Line: 5, ExternalRef: "OS-4", Error: "bad total"}},
		Cursor:   "4",
	}}
	svc := newService()
	res, err := Import(context.Background(), src, svc, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != "fake" || res.Cursor != "4" {
		t.Fatalf("result %+v", res)
	}
	if len(res.Created) != 2 || res.Created[0].OSID != "OS-1" || res.Created[0].Status != model.JobPending {
		t.Fatalf("created %+v", res.Created)
	}
	if len(res.Failed) != 2 || res.Failed[0].Line != 5 || res.Failed[1].Line != 3 {
		t.Fatalf("failed %+v", res.Failed)
	}
	if len(src.acked) != 2 || src.acked[1] != "OS-3" {
		t.Fatalf("acked %v", src.acked)
	}
	pending, _ := svc.PendingQueue(context.Background())
	if len(pending) != 2 {
		t.Fatalf("queue = %d", len(pending))
	}
}

func TestImportStopsOnStoreFailure(t *testing.T) {
	src := &fakeSource{batch: OrderBatch{Orders: []Order{{ExternalRef: "OS-1", Line: 2, Input: dispatch.JobInput{OSID: "OS-1"}}}}}
	if _, err := Import(context.Background(), src, failingCreator{}, ""); err == nil {
		t.Fatal("store failure swallowed")
	}
	if len(src.acked) != 0 {
		t.Fatal("nothing should be acked")
	}

	src = &fakeSource{fetchErr: errors.New("unreachable")}
	if _, err := Import(context.Background(), src, newService(), ""); err == nil {
		t.Fatal("fetch failure swallowed")
	}
}
