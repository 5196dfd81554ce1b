// Package driverapp is the driver side of dispatch: a heartbeat and
// assignment poller plus an HTTP client for the dispatch API.
package driverapp

import (
	"context"
	"sync"
	"time"

	"zonedispatch/internal/logger"
	"zonedispatch/internal/model"
)

// DefaultInterval is the poll period. Together with the 45s liveness window
// it tolerates many missed ticks before a driver reads as offline.
const DefaultInterval = 3 * time.Second

// API is what the poller needs from the dispatch service.
type API interface {
	Heartbeat(ctx context.Context, driverID, name string, status model.DriverStatus) error
	JobsFor(ctx context.Context, driverID string, statuses ...model.JobStatus) ([]model.DeliveryJob, error)
}

type Poller struct {
	API      API
	DriverID string
	Name     string
	Interval time.Duration
	// OnAssigned fires once per job id, the first time it is seen in route.
	OnAssigned func(model.DeliveryJob)

	mu     sync.Mutex
	seen   map[string]bool
	active string
	stop   context.CancelFunc
	done   chan struct{}
}

func NewPoller(api API, driverID, name string, onAssigned func(model.DeliveryJob)) *Poller {
	return &Poller{API: api, DriverID: driverID, Name: name, Interval: DefaultInterval, OnAssigned: onAssigned, seen: map[string]bool{}}
}

// Start begins polling until Stop, GoOffline or ctx is done. Each tick runs
// in its own goroutine so a slow request never delays the next tick. Ticks
// carry ctx itself, so Stop ends scheduling without cancelling requests in
// flight. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	loop, cancel := context.WithCancel(ctx)
	p.stop = cancel
	p.done = make(chan struct{})
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		go p.Tick(ctx)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-loop.Done():
				return
			case <-t.C:
				go p.Tick(ctx)
			}
		}
	}()
}

// Stop halts scheduling. Ticks already in flight finish on their own.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Tick performs one heartbeat and one assignment check.
func (p *Poller) Tick(ctx context.Context) {
	status := model.DriverAvailable
	if p.Active() != "" {
		status = model.DriverBusy
	}
	if err := p.API.Heartbeat(ctx, p.DriverID, p.Name, status); err != nil {
		logger.L().Warn("driver_heartbeat_failed", "driver_id", p.DriverID, "err", err)
	}
	jobs, err := p.API.JobsFor(ctx, p.DriverID, model.JobInRoute)
	if err != nil {
		logger.L().Warn("driver_poll_failed", "driver_id", p.DriverID, "err", err)
		return
	}
	for _, j := range p.observe(jobs) {
		logger.L().Info("driver_job_assigned", "driver_id", p.DriverID, "job_id", j.ID, "os_id", j.OSID)
		if p.OnAssigned != nil {
			p.OnAssigned(j)
		}
	}
}

// observe records the in-route jobs and returns the ones not seen before.
// The active job is cleared once it leaves the in-route list.
func (p *Poller) observe(jobs []model.DeliveryJob) []model.DeliveryJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	var fresh []model.DeliveryJob
	stillActive := false
	for _, j := range jobs {
		if j.ID == p.active {
			stillActive = true
		}
		if p.seen[j.ID] {
			continue
		}
		p.seen[j.ID] = true
		fresh = append(fresh, j)
	}
	if !stillActive {
		p.active = ""
	}
	if p.active == "" && len(jobs) > 0 {
		p.active = jobs[0].ID
	}
	return fresh
}

// Recover is the one-shot check on startup: if the driver already has a job
// in route it becomes the active job and is returned without firing
// OnAssigned.
func (p *Poller) Recover(ctx context.Context) (model.DeliveryJob, bool, error) {
	jobs, err := p.API.JobsFor(ctx, p.DriverID, model.JobInRoute)
	if err != nil {
		return model.DeliveryJob{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	for _, j := range jobs {
		p.seen[j.ID] = true
	}
	if len(jobs) == 0 {
		return model.DeliveryJob{}, false, nil
	}
	p.active = jobs[0].ID
	return jobs[0], true, nil
}

// Active returns the job id currently shown to the driver, if any.
func (p *Poller) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Finish clears the active job after the driver completes or returns it.
func (p *Poller) Finish(jobID string) {
	p.mu.Lock()
	if p.active == jobID {
		p.active = ""
	}
	p.mu.Unlock()
}

// GoOffline stops polling and sends a final OFFLINE heartbeat.
func (p *Poller) GoOffline(ctx context.Context) error {
	p.Stop()
	return p.API.Heartbeat(ctx, p.DriverID, p.Name, model.DriverOffline)
}
