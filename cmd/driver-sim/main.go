// Command driver-sim plays one driver against a running API: it polls for
// assignments, listens on the push stream, and delivers each job after a
// delay. Useful for demos and for exercising the dispatcher board.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"zonedispatch/internal/driverapp"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/model"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// deliveries tracks the finish goroutines. Once Wait has begun, Go refuses
// new work, so late assignments from ticks still in flight cannot race it.
type deliveries struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

func (d *deliveries) Go(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
	return true
}

func (d *deliveries) Wait() {
	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
	d.wg.Wait()
}

func main() {
	_ = godotenv.Load()
	var (
		base    = flag.String("api", envOr("DRIVER_SIM_API", "http://localhost:8080"), "API base URL")
		id      = flag.String("driver", envOr("DRIVER_SIM_ID", "d1"), "driver id")
		name    = flag.String("name", envOr("DRIVER_SIM_NAME", "Simulated Driver"), "driver display name")
		token   = flag.String("token", os.Getenv("DRIVER_SIM_TOKEN"), "bearer token (dev mode: driver:<id>)")
		deliver = flag.Duration("deliver-after", 20*time.Second, "time spent on each delivery")
		refuse  = flag.String("refuse", "", "return every job with this reason instead of delivering")
	)
	flag.Parse()
	log := logger.Setup()
	if *token == "" {
		*token = "driver:" + *id
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := driverapp.NewHTTPClient(*base, *token)
	var (
		jobs   deliveries
		poller *driverapp.Poller
	)
	finish := func(j model.DeliveryJob) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(*deliver):
		}
		var err error
		if *refuse != "" {
			_, err = client.ReturnJob(ctx, j.ID, *refuse)
		} else {
			_, err = client.CompleteJob(ctx, j.ID)
		}
		if err != nil {
			log.Warn("sim_finish_failed", "job_id", j.ID, "err", err)
			return
		}
		poller.Finish(j.ID)
		log.Info("sim_job_finished", "job_id", j.ID, "os_id", j.OSID, "returned", *refuse != "")
	}
	spawn := func(j model.DeliveryJob) { jobs.Go(func() { finish(j) }) }
	poller = driverapp.NewPoller(client, *id, *name, func(j model.DeliveryJob) {
		log.Info("sim_job_assigned", "job_id", j.ID, "os_id", j.OSID, "customer", j.CustomerName)
		spawn(j)
	})

	if j, ok, err := poller.Recover(ctx); err != nil {
		log.Warn("sim_recover_failed", "err", err)
	} else if ok {
		log.Info("sim_job_recovered", "job_id", j.ID)
		spawn(j)
	}
	poller.Start(ctx)

	// Push events only trigger an early poll; polling stays authoritative.
	go func() {
		for ctx.Err() == nil {
			err := client.Listen(ctx, *id, func(evt model.JobEvent) {
				log.Debug("sim_push", "job_id", evt.JobID, "to", evt.To)
				poller.Tick(ctx)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Debug("sim_stream_dropped", "err", err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}()

	log.Info("sim_started", "driver_id", *id, "api", *base)
	<-ctx.Done()
	poller.Stop()
	jobs.Wait()

	offCtx, offCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer offCancel()
	if err := poller.GoOffline(offCtx); err != nil {
		log.Warn("sim_offline_failed", "err", err)
	}
	log.Info("sim_stopped", "driver_id", *id)
}
