package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
	"zonedispatch/internal/store"
)

// Worker drains due deliveries once per Interval, retrying with exponential
// backoff until MaxAttempts, after which the delivery is failed for good.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
	BatchSize   int

	mu       sync.Mutex
	started  bool
	closed   bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
		BatchSize:   50,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the loop once. It does nothing after Close.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started || w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.ProcessOnce(ctx)
				cancel()
			}
		}
	}()
}

// Close stops the loop and waits for the batch in progress. It is safe to
// call on a worker that was never started.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	started := w.started
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.stop) })
	if started {
		<-w.done
	}
}

// ProcessOnce attempts every due delivery and returns how many it tried.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
	if err != nil {
		logger.L().Warn("webhook_fetch_error", "err", err)
		return 0
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
	return len(items)
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	success := false
	code := 0
	lastErr := ""
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", it.EventType)
		req.Header.Set("X-Delivery-Attempt", strconv.Itoa(it.Attempts+1))
		if it.Secret != "" {
			req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
		}
		var resp *http.Response
		resp, err = w.HTTP.Do(req)
		if err == nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
			success = code >= 200 && code < 300
		}
	}
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		lastErr = err.Error()
	} else if !success {
		lastErr = "http " + strconv.Itoa(code)
	}

	status := "delivered"
	switch {
	case success:
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
	case it.Attempts+1 >= w.MaxAttempts:
		status = "failed"
		err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
		logger.L().Warn("webhook_failed", "delivery_id", it.ID, "url", it.URL, "attempts", it.Attempts+1, "err", lastErr)
	default:
		status = "retry"
		next := time.Now().Add(nextBackoff(it.Attempts))
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
	}
	if err != nil {
		logger.L().Error("webhook_mark_error", "delivery_id", it.ID, "err", err)
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
