// Package webhooks fans dispatch events out to subscribed HTTP endpoints
// through a persistent delivery queue.
package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"zonedispatch/internal/logger"
	"zonedispatch/internal/store"
)

// Envelope is the body POSTed to subscribers.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TS   string `json:"ts"`
	Data any    `json:"data"`
}

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues one delivery per subscription to eventType. eventID doubles
// as the dedup key; pass "" to get a fresh one.
func (p *Publisher) Emit(ctx context.Context, eventID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		logger.L().Warn("webhook_subscriptions_error", "event_type", eventType, "err", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	if eventID == "" {
		eventID = "evt_" + uuid.New().String()
	}
	body, err := json.Marshal(Envelope{ID: eventID, Type: eventType, TS: time.Now().UTC().Format(time.RFC3339), Data: data})
	if err != nil {
		logger.L().Error("webhook_encode_error", "event_type", eventType, "err", err)
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			logger.L().Warn("webhook_enqueue_error", "subscription_id", s.ID, "err", err)
		}
	}
}
