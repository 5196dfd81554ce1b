package api

import (
	"context"

	"zonedispatch/internal/model"
	"zonedispatch/internal/webhooks"
)

// JobNotifier forwards job transitions to live clients and to webhook
// subscribers.
type JobNotifier struct {
	Broker EventBroker
	Pub    *webhooks.Publisher
}

type jobEventData struct {
	Event model.JobEvent    `json:"event"`
	Job   model.DeliveryJob `json:"job"`
}

func (n *JobNotifier) JobChanged(ctx context.Context, evt model.JobEvent, job model.DeliveryJob) {
	data := jobEventData{Event: evt, Job: job}
	if n.Broker != nil {
		sse := SSEEvent{Type: evt.Type, Data: data}
		n.Broker.Publish(TopicDispatch, sse)
		if evt.DriverID != "" {
			n.Broker.Publish(DriverTopic(evt.DriverID), sse)
		}
	}
	if n.Pub != nil {
		n.Pub.Emit(ctx, evt.ID, evt.Type, data)
	}
}
