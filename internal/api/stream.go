package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"zonedispatch/internal/logger"
	"zonedispatch/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	sseKeepalive = 15 * time.Second
)

// streamFrame is what a driver receives over the WebSocket stream.
type streamFrame struct {
	Type  string             `json:"type"`
	Event *model.JobEvent    `json:"event,omitempty"`
	Job   *model.DeliveryJob `json:"job,omitempty"`
	TS    time.Time          `json:"ts"`
}

// jobData recovers the typed payload of a broker event. Events that crossed
// Redis arrive as generic JSON, so both paths go through a re-encode.
func jobData(evt SSEEvent) (jobEventData, bool) {
	if d, ok := evt.Data.(jobEventData); ok {
		return d, true
	}
	b, err := json.Marshal(evt.Data)
	if err != nil {
		return jobEventData{}, false
	}
	var d jobEventData
	if err := json.Unmarshal(b, &d); err != nil || d.Event.JobID == "" {
		return jobEventData{}, false
	}
	return d, true
}

// DriverStreamHandler pushes the driver's job events over a WebSocket. It
// complements polling: clients that lose the socket keep polling and miss
// nothing.
func (s *Server) DriverStreamHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !selfOrOperator(w, r, id) {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	topic := DriverTopic(id)
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)
	logger.L().Info("driver_stream_open", "driver_id", id)
	defer logger.L().Info("driver_stream_closed", "driver_id", id)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })

	// The read loop only services control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(streamFrame{Type: "hello", TS: time.Now().UTC()}); err != nil {
		return
	}
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			d, ok := jobData(evt)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(streamFrame{Type: "job", Event: &d.Event, Job: &d.Job, TS: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

// DispatchEventsHandler streams every job transition to dispatcher screens
// as server-sent events.
func (s *Server) DispatchEventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(TopicDispatch)
	defer s.Broker.Unsubscribe(TopicDispatch, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
