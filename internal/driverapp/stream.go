package driverapp

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"zonedispatch/internal/model"
)

// StreamMessage is one frame of the driver stream.
type StreamMessage struct {
	Type  string          `json:"type"`
	Event *model.JobEvent `json:"event,omitempty"`
}

// Listen connects to the driver's push stream and calls fn for every job
// event until ctx is done or the connection drops. It complements polling;
// the poller stays the source of truth.
func (c *HTTPClient) Listen(ctx context.Context, driverID string, fn func(model.JobEvent)) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/drivers/" + url.PathEscape(driverID) + "/stream"
	hdr := http.Header{}
	if c.Token != "" {
		hdr.Set("Authorization", "Bearer "+c.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var m StreamMessage
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if m.Type == "job" && m.Event != nil {
			fn(*m.Event)
		}
	}
}
