package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/shelfdapp/shelfd/internal/event"
)

// EventSource is a live engine-event subscription.
type EventSource interface {
	Subscribe() (<-chan event.Event, func())
}

// EventStreamHandler pushes engine events to websocket clients as JSON
// messages, one event per message.
type EventStreamHandler struct {
	l   *slog.Logger
	src EventSource
}

func NewEventStreamHandler(l *slog.Logger, src EventSource) *EventStreamHandler {
	return &EventStreamHandler{l: l, src: src}
}

func (h *EventStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.l.Error("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "stream aborted") }()

	ch, cancel := h.src.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			return
		case e, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				h.l.Error("failed to encode event", "event_type", e.Type, "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				h.l.Debug("event stream write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}
