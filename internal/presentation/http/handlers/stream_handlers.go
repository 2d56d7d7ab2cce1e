package handlers

import (
	"net/http"
	"time"

	"github.com/anasirfan/limi-sub004/internal/infrastructure/messaging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/gorilla/websocket"
)

// StreamHandlers serves the debug websocket live-tail of dispatched
// envelope summaries.
type StreamHandlers struct {
	broadcaster *messaging.EnvelopeBroadcaster
	logger      *logging.ChanneledLogger
	upgrader    websocket.Upgrader
}

// NewStreamHandlers creates stream handlers with injected dependencies
func NewStreamHandlers(broadcaster *messaging.EnvelopeBroadcaster, logger *logging.ChanneledLogger) *StreamHandlers {
	return &StreamHandlers{
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control surface already enforces CORS; the debug stream
			// accepts any origin that got this far.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// StreamEnvelopes handles GET /api/v1/debug/stream. Each dispatched envelope
// summary is pushed to the socket until the client goes away.
func (h *StreamHandlers) StreamEnvelopes(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Stream().Warn("Websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	events := h.broadcaster.AddClient()
	defer h.broadcaster.RemoveClient(events)

	// Reader goroutine only exists to notice the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
