// Package messaging fans dispatched-envelope summaries out to debug
// live-tail subscribers.
package messaging

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
)

// EnvelopeEvent is the summary pushed to live-tail subscribers after each
// dispatch. It carries no location fields; the stream is for watching flush
// behavior, not for re-reading visitor data.
type EnvelopeEvent struct {
	SessionID    string    `json:"sessionId"`
	IsUpdate     bool      `json:"isUpdate"`
	IsTeardown   bool      `json:"isTeardown"`
	Duration     int       `json:"sessionDuration"`
	PagesVisited int       `json:"pagesVisited"`
	DispatchedAt time.Time `json:"dispatchedAt"`
}

// EnvelopeBroadcaster manages live-tail subscriber channels. Slow
// subscribers drop events rather than block the flush path.
type EnvelopeBroadcaster struct {
	clients map[chan string]bool
	mu      sync.Mutex
	logger  *logging.ChanneledLogger
}

// NewEnvelopeBroadcaster creates a broadcaster with no subscribers.
func NewEnvelopeBroadcaster(logger *logging.ChanneledLogger) *EnvelopeBroadcaster {
	return &EnvelopeBroadcaster{
		clients: make(map[chan string]bool),
		logger:  logger,
	}
}

// AddClient registers a new live-tail subscriber.
func (b *EnvelopeBroadcaster) AddClient() chan string {
	ch := make(chan string, 10)

	b.mu.Lock()
	b.clients[ch] = true
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Stream().Debug("Live-tail client registered", "clients", count)
	return ch
}

// RemoveClient unregisters a subscriber and closes its channel.
func (b *EnvelopeBroadcaster) RemoveClient(ch chan string) {
	b.mu.Lock()
	if b.clients[ch] {
		delete(b.clients, ch)
		close(ch)
	}
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Stream().Debug("Live-tail client unregistered", "clients", count)
}

// ClientCount returns the number of active subscribers.
func (b *EnvelopeBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish pushes a dispatched-envelope summary to every subscriber.
func (b *EnvelopeBroadcaster) Publish(envelope *visitor.TrackingEnvelope, isTeardown bool) {
	event := EnvelopeEvent{
		SessionID:    envelope.SessionID,
		IsUpdate:     envelope.IsUpdate,
		IsTeardown:   isTeardown,
		Duration:     envelope.SessionDuration,
		PagesVisited: len(envelope.PagesVisited),
		DispatchedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- string(payload):
		default:
			// Subscriber is not keeping up; drop rather than block a flush.
		}
	}
}
