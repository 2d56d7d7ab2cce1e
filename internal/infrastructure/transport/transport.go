// Package transport delivers tracking envelopes to the remote collector.
// Normal operation uses an observable request/response transport; teardown
// uses a fire-and-forget best-effort transport that must not block exit.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
)

// Transport is the delivery capability the tracking service selects per
// flush. Implementations must never panic into the caller.
type Transport interface {
	Deliver(ctx context.Context, envelope *visitor.TrackingEnvelope) error
}

// ObservableTransport posts the envelope and reports the outcome. The caller
// logs failures; it does not retry — the next periodic tick or teardown will.
type ObservableTransport struct {
	collectorURL string
	client       *http.Client
	logger       *logging.ChanneledLogger
}

// NewObservableTransport creates the normal-operation transport.
func NewObservableTransport(collectorURL string, timeout time.Duration, logger *logging.ChanneledLogger) *ObservableTransport {
	return &ObservableTransport{
		collectorURL: collectorURL,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Deliver posts the envelope and returns the delivery outcome.
func (t *ObservableTransport) Deliver(ctx context.Context, envelope *visitor.TrackingEnvelope) error {
	start := time.Now()
	err := post(ctx, t.client, t.collectorURL, envelope)
	t.logger.LogDispatch("observable_dispatch", envelope.IsUpdate, time.Since(start), err)
	return err
}

// BestEffortTransport dispatches in a detached goroutine and returns
// immediately. The outcome is unobservable by design; the teardown window
// offers no guarantee a request completes, and that data loss is accepted.
type BestEffortTransport struct {
	collectorURL string
	client       *http.Client
	timeout      time.Duration
	wg           sync.WaitGroup
}

// NewBestEffortTransport creates the teardown transport.
func NewBestEffortTransport(collectorURL string, timeout time.Duration) *BestEffortTransport {
	return &BestEffortTransport{
		collectorURL: collectorURL,
		client:       &http.Client{Timeout: timeout},
		timeout:      timeout,
	}
}

// Deliver fires the dispatch and returns nil without waiting. The envelope
// is serialized before the goroutine starts so the caller may mutate state
// afterward.
func (t *BestEffortTransport) Deliver(_ context.Context, envelope *visitor.TrackingEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		// Nothing downstream can observe this either way.
		return nil
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.collectorURL, bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	return nil
}

// Drain gives in-flight best-effort dispatches a window to finish before the
// process exits. It waits without observing outcomes.
func (t *BestEffortTransport) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func post(ctx context.Context, client *http.Client, url string, envelope *visitor.TrackingEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("collector request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}
