package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	cfg := logging.DefaultLoggerConfig()
	cfg.DefaultLevel = slog.LevelError
	logger, err := logging.NewChanneledLogger(cfg)
	require.NoError(t, err)
	return logger
}

func sampleEnvelope(isUpdate bool) *visitor.TrackingEnvelope {
	method := "POST"
	if isUpdate {
		method = "PATCH"
	}
	return &visitor.TrackingEnvelope{
		SessionID:       "01J0000000000000000000TEST",
		UserAgent:       "Mozilla/5.0",
		SessionDuration: 42,
		PagesVisited:    []string{"home"},
		Consent:         true,
		IsUpdate:        isUpdate,
		Browser:         "chrome",
		Device:          "desktop",
		Method:          method,
	}
}

func TestObservableTransportPostsEnvelope(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		json.Unmarshal(body, &received)
		mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tr := NewObservableTransport(server.URL, 2*time.Second, newTestLogger(t))
	err := tr.Deliver(context.Background(), sampleEnvelope(true))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "01J0000000000000000000TEST", received["sessionId"])
	assert.Equal(t, "PATCH", received["_method"])
	assert.Equal(t, true, received["isUpdate"])
}

func TestObservableTransportReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	tr := NewObservableTransport(server.URL, 2*time.Second, newTestLogger(t))
	err := tr.Deliver(context.Background(), sampleEnvelope(false))
	assert.Error(t, err)
}

func TestObservableTransportReportsConnectionFailure(t *testing.T) {
	tr := NewObservableTransport("http://127.0.0.1:1", time.Second, newTestLogger(t))
	err := tr.Deliver(context.Background(), sampleEnvelope(false))
	assert.Error(t, err)
}

func TestBestEffortTransportNeverReportsFailure(t *testing.T) {
	tr := NewBestEffortTransport("http://127.0.0.1:1", time.Second)
	err := tr.Deliver(context.Background(), sampleEnvelope(false))
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tr.Drain(ctx)
}

func TestBestEffortTransportDeliversInBackground(t *testing.T) {
	bodies := make(chan []byte, 1)
	blocked := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewBestEffortTransport(server.URL, 5*time.Second)

	// Deliver returns before the collector responds.
	start := time.Now()
	err := tr.Deliver(context.Background(), sampleEnvelope(false))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tr.Drain(ctx)

	select {
	case body := <-bodies:
		var received map[string]any
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, "01J0000000000000000000TEST", received["sessionId"])
		assert.Equal(t, "POST", received["_method"])
	default:
		t.Fatal("dispatch never reached the collector")
	}
}

func TestBestEffortDrainHonorsDeadline(t *testing.T) {
	stuck := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer stuck.Close()

	tr := NewBestEffortTransport(stuck.URL, 300*time.Millisecond)
	require.NoError(t, tr.Deliver(context.Background(), sampleEnvelope(false)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	tr.Drain(ctx)
	assert.Less(t, time.Since(start), time.Second)
}
