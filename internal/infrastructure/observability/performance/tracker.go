// Package performance provides lightweight operation timing markers for the
// visit agent's flush and resolution paths.
package performance

import (
	"sync"
	"time"
)

// Marker tracks a single operation from start to completion
type Marker struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Completed bool          `json:"completed"`

	tracker *Tracker
}

// Complete marks the operation as finished and records its duration
func (m *Marker) Complete() {
	if m == nil || m.Completed {
		return
	}
	m.Duration = time.Since(m.StartTime)
	m.Completed = true
	if m.tracker != nil {
		m.tracker.record(m)
	}
}

// OperationStats aggregates completed markers for one operation name
type OperationStats struct {
	Operation string        `json:"operation"`
	Count     int           `json:"count"`
	Total     time.Duration `json:"total"`
	Max       time.Duration `json:"max"`
}

// Average returns the mean duration across completed operations
func (s OperationStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Tracker manages performance markers and aggregates per-operation stats
type Tracker struct {
	stats      map[string]*OperationStats
	maxMarkers int
	recent     []*Marker
	mu         sync.Mutex
	started    time.Time
	sequence   uint64
}

// NewTracker creates a new performance tracker
func NewTracker() *Tracker {
	return &Tracker{
		stats:      make(map[string]*OperationStats),
		maxMarkers: 256,
		started:    time.Now().UTC(),
	}
}

// StartOperation begins tracking a named operation and returns its marker
func (t *Tracker) StartOperation(operation string) *Marker {
	t.mu.Lock()
	t.sequence++
	seq := t.sequence
	t.mu.Unlock()

	return &Marker{
		ID:        operation + "-" + time.Now().UTC().Format("150405.000") + "-" + itoa(seq),
		Operation: operation,
		StartTime: time.Now(),
		tracker:   t,
	}
}

func (t *Tracker) record(m *Marker) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, exists := t.stats[m.Operation]
	if !exists {
		stats = &OperationStats{Operation: m.Operation}
		t.stats[m.Operation] = stats
	}
	stats.Count++
	stats.Total += m.Duration
	if m.Duration > stats.Max {
		stats.Max = m.Duration
	}

	t.recent = append(t.recent, m)
	if len(t.recent) > t.maxMarkers {
		t.recent = t.recent[len(t.recent)-t.maxMarkers:]
	}
}

// Stats returns a snapshot of aggregated stats keyed by operation name
func (t *Tracker) Stats() map[string]OperationStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]OperationStats, len(t.stats))
	for name, s := range t.stats {
		out[name] = *s
	}
	return out
}

// Uptime returns how long the tracker has been running
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
