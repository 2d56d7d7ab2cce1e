// Package services provides application-level orchestration services
package services

import (
	"sync"
	"time"

	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
)

// IdleMonitor raises a callback after a continuous quiet period with no
// interaction signals. Debounce semantics: every qualifying event restarts
// the single pending timer. Two states, Active and Idle; the transition to
// Idle fires the callback exactly once per idle period, and any event
// returns to Active silently.
type IdleMonitor struct {
	logger   *logging.ChanneledLogger
	activity chan struct{}
	startMu  sync.Mutex
	running  bool
}

// NewIdleMonitor creates a monitor. Start wires it to a callback.
func NewIdleMonitor(logger *logging.ChanneledLogger) *IdleMonitor {
	return &IdleMonitor{
		logger:   logger,
		activity: make(chan struct{}, 1),
	}
}

// Touch reports an interaction signal. Non-blocking; coalesces bursts.
func (m *IdleMonitor) Touch() {
	select {
	case m.activity <- struct{}{}:
	default:
	}
}

// Start begins watching for idleness and returns a cancel function. Cancel
// removes the timer and guarantees onIdle will not fire after it returns.
// Start on an already-running monitor returns a no-op cancel.
func (m *IdleMonitor) Start(onIdle func(), threshold time.Duration) (cancel func()) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.running {
		m.logger.Tracking().Warn("Idle monitor already running, ignoring second start")
		return func() {}
	}
	m.running = true

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		timer := time.NewTimer(threshold)
		defer timer.Stop()

		idle := false
		for {
			select {
			case <-timer.C:
				if !idle {
					idle = true
					m.logger.Tracking().Debug("Idle threshold reached", "threshold", threshold)
					onIdle()
				}
				// Timer stays unarmed until the next interaction.

			case <-m.activity:
				if idle {
					idle = false
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(threshold)

			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			m.startMu.Lock()
			m.running = false
			m.startMu.Unlock()
		})
	}
}
