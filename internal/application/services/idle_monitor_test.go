package services

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

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

func TestIdleMonitorFiresAfterQuietPeriod(t *testing.T) {
	monitor := NewIdleMonitor(newTestLogger(t))

	var fired atomic.Int32
	cancel := monitor.Start(func() { fired.Add(1) }, 50*time.Millisecond)
	defer cancel()

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// Idle already reached; no second callback without new activity.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestIdleMonitorActivityRestartsTimer(t *testing.T) {
	monitor := NewIdleMonitor(newTestLogger(t))

	var fired atomic.Int32
	cancel := monitor.Start(func() { fired.Add(1) }, 80*time.Millisecond)
	defer cancel()

	// Keep touching at half the threshold; the timer must never expire.
	for i := 0; i < 6; i++ {
		time.Sleep(40 * time.Millisecond)
		monitor.Touch()
	}
	assert.Equal(t, int32(0), fired.Load())

	// Go quiet and the callback fires once.
	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestIdleMonitorFiresAgainAfterReturnToActive(t *testing.T) {
	monitor := NewIdleMonitor(newTestLogger(t))

	var fired atomic.Int32
	cancel := monitor.Start(func() { fired.Add(1) }, 40*time.Millisecond)
	defer cancel()

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)

	monitor.Touch()
	assert.Eventually(t, func() bool { return fired.Load() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestIdleMonitorCancelPreventsCallback(t *testing.T) {
	monitor := NewIdleMonitor(newTestLogger(t))

	var fired atomic.Int32
	cancel := monitor.Start(func() { fired.Add(1) }, 60*time.Millisecond)
	cancel()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Cancel is idempotent, and a cancelled monitor can be restarted.
	cancel()
	restart := monitor.Start(func() { fired.Add(1) }, 30*time.Millisecond)
	defer restart()
	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestIdleMonitorSecondStartIsNoOp(t *testing.T) {
	monitor := NewIdleMonitor(newTestLogger(t))

	var first, second atomic.Int32
	cancel := monitor.Start(func() { first.Add(1) }, 40*time.Millisecond)
	defer cancel()

	noop := monitor.Start(func() { second.Add(1) }, time.Millisecond)
	noop()

	assert.Eventually(t, func() bool { return first.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), second.Load())
}
