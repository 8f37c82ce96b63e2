// Package monitor implements the §4.2 per-printer monitor: a loop that
// polls a driver's get_status on an adaptive interval, publishes the
// result to the bus, and tracks simple health metrics. Grounded on the
// teacher's modules/machines/module.go poll loop (ticker + cancel-signal
// select, consecutive-failure tracking) generalized to the adaptive
// backoff §4.2 specifies instead of a fixed interval.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/clock"
	"github.com/schmacka/printernizer-sub001/driver"
	"github.com/schmacka/printernizer-sub001/model"
)

// Config controls interval/backoff behavior, sourced from config.Config.
type Config struct {
	BaseInterval  time.Duration
	MinInterval   time.Duration
	BackoffFactor float64
	MaxInterval   time.Duration
}

// Metrics is a point-in-time snapshot of one monitor's health counters.
type Metrics struct {
	ConsecutiveFailures int
	TotalFailures       int
	LastDuration        time.Duration
	LastError           string
	LastStatus          model.StatusUpdate
	LastStatusAt        time.Time
}

// Monitor polls one driver on an adaptive interval until Stop is called.
type Monitor struct {
	printerID string
	drv       driver.Driver
	bus       *bus.Bus
	cfg       Config
	clock     clock.Clock

	mu      sync.RWMutex
	metrics Metrics
	current time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Monitor for one printer's driver. It does not start
// polling until Start is called.
func New(printerID string, drv driver.Driver, b *bus.Bus, cfg Config, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real
	}
	return &Monitor{
		printerID: printerID,
		drv:       drv,
		bus:       b,
		cfg:       cfg,
		clock:     clk,
		current:   cfg.BaseInterval,
		done:      make(chan struct{}),
	}
}

// Start launches the polling loop in its own goroutine. Calling Start
// twice on the same Monitor is undefined; callers own exactly one Start.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.loop(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	for {
		// §4.2 cancellation: wait on the cancel signal with a timeout
		// equal to the current interval; the signal always wins.
		timer := m.clock.After(m.current)
		select {
		case <-ctx.Done():
			return
		case <-timer:
		}

		m.poll(ctx)
	}
}

func (m *Monitor) poll(ctx context.Context) {
	start := m.clock.Now()
	status, err := m.drv.GetStatus(ctx)
	duration := m.clock.Since(start)

	m.mu.Lock()
	m.metrics.LastDuration = duration
	if err != nil {
		m.metrics.ConsecutiveFailures++
		m.metrics.TotalFailures++
		m.metrics.LastError = err.Error()
	} else {
		m.metrics.ConsecutiveFailures = 0
		m.metrics.LastError = ""
		m.metrics.LastStatus = status
		m.metrics.LastStatusAt = start
	}
	m.mu.Unlock()

	if err != nil {
		m.backoffAfterFailure()
		slog.Warn("monitor: get_status failed", "printer_id", m.printerID, "error", err, "next_interval", m.current)
		return
	}

	if m.resetToBase() {
		slog.Info("monitoring.backoff.reset", "printer_id", m.printerID, "interval", m.current)
	}

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Type: bus.EventPrinterStatus,
			Payload: map[string]any{
				"printer_id": m.printerID,
				"phase":      string(status.Phase),
				"status":     status,
			},
		})
	}
}

// backoffAfterFailure applies §4.2's next = min(current*factor, max)
// with jitter, via the shared driver.Backoff formula. attempt is
// ConsecutiveFailures itself (1 on the first failure) so the first
// failure already multiplies the base interval by factor^1, matching
// §8's "reaches max in at most 4 failures" boundary for factor=2.
func (m *Monitor) backoffAfterFailure() {
	m.mu.Lock()
	attempt := m.metrics.ConsecutiveFailures
	m.mu.Unlock()

	next := driver.Backoff(m.cfg.BaseInterval, m.cfg.MaxInterval, m.cfg.BackoffFactor, attempt)
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
}

// resetToBase restores the polling interval to base on a successful
// poll, returning true if the interval actually changed (so the caller
// only logs monitoring.backoff.reset when it matters).
func (m *Monitor) resetToBase() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == m.cfg.BaseInterval {
		return false
	}
	m.current = m.cfg.BaseInterval
	return true
}

// LastStatus returns the most recently cached status, used by the fleet
// supervisor's Task 1 instead of re-invoking the driver directly (§4.3
// step 2: "read the cached last status").
func (m *Monitor) LastStatus() (model.StatusUpdate, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics.LastStatus, m.metrics.LastStatusAt
}

func (m *Monitor) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}
