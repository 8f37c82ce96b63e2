package bambu

import (
	"sync"
	"time"
)

// connState implements the explicit state machine called for in §9:
// disconnected -> connecting -> connected -> disconnecting -> disconnected,
// plus reconnecting on an unexpected drop. should_reconnect and
// last_reconnect_attempt_at are the only extra state needed to prevent
// reconnect storms (§5's MQTT reconnect cooldown).
type connState struct {
	mu sync.Mutex

	phase           phase
	shouldReconnect bool
	lastAttemptAt   time.Time
	cooldown        time.Duration
}

type phase int

const (
	phaseDisconnected phase = iota
	phaseConnecting
	phaseConnected
	phaseDisconnecting
	phaseReconnecting
)

func newConnState(cooldown time.Duration) *connState {
	return &connState{phase: phaseDisconnected, cooldown: cooldown}
}

func (c *connState) beginConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phaseConnecting
	c.shouldReconnect = true
	c.lastAttemptAt = time.Now()
}

func (c *connState) connected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phaseConnected
}

// beginDisconnect suppresses auto-reconnect before any transport is
// closed, per §5's shutdown ordering requirement.
func (c *connState) beginDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldReconnect = false
	c.phase = phaseDisconnecting
}

func (c *connState) disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phaseDisconnected
}

func (c *connState) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseConnected
}

func (c *connState) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseDisconnected
}

// shouldAttemptReconnect reports whether a reconnect attempt should
// proceed now, honoring both the shouldReconnect flag and the cooldown
// window since the last attempt (prevents storms when a broker flaps,
// S4 seed scenario).
func (c *connState) shouldAttemptReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shouldReconnect {
		return false
	}
	if time.Since(c.lastAttemptAt) < c.cooldown {
		return false
	}
	c.phase = phaseReconnecting
	c.lastAttemptAt = time.Now()
	return true
}
