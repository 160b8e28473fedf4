package testutil

import "sync"

// ManualClock is a machine-state clock that only moves when told to.
//
// Pass its Now method to store.WithStateClock so merges see a known
// machine state.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu    sync.Mutex
	state float64
}

// NewManualClock creates a clock reading start.
func NewManualClock(start float64) *ManualClock {
	return &ManualClock{state: start}
}

// Now returns the current state without advancing.
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Advance moves the clock forward by d and returns the new state.
func (c *ManualClock) Advance(d float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state += d
	return c.state
}

// Set moves the clock to state, forwards or backwards.
func (c *ManualClock) Set(state float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}
