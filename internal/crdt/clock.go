package crdt

import (
	"math"
	"sync/atomic"
	"time"
)

// stateStep is the increment used when two reads land in the same millisecond.
const stateStep = 0.001

// StateClock produces machine states: wall-clock milliseconds, made
// strictly increasing across calls.
//
// Thread-safety: StateClock is safe for concurrent use (atomic CAS loop).
type StateClock struct {
	now  func() time.Time
	last atomic.Uint64 // float64 bits
}

// NewStateClock creates a clock reading time.Now.
func NewStateClock() *StateClock {
	return &StateClock{now: time.Now}
}

// NewStateClockWith creates a clock reading now. Used by tests.
func NewStateClockWith(now func() time.Time) *StateClock {
	return &StateClock{now: now}
}

// Now returns the next machine state. Calls are linearizable: each call
// returns a value greater than every previous one.
func (c *StateClock) Now() float64 {
	for {
		prevBits := c.last.Load()
		prev := math.Float64frombits(prevBits)

		next := float64(c.now().UnixMilli())
		if next <= prev {
			next = prev + stateStep
		}
		if c.last.CompareAndSwap(prevBits, math.Float64bits(next)) {
			return next
		}
	}
}
