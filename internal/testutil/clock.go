package testutil

import (
	"sync"
	"time"
)

// StepClock is a deterministic wall clock for tests.
//
// Each call to Now returns the start time advanced by one more step, so
// timestamps recorded by a test are predictable and strictly increasing.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	ticks int64
}

// NewStepClock creates a clock whose first Now call returns start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start, step: step}
}

// Now returns the next timestamp.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now was called.
func (c *StepClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock. After Reset, Now returns start again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
