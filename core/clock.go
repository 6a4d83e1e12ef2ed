package core

import (
	"errors"
	"sync"
)

// ErrClockRewind is returned when a clock is moved to an earlier height.
var ErrClockRewind = errors.New("clock: block height must not decrease")

// ManualClock is a block height source advanced explicitly by the caller.
// The simulator and tests drive the sale with it.
type ManualClock struct {
	mu     sync.RWMutex
	height uint64
}

// NewManualClock returns a clock positioned at height.
func NewManualClock(height uint64) *ManualClock {
	return &ManualClock{height: height}
}

// CurrentBlock implements rico.Clock.
func (c *ManualClock) CurrentBlock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// Advance moves the clock forward by n blocks and returns the new height.
func (c *ManualClock) Advance(n uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.height + n
	if next < c.height {
		return c.height, ErrClockRewind
	}
	c.height = next
	return next, nil
}

// Set moves the clock to height, which must not be below the current one.
func (c *ManualClock) Set(height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height < c.height {
		return ErrClockRewind
	}
	c.height = height
	return nil
}
