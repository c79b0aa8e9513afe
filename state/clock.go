// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

// Clock supplies the logical tick counter used for every deadline, window and
// TTL in the engine. Ticks are monotonic and advanced by the host environment;
// nothing in this module ever reads wall-clock time.
type Clock interface {
	Now() uint64
}

// ManualClock is a Clock driven explicitly by the test harness or host.
type ManualClock struct {
	tick uint64
}

// NewManualClock returns a ManualClock starting at tick.
func NewManualClock(tick uint64) *ManualClock {
	return &ManualClock{tick: tick}
}

func (c *ManualClock) Now() uint64 {
	return c.tick
}

// Advance moves the clock forward by n ticks.
func (c *ManualClock) Advance(n uint64) {
	c.tick += n
}

// Set jumps the clock to tick. Panics if tick would move backwards.
func (c *ManualClock) Set(tick uint64) {
	if tick < c.tick {
		panic("state: clock cannot move backwards")
	}
	c.tick = tick
}
