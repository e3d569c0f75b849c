package governance

import "time"

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock is injected so that days-pending calculations and auto-transition
// scheduling are deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
