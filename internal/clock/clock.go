// ABOUTME: Server time source anchored to a single wall-clock reference
// ABOUTME: All sync timestamps and position math derive from one Clock
package clock

import "time"

// Clock is the single time source for playback math and sync messages.
// Using one source keeps effective-position computation and the serverTime
// field of sync payloads on the same reference frame.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by the process wall clock. time.Time carries a
// monotonic reading, so Sub() between two Now() values is immune to NTP steps.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fake is a manually advanced Clock for tests.
type Fake struct {
	Current time.Time
}

func NewFake() *Fake {
	return &Fake{Current: time.Unix(1_700_000_000, 0)}
}

func (f *Fake) Now() time.Time { return f.Current }

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) { f.Current = f.Current.Add(d) }
