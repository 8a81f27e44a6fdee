/*
Package clock abstracts time for code that waits or keeps time windows.

PURPOSE:
  The retry executor sleeps between attempts and the rate limiter keeps
  rolling windows of timestamps. Both take a Clock so tests can control
  time instead of sleeping for real.

IMPLEMENTATIONS:
  Real(): wall clock, time.After under the hood
  NewFake(t): manual clock; After() advances the fake time immediately
              and records every requested wait

USAGE:
  exec := retry.New(retry.WithClock(clock.Real()))

  fake := clock.NewFake(time.Unix(0, 0))
  limiter := ratelimit.NewMemory(10, time.Minute, ratelimit.WithClock(fake))
  fake.Advance(61 * time.Second)
*/
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by this module.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually driven clock. It is safe for concurrent use.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewFake returns a fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After advances the fake time by d and returns an already-fired channel.
// Every requested duration is recorded and can be read back with Waits.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waits = append(f.waits, d)
	if d > 0 {
		f.now = f.now.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Waits returns the durations passed to After, in call order.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}
