/*
Package ratelimit governs how often a subject may call a mutating operation.

PURPOSE:
  Ledger-mutating calls (purchase, claim, wallet adjustments) are gated by
  a sliding-window counter keyed by (subject, operation). A subject that
  already made Max calls in the last Window is rejected until older calls
  slide out of the window.

ALGORITHM (per key):
  1. Drop timestamps older than now - Window
  2. If remaining count >= Max: reject
  3. Otherwise record now and allow

BACKENDS:
  Memory: process-local map guarded by a mutex. Enforcement is advisory
          per process; multiple instances each keep their own counters.
  Redis:  sorted set per key, evaluated atomically by a Lua script
          (see redis.go). Shared by every instance that uses the same Redis.

MEMORY GROWTH:
  Memory.GC() drops keys whose newest timestamp left the window.
  StartJanitor runs GC periodically until its context is done.

SEE ALSO:
  - lottery/service.go: calls Allow before opening a transaction
*/
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/warp/lottery-engine/clock"
	"go.uber.org/zap"
)

const (
	DefaultMax    = 10
	DefaultWindow = time.Minute
)

type key struct {
	subject string
	op      string
}

// Memory is an in-process sliding-window limiter.
type Memory struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	clock   clock.Clock
	log     *zap.Logger
	records map[key][]time.Time
}

// Option configures a Memory limiter.
type Option func(*Memory)

func WithClock(c clock.Clock) Option  { return func(m *Memory) { m.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(m *Memory) { m.log = l } }

// NewMemory creates a limiter allowing max calls per window for each key.
// Non-positive arguments fall back to DefaultMax / DefaultWindow.
func NewMemory(max int, window time.Duration, opts ...Option) *Memory {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	m := &Memory{
		max:     max,
		window:  window,
		clock:   clock.Real(),
		log:     zap.NewNop(),
		records: make(map[key][]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow records a call for (subject, op) and reports whether it is within the limit.
// The error is always nil; it exists to match the Redis backend.
func (m *Memory) Allow(_ context.Context, subject, op string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	k := key{subject: subject, op: op}
	kept := prune(m.records[k], now.Add(-m.window))

	if len(kept) >= m.max {
		m.records[k] = kept
		return false, nil
	}
	m.records[k] = append(kept, now)
	return true, nil
}

// Remaining returns how many more calls (subject, op) may make right now.
func (m *Memory) Remaining(subject, op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{subject: subject, op: op}
	kept := prune(m.records[k], m.clock.Now().Add(-m.window))
	m.records[k] = kept
	if n := m.max - len(kept); n > 0 {
		return n
	}
	return 0
}

// Clear forgets every recorded call for (subject, op).
func (m *Memory) Clear(_ context.Context, subject, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key{subject: subject, op: op})
	return nil
}

// Reset forgets every key.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[key][]time.Time)
	return nil
}

// GC removes keys with no timestamp inside the window and returns how many were dropped.
func (m *Memory) GC() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-m.window)
	dropped := 0
	for k, ts := range m.records {
		kept := prune(ts, cutoff)
		if len(kept) == 0 {
			delete(m.records, k)
			dropped++
			continue
		}
		m.records[k] = kept
	}
	return dropped
}

// Keys returns the number of tracked keys.
func (m *Memory) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// StartJanitor runs GC every interval until ctx is done.
func (m *Memory) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.GC(); n > 0 {
					m.log.Debug("rate limiter gc", zap.Int("dropped_keys", n))
				}
			}
		}
	}()
}

// prune drops timestamps at or before cutoff. Timestamps are appended in order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
