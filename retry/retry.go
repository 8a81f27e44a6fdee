/*
Package retry runs storage calls with bounded exponential-backoff retry.

PURPOSE:
  Every storage call in the engine can hit a transient fault: a dropped
  connection, a lock-wait timeout, a deadlock victim, a full connection
  pool. The Executor retries those faults a bounded number of times and
  lets every other error through on the first attempt.

BACKOFF:
  delay(n) = BaseDelay * 2^(n-1), capped at MaxDelay
  Defaults: 3 attempts, 1s base, 10s cap  ->  waits of 1s, 2s

CLASSIFICATION:
  A Classifier decides whether an error is transient. DefaultClassifier
  knows network and database/sql faults; store packages layer their
  driver-specific codes on top (see store/sqlstore.IsTransient).

ERRORS:
  Every failure comes back as *Error carrying the operation name, the
  attempt count and the root cause. When transient faults use up the
  attempt budget the error also matches ErrExhausted.

USAGE:
  exec := retry.New(retry.WithClassifier(sqlstore.IsTransient))
  err := exec.Do(ctx, "purchase", func(ctx context.Context, attempt int) error {
      return runPurchase(ctx)
  })
  if errors.Is(err, retry.ErrExhausted) {
      // storage unavailable, fatal for this request
  }

SEE ALSO:
  - classify.go: DefaultClassifier
  - store/sqlstore/coordinator.go: transactional wrapper over Do
*/
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/lottery-engine/clock"
	"go.uber.org/zap"
)

// =============================================================================
// POLICY
// =============================================================================

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns 3 attempts with 1s..10s exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Backoff returns the wait before the attempt following attempt n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrExhausted is matched by errors.Is when transient faults used up every attempt.
var ErrExhausted = errors.New("retries exhausted")

// Error is returned by Do for every failed operation.
type Error struct {
	Op        string
	Attempts  int
	Transient bool // true when the last failure was transient (budget exhausted)
	Err       error
}

func (e *Error) Error() string {
	if e.Transient {
		return fmt.Sprintf("%s: gave up after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: failed on attempt %d: %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports ErrExhausted for exhausted transient failures.
func (e *Error) Is(target error) bool {
	return target == ErrExhausted && e.Transient
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Observer receives retry events. metrics.Prometheus implements it.
type Observer interface {
	Retried(op string, attempt int)
	Exhausted(op string)
}

// Executor retries operations according to a Policy and a Classifier.
type Executor struct {
	policy   Policy
	classify Classifier
	clock    clock.Clock
	log      *zap.Logger
	observer Observer
}

// Option configures an Executor.
type Option func(*Executor)

func WithPolicy(p Policy) Option           { return func(e *Executor) { e.policy = p.normalized() } }
func WithClassifier(c Classifier) Option   { return func(e *Executor) { e.classify = c } }
func WithClock(c clock.Clock) Option       { return func(e *Executor) { e.clock = c } }
func WithLogger(l *zap.Logger) Option      { return func(e *Executor) { e.log = l } }
func WithObserver(o Observer) Option       { return func(e *Executor) { e.observer = o } }

// New builds an Executor with DefaultPolicy and DefaultClassifier unless overridden.
func New(opts ...Option) *Executor {
	e := &Executor{
		policy:   DefaultPolicy(),
		classify: DefaultClassifier,
		clock:    clock.Real(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classify == nil {
		e.classify = DefaultClassifier
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget runs out. attempt is 1-based.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	var last error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				e.log.Info("storage call recovered",
					zap.String("op", op), zap.Int("attempt", attempt))
			}
			return nil
		}
		last = err

		if !e.classify(err) {
			return &Error{Op: op, Attempts: attempt, Err: err}
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Backoff(attempt)
		e.log.Warn("transient storage fault, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if e.observer != nil {
			e.observer.Retried(op, attempt)
		}

		select {
		case <-ctx.Done():
			return &Error{Op: op, Attempts: attempt, Err: errors.Join(ctx.Err(), err)}
		case <-e.clock.After(delay):
		}
	}

	e.log.Error("storage retries exhausted",
		zap.String("op", op),
		zap.Int("attempts", e.policy.MaxAttempts),
		zap.Error(last))
	if e.observer != nil {
		e.observer.Exhausted(op)
	}
	return &Error{Op: op, Attempts: e.policy.MaxAttempts, Transient: true, Err: last}
}
