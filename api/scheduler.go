/*
scheduler.go - Periodic draw scheduler

PURPOSE:
  Runs a draw every Interval with the configured pool, mode and rewards,
  acting as a privileged operator account.

DESIGN:
  - Runs a background goroutine with a ticker; the first draw waits one
    full interval
  - A pool too small for a draw is logged and skipped, not retried early
  - The draw itself is one store transaction, so a scheduler stopped
    mid-tick never leaves half a draw behind

USAGE:
  scheduler := NewDrawScheduler(svc, operator, req, 24*time.Hour, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/lottery-engine/lottery"
	"go.uber.org/zap"
)

// Drawer runs one draw. lottery.Service implements it.
type Drawer interface {
	Draw(ctx context.Context, subject lottery.Subject, req lottery.DrawRequest) (lottery.DrawResult, error)
}

// DrawScheduler triggers draws on a fixed interval.
type DrawScheduler struct {
	drawer   Drawer
	operator lottery.Subject
	req      lottery.DrawRequest
	interval time.Duration
	log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDrawScheduler creates a scheduler. It does nothing until Start.
func NewDrawScheduler(drawer Drawer, operator lottery.Subject, req lottery.DrawRequest, interval time.Duration, log *zap.Logger) *DrawScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DrawScheduler{
		drawer:   drawer,
		operator: operator,
		req:      req,
		interval: interval,
		log:      log,
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a no-op.
func (ds *DrawScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		return
	}
	ds.ticker = time.NewTicker(ds.interval)
	ds.stop = make(chan struct{})
	ds.wg.Add(1)
	go ds.run(ds.ticker.C, ds.stop)

	ds.log.Info("draw scheduler started",
		zap.Duration("interval", ds.interval),
		zap.String("pool", string(ds.req.Pool)),
		zap.String("mode", string(ds.req.Mode)))
}

// Stop stops the scheduler and waits for an in-flight draw to finish.
func (ds *DrawScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker == nil {
		return
	}
	ds.ticker.Stop()
	close(ds.stop)
	ds.wg.Wait()
	ds.ticker = nil
	ds.log.Info("draw scheduler stopped")
}

func (ds *DrawScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer ds.wg.Done()
	for {
		select {
		case <-tick:
			ds.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce performs one scheduled draw and reports whether it committed.
func (ds *DrawScheduler) RunOnce(ctx context.Context) bool {
	res, err := ds.drawer.Draw(ctx, ds.operator, ds.req)
	switch {
	case err == nil:
		ds.log.Info("scheduled draw committed",
			zap.Int64("draw_no", res.DrawNo),
			zap.Int("prizes", len(res.Prizes)))
		return true
	case errors.Is(err, lottery.ErrPoolInsufficient):
		ds.log.Info("scheduled draw skipped", zap.Error(err))
	default:
		ds.log.Error("scheduled draw failed", zap.Error(err))
	}
	return false
}
