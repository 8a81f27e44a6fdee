// Package metrics exposes Prometheus collectors for the ledger core.
//
// Prometheus implements lottery.Recorder (operation outcomes, rate-limit
// rejections) and retry.Observer (retries, exhausted budgets).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Prometheus struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
	retries     *prometheus.CounterVec
	exhausted   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "operations_total",
			Help:      "Core operations by name and result code",
		}, []string{"op", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lottery",
			Name:      "operation_duration_ms",
			Help:      "Core operation latency in milliseconds, retries included",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"op"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "rate_limited_total",
			Help:      "Calls rejected by the rate limiter",
		}, []string{"op"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "storage_retries_total",
			Help:      "Storage attempts retried after a transient fault",
		}, []string{"op"}),
		exhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "storage_retries_exhausted_total",
			Help:      "Storage calls that failed after using every attempt",
		}, []string{"op"}),
	}
}

func (p *Prometheus) ObserveOperation(op, code string, elapsed time.Duration) {
	p.operations.WithLabelValues(op, code).Inc()
	p.duration.WithLabelValues(op).Observe(float64(elapsed.Milliseconds()))
}

func (p *Prometheus) RateLimited(op string) {
	p.rateLimited.WithLabelValues(op).Inc()
}

func (p *Prometheus) Retried(op string, _ int) {
	p.retries.WithLabelValues(op).Inc()
}

func (p *Prometheus) Exhausted(op string) {
	p.exhausted.WithLabelValues(op).Inc()
}
