package lottery

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lottery-engine/clock"
	"go.uber.org/zap"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Limiter gates mutating calls per (subject, operation).
// ratelimit.Memory and ratelimit.Redis implement it.
type Limiter interface {
	// Allow records a call and reports whether it is within the limit.
	// A non-nil error with true means the limiter degraded and let the call through.
	Allow(ctx context.Context, subject, op string) (bool, error)
	Clear(ctx context.Context, subject, op string) error
	Reset(ctx context.Context) error
}

// Recorder receives one event per core operation. metrics.Prometheus implements it.
type Recorder interface {
	ObserveOperation(op string, code string, elapsed time.Duration)
	RateLimited(op string)
}

type nopLimiter struct{}

func (nopLimiter) Allow(context.Context, string, string) (bool, error) { return true, nil }
func (nopLimiter) Clear(context.Context, string, string) error         { return nil }
func (nopLimiter) Reset(context.Context) error                         { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) RateLimited(string)                             {}

// Operation names, used as rate-limit keys, transaction names and metric labels.
const (
	OpDeduct   = "deduct"
	OpAdd      = "add"
	OpSet      = "set"
	OpRead     = "read"
	OpPurchase = "purchase"
	OpClaim    = "claim"
	OpDraw     = "draw"
	OpReset    = "reset"
	OpRegister = "register"
	OpBoot     = "bootstrap"
)

// =============================================================================
// SERVICE
// =============================================================================

// Config holds the ledger rules.
type Config struct {
	Ceiling      decimal.Decimal // max wallet balance
	BatchSize    int             // tickets generated by Reset and Bootstrap
	DefaultPrice decimal.Decimal // price of generated tickets
}

// DefaultConfig returns a 1,000,000 ceiling and 120 tickets at 80.00.
func DefaultConfig() Config {
	return Config{
		Ceiling:      DefaultCeiling,
		BatchSize:    120,
		DefaultPrice: DefaultTicketPrice,
	}
}

// Service is the entry point of the lottery core.
type Service struct {
	store   TxStore
	wallet  *Wallet
	limiter Limiter
	rec     Recorder
	rand    *Rand
	clock   clock.Clock
	log     *zap.Logger
	cfg     Config
}

type Option func(*Service)

func WithLimiter(l Limiter) Option    { return func(s *Service) { s.limiter = l } }
func WithRecorder(r Recorder) Option  { return func(s *Service) { s.rec = r } }
func WithRand(r *Rand) Option         { return func(s *Service) { s.rand = r } }
func WithClock(c clock.Clock) Option  { return func(s *Service) { s.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithConfig(c Config) Option      { return func(s *Service) { s.cfg = c } }

// NewService wires a Service over store.
func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		limiter: nopLimiter{},
		rec:     nopRecorder{},
		clock:   clock.Real(),
		log:     zap.NewNop(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = nopLimiter{}
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.rand == nil {
		s.rand = NewRand()
	}
	if s.cfg.Ceiling.IsZero() {
		s.cfg.Ceiling = DefaultCeiling
	}
	if s.cfg.BatchSize <= 0 {
		s.cfg.BatchSize = DefaultConfig().BatchSize
	}
	if s.cfg.DefaultPrice.IsZero() {
		s.cfg.DefaultPrice = DefaultTicketPrice
	}
	s.wallet = &Wallet{svc: s}
	return s
}

// Wallet returns the wallet ledger sharing this service's store and limiter.
func (s *Service) Wallet() *Wallet { return s.wallet }

// Config returns the active ledger rules.
func (s *Service) Config() Config { return s.cfg }

// allow applies the rate limiter for (subject, op).
func (s *Service) allow(ctx context.Context, subject AccountID, op string) error {
	ok, err := s.limiter.Allow(ctx, string(subject), op)
	if err != nil {
		s.log.Warn("rate limiter degraded", zap.String("op", op), zap.Error(err))
	}
	if ok {
		return nil
	}
	s.rec.RateLimited(op)
	return ruleErr(CodeRateLimited, "too many %s calls for %s, try again later", op, subject)
}

// observe records the outcome of op. Integrity faults are logged at error level.
func (s *Service) observe(op string, start time.Time, err error, fields ...zap.Field) {
	code := CodeOf(err)
	s.rec.ObserveOperation(op, string(code), s.clock.Now().Sub(start))

	fields = append(fields, zap.String("op", op), zap.String("code", string(code)))
	switch {
	case err == nil:
		s.log.Debug("operation committed", fields...)
	case code == CodeIntegrity:
		s.log.Error("integrity fault", append(fields, zap.Error(err))...)
	case IsClientError(err):
		s.log.Info("operation rejected", append(fields, zap.Error(err))...)
	default:
		s.log.Error("operation failed", append(fields, zap.Error(err))...)
	}
}
