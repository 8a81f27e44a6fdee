package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/warp/lottery-engine/config"
	"github.com/warp/lottery-engine/logging"
	"github.com/warp/lottery-engine/lottery"
	"github.com/warp/lottery-engine/metrics"
	"github.com/warp/lottery-engine/ratelimit"
	"github.com/warp/lottery-engine/retry"
	"github.com/warp/lottery-engine/store/sqlstore"
	"go.uber.org/zap"
)

// app holds every wired component of one process.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	store    *sqlstore.Store
	limiter  lottery.Limiter
	memory   *ratelimit.Memory // set for the memory backend, for its janitor
	redis    *redis.Client
	svc      *lottery.Service
}

// newApp loads configuration and wires logger, metrics, store, limiter and service.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	a.store, err = sqlstore.Open(ctx, sqlstore.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		TxTimeout:       cfg.Database.TxTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Observer: m,
		Logger:   log.Named("store"),
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	switch cfg.RateLimit.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		a.limiter = ratelimit.NewRedis(a.redis, cfg.RateLimit.Redis.Prefix,
			cfg.RateLimit.Max, cfg.RateLimit.Window, log.Named("ratelimit"))
	case "memory":
		a.memory = ratelimit.NewMemory(cfg.RateLimit.Max, cfg.RateLimit.Window,
			ratelimit.WithLogger(log.Named("ratelimit")))
		a.limiter = a.memory
	}

	ceiling, _ := cfg.Ledger.CeilingAmount()
	price, _ := cfg.Ledger.TicketPriceAmount()
	a.svc = lottery.NewService(a.store,
		lottery.WithConfig(lottery.Config{
			Ceiling:      ceiling,
			BatchSize:    cfg.Ledger.BatchSize,
			DefaultPrice: price,
		}),
		lottery.WithLimiter(a.limiter),
		lottery.WithRecorder(m),
		lottery.WithLogger(log.Named("lottery")),
	)
	return a, nil
}

// operator is the privileged subject administrative commands act as.
func (a *app) operator() lottery.Subject {
	id := a.cfg.Draw.Operator
	if id == "" {
		id = a.cfg.Bootstrap.Owner
	}
	return lottery.Subject{AccountID: lottery.AccountID(id), Role: lottery.RoleOwner}
}

// bootstrap creates the configured owner/admin accounts and the first batch.
func (a *app) bootstrap(ctx context.Context) (int, error) {
	admins := make([]lottery.AccountID, len(a.cfg.Bootstrap.Admins))
	for i, id := range a.cfg.Bootstrap.Admins {
		admins[i] = lottery.AccountID(id)
	}
	return a.svc.Bootstrap(ctx, lottery.AccountID(a.cfg.Bootstrap.Owner), admins...)
}

// drawRequest builds the configured draw, with pool/mode overrides when non-empty.
func (a *app) drawRequest(pool, mode string) (lottery.DrawRequest, error) {
	rewards, err := a.cfg.Draw.RewardAmounts()
	if err != nil {
		return lottery.DrawRequest{}, err
	}
	if pool == "" {
		pool = a.cfg.Draw.Pool
	}
	if mode == "" {
		mode = a.cfg.Draw.Mode
	}
	return lottery.DrawRequest{
		Pool:    lottery.Pool(pool),
		Mode:    lottery.DrawMode(mode),
		Rewards: rewards,
	}, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("close redis", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	a.log.Sync()
}
