/*
Package config loads the engine configuration.

SOURCES (later wins):
  1. Defaults()                     - values that run a local SQLite engine
  2. YAML file (config.Load(path))  - optional; "" skips the file
  3. Environment overrides          - LOTTERY_* variables, see applyEnv

EXAMPLE (lottery.yaml):
  database:
    driver: mysql
    dsn: "lottery:secret@tcp(127.0.0.1:3306)/lottery"
    tx_timeout: 30s
  retry:
    max_attempts: 3
    base_delay: 1s
    max_delay: 10s
  ledger:
    ceiling: "1000000.00"
    ticket_price: "80.00"
    batch_size: 120
  ratelimit:
    backend: redis
    max: 10
    window: 1m
    redis:
      addr: "127.0.0.1:6379"
  draw:
    enabled: true
    interval: 24h
    pool: sold
    mode: exclusive
    rewards: ["5000", "1000", "500", "100", "50"]
  log:
    level: info
    file: ./logs/lottery.log
  ops:
    addr: ":9090"
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  Database  `yaml:"database"`
	Retry     Retry     `yaml:"retry"`
	Ledger    Ledger    `yaml:"ledger"`
	RateLimit RateLimit `yaml:"ratelimit"`
	Draw      Draw      `yaml:"draw"`
	Bootstrap Bootstrap `yaml:"bootstrap"`
	Log       Log       `yaml:"log"`
	Ops       Ops       `yaml:"ops"`
}

type Database struct {
	Driver          string        `yaml:"driver"` // sqlite3 | mysql
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Ledger amounts are decimal strings so YAML never rounds them through float64.
type Ledger struct {
	Ceiling     string `yaml:"ceiling"`
	TicketPrice string `yaml:"ticket_price"`
	BatchSize   int    `yaml:"batch_size"`
}

type RateLimit struct {
	Backend    string        `yaml:"backend"` // memory | redis | off
	Max        int           `yaml:"max"`
	Window     time.Duration `yaml:"window"`
	GCInterval time.Duration `yaml:"gc_interval"`
	Redis      Redis         `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Draw struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Pool     string        `yaml:"pool"`
	Mode     string        `yaml:"mode"`
	Rewards  []string      `yaml:"rewards"`
	Operator string        `yaml:"operator"` // privileged account the scheduler acts as
}

type Bootstrap struct {
	Owner  string   `yaml:"owner"`
	Admins []string `yaml:"admins"`
}

type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Ops struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Defaults returns a configuration for a local SQLite engine.
func Defaults() Config {
	return Config{
		Database: Database{
			Driver:    "sqlite3",
			DSN:       "lottery.db",
			TxTimeout: 30 * time.Second,
		},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		Ledger: Ledger{
			Ceiling:     "1000000.00",
			TicketPrice: "80.00",
			BatchSize:   120,
		},
		RateLimit: RateLimit{
			Backend:    "memory",
			Max:        10,
			Window:     time.Minute,
			GCInterval: 5 * time.Minute,
			Redis:      Redis{Prefix: "lottery:ratelimit"},
		},
		Draw: Draw{
			Interval: 24 * time.Hour,
			Pool:     "sold",
			Mode:     "exclusive",
			Rewards:  []string{"5000.00", "1000.00", "500.00", "100.00", "50.00"},
			Operator: "owner",
		},
		Bootstrap: Bootstrap{Owner: "owner"},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Ops: Ops{Addr: ":9090"},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays LOTTERY_* variables. LOG_LEVEL is honoured when
// LOTTERY_LOG_LEVEL is unset.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOTTERY_LOG_LEVEL", &cfg.Log.Level)
	str("LOTTERY_LOG_FILE", &cfg.Log.File)
	str("LOTTERY_DB_DRIVER", &cfg.Database.Driver)
	str("LOTTERY_DB_DSN", &cfg.Database.DSN)
	str("LOTTERY_RATELIMIT_BACKEND", &cfg.RateLimit.Backend)
	str("LOTTERY_REDIS_ADDR", &cfg.RateLimit.Redis.Addr)
	str("LOTTERY_REDIS_PASSWORD", &cfg.RateLimit.Redis.Password)
	str("LOTTERY_OPS_ADDR", &cfg.Ops.Addr)
	str("LOTTERY_OWNER", &cfg.Bootstrap.Owner)

	if err := num("LOTTERY_RATELIMIT_MAX", &cfg.RateLimit.Max); err != nil {
		return err
	}
	return num("LOTTERY_BATCH_SIZE", &cfg.Ledger.BatchSize)
}

// Validate checks values the engine cannot start without.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	if c.Database.Driver == "mysql" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: required for mysql")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts: must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	if _, err := c.Ledger.CeilingAmount(); err != nil {
		return err
	}
	if _, err := c.Ledger.TicketPriceAmount(); err != nil {
		return err
	}
	if c.Ledger.BatchSize < 1 || c.Ledger.BatchSize > 1_000_000 {
		return fmt.Errorf("ledger.batch_size: must be in 1..1000000, got %d", c.Ledger.BatchSize)
	}
	switch c.RateLimit.Backend {
	case "memory", "off":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			return fmt.Errorf("ratelimit.redis.addr: required for the redis backend")
		}
	default:
		return fmt.Errorf("ratelimit.backend: unsupported %q", c.RateLimit.Backend)
	}
	if c.Draw.Enabled {
		if c.Draw.Interval <= 0 {
			return fmt.Errorf("draw.interval: must be positive")
		}
		if _, err := c.Draw.RewardAmounts(); err != nil {
			return err
		}
	}
	return nil
}

// CeilingAmount parses ledger.ceiling.
func (l Ledger) CeilingAmount() (decimal.Decimal, error) {
	return positive("ledger.ceiling", l.Ceiling)
}

// TicketPriceAmount parses ledger.ticket_price.
func (l Ledger) TicketPriceAmount() (decimal.Decimal, error) {
	return positive("ledger.ticket_price", l.TicketPrice)
}

// RewardAmounts parses draw.rewards; exactly five are required.
func (d Draw) RewardAmounts() ([]decimal.Decimal, error) {
	if len(d.Rewards) != 5 {
		return nil, fmt.Errorf("draw.rewards: need exactly 5 amounts, got %d", len(d.Rewards))
	}
	out := make([]decimal.Decimal, len(d.Rewards))
	for i, r := range d.Rewards {
		v, err := positive(fmt.Sprintf("draw.rewards[%d]", i), r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func positive(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a decimal", field, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: must be positive, got %s", field, s)
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, fmt.Errorf("%s: at most two decimals, got %s", field, s)
	}
	return d, nil
}
