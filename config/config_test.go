package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lottery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 120, cfg.Ledger.BatchSize)
	assert.Equal(t, 10, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)

	ceiling, err := cfg.Ledger.CeilingAmount()
	require.NoError(t, err)
	assert.Equal(t, "1000000.00", ceiling.StringFixed(2))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
database:
  driver: mysql
  dsn: "lottery:secret@tcp(db:3306)/lottery"
  tx_timeout: 5s
retry:
  max_attempts: 5
  base_delay: 200ms
ledger:
  ticket_price: "25.50"
draw:
  enabled: true
  interval: 1h
  pool: all
  mode: tail
  rewards: ["10", "9", "8", "7", "6"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Database.TxTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay, "unset keys keep defaults")
	assert.Equal(t, "tail", cfg.Draw.Mode)

	price, err := cfg.Ledger.TicketPriceAmount()
	require.NoError(t, err)
	assert.Equal(t, "25.50", price.StringFixed(2))

	rewards, err := cfg.Draw.RewardAmounts()
	require.NoError(t, err)
	require.Len(t, rewards, 5)
	assert.Equal(t, "10.00", rewards[0].StringFixed(2))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LOG_LEVEL":             "warn",
		"LOTTERY_LOG_LEVEL":     "debug",
		"LOTTERY_DB_DSN":        "/tmp/x.db",
		"LOTTERY_RATELIMIT_MAX": "3",
		"LOTTERY_OPS_ADDR":      ":7000",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Defaults()
	require.NoError(t, applyEnv(&cfg, lookup))

	assert.Equal(t, "debug", cfg.Log.Level, "LOTTERY_LOG_LEVEL wins over LOG_LEVEL")
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.RateLimit.Max)
	assert.Equal(t, ":7000", cfg.Ops.Addr)

	env["LOTTERY_BATCH_SIZE"] = "many"
	assert.Error(t, applyEnv(&cfg, lookup))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"mysql without dsn", func(c *Config) { c.Database.Driver = "mysql"; c.Database.DSN = "" }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"three decimals", func(c *Config) { c.Ledger.TicketPrice = "1.005" }},
		{"negative ceiling", func(c *Config) { c.Ledger.Ceiling = "-1" }},
		{"empty batch", func(c *Config) { c.Ledger.BatchSize = 0 }},
		{"redis without addr", func(c *Config) { c.RateLimit.Backend = "redis" }},
		{"four rewards", func(c *Config) { c.Draw.Enabled = true; c.Draw.Rewards = []string{"1", "2", "3", "4"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
