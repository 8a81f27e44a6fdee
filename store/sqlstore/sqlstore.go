/*
Package sqlstore provides the relational implementation of lottery.TxStore.

PURPOSE:
  Persists accounts, tickets, purchases and prizes in a relational store
  and runs every lottery operation as one database transaction under the
  retry executor. SQLite serves development and tests; MySQL serves
  production. The queries are shared, only locking and DDL differ.

KEY TABLES:
  accounts:  wallet holders, balance as fixed two-decimal money
  tickets:   6-digit unique numbers, status, owner/purchase/prize references
  purchases: immutable purchase records
  prizes:    one row per (draw_no, prize_rank)

FOREIGN KEYS:
  tickets.owner_id    -> accounts.id
  tickets.purchase_id -> purchases.id
  tickets.prize_id    -> prizes.id
  purchases.account_id -> accounts.id

CONCURRENCY:
  MySQL: rows read for update take SELECT ... FOR UPDATE; the account row
         is always locked before ticket rows, tickets in ascending id.
  SQLite: transactions begin IMMEDIATE and the pool holds one connection,
          so writers are fully serialized.

RETRIES:
  Coordinator.ExecuteTx re-runs the whole unit of work on a fresh
  connection and transaction when IsTransient says so. Business errors
  pass straight through on the first attempt.

USAGE:
  store, err := sqlstore.OpenSQLite(":memory:", nil)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := lottery.NewService(store)

MIGRATION:
  Schema is created on Open (CREATE TABLE IF NOT EXISTS). The `migrate`
  command runs the same statements without starting the server.

SEE ALSO:
  - lottery/store.go: the Tx contract implemented in tx.go
  - coordinator.go: transaction and connection lifecycle
  - errors.go: transient fault classification
*/
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/warp/lottery-engine/lottery"
	"github.com/warp/lottery-engine/retry"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Options configure Open.
type Options struct {
	Driver          string // "sqlite3" or "mysql"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration

	Retry    retry.Policy
	Observer retry.Observer
	Logger   *zap.Logger
}

// Store implements lottery.TxStore over sqlx.
type Store struct {
	db      *sqlx.DB
	coord   *Coordinator
	dialect dialect
	log     *zap.Logger
}

// Open connects, configures the pool and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var (
		d   dialect
		dsn string
		err error
	)
	switch opts.Driver {
	case "sqlite3", "sqlite", "":
		d, dsn = sqliteDialect, sqliteDSN(opts.DSN)
		// One writer at a time; ":memory:" also needs a single connection to
		// keep seeing the same database.
		opts.MaxOpenConns = 1
	case "mysql":
		d = mysqlDialect
		if dsn, err = mysqlDSN(opts.DSN); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sqlx.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	execOpts := []retry.Option{
		retry.WithPolicy(policy),
		retry.WithClassifier(IsTransient),
		retry.WithLogger(opts.Logger),
	}
	if opts.Observer != nil {
		execOpts = append(execOpts, retry.WithObserver(opts.Observer))
	}

	s := &Store{
		db:      db,
		coord:   NewCoordinator(db, retry.New(execOpts...), opts.Logger, opts.TxTimeout),
		dialect: d,
		log:     opts.Logger,
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return s, nil
}

// OpenSQLite opens a SQLite store at path. Use ":memory:" for an in-memory database.
func OpenSQLite(path string, log *zap.Logger) (*Store, error) {
	return Open(context.Background(), Options{Driver: "sqlite3", DSN: path, Logger: log})
}

func sqliteDSN(path string) string {
	if path == "" {
		path = ":memory:"
	}
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if !strings.Contains(path, ":memory:") {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// mysqlDSN forces the settings the store relies on: affected-row counts
// include unchanged rows, and statements run one at a time.
func mysqlDSN(raw string) (string, error) {
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ClientFoundRows = true
	cfg.MultiStatements = false
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["transaction_isolation"]; !ok {
		cfg.Params["transaction_isolation"] = "'REPEATABLE-READ'"
	}
	return cfg.FormatDSN(), nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.coord.Execute(ctx, "migrate", func(ctx context.Context, db *sqlx.DB) error {
		for _, stmt := range s.dialect.schema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "exec %q", firstLine(stmt))
			}
		}
		return nil
	})
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.coord.Execute(ctx, "ping", func(ctx context.Context, db *sqlx.DB) error {
		return db.PingContext(ctx)
	})
}

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.dialect.driver }

// WithTx executes fn within a database transaction under the retry executor.
// fn is re-run on a fresh transaction after a transient fault.
func (s *Store) WithTx(ctx context.Context, op string, fn func(ctx context.Context, tx lottery.Tx) error) error {
	return s.coord.ExecuteTx(ctx, op, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &txView{tx: tx, d: s.dialect})
	})
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
