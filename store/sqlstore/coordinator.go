package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/warp/lottery-engine/retry"
	"go.uber.org/zap"
)

// DefaultTxTimeout bounds one transaction attempt once it has started.
const DefaultTxTimeout = 30 * time.Second

// Coordinator runs units of work against a database under the retry executor.
//
// Every attempt of ExecuteTx owns exactly one connection from acquisition to
// release, and exactly one transaction on it. Nothing is shared between
// attempts or between concurrent operations.
type Coordinator struct {
	db        *sqlx.DB
	exec      *retry.Executor
	log       *zap.Logger
	txTimeout time.Duration
}

// NewCoordinator wires a Coordinator. A nil executor gets retry defaults with
// IsTransient as classifier.
func NewCoordinator(db *sqlx.DB, exec *retry.Executor, log *zap.Logger, txTimeout time.Duration) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if exec == nil {
		exec = retry.New(retry.WithClassifier(IsTransient), retry.WithLogger(log))
	}
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	return &Coordinator{db: db, exec: exec, log: log, txTimeout: txTimeout}
}

// Execute runs a non-transactional call with retry.
func (c *Coordinator) Execute(ctx context.Context, op string, fn func(ctx context.Context, db *sqlx.DB) error) error {
	return c.exec.Do(ctx, op, func(ctx context.Context, _ int) error {
		return fn(ctx, c.db)
	})
}

// ExecuteTx runs fn inside a transaction, retrying the whole attempt on
// transient faults. fn is called once per attempt with a fresh transaction.
//
// The caller's context bounds connection acquisition and the waits between
// attempts. Once a transaction has begun it runs on a context detached from
// the caller's cancellation and bounded by the transaction timeout, so it
// commits or rolls back as a whole.
func (c *Coordinator) ExecuteTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	return c.exec.Do(ctx, op, func(ctx context.Context, attempt int) error {
		return c.attempt(ctx, op, attempt, fn)
	})
}

func (c *Coordinator) attempt(ctx context.Context, op string, attempt int, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	conn, err := c.db.Connx(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire connection")
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			c.log.Warn("release connection failed", zap.String("op", op), zap.Error(cerr))
		}
	}()

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.txTimeout)
	defer cancel()

	tx, err := conn.BeginTxx(txCtx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		cause := err
		p := recover()
		if p != nil {
			cause = fmt.Errorf("panic: %v", p)
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			c.log.Error("rollback failed",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.NamedError("cause", cause),
				zap.Error(rerr))
		}
		if p != nil {
			panic(p)
		}
	}()

	if err = fn(txCtx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	committed = true
	return nil
}
