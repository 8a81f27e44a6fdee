/*
store.go - Transactional storage contract for the lottery core

PURPOSE:
  The core never talks to a database directly. Every operation runs inside
  TxStore.WithTx and uses the Tx handed to it. Implementations guarantee
  that fn either commits as a whole or leaves no trace.

LOCKING:
  Lock* methods take an exclusive row lock held until the transaction ends
  (SELECT ... FOR UPDATE on MySQL, a write transaction on SQLite, the store
  mutex in memory). Callers always lock the account first, then tickets in
  ascending id order; that single order rules out lock cycles.

RETRIES:
  Implementations backed by a network store retry transient faults by
  re-running fn on a fresh transaction (see store/sqlstore.Coordinator).
  fn must therefore not keep state across attempts.

ERRORS:
  Missing rows are reported with the sentinels of errors.go
  (ErrAccountNotFound, ErrTicketNotFound, ErrPrizeNotFound), duplicate
  accounts with ErrAccountExists.

IMPLEMENTATIONS:
  - lottery/store/memory.go: in-memory, snapshot/rollback
  - store/sqlstore: sqlx over SQLite and MySQL
*/
package lottery

import (
	"context"

	"github.com/shopspring/decimal"
)

// TxStore runs functions inside a storage transaction.
type TxStore interface {
	// WithTx executes fn within a transaction named op.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside one transaction.
type Tx interface {
	AccountTx
	TicketTx
	PrizeTx

	// InsertPurchase writes an immutable purchase record.
	InsertPurchase(ctx context.Context, p Purchase) error

	// ResetAll deletes tickets, purchases, prizes and non-privileged accounts.
	ResetAll(ctx context.Context) (ResetCounts, error)
}

type AccountTx interface {
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// LockAccount reads the account under an exclusive row lock.
	LockAccount(ctx context.Context, id AccountID) (Account, error)

	InsertAccount(ctx context.Context, a Account) error
	UpdateBalance(ctx context.Context, id AccountID, balance decimal.Decimal) error
	ListPrivileged(ctx context.Context) ([]Account, error)
}

type TicketTx interface {
	// LockAvailableTickets locks the requested tickets that are still
	// available, ordered by id. Unavailable or unknown ids are omitted.
	LockAvailableTickets(ctx context.Context, ids []TicketID) ([]Ticket, error)

	LockTicketByNumber(ctx context.Context, number string) (Ticket, error)

	// LockPool locks the draw candidates of pool, ordered by id.
	LockPool(ctx context.Context, pool Pool) ([]Ticket, error)

	// MarkSold moves available tickets to sold and returns the rows changed.
	MarkSold(ctx context.Context, ids []TicketID, owner AccountID, purchase PurchaseID) (int64, error)

	// MarkClaimed moves a sold ticket to claimed, recording the prize it
	// claimed. Returns 0 if the ticket was not sold.
	MarkClaimed(ctx context.Context, id TicketID, prize PrizeID) (int64, error)

	InsertTickets(ctx context.Context, tickets []Ticket) error
	CountTickets(ctx context.Context) (int, error)

	// NumbersWithSuffix returns every ticket number ending with suffix, ascending.
	NumbersWithSuffix(ctx context.Context, suffix string) ([]string, error)

	// NumbersForPrize returns the numbers of tickets bound to prize, ascending.
	NumbersForPrize(ctx context.Context, prize PrizeID) ([]string, error)
}

type PrizeTx interface {
	// NextDrawNo returns one more than the highest draw number on record.
	NextDrawNo(ctx context.Context) (int64, error)

	// ClearPrizes unbinds prizes from unclaimed tickets and deletes every
	// prize no claimed ticket references.
	ClearPrizes(ctx context.Context) error

	InsertPrize(ctx context.Context, p Prize) error
	BindPrize(ctx context.Context, ticket TicketID, prize PrizeID) error
	GetPrize(ctx context.Context, id PrizeID) (Prize, error)

	// CurrentPrizes returns the prizes of the highest draw number, by rank.
	CurrentPrizes(ctx context.Context) ([]Prize, error)
}
