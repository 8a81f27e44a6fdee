/*
wallet.go - Wallet ledger: the only code that changes a balance

RULES:
  - amount: 0 <= amount <= ceiling, at most two decimals (INVALID_AMOUNT)
  - deduct: balance - amount >= 0                          (INSUFFICIENT_FUNDS)
  - add:    balance + amount <= ceiling                    (CEILING_EXCEEDED)
  - set:    amount <= ceiling

ALGORITHM (inside the store transaction):
  1. Lock and re-read the account row
  2. Compute and validate the new balance
  3. Write it

  The standalone Deduct/Add/Set calls first pass the rate limiter keyed by
  (account, operation), then open their own transaction. Purchase and Claim
  reuse the same in-transaction steps on their own transaction.
*/
package lottery

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Wallet applies balance mutations. Obtain one with Service.Wallet.
type Wallet struct {
	svc *Service
}

// Deduct removes amount from the account balance and returns the new balance.
func (w *Wallet) Deduct(ctx context.Context, id AccountID, amount decimal.Decimal) (decimal.Decimal, error) {
	return w.mutate(ctx, OpDeduct, id, amount, w.deductTx)
}

// Add credits amount to the account balance and returns the new balance.
func (w *Wallet) Add(ctx context.Context, id AccountID, amount decimal.Decimal) (decimal.Decimal, error) {
	return w.mutate(ctx, OpAdd, id, amount, w.addTx)
}

// Set overwrites the account balance.
func (w *Wallet) Set(ctx context.Context, id AccountID, amount decimal.Decimal) (decimal.Decimal, error) {
	return w.mutate(ctx, OpSet, id, amount, w.setTx)
}

// Read returns the committed balance of the account.
func (w *Wallet) Read(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := w.svc.store.WithTx(ctx, OpRead, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		balance = a.Balance
		return nil
	})
	return balance, err
}

type walletStep func(ctx context.Context, tx Tx, id AccountID, amount decimal.Decimal) (decimal.Decimal, error)

func (w *Wallet) mutate(ctx context.Context, op string, id AccountID, amount decimal.Decimal, step walletStep) (decimal.Decimal, error) {
	start := w.svc.clock.Now()
	var balance decimal.Decimal

	err := w.svc.allow(ctx, id, op)
	if err == nil {
		err = w.svc.store.WithTx(ctx, op, func(ctx context.Context, tx Tx) error {
			b, err := step(ctx, tx, id, amount)
			balance = b
			return err
		})
	}

	w.svc.observe(op, start, err,
		zap.String("account", string(id)),
		zap.String("amount", amount.StringFixed(Scale)))
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// =============================================================================
// IN-TRANSACTION STEPS
// =============================================================================

func (w *Wallet) deductTx(ctx context.Context, tx Tx, id AccountID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount, w.svc.cfg.Ceiling); err != nil {
		return decimal.Zero, err
	}
	a, err := tx.LockAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return w.debitLocked(ctx, tx, a, amount)
}

// debitLocked deducts from an account the caller already locked.
func (w *Wallet) debitLocked(ctx context.Context, tx Tx, a Account, amount decimal.Decimal) (decimal.Decimal, error) {
	next := a.Balance.Sub(amount)
	if next.IsNegative() {
		return decimal.Zero, &InsufficientFundsError{
			AccountID: a.ID,
			Balance:   a.Balance,
			Requested: amount,
		}
	}
	if err := tx.UpdateBalance(ctx, a.ID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

func (w *Wallet) addTx(ctx context.Context, tx Tx, id AccountID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount, w.svc.cfg.Ceiling); err != nil {
		return decimal.Zero, err
	}
	a, err := tx.LockAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return w.creditLocked(ctx, tx, a, amount)
}

// creditLocked credits an account the caller already locked.
func (w *Wallet) creditLocked(ctx context.Context, tx Tx, a Account, amount decimal.Decimal) (decimal.Decimal, error) {
	next := a.Balance.Add(amount)
	if next.GreaterThan(w.svc.cfg.Ceiling) {
		return decimal.Zero, ruleErr(CodeCeilingExceeded,
			"balance %s + %s exceeds ceiling %s",
			a.Balance.StringFixed(Scale), amount.StringFixed(Scale), w.svc.cfg.Ceiling.StringFixed(Scale))
	}
	if err := tx.UpdateBalance(ctx, a.ID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

func (w *Wallet) setTx(ctx context.Context, tx Tx, id AccountID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount, w.svc.cfg.Ceiling); err != nil {
		return decimal.Zero, err
	}
	if _, err := tx.LockAccount(ctx, id); err != nil {
		return decimal.Zero, err
	}
	if err := tx.UpdateBalance(ctx, id, amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
