package lottery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lottery-engine/clock"
	"github.com/warp/lottery-engine/lottery"
	"github.com/warp/lottery-engine/ratelimit"
)

func TestWallet_Deduct_ToZero(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice.AccountID, "100.00")

	balance, err := f.svc.Wallet().Deduct(context.Background(), alice.AccountID, dec("100.00"))

	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.True(t, f.balance(t, alice.AccountID).IsZero())
}

func TestWallet_Deduct_InsufficientFunds_BalanceUnchanged(t *testing.T) {
	// GIVEN: alice holds 50.00
	f := newFixture(t)
	f.fund(t, alice.AccountID, "50.00")

	// WHEN: deducting 50.01
	_, err := f.svc.Wallet().Deduct(context.Background(), alice.AccountID, dec("50.01"))

	// THEN: rejected with the shortfall, balance untouched
	require.Error(t, err)
	assert.ErrorIs(t, err, lottery.ErrInsufficientFunds)
	assert.Equal(t, lottery.CodeInsufficientFunds, lottery.CodeOf(err))

	var fundsErr *lottery.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.True(t, fundsErr.Balance.Equal(dec("50.00")))
	assert.True(t, fundsErr.Requested.Equal(dec("50.01")))
	assert.Contains(t, err.Error(), "shortfall 0.01")

	assert.True(t, f.balance(t, alice.AccountID).Equal(dec("50.00")))
}

func TestWallet_Add_CeilingExceeded(t *testing.T) {
	f := newFixture(t, lottery.WithConfig(lottery.Config{Ceiling: dec("1000.00")}))
	f.fund(t, alice.AccountID, "999.99")

	_, err := f.svc.Wallet().Add(context.Background(), alice.AccountID, dec("0.02"))

	assert.ErrorIs(t, err, lottery.ErrCeilingExceeded)
	assert.True(t, f.balance(t, alice.AccountID).Equal(dec("999.99")))

	balance, err := f.svc.Wallet().Add(context.Background(), alice.AccountID, dec("0.01"))
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1000.00")), "reaching the ceiling exactly is allowed")
}

func TestWallet_InvalidAmounts(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice.AccountID, "10.00")
	ctx := context.Background()

	tests := []struct {
		name   string
		amount string
		want   error
	}{
		{"negative", "-1.00", lottery.ErrInvalidAmount},
		{"three decimals", "1.005", lottery.ErrInvalidAmount},
		{"above ceiling", "1000000.01", lottery.ErrCeilingExceeded},
		{"far above ceiling", "2000000.00", lottery.ErrCeilingExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Wallet().Add(ctx, alice.AccountID, dec(tt.amount))
			assert.ErrorIs(t, err, tt.want)

			_, err = f.svc.Wallet().Deduct(ctx, alice.AccountID, dec(tt.amount))
			assert.ErrorIs(t, err, tt.want)

			_, err = f.svc.Wallet().Set(ctx, alice.AccountID, dec(tt.amount))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.True(t, f.balance(t, alice.AccountID).Equal(dec("10.00")))
}

func TestWallet_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Wallet().Add(context.Background(), "ghost", dec("1.00"))

	assert.ErrorIs(t, err, lottery.ErrAccountNotFound)
	assert.True(t, lottery.IsNotFound(err))
}

func TestWallet_ConcurrentDeductAndAdd_Conserved(t *testing.T) {
	// GIVEN: 300.00 and a mix of concurrent deducts of 40.00 and adds of 10.00
	f := newFixture(t)
	f.fund(t, alice.AccountID, "300.00")
	ctx := context.Background()

	const deducts, adds = 20, 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < deducts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Wallet().Deduct(ctx, alice.AccountID, dec("40.00"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, lottery.ErrInsufficientFunds)
		}()
	}
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Wallet().Add(ctx, alice.AccountID, dec("10.00"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: final = initial + sum(adds) - sum(successful deducts)
	want := dec("300.00").
		Add(dec("10.00").Mul(decimal.NewFromInt(adds))).
		Sub(dec("40.00").Mul(decimal.NewFromInt(int64(succeeded))))
	got := f.balance(t, alice.AccountID)
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
	assert.False(t, got.IsNegative())
}

func TestWallet_RateLimited_BeforeTransaction(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewMemory(2, time.Minute, ratelimit.WithClock(fake))
	rec := newRecorder()
	f := newFixture(t, lottery.WithLimiter(limiter), lottery.WithRecorder(rec))
	f.fund(t, alice.AccountID, "100.00")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Wallet().Deduct(ctx, alice.AccountID, dec("1.00"))
		require.NoError(t, err)
	}

	_, err := f.svc.Wallet().Deduct(ctx, alice.AccountID, dec("1.00"))
	assert.ErrorIs(t, err, lottery.ErrRateLimited)
	assert.Equal(t, lottery.CodeRateLimited, lottery.CodeOf(err))
	assert.True(t, lottery.IsRetryable(err))
	assert.True(t, f.balance(t, alice.AccountID).Equal(dec("98.00")))
	assert.Equal(t, 1, rec.limitedCount(lottery.OpDeduct))
	assert.Equal(t, 1, rec.count("deduct:RATE_LIMIT_EXCEEDED"))

	// Add is keyed separately.
	_, err = f.svc.Wallet().Add(ctx, alice.AccountID, dec("1.00"))
	assert.NoError(t, err)

	// The window slides.
	fake.Advance(61 * time.Second)
	_, err = f.svc.Wallet().Deduct(ctx, alice.AccountID, dec("1.00"))
	assert.NoError(t, err)
}

func TestAdjustWallet_RequiresPrivilege(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AdjustWallet(ctx, alice, alice.AccountID, dec("500.00"), lottery.OpAdd)
	assert.ErrorIs(t, err, lottery.ErrForbidden)

	balance, err := f.svc.AdjustWallet(ctx, admin, alice.AccountID, dec("500.00"), lottery.OpAdd)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("500.00")))

	balance, err = f.svc.AdjustWallet(ctx, owner, alice.AccountID, dec("12.50"), lottery.OpSet)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("12.50")))

	_, err = f.svc.AdjustWallet(ctx, owner, alice.AccountID, dec("1.00"), "multiply")
	assert.ErrorIs(t, err, lottery.ErrInvalidAmount)
}
