package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lottery-engine/lottery"
	"github.com/warp/lottery-engine/retry"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	owner = lottery.Subject{AccountID: "owner", Role: lottery.RoleOwner}
	admin = lottery.Subject{AccountID: "admin", Role: lottery.RoleAdmin}
	alice = lottery.Subject{AccountID: "alice", Role: lottery.RoleMember}
	bob   = lottery.Subject{AccountID: "bob", Role: lottery.RoleMember}
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newService bootstraps owner + admin, registers alice and bob and generates
// 120 tickets at 80.00 with ids 1..120.
func newService(t *testing.T, s *Store) *lottery.Service {
	t.Helper()
	svc := lottery.NewService(s, lottery.WithRand(lottery.NewSeededRand(7)))
	ctx := context.Background()

	created, err := svc.Bootstrap(ctx, owner.AccountID, admin.AccountID)
	require.NoError(t, err)
	require.Equal(t, 120, created)
	for _, id := range []lottery.AccountID{alice.AccountID, bob.AccountID} {
		_, err := svc.Register(ctx, id)
		require.NoError(t, err)
	}
	return svc
}

func dec(s string) decimal.Decimal { return lottery.MustAmount(s) }

func count(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.Get(&n, query, args...))
	return n
}

func ticketStatus(t *testing.T, s *Store, id int64) string {
	t.Helper()
	var status string
	require.NoError(t, s.db.Get(&status, "SELECT status FROM tickets WHERE id = ?", id))
	return status
}

// =============================================================================
// LEDGER OVER SQLITE
// =============================================================================

func TestStore_Purchase_DebitsAndRecords(t *testing.T) {
	// GIVEN: alice holds 200.00
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()
	_, err := svc.Wallet().Set(ctx, alice.AccountID, dec("200.00"))
	require.NoError(t, err)

	// WHEN: buying ticket 3
	res, err := svc.Purchase(ctx, alice, []lottery.TicketID{3})

	// THEN: 120.00 left, ticket sold with owner and purchase references
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("120.00")))
	assert.Equal(t, "sold", ticketStatus(t, s, 3))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(*) FROM tickets WHERE owner_id = ? AND purchase_id = ?",
		"alice", string(res.PurchaseID)))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(*) FROM purchases WHERE total = '80.00'"))

	balance, err := svc.Wallet().Read(ctx, alice.AccountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("120.00")))
}

func TestStore_Purchase_OneUnavailable_RollsBackEverything(t *testing.T) {
	// GIVEN: bob already owns ticket 2, alice holds 500.00
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()
	_, err := svc.Wallet().Set(ctx, bob.AccountID, dec("80.00"))
	require.NoError(t, err)
	_, err = svc.Purchase(ctx, bob, []lottery.TicketID{2})
	require.NoError(t, err)
	_, err = svc.Wallet().Set(ctx, alice.AccountID, dec("500.00"))
	require.NoError(t, err)

	// WHEN: alice asks for 1, 2 and 3
	_, err = svc.Purchase(ctx, alice, []lottery.TicketID{1, 2, 3})

	// THEN: nothing changed for alice
	require.ErrorIs(t, err, lottery.ErrTicketUnavailable)
	var unavailable *lottery.TicketUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []lottery.TicketID{2}, unavailable.Missing)
	assert.Equal(t, "available", ticketStatus(t, s, 1))
	assert.Equal(t, "available", ticketStatus(t, s, 3))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(*) FROM purchases"))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(*) FROM accounts WHERE id = 'alice' AND balance = '500.00'"))
}

func TestStore_Purchase_InsufficientFunds(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()
	_, err := svc.Wallet().Set(ctx, alice.AccountID, dec("100.00"))
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, alice, []lottery.TicketID{1, 2})

	assert.Equal(t, lottery.CodeInsufficientFunds, lottery.CodeOf(err))
	assert.Equal(t, 0, count(t, s, "SELECT COUNT(*) FROM tickets WHERE status <> 'available'"))
	assert.Equal(t, 0, count(t, s, "SELECT COUNT(*) FROM purchases"))
}

func TestStore_ConcurrentWallet_NoLostUpdates(t *testing.T) {
	// GIVEN: alice holds 100.00
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()
	_, err := svc.Wallet().Set(ctx, alice.AccountID, dec("100.00"))
	require.NoError(t, err)

	// WHEN: 10 deducts of 15.00 race with 5 adds of 2.00
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deducts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Wallet().Deduct(ctx, alice.AccountID, dec("15.00")); err == nil {
				mu.Lock()
				deducts++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, lottery.ErrInsufficientFunds)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Wallet().Add(ctx, alice.AccountID, dec("2.00"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: final = 100 + 10 - 15 * successful deducts, never negative
	balance, err := svc.Wallet().Read(ctx, alice.AccountID)
	require.NoError(t, err)
	want := dec("110.00").Sub(dec("15.00").Mul(decimal.NewFromInt(int64(deducts))))
	assert.True(t, balance.Equal(want), "balance %s, want %s", balance, want)
	assert.False(t, balance.IsNegative())
}

func TestStore_ConcurrentClaims_ExactlyOneCredited(t *testing.T) {
	// GIVEN: alice owns all 120 tickets and a draw bound five of them
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()
	_, err := svc.Wallet().Set(ctx, alice.AccountID, dec("9600.00"))
	require.NoError(t, err)
	all := make([]lottery.TicketID, 120)
	for i := range all {
		all[i] = lottery.TicketID(i + 1)
	}
	_, err = svc.Purchase(ctx, alice, all)
	require.NoError(t, err)

	draw, err := svc.Draw(ctx, admin, lottery.DrawRequest{
		Pool:    lottery.PoolSold,
		Rewards: []decimal.Decimal{dec("500"), dec("200"), dec("100"), dec("50"), dec("10")},
	})
	require.NoError(t, err)
	number := draw.WinnersByRank[1][0]

	// WHEN: four claims race on the rank-1 ticket
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Claim(ctx, alice, number)
		}(i)
	}
	wg.Wait()

	// THEN: one success, the rest ALREADY_CLAIMED, wallet credited once
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, lottery.CodeAlreadyClaimed, lottery.CodeOf(err))
	}
	assert.Equal(t, 1, ok)
	balance, err := svc.Wallet().Read(ctx, alice.AccountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("500.00")))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(*) FROM tickets WHERE status = 'claimed'"))
}

func TestStore_Draw_PoolTooSmall_NoPrizes(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s)

	_, err := svc.Draw(context.Background(), admin, lottery.DrawRequest{
		Pool:    lottery.PoolSold,
		Rewards: []decimal.Decimal{dec("5"), dec("4"), dec("3"), dec("2"), dec("1")},
	})

	var short *lottery.PoolInsufficientError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 0, short.Have)
	assert.Equal(t, 0, count(t, s, "SELECT COUNT(*) FROM prizes"))
}

func TestStore_Draw_TailMode_PersistsSuffixes(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()

	draw, err := svc.Draw(ctx, admin, lottery.DrawRequest{
		Pool:    lottery.PoolAll,
		Mode:    lottery.ModeTail,
		Rewards: []decimal.Decimal{dec("5"), dec("4"), dec("3"), dec("2"), dec("1")},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, count(t, s, "SELECT COUNT(*) FROM tickets WHERE prize_id IS NOT NULL"))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(*) FROM prizes WHERE kind = 'tail' AND length(suffix) = 3"))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(*) FROM prizes WHERE kind = 'tail' AND length(suffix) = 2"))

	// The persisted rows reproduce the draw after the fact.
	current, err := svc.CurrentDraw(ctx)
	require.NoError(t, err)
	assert.Equal(t, draw.DrawNo, current.DrawNo)
	assert.Equal(t, draw.WinnersByRank, current.WinnersByRank)
}

func TestStore_PurchaseAfterDraw_PublishedWinnerNotSold(t *testing.T) {
	// GIVEN: a draw over every unclaimed ticket, so winners are still available
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()
	_, err := svc.Wallet().Set(ctx, alice.AccountID, dec("9000.00"))
	require.NoError(t, err)
	draw, err := svc.Draw(ctx, admin, lottery.DrawRequest{
		Pool:    lottery.PoolAll,
		Rewards: []decimal.Decimal{dec("5000"), dec("200"), dec("100"), dec("50"), dec("10")},
	})
	require.NoError(t, err)
	var id int64
	require.NoError(t, s.db.Get(&id, "SELECT id FROM tickets WHERE number = ?", draw.WinnersByRank[1][0]))

	// WHEN: alice tries to buy the published rank-1 number
	_, err = svc.Purchase(ctx, alice, []lottery.TicketID{lottery.TicketID(id)})

	// THEN: refused; the prize can never be claimed by a late buyer
	assert.ErrorIs(t, err, lottery.ErrTicketUnavailable)
	assert.Equal(t, "available", ticketStatus(t, s, id))
	_, err = svc.Claim(ctx, alice, draw.WinnersByRank[1][0])
	assert.ErrorIs(t, err, lottery.ErrNotTicketOwner)
	balance, err := svc.Wallet().Read(ctx, alice.AccountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("9000.00")))
}

func TestStore_AccountIDWithFaultWords_FailsFastAsNotFound(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s)

	start := time.Now()
	_, err := svc.Wallet().Deduct(context.Background(), "deadlock-dan", dec("1.00"))

	assert.ErrorIs(t, err, lottery.ErrAccountNotFound)
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, lottery.CodeAccountNotFound, lottery.CodeOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no backoff between attempts")
}

func TestStore_Reset_KeepsPrivilegedRegeneratesBatch(t *testing.T) {
	// GIVEN: a member bought tickets and a draw ran
	s := newStore(t)
	svc := newService(t, s)
	ctx := context.Background()
	_, err := svc.Wallet().Set(ctx, alice.AccountID, dec("800.00"))
	require.NoError(t, err)
	_, err = svc.Purchase(ctx, alice, []lottery.TicketID{1, 2, 3, 4, 5})
	require.NoError(t, err)
	_, err = svc.Draw(ctx, admin, lottery.DrawRequest{
		Pool:    lottery.PoolSold,
		Rewards: []decimal.Decimal{dec("5"), dec("4"), dec("3"), dec("2"), dec("1")},
	})
	require.NoError(t, err)

	// WHEN: the owner resets
	res, err := svc.Reset(ctx, owner)

	// THEN: only owner and admin remain, 120 fresh unique tickets
	require.NoError(t, err)
	assert.Equal(t, int64(120), res.Deleted.Tickets)
	assert.Equal(t, int64(1), res.Deleted.Purchases)
	assert.Equal(t, int64(5), res.Deleted.Prizes)
	assert.Equal(t, int64(2), res.Deleted.Accounts)
	assert.ElementsMatch(t, []lottery.AccountID{"admin", "owner"}, res.PreservedAccounts)
	assert.Equal(t, 2, count(t, s, "SELECT COUNT(*) FROM accounts"))
	assert.Equal(t, 120, count(t, s, "SELECT COUNT(*) FROM tickets WHERE status = 'available'"))
	assert.Equal(t, 120, count(t, s, "SELECT COUNT(DISTINCT number) FROM tickets"))
	assert.Equal(t, 0, count(t, s, "SELECT COUNT(*) FROM purchases"))
}

func TestStore_Register_DuplicateAccount(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s)

	_, err := svc.Register(context.Background(), alice.AccountID)

	assert.ErrorIs(t, err, lottery.ErrAccountExists)
	assert.Equal(t, lottery.CodeAccountExists, lottery.CodeOf(err))
}

func TestStore_UnknownAccount(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s)

	_, err := svc.Wallet().Add(context.Background(), "nobody", dec("1.00"))

	assert.ErrorIs(t, err, lottery.ErrAccountNotFound)
	assert.True(t, lottery.IsNotFound(err))
}

func TestStore_Ping(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, "sqlite3", s.Driver())
}
