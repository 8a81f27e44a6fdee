package lottery_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lottery-engine/lottery"
	"github.com/warp/lottery-engine/retry"
)

func TestRand_Numbers_UniqueFixedWidth(t *testing.T) {
	r := lottery.NewRand()

	numbers, err := r.Numbers(5000)

	require.NoError(t, err)
	seen := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		assert.True(t, lottery.ValidNumber(n), "bad number %q", n)
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}

	_, err = r.Numbers(1_000_001)
	assert.Error(t, err)
}

func TestRand_Pick_DistinctAndCoversPool(t *testing.T) {
	r := lottery.NewSeededRand(7)
	pool := make([]lottery.Ticket, 10)
	for i := range pool {
		pool[i] = lottery.Ticket{ID: lottery.TicketID(i + 1), Number: lottery.FormatNumber(i)}
	}

	// Every ticket should win rank 1 at least once over many draws.
	firsts := map[lottery.TicketID]int{}
	for i := 0; i < 2000; i++ {
		picked := r.Pick(pool, 5)
		require.Len(t, picked, 5)
		ids := map[lottery.TicketID]bool{}
		for _, tk := range picked {
			assert.False(t, ids[tk.ID])
			ids[tk.ID] = true
		}
		firsts[picked[0].ID]++
	}
	assert.Len(t, firsts, 10)
	for id, n := range firsts {
		assert.Greater(t, n, 100, "ticket %d picked first only %d times", id, n)
	}
	assert.Equal(t, lottery.TicketID(1), pool[0].ID, "pool is not modified")
}

func TestRand_ConcurrentUse(t *testing.T) {
	r := lottery.NewRand()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Numbers(100)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestValidNumber(t *testing.T) {
	assert.True(t, lottery.ValidNumber("000042"))
	assert.False(t, lottery.ValidNumber("42"))
	assert.False(t, lottery.ValidNumber("00004a"))
	assert.False(t, lottery.ValidNumber("0000420"))
	assert.Equal(t, "000042", lottery.FormatNumber(42))
}

func TestRole_Capabilities(t *testing.T) {
	assert.True(t, lottery.RoleMember.Can(lottery.CapPurchase))
	assert.True(t, lottery.RoleMember.Can(lottery.CapClaim))
	assert.False(t, lottery.RoleMember.Can(lottery.CapDraw))
	assert.False(t, lottery.RoleMember.Can(lottery.CapReset))
	assert.False(t, lottery.RoleMember.Can(lottery.CapAdjustWallet))

	assert.True(t, lottery.RoleAdmin.Can(lottery.CapDraw))
	assert.True(t, lottery.RoleOwner.Can(lottery.CapReset))
	assert.True(t, lottery.RoleOwner.Can(lottery.CapPurchase))
	assert.False(t, lottery.RoleOwner.Can("launch_rockets"))

	assert.False(t, lottery.RoleMember.Privileged())
	assert.True(t, lottery.RoleAdmin.Privileged())

	r, err := lottery.ParseRole("admin")
	require.NoError(t, err)
	assert.Equal(t, lottery.RoleAdmin, r)
	_, err = lottery.ParseRole("root")
	assert.Error(t, err)
}

func TestCodeOf(t *testing.T) {
	exhausted := &retry.Error{Op: "purchase", Attempts: 3, Transient: true, Err: errors.New("deadlock")}
	wrappedRule := &retry.Error{Op: "claim", Attempts: 1, Err: &lottery.RuleError{Code: lottery.CodeAlreadyClaimed, Message: "x"}}

	tests := []struct {
		name string
		err  error
		want lottery.Code
	}{
		{"nil", nil, lottery.CodeOK},
		{"bare sentinel", fmt.Errorf("account a: %w", lottery.ErrAccountNotFound), lottery.CodeAccountNotFound},
		{"structured", &lottery.PoolInsufficientError{Have: 1, Need: 5}, lottery.CodePoolInsufficient},
		{"rule inside retry error", wrappedRule, lottery.CodeAlreadyClaimed},
		{"exhausted", exhausted, lottery.CodeStorageUnavailable},
		{"integrity", &lottery.IntegrityError{Op: "reset", Detail: "x"}, lottery.CodeIntegrity},
		{"unknown", errors.New("boom"), lottery.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lottery.CodeOf(tt.err))
		})
	}

	assert.ErrorIs(t, wrappedRule, lottery.ErrAlreadyClaimed)
	assert.True(t, lottery.IsRetryable(exhausted))
	assert.False(t, lottery.IsClientError(exhausted))
}

func TestParseAmount(t *testing.T) {
	ceiling := lottery.DefaultCeiling

	d, err := lottery.ParseAmount("80.50", ceiling)
	require.NoError(t, err)
	assert.Equal(t, "80.50", d.StringFixed(2))

	_, err = lottery.ParseAmount("eighty", ceiling)
	assert.ErrorIs(t, err, lottery.ErrInvalidAmount)

	_, err = lottery.ParseAmount("0.001", ceiling)
	assert.ErrorIs(t, err, lottery.ErrInvalidAmount)
}
