package lottery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/lottery-engine/lottery"
	"github.com/warp/lottery-engine/lottery/store"
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

type fixture struct {
	svc *lottery.Service
	mem *store.Memory
}

// newFixture bootstraps owner + admin, registers alice and bob and generates
// the default 120-ticket batch (ids 1..120, 80.00 each).
func newFixture(t *testing.T, opts ...lottery.Option) fixture {
	t.Helper()
	mem := store.NewMemory()
	opts = append([]lottery.Option{lottery.WithRand(lottery.NewSeededRand(42))}, opts...)
	svc := lottery.NewService(mem, opts...)

	ctx := context.Background()
	_, err := svc.Bootstrap(ctx, owner.AccountID, admin.AccountID)
	require.NoError(t, err)
	_, err = svc.Register(ctx, alice.AccountID)
	require.NoError(t, err)
	_, err = svc.Register(ctx, bob.AccountID)
	require.NoError(t, err)

	return fixture{svc: svc, mem: mem}
}

func (f fixture) fund(t *testing.T, id lottery.AccountID, amount string) {
	t.Helper()
	_, err := f.svc.Wallet().Set(context.Background(), id, dec(amount))
	require.NoError(t, err)
}

func (f fixture) balance(t *testing.T, id lottery.AccountID) decimal.Decimal {
	t.Helper()
	b, err := f.svc.Wallet().Read(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f fixture) ticket(t *testing.T, id lottery.TicketID) lottery.Ticket {
	t.Helper()
	for _, tk := range f.mem.Tickets() {
		if tk.ID == id {
			return tk
		}
	}
	t.Fatalf("ticket %d not found", id)
	return lottery.Ticket{}
}

func (f fixture) ticketByNumber(t *testing.T, number string) lottery.Ticket {
	t.Helper()
	for _, tk := range f.mem.Tickets() {
		if tk.Number == number {
			return tk
		}
	}
	t.Fatalf("ticket %s not found", number)
	return lottery.Ticket{}
}

func dec(s string) decimal.Decimal { return lottery.MustAmount(s) }

func rewards(amounts ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(amounts))
	for i, a := range amounts {
		out[i] = dec(a)
	}
	return out
}

func ids(from, to int) []lottery.TicketID {
	var out []lottery.TicketID
	for i := from; i <= to; i++ {
		out = append(out, lottery.TicketID(i))
	}
	return out
}

// recorder counts operation outcomes by op and code.
type recorder struct {
	mu      sync.Mutex
	outcome map[string]int
	limited map[string]int
}

func newRecorder() *recorder {
	return &recorder{outcome: map[string]int{}, limited: map[string]int{}}
}

func (r *recorder) ObserveOperation(op, code string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome[op+":"+code]++
}

func (r *recorder) RateLimited(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limited[op]++
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome[key]
}

func (r *recorder) limitedCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limited[op]
}
