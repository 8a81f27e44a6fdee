// Package store provides an in-memory lottery.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/lottery-engine/lottery"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every transaction behind one semaphore. Lock* methods need
// no row locks because no two transactions ever overlap.
type Memory struct {
	sem chan struct{} // 1-slot semaphore; WithTx honours ctx while waiting
	st  state
}

type state struct {
	accounts  map[lottery.AccountID]lottery.Account
	tickets   map[lottery.TicketID]lottery.Ticket
	purchases map[lottery.PurchaseID]lottery.Purchase
	prizes    map[lottery.PrizeID]lottery.Prize
	nextID    lottery.TicketID
}

func NewMemory() *Memory {
	m := &Memory{
		sem: make(chan struct{}, 1),
		st: state{
			accounts:  make(map[lottery.AccountID]lottery.Account),
			tickets:   make(map[lottery.TicketID]lottery.Ticket),
			purchases: make(map[lottery.PurchaseID]lottery.Purchase),
			prizes:    make(map[lottery.PrizeID]lottery.Prize),
			nextID:    1,
		},
	}
	return m
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error or panic.
func (m *Memory) WithTx(ctx context.Context, _ string, fn func(ctx context.Context, tx lottery.Tx) error) (err error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.sem }()

	snapshot := m.st.clone()
	defer func() {
		if p := recover(); p != nil {
			m.st = snapshot
			panic(p)
		}
		if err != nil {
			m.st = snapshot
		}
	}()

	return fn(ctx, &view{st: &m.st})
}

// Purchases returns every purchase record. Intended for tests.
func (m *Memory) Purchases() []lottery.Purchase {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	out := make([]lottery.Purchase, 0, len(m.st.purchases))
	for _, p := range m.st.purchases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Tickets returns every ticket ordered by id. Intended for tests.
func (m *Memory) Tickets() []lottery.Ticket {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	return m.st.sortedTickets(func(lottery.Ticket) bool { return true })
}

// Prizes returns every prize ordered by draw and rank. Intended for tests.
func (m *Memory) Prizes() []lottery.Prize {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	return m.st.sortedPrizes(func(lottery.Prize) bool { return true })
}

func (s state) clone() state {
	c := state{
		accounts:  make(map[lottery.AccountID]lottery.Account, len(s.accounts)),
		tickets:   make(map[lottery.TicketID]lottery.Ticket, len(s.tickets)),
		purchases: make(map[lottery.PurchaseID]lottery.Purchase, len(s.purchases)),
		prizes:    make(map[lottery.PrizeID]lottery.Prize, len(s.prizes)),
		nextID:    s.nextID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.prizes {
		c.prizes[k] = v
	}
	return c
}

func (s *state) sortedTickets(keep func(lottery.Ticket) bool) []lottery.Ticket {
	out := make([]lottery.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) sortedPrizes(keep func(lottery.Prize) bool) []lottery.Prize {
	out := make([]lottery.Prize, 0, len(s.prizes))
	for _, p := range s.prizes {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DrawNo != out[j].DrawNo {
			return out[i].DrawNo < out[j].DrawNo
		}
		return out[i].Rank < out[j].Rank
	})
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type view struct {
	st *state
}

// Accounts

func (v *view) GetAccount(_ context.Context, id lottery.AccountID) (lottery.Account, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return lottery.Account{}, fmt.Errorf("account %s: %w", id, lottery.ErrAccountNotFound)
	}
	return a, nil
}

func (v *view) LockAccount(ctx context.Context, id lottery.AccountID) (lottery.Account, error) {
	return v.GetAccount(ctx, id)
}

func (v *view) InsertAccount(_ context.Context, a lottery.Account) error {
	if _, ok := v.st.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, lottery.ErrAccountExists)
	}
	v.st.accounts[a.ID] = a
	return nil
}

func (v *view) UpdateBalance(_ context.Context, id lottery.AccountID, balance decimal.Decimal) error {
	a, ok := v.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, lottery.ErrAccountNotFound)
	}
	a.Balance = balance
	v.st.accounts[id] = a
	return nil
}

func (v *view) ListPrivileged(_ context.Context) ([]lottery.Account, error) {
	var out []lottery.Account
	for _, a := range v.st.accounts {
		if a.Role.Privileged() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Tickets

func (v *view) LockAvailableTickets(_ context.Context, ids []lottery.TicketID) ([]lottery.Ticket, error) {
	want := make(map[lottery.TicketID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return v.st.sortedTickets(func(t lottery.Ticket) bool {
		return want[t.ID] && t.Status == lottery.StatusAvailable
	}), nil
}

func (v *view) LockTicketByNumber(_ context.Context, number string) (lottery.Ticket, error) {
	for _, t := range v.st.tickets {
		if t.Number == number {
			return t, nil
		}
	}
	return lottery.Ticket{}, fmt.Errorf("ticket %s: %w", number, lottery.ErrTicketNotFound)
}

func (v *view) LockPool(_ context.Context, pool lottery.Pool) ([]lottery.Ticket, error) {
	return v.st.sortedTickets(func(t lottery.Ticket) bool {
		if pool == lottery.PoolSold {
			return t.Status == lottery.StatusSold
		}
		return t.Status != lottery.StatusClaimed
	}), nil
}

func (v *view) MarkSold(_ context.Context, ids []lottery.TicketID, owner lottery.AccountID, purchase lottery.PurchaseID) (int64, error) {
	var n int64
	for _, id := range ids {
		t, ok := v.st.tickets[id]
		if !ok || t.Status != lottery.StatusAvailable {
			continue
		}
		o, p := owner, purchase
		t.Status = lottery.StatusSold
		t.OwnerID = &o
		t.PurchaseID = &p
		v.st.tickets[id] = t
		n++
	}
	return n, nil
}

func (v *view) MarkClaimed(_ context.Context, id lottery.TicketID, prize lottery.PrizeID) (int64, error) {
	t, ok := v.st.tickets[id]
	if !ok || t.Status != lottery.StatusSold {
		return 0, nil
	}
	p := prize
	t.Status = lottery.StatusClaimed
	t.PrizeID = &p
	v.st.tickets[id] = t
	return 1, nil
}

func (v *view) InsertTickets(_ context.Context, tickets []lottery.Ticket) error {
	numbers := make(map[string]bool, len(v.st.tickets)+len(tickets))
	for _, t := range v.st.tickets {
		numbers[t.Number] = true
	}
	for _, t := range tickets {
		if numbers[t.Number] {
			return fmt.Errorf("ticket number %s already exists", t.Number)
		}
		numbers[t.Number] = true
	}
	for _, t := range tickets {
		t.ID = v.st.nextID
		v.st.nextID++
		v.st.tickets[t.ID] = t
	}
	return nil
}

func (v *view) CountTickets(_ context.Context) (int, error) {
	return len(v.st.tickets), nil
}

func (v *view) NumbersWithSuffix(_ context.Context, suffix string) ([]string, error) {
	var out []string
	for _, t := range v.st.tickets {
		if strings.HasSuffix(t.Number, suffix) {
			out = append(out, t.Number)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (v *view) NumbersForPrize(_ context.Context, prize lottery.PrizeID) ([]string, error) {
	var out []string
	for _, t := range v.st.tickets {
		if t.PrizeID != nil && *t.PrizeID == prize {
			out = append(out, t.Number)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Purchases

func (v *view) InsertPurchase(_ context.Context, p lottery.Purchase) error {
	if _, ok := v.st.accounts[p.AccountID]; !ok {
		return fmt.Errorf("purchase %s: %w", p.ID, lottery.ErrAccountNotFound)
	}
	v.st.purchases[p.ID] = p
	return nil
}

// Prizes

func (v *view) NextDrawNo(_ context.Context) (int64, error) {
	var max int64
	for _, p := range v.st.prizes {
		if p.DrawNo > max {
			max = p.DrawNo
		}
	}
	return max + 1, nil
}

func (v *view) ClearPrizes(_ context.Context) error {
	referenced := make(map[lottery.PrizeID]bool)
	for id, t := range v.st.tickets {
		if t.PrizeID == nil {
			continue
		}
		if t.Status == lottery.StatusClaimed {
			referenced[*t.PrizeID] = true
			continue
		}
		t.PrizeID = nil
		v.st.tickets[id] = t
	}
	for id := range v.st.prizes {
		if !referenced[id] {
			delete(v.st.prizes, id)
		}
	}
	return nil
}

func (v *view) InsertPrize(_ context.Context, p lottery.Prize) error {
	for _, existing := range v.st.prizes {
		if existing.DrawNo == p.DrawNo && existing.Rank == p.Rank {
			return fmt.Errorf("prize for draw %d rank %d already exists", p.DrawNo, p.Rank)
		}
	}
	v.st.prizes[p.ID] = p
	return nil
}

func (v *view) BindPrize(_ context.Context, ticket lottery.TicketID, prize lottery.PrizeID) error {
	t, ok := v.st.tickets[ticket]
	if !ok {
		return fmt.Errorf("ticket %d: %w", ticket, lottery.ErrTicketNotFound)
	}
	if _, ok := v.st.prizes[prize]; !ok {
		return fmt.Errorf("prize %s: %w", prize, lottery.ErrPrizeNotFound)
	}
	p := prize
	t.PrizeID = &p
	v.st.tickets[ticket] = t
	return nil
}

func (v *view) GetPrize(_ context.Context, id lottery.PrizeID) (lottery.Prize, error) {
	p, ok := v.st.prizes[id]
	if !ok {
		return lottery.Prize{}, fmt.Errorf("prize %s: %w", id, lottery.ErrPrizeNotFound)
	}
	return p, nil
}

func (v *view) CurrentPrizes(ctx context.Context) ([]lottery.Prize, error) {
	next, _ := v.NextDrawNo(ctx)
	current := next - 1
	return v.st.sortedPrizes(func(p lottery.Prize) bool { return p.DrawNo == current }), nil
}

// Reset

func (v *view) ResetAll(_ context.Context) (lottery.ResetCounts, error) {
	counts := lottery.ResetCounts{
		Tickets:   int64(len(v.st.tickets)),
		Purchases: int64(len(v.st.purchases)),
		Prizes:    int64(len(v.st.prizes)),
	}
	v.st.tickets = make(map[lottery.TicketID]lottery.Ticket)
	v.st.purchases = make(map[lottery.PurchaseID]lottery.Purchase)
	v.st.prizes = make(map[lottery.PrizeID]lottery.Prize)
	for id, a := range v.st.accounts {
		if !a.Role.Privileged() {
			delete(v.st.accounts, id)
			counts.Accounts++
		}
	}
	return counts, nil
}
