/*
tickets.go - Ticket state machine: purchase, claim, reset

TRANSITIONS:
  Purchase  available -> sold      debit wallet, write Purchase, set owner
  Claim     sold      -> claimed   credit wallet with the won prize
  Reset     *         -> (fresh)   wipe inventory, regenerate available batch

  Each transition is a single store transaction. A failure at any step
  rolls back every write of that transition.

LOCK ORDER:
  account first, then tickets by ascending id.
*/
package lottery

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase buys the requested tickets for the subject. Either every ticket is
// bought or none is.
func (s *Service) Purchase(ctx context.Context, subject Subject, ticketIDs []TicketID) (PurchaseResult, error) {
	start := s.clock.Now()
	var res PurchaseResult
	err := s.purchase(ctx, subject, ticketIDs, &res)
	s.observe(OpPurchase, start, err,
		zap.String("account", string(subject.AccountID)),
		zap.Int("tickets", len(ticketIDs)))
	return res, err
}

func (s *Service) purchase(ctx context.Context, subject Subject, ticketIDs []TicketID, res *PurchaseResult) error {
	if err := authorize(subject, CapPurchase); err != nil {
		return err
	}
	ids, err := normalizeSelection(ticketIDs)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, subject.AccountID, OpPurchase); err != nil {
		return err
	}

	return s.store.WithTx(ctx, OpPurchase, func(ctx context.Context, tx Tx) error {
		account, err := tx.LockAccount(ctx, subject.AccountID)
		if err != nil {
			return err
		}

		tickets, err := tx.LockAvailableTickets(ctx, ids)
		if err != nil {
			return err
		}
		if len(tickets) != len(ids) {
			return &TicketUnavailableError{Requested: ids, Missing: missingIDs(ids, tickets)}
		}
		won, err := wonTickets(ctx, tx, tickets)
		if err != nil {
			return err
		}
		if len(won) > 0 {
			return &TicketUnavailableError{Requested: ids, Missing: won}
		}

		numbers := make([]string, len(tickets))
		prices := make([]decimal.Decimal, len(tickets))
		for i, t := range tickets {
			numbers[i] = t.Number
			prices[i] = t.Price
		}
		total := Sum(prices...)

		balance, err := s.wallet.debitLocked(ctx, tx, account, total)
		if err != nil {
			return err
		}

		p := Purchase{
			ID:        PurchaseID(uuid.NewString()),
			AccountID: account.ID,
			Total:     total,
			CreatedAt: s.clock.Now().UTC(),
		}
		if err := tx.InsertPurchase(ctx, p); err != nil {
			return err
		}

		n, err := tx.MarkSold(ctx, ids, account.ID, p.ID)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return &IntegrityError{
				Op:     OpPurchase,
				Detail: "locked tickets changed state before update",
			}
		}

		*res = PurchaseResult{
			PurchaseID: p.ID,
			TotalCost:  total,
			NewBalance: balance,
			Tickets:    numbers,
		}
		return nil
	})
}

// normalizeSelection rejects empty or duplicated selections and sorts ids
// ascending so tickets are always locked in the same order.
func normalizeSelection(ids []TicketID) ([]TicketID, error) {
	if len(ids) == 0 {
		return nil, ruleErr(CodeInvalidSelection, "no tickets selected")
	}
	out := make([]TicketID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	for i := 1; i < len(out); i++ {
		if out[i] == out[i-1] {
			return nil, ruleErr(CodeInvalidSelection, "ticket %d selected more than once", out[i])
		}
	}
	return out, nil
}

// wonTickets returns the ids of still-available tickets that already won a
// prize of the current draw, bound or by suffix. Their numbers are public, so
// they stay off sale until the next draw replaces the prizes.
func wonTickets(ctx context.Context, tx Tx, tickets []Ticket) ([]TicketID, error) {
	prizes, err := tx.CurrentPrizes(ctx)
	if err != nil || len(prizes) == 0 {
		return nil, err
	}
	var won []TicketID
	for _, t := range tickets {
		if _, tail := bestTailPrize(prizes, t.Number); t.PrizeID != nil || tail {
			won = append(won, t.ID)
		}
	}
	return won, nil
}

func missingIDs(requested []TicketID, found []Ticket) []TicketID {
	have := make(map[TicketID]bool, len(found))
	for _, t := range found {
		have[t.ID] = true
	}
	var missing []TicketID
	for _, id := range requested {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// =============================================================================
// CLAIM
// =============================================================================

// Claim redeems the prize won by the subject's ticket into the subject's wallet.
func (s *Service) Claim(ctx context.Context, subject Subject, number string) (ClaimResult, error) {
	start := s.clock.Now()
	var res ClaimResult
	err := s.claim(ctx, subject, number, &res)
	s.observe(OpClaim, start, err,
		zap.String("account", string(subject.AccountID)),
		zap.String("ticket", number))
	return res, err
}

func (s *Service) claim(ctx context.Context, subject Subject, number string, res *ClaimResult) error {
	if err := authorize(subject, CapClaim); err != nil {
		return err
	}
	if !ValidNumber(number) {
		return ruleErr(CodeTicketNotFound, "ticket number %q is not a %d-digit number", number, NumberWidth)
	}
	if err := s.allow(ctx, subject.AccountID, OpClaim); err != nil {
		return err
	}

	return s.store.WithTx(ctx, OpClaim, func(ctx context.Context, tx Tx) error {
		account, err := tx.LockAccount(ctx, subject.AccountID)
		if err != nil {
			return err
		}
		ticket, err := tx.LockTicketByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !ticket.OwnedBy(account.ID) {
			return ruleErr(CodeNotTicketOwner, "ticket %s is not owned by %s", number, account.ID)
		}
		if ticket.Status == StatusClaimed {
			return ruleErr(CodeAlreadyClaimed, "ticket %s was already claimed", number)
		}

		prize, err := resolvePrize(ctx, tx, ticket)
		if err != nil {
			return err
		}

		balance, err := s.wallet.creditLocked(ctx, tx, account, prize.Amount)
		if err != nil {
			return err
		}

		n, err := tx.MarkClaimed(ctx, ticket.ID, prize.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ruleErr(CodeAlreadyClaimed, "ticket %s was already claimed", number)
		}

		*res = ClaimResult{
			TicketNumber: number,
			Rank:         prize.Rank,
			PrizeAmount:  prize.Amount,
			NewBalance:   balance,
		}
		return nil
	})
}

// resolvePrize returns the bound exclusive prize of the ticket, or else the
// best-ranked tail prize of the current draw whose suffix the number ends with.
func resolvePrize(ctx context.Context, tx Tx, t Ticket) (Prize, error) {
	if t.PrizeID != nil {
		p, err := tx.GetPrize(ctx, *t.PrizeID)
		if err != nil {
			return Prize{}, &IntegrityError{Op: OpClaim, Detail: "ticket references a missing prize", Err: err}
		}
		return p, nil
	}

	prizes, err := tx.CurrentPrizes(ctx)
	if err != nil {
		return Prize{}, err
	}
	best, found := bestTailPrize(prizes, t.Number)
	if !found {
		return Prize{}, ruleErr(CodeNotAWinner, "ticket %s did not win the current draw", t.Number)
	}
	return best, nil
}

// bestTailPrize returns the best-ranked tail prize whose suffix number ends with.
func bestTailPrize(prizes []Prize, number string) (Prize, bool) {
	best := Prize{}
	found := false
	for _, p := range prizes {
		if p.Kind != PrizeTail || p.Suffix == "" || !strings.HasSuffix(number, p.Suffix) {
			continue
		}
		if !found || p.Rank < best.Rank {
			best, found = p, true
		}
	}
	return best, found
}

// =============================================================================
// RESET
// =============================================================================

// Reset wipes tickets, purchases, prizes and member accounts and regenerates a
// fresh batch of available tickets. Privileged accounts are preserved.
func (s *Service) Reset(ctx context.Context, subject Subject) (ResetResult, error) {
	start := s.clock.Now()
	var res ResetResult
	err := s.reset(ctx, subject, &res)
	s.observe(OpReset, start, err,
		zap.String("account", string(subject.AccountID)),
		zap.Int64("deleted_tickets", res.Deleted.Tickets),
		zap.Int("created_tickets", res.CreatedTickets))
	return res, err
}

func (s *Service) reset(ctx context.Context, subject Subject, res *ResetResult) error {
	if err := authorize(subject, CapReset); err != nil {
		return err
	}

	err := s.store.WithTx(ctx, OpReset, func(ctx context.Context, tx Tx) error {
		privileged, err := tx.ListPrivileged(ctx)
		if err != nil {
			return err
		}
		if len(privileged) == 0 {
			return &IntegrityError{Op: OpReset, Detail: "no privileged account found"}
		}

		counts, err := tx.ResetAll(ctx)
		if err != nil {
			return err
		}

		created, err := s.generateBatch(ctx, tx)
		if err != nil {
			return err
		}

		preserved := make([]AccountID, len(privileged))
		for i, a := range privileged {
			preserved[i] = a.ID
		}
		*res = ResetResult{
			Deleted:           counts,
			PreservedAccounts: preserved,
			CreatedTickets:    created,
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.limiter.Reset(ctx); err != nil {
		s.log.Warn("rate limiter reset failed", zap.Error(err))
	}
	return nil
}

// generateBatch inserts BatchSize fresh available tickets at DefaultPrice.
func (s *Service) generateBatch(ctx context.Context, tx Tx) (int, error) {
	numbers, err := s.rand.Numbers(s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	tickets := make([]Ticket, len(numbers))
	for i, n := range numbers {
		tickets[i] = Ticket{
			Number: n,
			Price:  s.cfg.DefaultPrice,
			Status: StatusAvailable,
		}
	}
	if err := tx.InsertTickets(ctx, tickets); err != nil {
		return 0, err
	}
	return len(tickets), nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Register creates a member account with a zero balance.
func (s *Service) Register(ctx context.Context, id AccountID) (Account, error) {
	start := s.clock.Now()
	a, err := s.createAccount(ctx, OpRegister, id, RoleMember)
	s.observe(OpRegister, start, err, zap.String("account", string(id)))
	return a, err
}

func (s *Service) createAccount(ctx context.Context, op string, id AccountID, role Role) (Account, error) {
	if id == "" {
		return Account{}, ruleErr(CodeAccountNotFound, "account id must not be empty")
	}
	a := Account{ID: id, Role: role, Balance: decimal.Zero, CreatedAt: s.clock.Now().UTC()}
	err := s.store.WithTx(ctx, op, func(ctx context.Context, tx Tx) error {
		return tx.InsertAccount(ctx, a)
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// Bootstrap creates the owner and admin accounts if missing and generates the
// first ticket batch when the inventory is empty. Safe to run repeatedly.
func (s *Service) Bootstrap(ctx context.Context, owner AccountID, admins ...AccountID) (created int, err error) {
	start := s.clock.Now()
	defer func() {
		s.observe(OpBoot, start, err, zap.String("owner", string(owner)), zap.Int("created_tickets", created))
	}()

	if owner == "" {
		return 0, ruleErr(CodeAccountNotFound, "bootstrap requires an owner account id")
	}
	want := []Account{{ID: owner, Role: RoleOwner}}
	for _, id := range admins {
		if id != "" && id != owner {
			want = append(want, Account{ID: id, Role: RoleAdmin})
		}
	}

	err = s.store.WithTx(ctx, OpBoot, func(ctx context.Context, tx Tx) error {
		created = 0
		for _, a := range want {
			if _, err := tx.GetAccount(ctx, a.ID); err == nil {
				continue
			} else if !IsNotFound(err) {
				return err
			}
			a.Balance = decimal.Zero
			a.CreatedAt = s.clock.Now().UTC()
			if err := tx.InsertAccount(ctx, a); err != nil {
				return err
			}
		}

		n, err := tx.CountTickets(ctx)
		if err != nil || n > 0 {
			return err
		}
		created, err = s.generateBatch(ctx, tx)
		return err
	})
	return created, err
}

// AdjustWallet lets a privileged subject credit or overwrite an account balance.
func (s *Service) AdjustWallet(ctx context.Context, subject Subject, id AccountID, amount decimal.Decimal, op string) (decimal.Decimal, error) {
	if err := authorize(subject, CapAdjustWallet); err != nil {
		return decimal.Zero, err
	}
	switch op {
	case OpAdd:
		return s.wallet.Add(ctx, id, amount)
	case OpSet:
		return s.wallet.Set(ctx, id, amount)
	}
	return decimal.Zero, ruleErr(CodeInvalidAmount, "unknown wallet operation %q, want add or set", op)
}
