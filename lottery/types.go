/*
Package lottery is the concurrency-safe ledger behind ticket sales, draws and
prize claims.

PURPOSE:
  Accounts hold points in a wallet. Points buy numbered tickets; periodic
  draws bind prizes to tickets; owners of winning tickets claim the prize
  back into their wallet. Every mutation runs inside one store transaction
  so balances, ticket ownership and prize claims never disagree.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:  wallet holder with a role and a two-decimal balance
  - Ticket:   6-digit numbered ticket moving available -> sold -> claimed
  - Purchase: immutable record aggregating the tickets bought in one call
  - Prize:    one reward rank of one draw, bound to a ticket or to a suffix
  - Subject:  authenticated caller identity supplied by the routing layer

STATE MACHINE:
  available --Purchase--> sold --Claim--> claimed
  Reset wipes the inventory and regenerates a fresh available batch.

INVARIANTS:
  - Ticket.Owner is set iff Status != available
  - 0 <= Account.Balance <= ceiling, two decimals
  - Ticket.Number is globally unique
  - at most one Prize per (DrawNo, Rank)

SEE ALSO:
  - store.go: transactional storage contract
  - wallet.go: balance rules
  - tickets.go: purchase / claim / reset
  - draw.go: draw engine
*/
package lottery

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TicketID int64
type PurchaseID string
type PrizeID string

// NumberWidth is the fixed width of a ticket number ("000042").
const NumberWidth = 6

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID        AccountID
	Role      Role
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Subject is the authenticated caller of a core operation.
type Subject struct {
	AccountID AccountID
	Role      Role
}

// =============================================================================
// TICKET
// =============================================================================

type TicketStatus string

const (
	StatusAvailable TicketStatus = "available"
	StatusSold      TicketStatus = "sold"
	StatusClaimed   TicketStatus = "claimed"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusSold, StatusClaimed:
		return true
	}
	return false
}

type Ticket struct {
	ID         TicketID
	Number     string
	Price      decimal.Decimal
	Status     TicketStatus
	OwnerID    *AccountID
	PurchaseID *PurchaseID
	PrizeID    *PrizeID
}

// OwnedBy reports whether the ticket belongs to id.
func (t Ticket) OwnedBy(id AccountID) bool {
	return t.OwnerID != nil && *t.OwnerID == id
}

// =============================================================================
// PURCHASE
// =============================================================================

type Purchase struct {
	ID        PurchaseID
	AccountID AccountID
	Total     decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// PRIZE / DRAW
// =============================================================================

type PrizeKind string

const (
	// PrizeExclusive is bound to exactly one ticket through Ticket.PrizeID.
	PrizeExclusive PrizeKind = "exclusive"
	// PrizeTail is won by every ticket whose number ends with Suffix.
	PrizeTail PrizeKind = "tail"
)

type Prize struct {
	ID        PrizeID
	DrawNo    int64
	Rank      int
	Amount    decimal.Decimal
	Kind      PrizeKind
	Suffix    string
	CreatedAt time.Time
}

// DrawRanks is the number of reward ranks in every draw.
const DrawRanks = 5

// Pool selects the candidate tickets of a draw.
type Pool string

const (
	PoolSold Pool = "sold" // sold tickets only
	PoolAll  Pool = "all"  // every unclaimed ticket
)

func (p Pool) Valid() bool { return p == PoolSold || p == PoolAll }

// DrawMode selects how ranks map to tickets.
type DrawMode string

const (
	ModeExclusive DrawMode = "exclusive"
	// ModeTail keeps ranks 1..3 exclusive; rank 4 matches the last 3 digits
	// and rank 5 the last 2 digits of their drawn tickets.
	ModeTail DrawMode = "tail"
)

func (m DrawMode) Valid() bool { return m == ModeExclusive || m == ModeTail }

// tailDigits returns the suffix length for rank in tail mode, 0 if exclusive.
func (m DrawMode) tailDigits(rank int) int {
	if m != ModeTail {
		return 0
	}
	switch rank {
	case 4:
		return 3
	case 5:
		return 2
	}
	return 0
}

type DrawRequest struct {
	Pool    Pool
	Rewards []decimal.Decimal // exactly DrawRanks amounts, index 0 is rank 1
	Mode    DrawMode
}

type DrawResult struct {
	DrawNo        int64
	Prizes        []Prize
	WinnersByRank map[int][]string
}

// =============================================================================
// OPERATION RESULTS
// =============================================================================

type PurchaseResult struct {
	PurchaseID PurchaseID
	TotalCost  decimal.Decimal
	NewBalance decimal.Decimal
	Tickets    []string
}

type ClaimResult struct {
	TicketNumber string
	Rank         int
	PrizeAmount  decimal.Decimal
	NewBalance   decimal.Decimal
}

// ResetCounts is the number of rows ResetAll removed per table.
type ResetCounts struct {
	Purchases int64
	Prizes    int64
	Tickets   int64
	Accounts  int64
}

type ResetResult struct {
	Deleted           ResetCounts
	PreservedAccounts []AccountID
	CreatedTickets    int
}
