package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/lottery-engine/lottery"
)

// insertChunk bounds the rows of one multi-row INSERT.
const insertChunk = 200

// =============================================================================
// ROW TYPES
// =============================================================================

type accountRow struct {
	ID        string          `db:"id"`
	Role      string          `db:"role"`
	Balance   decimal.Decimal `db:"balance"`
	CreatedAt int64           `db:"created_at"`
}

func (r accountRow) toAccount() (lottery.Account, error) {
	role, err := lottery.ParseRole(r.Role)
	if err != nil {
		return lottery.Account{}, &lottery.IntegrityError{Op: "load account", Detail: r.ID, Err: err}
	}
	return lottery.Account{
		ID:        lottery.AccountID(r.ID),
		Role:      role,
		Balance:   r.Balance,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}

type ticketRow struct {
	ID         int64           `db:"id"`
	Number     string          `db:"number"`
	Price      decimal.Decimal `db:"price"`
	Status     string          `db:"status"`
	OwnerID    sql.NullString  `db:"owner_id"`
	PurchaseID sql.NullString  `db:"purchase_id"`
	PrizeID    sql.NullString  `db:"prize_id"`
}

func (r ticketRow) toTicket() lottery.Ticket {
	t := lottery.Ticket{
		ID:     lottery.TicketID(r.ID),
		Number: r.Number,
		Price:  r.Price,
		Status: lottery.TicketStatus(r.Status),
	}
	if r.OwnerID.Valid {
		id := lottery.AccountID(r.OwnerID.String)
		t.OwnerID = &id
	}
	if r.PurchaseID.Valid {
		id := lottery.PurchaseID(r.PurchaseID.String)
		t.PurchaseID = &id
	}
	if r.PrizeID.Valid {
		id := lottery.PrizeID(r.PrizeID.String)
		t.PrizeID = &id
	}
	return t
}

type prizeRow struct {
	ID        string          `db:"id"`
	DrawNo    int64           `db:"draw_no"`
	Rank      int             `db:"prize_rank"`
	Amount    decimal.Decimal `db:"amount"`
	Kind      string          `db:"kind"`
	Suffix    sql.NullString  `db:"suffix"`
	CreatedAt int64           `db:"created_at"`
}

func (r prizeRow) toPrize() lottery.Prize {
	return lottery.Prize{
		ID:        lottery.PrizeID(r.ID),
		DrawNo:    r.DrawNo,
		Rank:      r.Rank,
		Amount:    r.Amount,
		Kind:      lottery.PrizeKind(r.Kind),
		Suffix:    r.Suffix.String,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

type newTicketRow struct {
	Number string `db:"number"`
	Price  string `db:"price"`
	Status string `db:"status"`
}

const (
	accountCols = "id, role, balance, created_at"
	ticketCols  = "id, number, price, status, owner_id, purchase_id, prize_id"
	prizeCols   = "id, draw_no, prize_rank, amount, kind, suffix, created_at"
)

func money(d decimal.Decimal) string { return d.StringFixed(lottery.Scale) }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// =============================================================================
// TRANSACTIONAL VIEW (lottery.Tx)
// =============================================================================

type txView struct {
	tx *sqlx.Tx
	d  dialect
}

var _ lottery.Tx = (*txView)(nil)

// Accounts

func (v *txView) GetAccount(ctx context.Context, id lottery.AccountID) (lottery.Account, error) {
	return v.account(ctx, "SELECT "+accountCols+" FROM accounts WHERE id = ?", id)
}

func (v *txView) LockAccount(ctx context.Context, id lottery.AccountID) (lottery.Account, error) {
	return v.account(ctx, "SELECT "+accountCols+" FROM accounts WHERE id = ?"+v.d.forUpdate, id)
}

func (v *txView) account(ctx context.Context, query string, id lottery.AccountID) (lottery.Account, error) {
	var row accountRow
	if err := v.tx.GetContext(ctx, &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lottery.Account{}, errors.Wrapf(lottery.ErrAccountNotFound, "account %s", id)
		}
		return lottery.Account{}, errors.Wrapf(err, "load account %s", id)
	}
	return row.toAccount()
}

func (v *txView) InsertAccount(ctx context.Context, a lottery.Account) error {
	_, err := v.tx.ExecContext(ctx,
		"INSERT INTO accounts ("+accountCols+") VALUES (?, ?, ?, ?)",
		string(a.ID), a.Role.String(), money(a.Balance), a.CreatedAt.UnixMilli())
	if isDuplicate(err) {
		return errors.Wrapf(lottery.ErrAccountExists, "account %s", a.ID)
	}
	return errors.Wrapf(err, "insert account %s", a.ID)
}

func (v *txView) UpdateBalance(ctx context.Context, id lottery.AccountID, balance decimal.Decimal) error {
	res, err := v.tx.ExecContext(ctx, "UPDATE accounts SET balance = ? WHERE id = ?", money(balance), string(id))
	if err != nil {
		return errors.Wrapf(err, "update balance of %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(lottery.ErrAccountNotFound, "account %s", id)
	}
	return nil
}

func (v *txView) ListPrivileged(ctx context.Context) ([]lottery.Account, error) {
	var rows []accountRow
	err := v.tx.SelectContext(ctx, &rows,
		"SELECT "+accountCols+" FROM accounts WHERE role IN (?, ?) ORDER BY id",
		lottery.RoleAdmin.String(), lottery.RoleOwner.String())
	if err != nil {
		return nil, errors.Wrap(err, "list privileged accounts")
	}
	out := make([]lottery.Account, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAccount()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Tickets

func (v *txView) LockAvailableTickets(ctx context.Context, ids []lottery.TicketID) ([]lottery.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		"SELECT "+ticketCols+" FROM tickets WHERE id IN (?) AND status = ? ORDER BY id"+v.d.forUpdate,
		int64s(ids), string(lottery.StatusAvailable))
	if err != nil {
		return nil, errors.Wrap(err, "build ticket query")
	}
	return v.tickets(ctx, v.tx.Rebind(query), args...)
}

func (v *txView) LockTicketByNumber(ctx context.Context, number string) (lottery.Ticket, error) {
	var row ticketRow
	err := v.tx.GetContext(ctx, &row,
		"SELECT "+ticketCols+" FROM tickets WHERE number = ?"+v.d.forUpdate, number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lottery.Ticket{}, errors.Wrapf(lottery.ErrTicketNotFound, "ticket %s", number)
		}
		return lottery.Ticket{}, errors.Wrapf(err, "load ticket %s", number)
	}
	return row.toTicket(), nil
}

func (v *txView) LockPool(ctx context.Context, pool lottery.Pool) ([]lottery.Ticket, error) {
	if pool == lottery.PoolSold {
		return v.tickets(ctx,
			"SELECT "+ticketCols+" FROM tickets WHERE status = ? ORDER BY id"+v.d.forUpdate,
			string(lottery.StatusSold))
	}
	return v.tickets(ctx,
		"SELECT "+ticketCols+" FROM tickets WHERE status <> ? ORDER BY id"+v.d.forUpdate,
		string(lottery.StatusClaimed))
}

func (v *txView) tickets(ctx context.Context, query string, args ...any) ([]lottery.Ticket, error) {
	var rows []ticketRow
	if err := v.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "load tickets")
	}
	out := make([]lottery.Ticket, len(rows))
	for i, r := range rows {
		out[i] = r.toTicket()
	}
	return out, nil
}

func (v *txView) MarkSold(ctx context.Context, ids []lottery.TicketID, owner lottery.AccountID, purchase lottery.PurchaseID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		"UPDATE tickets SET status = ?, owner_id = ?, purchase_id = ? WHERE id IN (?) AND status = ?",
		string(lottery.StatusSold), string(owner), string(purchase), int64s(ids), string(lottery.StatusAvailable))
	if err != nil {
		return 0, errors.Wrap(err, "build ticket update")
	}
	return v.exec(ctx, "mark tickets sold", v.tx.Rebind(query), args...)
}

func (v *txView) MarkClaimed(ctx context.Context, id lottery.TicketID, prize lottery.PrizeID) (int64, error) {
	return v.exec(ctx, "mark ticket claimed",
		"UPDATE tickets SET status = ?, prize_id = ? WHERE id = ? AND status = ?",
		string(lottery.StatusClaimed), string(prize), int64(id), string(lottery.StatusSold))
}

func (v *txView) InsertTickets(ctx context.Context, tickets []lottery.Ticket) error {
	for start := 0; start < len(tickets); start += insertChunk {
		end := min(start+insertChunk, len(tickets))
		rows := make([]newTicketRow, 0, end-start)
		for _, t := range tickets[start:end] {
			rows = append(rows, newTicketRow{Number: t.Number, Price: money(t.Price), Status: string(t.Status)})
		}
		_, err := v.tx.NamedExecContext(ctx,
			"INSERT INTO tickets (number, price, status) VALUES (:number, :price, :status)", rows)
		if err != nil {
			return errors.Wrapf(err, "insert tickets %d..%d", start, end)
		}
	}
	return nil
}

func (v *txView) CountTickets(ctx context.Context) (int, error) {
	var n int
	if err := v.tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM tickets"); err != nil {
		return 0, errors.Wrap(err, "count tickets")
	}
	return n, nil
}

func (v *txView) NumbersWithSuffix(ctx context.Context, suffix string) ([]string, error) {
	numbers := []string{}
	err := v.tx.SelectContext(ctx, &numbers,
		"SELECT number FROM tickets WHERE number LIKE ? ORDER BY number", "%"+suffix)
	return numbers, errors.Wrapf(err, "numbers ending with %s", suffix)
}

func (v *txView) NumbersForPrize(ctx context.Context, prize lottery.PrizeID) ([]string, error) {
	numbers := []string{}
	err := v.tx.SelectContext(ctx, &numbers,
		"SELECT number FROM tickets WHERE prize_id = ? ORDER BY number", string(prize))
	return numbers, errors.Wrapf(err, "numbers bound to prize %s", prize)
}

// Purchases

func (v *txView) InsertPurchase(ctx context.Context, p lottery.Purchase) error {
	_, err := v.tx.ExecContext(ctx,
		"INSERT INTO purchases (id, account_id, total, created_at) VALUES (?, ?, ?, ?)",
		string(p.ID), string(p.AccountID), money(p.Total), p.CreatedAt.UnixMilli())
	return errors.Wrapf(err, "insert purchase %s", p.ID)
}

// Prizes

func (v *txView) NextDrawNo(ctx context.Context) (int64, error) {
	var n int64
	if err := v.tx.GetContext(ctx, &n, "SELECT COALESCE(MAX(draw_no), 0) + 1 FROM prizes"); err != nil {
		return 0, errors.Wrap(err, "next draw number")
	}
	return n, nil
}

func (v *txView) ClearPrizes(ctx context.Context) error {
	_, err := v.tx.ExecContext(ctx,
		"UPDATE tickets SET prize_id = NULL WHERE prize_id IS NOT NULL AND status <> ?",
		string(lottery.StatusClaimed))
	if err != nil {
		return errors.Wrap(err, "unbind prizes")
	}
	_, err = v.tx.ExecContext(ctx,
		"DELETE FROM prizes WHERE id NOT IN (SELECT prize_id FROM tickets WHERE prize_id IS NOT NULL)")
	return errors.Wrap(err, "delete unclaimed prizes")
}

func (v *txView) InsertPrize(ctx context.Context, p lottery.Prize) error {
	_, err := v.tx.ExecContext(ctx,
		"INSERT INTO prizes ("+prizeCols+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		string(p.ID), p.DrawNo, p.Rank, money(p.Amount), string(p.Kind), nullString(p.Suffix), p.CreatedAt.UnixMilli())
	return errors.Wrapf(err, "insert prize draw %d rank %d", p.DrawNo, p.Rank)
}

func (v *txView) BindPrize(ctx context.Context, ticket lottery.TicketID, prize lottery.PrizeID) error {
	n, err := v.exec(ctx, "bind prize",
		"UPDATE tickets SET prize_id = ? WHERE id = ?", string(prize), int64(ticket))
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(lottery.ErrTicketNotFound, "ticket %d", ticket)
	}
	return nil
}

func (v *txView) GetPrize(ctx context.Context, id lottery.PrizeID) (lottery.Prize, error) {
	var row prizeRow
	err := v.tx.GetContext(ctx, &row, "SELECT "+prizeCols+" FROM prizes WHERE id = ?", string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lottery.Prize{}, errors.Wrapf(lottery.ErrPrizeNotFound, "prize %s", id)
		}
		return lottery.Prize{}, errors.Wrapf(err, "load prize %s", id)
	}
	return row.toPrize(), nil
}

func (v *txView) CurrentPrizes(ctx context.Context) ([]lottery.Prize, error) {
	var rows []prizeRow
	err := v.tx.SelectContext(ctx, &rows,
		"SELECT "+prizeCols+" FROM prizes WHERE draw_no = (SELECT MAX(draw_no) FROM prizes) ORDER BY prize_rank")
	if err != nil {
		return nil, errors.Wrap(err, "load current prizes")
	}
	out := make([]lottery.Prize, len(rows))
	for i, r := range rows {
		out[i] = r.toPrize()
	}
	return out, nil
}

// Reset

// ResetAll deletes in foreign-key order: tickets reference the other three tables.
func (v *txView) ResetAll(ctx context.Context) (lottery.ResetCounts, error) {
	var (
		c   lottery.ResetCounts
		err error
	)
	if c.Tickets, err = v.exec(ctx, "delete tickets", "DELETE FROM tickets"); err != nil {
		return c, err
	}
	if c.Purchases, err = v.exec(ctx, "delete purchases", "DELETE FROM purchases"); err != nil {
		return c, err
	}
	if c.Prizes, err = v.exec(ctx, "delete prizes", "DELETE FROM prizes"); err != nil {
		return c, err
	}
	c.Accounts, err = v.exec(ctx, "delete member accounts",
		"DELETE FROM accounts WHERE role = ?", lottery.RoleMember.String())
	return c, err
}

func (v *txView) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := v.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, what)
	}
	return n, nil
}

func int64s(ids []lottery.TicketID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
