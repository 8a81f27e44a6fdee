/*
errors.go - Error taxonomy of the lottery core

PURPOSE:
  Callers need to tell three kinds of failure apart:
  1. Transient storage faults - retried by the store; only visible once
     retries are exhausted (retry.ErrExhausted, code STORAGE_UNAVAILABLE)
  2. Business-rule violations - RuleError and its structured variants,
     never retried, carry a machine code and a caller-facing message
  3. Integrity faults - IntegrityError, fatal for the request, logged

USAGE:
  res, err := svc.Purchase(ctx, subject, ids)
  switch {
  case errors.Is(err, lottery.ErrInsufficientFunds):
      ...
  case lottery.IsClientError(err):
      respond(400, lottery.CodeOf(err), err.Error())
  }

SEE ALSO:
  - retry/retry.go: ErrExhausted
  - store/sqlstore: maps driver errors onto the sentinels below
*/
package lottery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/lottery-engine/retry"
)

// Code is the machine-readable error code surfaced to callers.
type Code string

const (
	CodeOK                 Code = "OK"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeCeilingExceeded    Code = "CEILING_EXCEEDED"
	CodeRateLimited        Code = "RATE_LIMIT_EXCEEDED"
	CodeAccountNotFound    Code = "ACCOUNT_NOT_FOUND"
	CodeAccountExists      Code = "ACCOUNT_EXISTS"
	CodeInvalidSelection   Code = "INVALID_SELECTION"
	CodeTicketUnavailable  Code = "TICKET_UNAVAILABLE"
	CodeTicketNotFound     Code = "TICKET_NOT_FOUND"
	CodeNotTicketOwner     Code = "NOT_TICKET_OWNER"
	CodeNotAWinner         Code = "NOT_A_WINNER"
	CodeAlreadyClaimed     Code = "ALREADY_CLAIMED"
	CodePoolInsufficient   Code = "POOL_INSUFFICIENT"
	CodeInvalidRewards     Code = "INVALID_REWARDS"
	CodeForbidden          Code = "FORBIDDEN"
	CodeIntegrity          Code = "INTEGRITY_VIOLATION"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrCeilingExceeded   = errors.New("balance ceiling exceeded")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInvalidSelection  = errors.New("invalid ticket selection")
	ErrTicketUnavailable = errors.New("ticket unavailable")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrNotTicketOwner    = errors.New("ticket not owned by caller")
	ErrNotAWinner        = errors.New("ticket did not win")
	ErrAlreadyClaimed    = errors.New("prize already claimed")
	ErrPoolInsufficient  = errors.New("draw pool too small")
	ErrInvalidRewards    = errors.New("invalid rewards")
	ErrForbidden         = errors.New("operation not permitted for role")
	ErrPrizeNotFound     = errors.New("prize not found")
	ErrIntegrity         = errors.New("integrity violation")
)

var sentinelCodes = []struct {
	err  error
	code Code
}{
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrCeilingExceeded, CodeCeilingExceeded},
	{ErrRateLimited, CodeRateLimited},
	{ErrAccountNotFound, CodeAccountNotFound},
	{ErrAccountExists, CodeAccountExists},
	{ErrInvalidSelection, CodeInvalidSelection},
	{ErrTicketUnavailable, CodeTicketUnavailable},
	{ErrTicketNotFound, CodeTicketNotFound},
	{ErrNotTicketOwner, CodeNotTicketOwner},
	{ErrNotAWinner, CodeNotAWinner},
	{ErrAlreadyClaimed, CodeAlreadyClaimed},
	{ErrPoolInsufficient, CodePoolInsufficient},
	{ErrInvalidRewards, CodeInvalidRewards},
	{ErrForbidden, CodeForbidden},
	{ErrIntegrity, CodeIntegrity},
	{ErrPrizeNotFound, CodeIntegrity},
}

func sentinelFor(c Code) error {
	for _, s := range sentinelCodes {
		if s.code == c {
			return s.err
		}
	}
	return nil
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleError is a business-rule violation. It unwraps to the sentinel of its Code.
type RuleError struct {
	Code    Code
	Message string
}

func (e *RuleError) Error() string   { return e.Message }
func (e *RuleError) Unwrap() error   { return sentinelFor(e.Code) }
func (e *RuleError) ErrorCode() Code { return e.Code }

func ruleErr(c Code, format string, args ...any) *RuleError {
	return &RuleError{Code: c, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError provides details about a wallet shortfall.
type InsufficientFundsError struct {
	AccountID AccountID
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, requested %s, shortfall %s",
		e.Balance.StringFixed(2), e.Requested.StringFixed(2),
		e.Requested.Sub(e.Balance).StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error   { return ErrInsufficientFunds }
func (e *InsufficientFundsError) ErrorCode() Code { return CodeInsufficientFunds }

// TicketUnavailableError names the requested tickets that are not available.
type TicketUnavailableError struct {
	Requested []TicketID
	Missing   []TicketID
}

func (e *TicketUnavailableError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = fmt.Sprint(int64(id))
	}
	return fmt.Sprintf("%d of %d requested tickets unavailable: [%s]",
		len(e.Missing), len(e.Requested), strings.Join(ids, ", "))
}

func (e *TicketUnavailableError) Unwrap() error   { return ErrTicketUnavailable }
func (e *TicketUnavailableError) ErrorCode() Code { return CodeTicketUnavailable }

// PoolInsufficientError names the shortfall of a draw pool.
type PoolInsufficientError struct {
	Pool Pool
	Have int
	Need int
}

func (e *PoolInsufficientError) Error() string {
	return fmt.Sprintf("draw pool %q has %d tickets, need at least %d (short by %d)",
		e.Pool, e.Have, e.Need, e.Need-e.Have)
}

func (e *PoolInsufficientError) Unwrap() error   { return ErrPoolInsufficient }
func (e *PoolInsufficientError) ErrorCode() Code { return CodePoolInsufficient }

// IntegrityError is a fatal inconsistency of persisted state.
type IntegrityError struct {
	Op     string
	Detail string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: integrity violation: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: integrity violation: %s", e.Op, e.Detail)
}

func (e *IntegrityError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrIntegrity, e.Err}
	}
	return []error{ErrIntegrity}
}

func (e *IntegrityError) ErrorCode() Code { return CodeIntegrity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

type coded interface{ ErrorCode() Code }

// CodeOf returns the machine code for err, CodeOK for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	if errors.Is(err, retry.ErrExhausted) {
		return CodeStorageUnavailable
	}
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return CodeInternal
}

// IsClientError returns true if the error is due to the caller's request or state.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeOK, CodeIntegrity, CodeStorageUnavailable, CodeInternal:
		return false
	}
	return true
}

// IsDomainError reports whether err is a business-rule or integrity failure
// of the lottery core, as opposed to a storage or unknown fault.
func IsDomainError(err error) bool {
	switch CodeOf(err) {
	case CodeOK, CodeStorageUnavailable, CodeInternal:
		return false
	}
	return true
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTicketNotFound)
}

// IsRetryable returns true if the error might succeed when the caller tries later.
func IsRetryable(err error) bool {
	return errors.Is(err, retry.ErrExhausted) || errors.Is(err, ErrRateLimited)
}
