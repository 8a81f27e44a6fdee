package lottery

import (
	"github.com/shopspring/decimal"
)

// Scale is the fixed number of decimals for every monetary value.
const Scale = 2

var (
	// DefaultCeiling is the largest balance a wallet may hold.
	DefaultCeiling = decimal.NewFromInt(1_000_000)

	// DefaultTicketPrice is the price of generated tickets.
	DefaultTicketPrice = decimal.NewFromInt(80)
)

// ParseAmount parses a decimal string and validates it against ceiling.
func ParseAmount(s string, ceiling decimal.Decimal) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ruleErr(CodeInvalidAmount, "amount %q is not a number", s)
	}
	if err := ValidateAmount(d, ceiling); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// MustAmount parses s and panics on error. Intended for constants and tests.
func MustAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ValidateAmount checks 0 <= amount <= ceiling with at most two decimals.
func ValidateAmount(amount, ceiling decimal.Decimal) error {
	if amount.IsNegative() {
		return ruleErr(CodeInvalidAmount, "amount %s is negative", amount)
	}
	if !amount.Equal(amount.Round(Scale)) {
		return ruleErr(CodeInvalidAmount, "amount %s has more than %d decimals", amount, Scale)
	}
	if amount.GreaterThan(ceiling) {
		return ruleErr(CodeCeilingExceeded, "amount %s exceeds ceiling %s",
			amount.StringFixed(Scale), ceiling.StringFixed(Scale))
	}
	return nil
}

// Sum adds amounts, such as the prices of a purchase.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
