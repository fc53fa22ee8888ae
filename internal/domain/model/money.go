package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyUSD is the only currency the ledger records.
const CurrencyUSD = "USD"

// ErrInvalidAmount is returned when a dollar string cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// maxDollars bounds parsed amounts so cents always fit in an int64.
var maxDollars = decimal.NewFromInt(1_000_000_000_000)

// ParseDollars converts a decimal dollar string to integer cents. The value is
// rounded to two fractional digits with round-half-to-even before scaling, so
// "0.125" becomes 12 and "0.135" becomes 14. Negative values parse successfully;
// rejecting them is the ledger's decision.
func ParseDollars(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Abs().GreaterThan(maxDollars) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}

	return d.RoundBank(2).Shift(2).IntPart(), nil
}

// FormatCents renders integer cents as a two-decimal dollar string using integer
// arithmetic only: 1635 -> "16.35", 5 -> "0.05".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	frac := cents % 100
	pad := ""
	if frac < 10 {
		pad = "0"
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + pad + strconv.FormatInt(frac, 10)
}
