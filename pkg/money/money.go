// Package money holds the cent arithmetic shared by the payroll engine and
// the HTTP edges. Amounts are int64 cents everywhere; decimal strings only
// appear at parse/format boundaries.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// maxCents bounds parsed amounts to $10M, far above any single payroll figure.
const maxCents int64 = 1_000_000_000

var hundred = decimal.NewFromInt(100)

func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q", s)
	}
	c := d.Mul(hundred)
	if !c.IsInteger() {
		return 0, fmt.Errorf("money: amount %q has more than 2 decimal places", s)
	}
	cents := c.IntPart()
	if cents > maxCents || cents < -maxCents {
		return 0, fmt.Errorf("money: amount %q out of range", s)
	}
	return cents, nil
}

func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// MulPercentRoundHalfUp applies an integer percentage to a cent amount and
// rounds half up. Callers must pass non-negative inputs.
func MulPercentRoundHalfUp(amountCents int64, percent int64) int64 {
	if amountCents < 0 || percent < 0 {
		panic("money: MulPercentRoundHalfUp expects non-negative inputs")
	}
	if amountCents == 0 || percent == 0 {
		return 0
	}

	n := amountCents * percent
	q := n / 100
	r := n % 100
	if r >= 50 {
		return q + 1
	}
	return q
}

// DivRoundHalfUp divides cents by a positive divisor, rounding half up.
func DivRoundHalfUp(numCents int64, div int64) int64 {
	if numCents < 0 || div <= 0 {
		panic("money: DivRoundHalfUp expects non-negative numerator and positive divisor")
	}
	q := numCents / div
	r := numCents % div
	if 2*r >= div {
		return q + 1
	}
	return q
}

// ProRate scales a cent amount by num/den, rounding half up.
func ProRate(amountCents int64, num int64, den int64) int64 {
	if amountCents < 0 || num < 0 || den <= 0 {
		panic("money: ProRate expects non-negative inputs and positive denominator")
	}
	return DivRoundHalfUp(amountCents*num, den)
}

func Max0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
