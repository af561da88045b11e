// Package wit computes Timor-Leste Wage Income Tax withholding.
//
// Residents pay marginal rates over monthly brackets (0% to $500, 10%
// above under the 2008 Taxes and Duties Act); non-residents pay a flat
// rate on all taxable wages. Bracket tables are data so tenants can carry
// statutory revisions with effective dates.
package wit

import (
	"fmt"

	"github.com/OniT-Enterprises/meza/pkg/money"
)

type Bracket struct {
	// UpToCents is the inclusive upper bound of monthly taxable income for
	// this bracket. Zero marks the final open bracket.
	UpToCents   int64
	RatePercent int64
}

type Table struct {
	Resident    []Bracket
	NonResident []Bracket
}

// Validate checks both bracket lists without computing a withholding, so
// draft tables can be rejected before they are stored.
func (t Table) Validate() error {
	if err := validateBrackets(t.Resident); err != nil {
		return err
	}
	return validateBrackets(t.NonResident)
}

func DefaultTable() Table {
	return Table{
		Resident: []Bracket{
			{UpToCents: 500 * 100, RatePercent: 0},
			{UpToCents: 0, RatePercent: 10},
		},
		NonResident: []Bracket{
			{UpToCents: 0, RatePercent: 10},
		},
	}
}

type Input struct {
	TaxableCents int64
	Resident     bool
	Table        Table
}

type Result struct {
	WithholdingCents    int64
	MarginalRatePercent int64
}

func Withholding(in Input) (Result, error) {
	if in.TaxableCents < 0 {
		return Result{}, fmt.Errorf("wit: taxable income must be non-negative, got %d", in.TaxableCents)
	}

	brackets := in.Table.Resident
	if !in.Resident {
		brackets = in.Table.NonResident
	}
	if err := validateBrackets(brackets); err != nil {
		return Result{}, err
	}

	var total int64
	var marginal int64
	prev := int64(0)
	remaining := in.TaxableCents
	for _, b := range brackets {
		if remaining <= 0 {
			break
		}
		chunk := remaining
		if b.UpToCents > 0 {
			width := b.UpToCents - prev
			if chunk > width {
				chunk = width
			}
			prev = b.UpToCents
		}
		total += money.MulPercentRoundHalfUp(chunk, b.RatePercent)
		marginal = b.RatePercent
		remaining -= chunk
	}

	return Result{WithholdingCents: total, MarginalRatePercent: marginal}, nil
}

func validateBrackets(brackets []Bracket) error {
	if len(brackets) == 0 {
		return fmt.Errorf("wit: bracket table is empty")
	}
	prev := int64(0)
	for i, b := range brackets {
		if b.RatePercent < 0 || b.RatePercent > 100 {
			return fmt.Errorf("wit: bracket %d rate out of range: %d", i, b.RatePercent)
		}
		last := i == len(brackets)-1
		if last {
			if b.UpToCents != 0 {
				return fmt.Errorf("wit: final bracket must be open (up_to=0), got %d", b.UpToCents)
			}
			continue
		}
		if b.UpToCents <= prev {
			return fmt.Errorf("wit: bracket %d bound %d not ascending", i, b.UpToCents)
		}
		prev = b.UpToCents
	}
	return nil
}
