// Package inss computes Timor-Leste social security contributions under the
// contributory regime of Decree-Law 2/2016: a percentage of the contributory
// remuneration borne by the employee and another by the employer. There is
// no contribution ceiling.
package inss

import (
	"fmt"

	"github.com/OniT-Enterprises/meza/pkg/money"
)

type RateTable struct {
	EmployeePercent int64
	EmployerPercent int64
}

func DefaultRates() RateTable {
	return RateTable{EmployeePercent: 4, EmployerPercent: 6}
}

// Validate rejects out-of-range rates so drafts fail before they are stored.
func (r RateTable) Validate() error {
	return validateRates(r)
}

type Input struct {
	ContributoryBaseCents int64
	Rates                 RateTable
}

type Result struct {
	EmployeeCents int64
	EmployerCents int64
}

func Contributions(in Input) (Result, error) {
	if in.ContributoryBaseCents < 0 {
		return Result{}, fmt.Errorf("inss: contributory base must be non-negative, got %d", in.ContributoryBaseCents)
	}
	if err := validateRates(in.Rates); err != nil {
		return Result{}, err
	}

	return Result{
		EmployeeCents: money.MulPercentRoundHalfUp(in.ContributoryBaseCents, in.Rates.EmployeePercent),
		EmployerCents: money.MulPercentRoundHalfUp(in.ContributoryBaseCents, in.Rates.EmployerPercent),
	}, nil
}

func validateRates(r RateTable) error {
	if r.EmployeePercent < 0 || r.EmployeePercent > 100 {
		return fmt.Errorf("inss: employee rate out of range: %d", r.EmployeePercent)
	}
	if r.EmployerPercent < 0 || r.EmployerPercent > 100 {
		return fmt.Errorf("inss: employer rate out of range: %d", r.EmployerPercent)
	}
	return nil
}
