// Package engine computes a single employee's gross-to-net payslip for one
// pay period. Calculate is a pure function: identical inputs produce
// identical results, all arithmetic is int64 cents, and every percentage
// application rounds half up.
package engine

import (
	"fmt"
	"time"

	"github.com/OniT-Enterprises/meza/pkg/money"
	"github.com/OniT-Enterprises/meza/pkg/payroll/inss"
	"github.com/OniT-Enterprises/meza/pkg/payroll/wit"
)

type PayBasis string

const (
	PayBasisMonthly PayBasis = "MONTHLY"
	PayBasisHourly  PayBasis = "HOURLY"
)

type RunType string

const (
	RunTypeRegular       RunType = "REGULAR"
	RunTypeAnnualSubsidy RunType = "ANNUAL_SUBSIDY"
)

const (
	EarningBase          = "BASE"
	EarningOvertime      = "OVERTIME"
	EarningNight         = "NIGHT"
	EarningRestDay       = "REST_DAY"
	EarningSubsidioAnual = "SUBSIDIO_ANUAL"

	DeductionWIT          = "WIT"
	DeductionINSSEmployee = "INSS_EMPLOYEE"
)

const (
	WarnOvertimeAbovePolicy     = "OVERTIME_ABOVE_POLICY"
	WarnWageBelowMinimum        = "WAGE_BELOW_MINIMUM"
	WarnNoHours                 = "NO_HOURS"
	WarnAdvanceRecoveryDeferred = "ADVANCE_RECOVERY_DEFERRED"
	WarnDeductionReduced        = "DEDUCTION_REDUCED"
	WarnAbsenceExceedsBase      = "ABSENCE_EXCEEDS_BASE"
)

type Period struct {
	Year  int
	Month time.Month
}

type Employee struct {
	EmployeeUUID       string
	PayBasis           PayBasis
	MonthlySalaryCents int64
	HourlyRateCents    int64
	Resident           bool
	INSSExempt         bool
	HireDate           time.Time
	// TerminationDate is zero for active employees.
	TerminationDate time.Time
}

// Minutes holds worked time per pay bucket. Buckets are disjoint: overtime,
// night and rest-day minutes are not repeated inside RegularMinutes.
type Minutes struct {
	Regular       int64
	Overtime      int64
	Night         int64
	RestDay       int64
	UnpaidAbsence int64
}

type Allowance struct {
	Code        string
	Name        string
	AmountCents int64
	Taxable     bool
	INSSBase    bool
}

type Deduction struct {
	Code        string
	Name        string
	AmountCents int64
}

type AdvanceDue struct {
	AdvanceID        string
	InstallmentCents int64
	OutstandingCents int64
}

type PayPolicy struct {
	OvertimePercent          int64
	NightPercent             int64
	RestDayPercent           int64
	StandardMonthlyHours     int64
	MaxOvertimeHoursPerMonth int64
	MinimumMonthlyWageCents  int64
}

// DefaultPayPolicy carries the Labour Code (Law 4/2012) premiums: overtime
// at 150%, night work at 125%, rest-day and public-holiday work at 200%,
// and the statutory $115 monthly minimum wage.
func DefaultPayPolicy() PayPolicy {
	return PayPolicy{
		OvertimePercent:          150,
		NightPercent:             125,
		RestDayPercent:           200,
		StandardMonthlyHours:     191,
		MaxOvertimeHoursPerMonth: 64,
		MinimumMonthlyWageCents:  115 * 100,
	}
}

type Input struct {
	Period     Period
	RunType    RunType
	Employee   Employee
	Minutes    Minutes
	Allowances []Allowance
	Deductions []Deduction
	Advances   []AdvanceDue
	Policy     PayPolicy
	WITTable   wit.Table
	INSSRates  inss.RateTable
}

type EarningLine struct {
	Code        string
	Name        string
	Minutes     int64
	RateCents   int64
	AmountCents int64
}

type DeductionLine struct {
	Code        string
	Name        string
	AmountCents int64
	Statutory   bool
}

type AdvanceRecovery struct {
	AdvanceID     string
	AmountCents   int64
	DeferredCents int64
}

type Warning struct {
	Code    string
	Message string
}

type Result struct {
	Earnings            []EarningLine
	Deductions          []DeductionLine
	AdvanceRecoveries   []AdvanceRecovery
	GrossCents          int64
	TaxableCents        int64
	INSSBaseCents       int64
	WITCents            int64
	INSSEmployeeCents   int64
	INSSEmployerCents   int64
	TotalDeductionCents int64
	NetCents            int64
	EmployerCostCents   int64
	MarginalWITPercent  int64
	Warnings            []Warning
}

func Calculate(in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	var res Result

	hourlyRate, err := hourlyRateCents(in.Employee, in.Policy)
	if err != nil {
		return Result{}, err
	}

	switch in.RunType {
	case RunTypeRegular:
		buildRegularEarnings(in, hourlyRate, &res)
	case RunTypeAnnualSubsidy:
		if err := buildSubsidyEarning(in, &res); err != nil {
			return Result{}, err
		}
	}

	if in.RunType == RunTypeRegular {
		for _, a := range in.Allowances {
			res.Earnings = append(res.Earnings, EarningLine{Code: a.Code, Name: a.Name, AmountCents: a.AmountCents})
		}
	}

	for _, e := range res.Earnings {
		res.GrossCents += e.AmountCents
	}

	res.TaxableCents = res.GrossCents
	res.INSSBaseCents = res.GrossCents
	if in.RunType == RunTypeRegular {
		for _, a := range in.Allowances {
			if !a.Taxable {
				res.TaxableCents -= a.AmountCents
			}
			if !a.INSSBase {
				res.INSSBaseCents -= a.AmountCents
			}
		}
	}
	res.TaxableCents = money.Max0(res.TaxableCents)
	res.INSSBaseCents = money.Max0(res.INSSBaseCents)
	if in.Employee.INSSExempt {
		res.INSSBaseCents = 0
	}

	witRes, err := wit.Withholding(wit.Input{TaxableCents: res.TaxableCents, Resident: in.Employee.Resident, Table: in.WITTable})
	if err != nil {
		return Result{}, err
	}
	res.WITCents = witRes.WithholdingCents
	res.MarginalWITPercent = witRes.MarginalRatePercent

	inssRes, err := inss.Contributions(inss.Input{ContributoryBaseCents: res.INSSBaseCents, Rates: in.INSSRates})
	if err != nil {
		return Result{}, err
	}
	res.INSSEmployeeCents = inssRes.EmployeeCents
	res.INSSEmployerCents = inssRes.EmployerCents

	applyDeductions(in, &res)

	res.NetCents = res.GrossCents - res.TotalDeductionCents
	res.EmployerCostCents = res.GrossCents + res.INSSEmployerCents

	addPolicyWarnings(in, &res)

	return res, nil
}

func validate(in Input) error {
	switch in.RunType {
	case RunTypeRegular, RunTypeAnnualSubsidy:
	default:
		return fmt.Errorf("engine: unsupported run type %q", in.RunType)
	}
	if in.Period.Year < 2000 || in.Period.Year > 2200 {
		return fmt.Errorf("engine: period year out of range: %d", in.Period.Year)
	}
	if in.Period.Month < time.January || in.Period.Month > time.December {
		return fmt.Errorf("engine: period month out of range: %d", in.Period.Month)
	}
	switch in.Employee.PayBasis {
	case PayBasisMonthly:
		if in.Employee.MonthlySalaryCents <= 0 {
			return fmt.Errorf("engine: monthly basis requires a positive salary")
		}
	case PayBasisHourly:
		if in.Employee.HourlyRateCents <= 0 {
			return fmt.Errorf("engine: hourly basis requires a positive rate")
		}
	default:
		return fmt.Errorf("engine: unsupported pay basis %q", in.Employee.PayBasis)
	}
	if in.Employee.HireDate.IsZero() {
		return fmt.Errorf("engine: hire date is required")
	}
	m := in.Minutes
	if m.Regular < 0 || m.Overtime < 0 || m.Night < 0 || m.RestDay < 0 || m.UnpaidAbsence < 0 {
		return fmt.Errorf("engine: minutes must be non-negative")
	}
	if in.Policy.StandardMonthlyHours <= 0 {
		return fmt.Errorf("engine: policy standard monthly hours must be positive")
	}
	if in.Policy.OvertimePercent < 100 || in.Policy.NightPercent < 100 || in.Policy.RestDayPercent < 100 {
		return fmt.Errorf("engine: policy multipliers must be at least 100 percent")
	}
	for _, a := range in.Allowances {
		if a.AmountCents < 0 {
			return fmt.Errorf("engine: allowance %s amount must be non-negative", a.Code)
		}
	}
	for _, d := range in.Deductions {
		if d.AmountCents < 0 {
			return fmt.Errorf("engine: deduction %s amount must be non-negative", d.Code)
		}
	}
	for _, adv := range in.Advances {
		if adv.InstallmentCents < 0 || adv.OutstandingCents < 0 {
			return fmt.Errorf("engine: advance %s amounts must be non-negative", adv.AdvanceID)
		}
	}
	return nil
}

// hourlyRateCents derives the rate used for premium buckets and absence
// valuation. Monthly salaries convert through the policy's standard hours.
func hourlyRateCents(e Employee, p PayPolicy) (int64, error) {
	switch e.PayBasis {
	case PayBasisMonthly:
		return money.DivRoundHalfUp(e.MonthlySalaryCents, p.StandardMonthlyHours), nil
	case PayBasisHourly:
		return e.HourlyRateCents, nil
	}
	return 0, fmt.Errorf("engine: unsupported pay basis %q", e.PayBasis)
}

func minutesValue(rateCents int64, minutes int64) int64 {
	if minutes == 0 {
		return 0
	}
	return money.DivRoundHalfUp(rateCents*minutes, 60)
}

func buildRegularEarnings(in Input, hourlyRate int64, res *Result) {
	e := in.Employee
	m := in.Minutes

	switch e.PayBasis {
	case PayBasisMonthly:
		base := e.MonthlySalaryCents
		if m.UnpaidAbsence > 0 {
			absence := minutesValue(hourlyRate, m.UnpaidAbsence)
			if absence > base {
				res.Warnings = append(res.Warnings, Warning{
					Code:    WarnAbsenceExceedsBase,
					Message: fmt.Sprintf("unpaid absence %s exceeds base salary %s", money.FormatCents(absence), money.FormatCents(base)),
				})
				absence = base
			}
			base -= absence
		}
		res.Earnings = append(res.Earnings, EarningLine{Code: EarningBase, Name: "Base salary", AmountCents: base})
	case PayBasisHourly:
		res.Earnings = append(res.Earnings, EarningLine{
			Code:        EarningBase,
			Name:        "Base pay",
			Minutes:     m.Regular,
			RateCents:   hourlyRate,
			AmountCents: minutesValue(hourlyRate, m.Regular),
		})
	}

	premiums := []struct {
		code    string
		name    string
		minutes int64
		percent int64
	}{
		{EarningOvertime, "Overtime", m.Overtime, in.Policy.OvertimePercent},
		{EarningNight, "Night work", m.Night, in.Policy.NightPercent},
		{EarningRestDay, "Rest day / public holiday work", m.RestDay, in.Policy.RestDayPercent},
	}
	for _, p := range premiums {
		if p.minutes == 0 {
			continue
		}
		res.Earnings = append(res.Earnings, EarningLine{
			Code:        p.code,
			Name:        p.name,
			Minutes:     p.minutes,
			RateCents:   money.MulPercentRoundHalfUp(hourlyRate, p.percent),
			AmountCents: money.MulPercentRoundHalfUp(minutesValue(hourlyRate, p.minutes), p.percent),
		})
	}
}

func buildSubsidyEarning(in Input, res *Result) error {
	monthlyBase := in.Employee.MonthlySalaryCents
	if in.Employee.PayBasis == PayBasisHourly {
		monthlyBase = in.Employee.HourlyRateCents * in.Policy.StandardMonthlyHours
	}

	months := MonthsWorkedInYear(in.Employee.HireDate, in.Employee.TerminationDate, in.Period.Year)
	if months == 0 {
		return fmt.Errorf("engine: employee %s has no qualifying months in %d", in.Employee.EmployeeUUID, in.Period.Year)
	}

	res.Earnings = append(res.Earnings, EarningLine{
		Code:        EarningSubsidioAnual,
		Name:        fmt.Sprintf("Subsidio Anual %d (%d/12)", in.Period.Year, months),
		AmountCents: money.ProRate(monthlyBase, months, 12),
	})
	return nil
}

// MonthsWorkedInYear counts the calendar months of the given year in which
// the employee was employed for at least 15 days. The count caps at 12 and
// drives Subsidio Anual pro-ration.
func MonthsWorkedInYear(hire time.Time, termination time.Time, year int) int64 {
	if hire.IsZero() {
		return 0
	}
	var months int64
	for m := time.January; m <= time.December; m++ {
		monthStart := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		monthEnd := monthStart.AddDate(0, 1, 0)

		from := monthStart
		if hire.After(from) {
			from = hire
		}
		to := monthEnd
		if !termination.IsZero() && termination.Before(to) {
			to = termination.AddDate(0, 0, 1)
		}
		if !to.After(from) {
			continue
		}
		days := int64(to.Sub(from).Hours() / 24)
		if days >= 15 {
			months++
		}
	}
	return months
}

func applyDeductions(in Input, res *Result) {
	addLine := func(line DeductionLine) {
		res.Deductions = append(res.Deductions, line)
		res.TotalDeductionCents += line.AmountCents
	}

	if res.WITCents > 0 {
		addLine(DeductionLine{Code: DeductionWIT, Name: "Wage income tax", AmountCents: res.WITCents, Statutory: true})
	}
	if res.INSSEmployeeCents > 0 {
		addLine(DeductionLine{Code: DeductionINSSEmployee, Name: "INSS employee contribution", AmountCents: res.INSSEmployeeCents, Statutory: true})
	}

	available := res.GrossCents - res.TotalDeductionCents

	for _, d := range in.Deductions {
		amount := d.AmountCents
		if amount > available {
			res.Warnings = append(res.Warnings, Warning{
				Code:    WarnDeductionReduced,
				Message: fmt.Sprintf("deduction %s reduced from %s to %s", d.Code, money.FormatCents(amount), money.FormatCents(money.Max0(available))),
			})
			amount = money.Max0(available)
		}
		if amount == 0 && d.AmountCents == 0 {
			continue
		}
		addLine(DeductionLine{Code: d.Code, Name: d.Name, AmountCents: amount})
		available -= amount
	}

	for _, adv := range in.Advances {
		planned := adv.InstallmentCents
		if planned > adv.OutstandingCents {
			planned = adv.OutstandingCents
		}
		take := planned
		if take > available {
			take = money.Max0(available)
		}
		rec := AdvanceRecovery{AdvanceID: adv.AdvanceID, AmountCents: take, DeferredCents: planned - take}
		if rec.DeferredCents > 0 {
			res.Warnings = append(res.Warnings, Warning{
				Code:    WarnAdvanceRecoveryDeferred,
				Message: fmt.Sprintf("advance %s recovery deferred by %s", adv.AdvanceID, money.FormatCents(rec.DeferredCents)),
			})
		}
		if take > 0 {
			addLine(DeductionLine{Code: "ADVANCE", Name: "Advance recovery " + adv.AdvanceID, AmountCents: take})
			available -= take
		}
		res.AdvanceRecoveries = append(res.AdvanceRecoveries, rec)
	}
}

func addPolicyWarnings(in Input, res *Result) {
	if in.RunType != RunTypeRegular {
		return
	}

	if in.Policy.MaxOvertimeHoursPerMonth > 0 && in.Minutes.Overtime > in.Policy.MaxOvertimeHoursPerMonth*60 {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnOvertimeAbovePolicy,
			Message: fmt.Sprintf("overtime %d minutes exceeds policy maximum of %d hours", in.Minutes.Overtime, in.Policy.MaxOvertimeHoursPerMonth),
		})
	}

	if in.Employee.PayBasis == PayBasisMonthly &&
		in.Policy.MinimumMonthlyWageCents > 0 &&
		in.Employee.MonthlySalaryCents < in.Policy.MinimumMonthlyWageCents {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnWageBelowMinimum,
			Message: fmt.Sprintf("monthly salary %s below minimum wage %s", money.FormatCents(in.Employee.MonthlySalaryCents), money.FormatCents(in.Policy.MinimumMonthlyWageCents)),
		})
	}

	if in.Employee.PayBasis == PayBasisHourly && in.Minutes.Regular == 0 && in.Minutes.Overtime == 0 && in.Minutes.Night == 0 && in.Minutes.RestDay == 0 {
		res.Warnings = append(res.Warnings, Warning{Code: WarnNoHours, Message: "hourly employee has no worked minutes this period"})
	}
}
