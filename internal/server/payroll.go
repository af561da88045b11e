package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/pkg/payroll/engine"
)

// PayPeriod is one calendar month of payroll for a pay group. Periods start
// open and are locked once every run in them is finalized; a locked period
// accepts no further runs or recalculations.
type PayPeriod struct {
	ID               string `json:"id"`
	PayGroup         string `json:"pay_group"`
	Year             int    `json:"year"`
	Month            int    `json:"month"`
	StartDate        string `json:"start_date"`
	EndDateExclusive string `json:"end_date_exclusive"`
	Status           string `json:"status"`
	LockedAt         string `json:"locked_at"`
}

// RunTotals aggregates the payslips of one run. All amounts are USD cents.
type RunTotals struct {
	PayslipCount        int   `json:"payslip_count"`
	GrossCents          int64 `json:"gross_cents"`
	WITCents            int64 `json:"wit_cents"`
	INSSEmployeeCents   int64 `json:"inss_employee_cents"`
	INSSEmployerCents   int64 `json:"inss_employer_cents"`
	TotalDeductionCents int64 `json:"total_deduction_cents"`
	NetCents            int64 `json:"net_cents"`
	EmployerCostCents   int64 `json:"employer_cost_cents"`
	WarningCount        int   `json:"warning_count"`
}

// PayrollRun moves draft -> calculating -> calculated -> finalized. A failed
// calculation parks the run in failed; calculate again to retry. One run per
// period and run type.
type PayrollRun struct {
	ID             string    `json:"id"`
	PayPeriodID    string    `json:"pay_period_id"`
	RunType        string    `json:"run_type"`
	Status         string    `json:"status"`
	Totals         RunTotals `json:"totals"`
	PolicyVersion  string    `json:"policy_version"`
	ErrorCode      string    `json:"error_code"`
	CalcStartedAt  string    `json:"calc_started_at"`
	CalcFinishedAt string    `json:"calc_finished_at"`
	FinalizedAt    string    `json:"finalized_at"`
	CreatedAt      string    `json:"created_at"`
}

type PayslipWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Payslip struct {
	ID                  string           `json:"id"`
	RunID               string           `json:"run_id"`
	PayPeriodID         string           `json:"pay_period_id"`
	PayslipNo           string           `json:"payslip_no"`
	EmployeeID          string           `json:"employee_id"`
	EmployeeNo          string           `json:"employee_no"`
	EmployeeName        string           `json:"employee_name"`
	Currency            string           `json:"currency"`
	GrossCents          int64            `json:"gross_cents"`
	TaxableCents        int64            `json:"taxable_cents"`
	INSSBaseCents       int64            `json:"inss_base_cents"`
	WITCents            int64            `json:"wit_cents"`
	INSSEmployeeCents   int64            `json:"inss_employee_cents"`
	INSSEmployerCents   int64            `json:"inss_employer_cents"`
	TotalDeductionCents int64            `json:"total_deduction_cents"`
	NetCents            int64            `json:"net_cents"`
	EmployerCostCents   int64            `json:"employer_cost_cents"`
	Warnings            []PayslipWarning `json:"warnings"`
}

type PayslipItem struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	AmountCents int64           `json:"amount_cents"`
	Meta        json.RawMessage `json:"meta"`
}

type PayslipDetail struct {
	Payslip
	Items []PayslipItem `json:"items"`
}

// payslipDraft is one employee's calculated result before it is numbered and
// persisted.
type payslipDraft struct {
	EmployeeID   string
	EmployeeNo   string
	EmployeeName string
	Result       engine.Result
}

type PayrollStore interface {
	ListPayPeriods(ctx context.Context, tenantID string, payGroup string) ([]PayPeriod, error)
	CreatePayPeriod(ctx context.Context, tenantID string, payGroup string, year int, month int) (PayPeriod, error)
	GetPayPeriod(ctx context.Context, tenantID string, periodID string) (PayPeriod, error)
	LockPayPeriod(ctx context.Context, tenantID string, periodID string) (PayPeriod, error)

	ListPayrollRuns(ctx context.Context, tenantID string, payPeriodID string) ([]PayrollRun, error)
	CreatePayrollRun(ctx context.Context, tenantID string, payPeriodID string, runType string) (PayrollRun, error)
	GetPayrollRun(ctx context.Context, tenantID string, runID string) (PayrollRun, error)
	BeginCalculation(ctx context.Context, tenantID string, runID string) (PayrollRun, error)
	CompleteCalculation(ctx context.Context, tenantID string, runID string, drafts []payslipDraft) (PayrollRun, error)
	FailCalculation(ctx context.Context, tenantID string, runID string, errorCode string) error
	FinalizePayrollRun(ctx context.Context, tenantID string, runID string, policyVersion string) (PayrollRun, error)

	ListPayslips(ctx context.Context, tenantID string, runID string) ([]Payslip, error)
	GetPayslip(ctx context.Context, tenantID string, payslipID string) (PayslipDetail, error)
}

type payrollPGStore struct {
	pool pgBeginner
}

func newPayrollPGStore(pool pgBeginner) *payrollPGStore {
	return &payrollPGStore{pool: pool}
}

func normalizeRunType(raw string) (string, error) {
	rt := strings.ToUpper(strings.TrimSpace(raw))
	if rt == "" {
		rt = string(engine.RunTypeRegular)
	}
	switch rt {
	case string(engine.RunTypeRegular), string(engine.RunTypeAnnualSubsidy):
		return rt, nil
	}
	return "", errors.New("run_type must be REGULAR or ANNUAL_SUBSIDY")
}

func validatePayPeriodParams(payGroup string, year int, month int) error {
	if payGroup == "" {
		return errors.New("pay_group is required")
	}
	if !payGroupSlugPattern.MatchString(payGroup) {
		return errors.New("pay_group must be a lowercase slug")
	}
	if year < 2000 || year > 2200 {
		return errors.New("year out of range")
	}
	if month < 1 || month > 12 {
		return errors.New("month must be 1-12")
	}
	return nil
}

// payPeriodDates returns the closed start date and the exclusive end date of
// a calendar month.
func payPeriodDates(year int, month int) (string, string) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

// payslipFromDraft maps an engine result onto the stored payslip row plus its
// line items. Item order is earnings, deductions, advance recoveries.
func payslipFromDraft(d payslipDraft, payslipNo string) (Payslip, []PayslipItem) {
	res := d.Result
	slip := Payslip{
		PayslipNo:           payslipNo,
		EmployeeID:          d.EmployeeID,
		EmployeeNo:          d.EmployeeNo,
		EmployeeName:        d.EmployeeName,
		Currency:            "USD",
		GrossCents:          res.GrossCents,
		TaxableCents:        res.TaxableCents,
		INSSBaseCents:       res.INSSBaseCents,
		WITCents:            res.WITCents,
		INSSEmployeeCents:   res.INSSEmployeeCents,
		INSSEmployerCents:   res.INSSEmployerCents,
		TotalDeductionCents: res.TotalDeductionCents,
		NetCents:            res.NetCents,
		EmployerCostCents:   res.EmployerCostCents,
		Warnings:            []PayslipWarning{},
	}
	for _, w := range res.Warnings {
		slip.Warnings = append(slip.Warnings, PayslipWarning{Code: w.Code, Message: w.Message})
	}

	var items []PayslipItem
	for _, e := range res.Earnings {
		meta, _ := json.Marshal(map[string]any{"minutes": e.Minutes, "rate_cents": e.RateCents})
		items = append(items, PayslipItem{
			Kind:        "earning",
			Code:        e.Code,
			Name:        e.Name,
			AmountCents: e.AmountCents,
			Meta:        meta,
		})
	}
	for _, dl := range res.Deductions {
		meta, _ := json.Marshal(map[string]any{"statutory": dl.Statutory})
		items = append(items, PayslipItem{
			Kind:        "deduction",
			Code:        dl.Code,
			Name:        dl.Name,
			AmountCents: dl.AmountCents,
			Meta:        meta,
		})
	}
	for _, a := range res.AdvanceRecoveries {
		meta, _ := json.Marshal(map[string]any{"advance_id": a.AdvanceID, "deferred_cents": a.DeferredCents})
		items = append(items, PayslipItem{
			Kind:        "advance",
			Code:        "ADVANCE",
			Name:        "Advance recovery",
			AmountCents: a.AmountCents,
			Meta:        meta,
		})
	}
	return slip, items
}

func runTotalsFromDrafts(drafts []payslipDraft) RunTotals {
	var t RunTotals
	t.PayslipCount = len(drafts)
	for _, d := range drafts {
		t.GrossCents += d.Result.GrossCents
		t.WITCents += d.Result.WITCents
		t.INSSEmployeeCents += d.Result.INSSEmployeeCents
		t.INSSEmployerCents += d.Result.INSSEmployerCents
		t.TotalDeductionCents += d.Result.TotalDeductionCents
		t.NetCents += d.Result.NetCents
		t.EmployerCostCents += d.Result.EmployerCostCents
		t.WarningCount += len(d.Result.Warnings)
	}
	return t
}

const payPeriodSelectColumns = `
  id::text,
  pay_group,
  year,
  month,
  lower(period)::text AS start_date,
  upper(period)::text AS end_date_exclusive,
  status,
  COALESCE(locked_at::text, '') AS locked_at
`

func scanPayPeriod(row pgx.Row, p *PayPeriod) error {
	return row.Scan(
		&p.ID,
		&p.PayGroup,
		&p.Year,
		&p.Month,
		&p.StartDate,
		&p.EndDateExclusive,
		&p.Status,
		&p.LockedAt,
	)
}

const payrollRunSelectColumns = `
  id::text,
  pay_period_id::text,
  run_type,
  status,
  payslip_count,
  gross_cents,
  wit_cents,
  inss_employee_cents,
  inss_employer_cents,
  total_deduction_cents,
  net_cents,
  employer_cost_cents,
  warning_count,
  COALESCE(policy_version, '') AS policy_version,
  COALESCE(error_code, '') AS error_code,
  COALESCE(calc_started_at::text, '') AS calc_started_at,
  COALESCE(calc_finished_at::text, '') AS calc_finished_at,
  COALESCE(finalized_at::text, '') AS finalized_at,
  created_at::text
`

func scanPayrollRun(row pgx.Row, r *PayrollRun) error {
	return row.Scan(
		&r.ID,
		&r.PayPeriodID,
		&r.RunType,
		&r.Status,
		&r.Totals.PayslipCount,
		&r.Totals.GrossCents,
		&r.Totals.WITCents,
		&r.Totals.INSSEmployeeCents,
		&r.Totals.INSSEmployerCents,
		&r.Totals.TotalDeductionCents,
		&r.Totals.NetCents,
		&r.Totals.EmployerCostCents,
		&r.Totals.WarningCount,
		&r.PolicyVersion,
		&r.ErrorCode,
		&r.CalcStartedAt,
		&r.CalcFinishedAt,
		&r.FinalizedAt,
		&r.CreatedAt,
	)
}

const payslipSelectColumns = `
  id::text,
  run_id::text,
  pay_period_id::text,
  payslip_no,
  employee_id::text,
  employee_no,
  employee_name,
  currency,
  gross_cents,
  taxable_cents,
  inss_base_cents,
  wit_cents,
  inss_employee_cents,
  inss_employer_cents,
  total_deduction_cents,
  net_cents,
  employer_cost_cents,
  warnings::text
`

func scanPayslip(row pgx.Row, p *Payslip) error {
	var warnings string
	if err := row.Scan(
		&p.ID,
		&p.RunID,
		&p.PayPeriodID,
		&p.PayslipNo,
		&p.EmployeeID,
		&p.EmployeeNo,
		&p.EmployeeName,
		&p.Currency,
		&p.GrossCents,
		&p.TaxableCents,
		&p.INSSBaseCents,
		&p.WITCents,
		&p.INSSEmployeeCents,
		&p.INSSEmployerCents,
		&p.TotalDeductionCents,
		&p.NetCents,
		&p.EmployerCostCents,
		&warnings,
	); err != nil {
		return err
	}
	p.Warnings = []PayslipWarning{}
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &p.Warnings); err != nil {
			return err
		}
	}
	return nil
}

func (s *payrollPGStore) ListPayPeriods(ctx context.Context, tenantID string, payGroup string) ([]PayPeriod, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	payGroup = strings.ToLower(strings.TrimSpace(payGroup))

	var rows pgRows
	if payGroup == "" {
		rows, err = tx.Query(ctx, `
SELECT`+payPeriodSelectColumns+`
FROM payroll.pay_periods
WHERE tenant_id = $1::uuid
ORDER BY lower(period) DESC, pay_group ASC, id::text ASC
`, tenantID)
	} else {
		rows, err = tx.Query(ctx, `
SELECT`+payPeriodSelectColumns+`
FROM payroll.pay_periods
WHERE tenant_id = $1::uuid
  AND pay_group = $2::text
ORDER BY lower(period) DESC, id::text ASC
`, tenantID, payGroup)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayPeriod
	for rows.Next() {
		var p PayPeriod
		if err := scanPayPeriod(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *payrollPGStore) CreatePayPeriod(ctx context.Context, tenantID string, payGroup string, year int, month int) (PayPeriod, error) {
	payGroup = strings.ToLower(strings.TrimSpace(payGroup))
	if err := validatePayPeriodParams(payGroup, year, month); err != nil {
		return PayPeriod{}, newBadRequestError(err.Error())
	}
	startDate, endDate := payPeriodDates(year, month)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayPeriod{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayPeriod{}, err
	}

	var periodID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&periodID); err != nil {
		return PayPeriod{}, err
	}
	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return PayPeriod{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"pay_group":          payGroup,
		"year":               year,
		"month":              month,
		"start_date":         startDate,
		"end_date_exclusive": endDate,
	})
	if err != nil {
		return PayPeriod{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT payroll.submit_pay_period_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  'CREATE',
  $4::jsonb,
  $5::text,
  $6::uuid
)
`, eventID, tenantID, periodID, payload, eventID, tenantID); err != nil {
		return PayPeriod{}, err
	}

	var out PayPeriod
	if err := scanPayPeriod(tx.QueryRow(ctx, `
SELECT`+payPeriodSelectColumns+`
FROM payroll.pay_periods
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, periodID), &out); err != nil {
		return PayPeriod{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayPeriod{}, err
	}
	return out, nil
}

func (s *payrollPGStore) GetPayPeriod(ctx context.Context, tenantID string, periodID string) (PayPeriod, error) {
	periodID = strings.TrimSpace(periodID)
	if periodID == "" {
		return PayPeriod{}, newBadRequestError("period_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayPeriod{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayPeriod{}, err
	}

	var out PayPeriod
	if err := scanPayPeriod(tx.QueryRow(ctx, `
SELECT`+payPeriodSelectColumns+`
FROM payroll.pay_periods
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, periodID), &out); err != nil {
		return PayPeriod{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayPeriod{}, err
	}
	return out, nil
}

func (s *payrollPGStore) LockPayPeriod(ctx context.Context, tenantID string, periodID string) (PayPeriod, error) {
	periodID = strings.TrimSpace(periodID)
	if periodID == "" {
		return PayPeriod{}, newBadRequestError("period_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayPeriod{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayPeriod{}, err
	}

	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return PayPeriod{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT payroll.submit_pay_period_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  'LOCK',
  '{}'::jsonb,
  $4::text,
  $5::uuid
)
`, eventID, tenantID, periodID, eventID, tenantID); err != nil {
		return PayPeriod{}, err
	}

	var out PayPeriod
	if err := scanPayPeriod(tx.QueryRow(ctx, `
SELECT`+payPeriodSelectColumns+`
FROM payroll.pay_periods
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, periodID), &out); err != nil {
		return PayPeriod{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayPeriod{}, err
	}
	return out, nil
}

func (s *payrollPGStore) ListPayrollRuns(ctx context.Context, tenantID string, payPeriodID string) ([]PayrollRun, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	payPeriodID = strings.TrimSpace(payPeriodID)

	var rows pgRows
	if payPeriodID == "" {
		rows, err = tx.Query(ctx, `
SELECT`+payrollRunSelectColumns+`
FROM payroll.payroll_runs
WHERE tenant_id = $1::uuid
ORDER BY created_at DESC, id::text ASC
`, tenantID)
	} else {
		rows, err = tx.Query(ctx, `
SELECT`+payrollRunSelectColumns+`
FROM payroll.payroll_runs
WHERE tenant_id = $1::uuid
  AND pay_period_id = $2::uuid
ORDER BY created_at DESC, id::text ASC
`, tenantID, payPeriodID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayrollRun
	for rows.Next() {
		var r PayrollRun
		if err := scanPayrollRun(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *payrollPGStore) CreatePayrollRun(ctx context.Context, tenantID string, payPeriodID string, runType string) (PayrollRun, error) {
	payPeriodID = strings.TrimSpace(payPeriodID)
	if payPeriodID == "" {
		return PayrollRun{}, newBadRequestError("pay_period_id is required")
	}
	rt, err := normalizeRunType(runType)
	if err != nil {
		return PayrollRun{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayrollRun{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayrollRun{}, err
	}

	var runID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&runID); err != nil {
		return PayrollRun{}, err
	}
	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return PayrollRun{}, err
	}

	payload, err := json.Marshal(map[string]any{"run_type": rt})
	if err != nil {
		return PayrollRun{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT payroll.submit_payroll_run_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::uuid,
  'CREATE',
  $5::jsonb,
  $6::text,
  $7::uuid
)
`, eventID, tenantID, runID, payPeriodID, payload, eventID, tenantID); err != nil {
		return PayrollRun{}, err
	}

	var out PayrollRun
	if err := scanPayrollRun(tx.QueryRow(ctx, `
SELECT`+payrollRunSelectColumns+`
FROM payroll.payroll_runs
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, runID), &out); err != nil {
		return PayrollRun{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayrollRun{}, err
	}
	return out, nil
}

func (s *payrollPGStore) GetPayrollRun(ctx context.Context, tenantID string, runID string) (PayrollRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return PayrollRun{}, newBadRequestError("run_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayrollRun{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayrollRun{}, err
	}

	var out PayrollRun
	if err := scanPayrollRun(tx.QueryRow(ctx, `
SELECT`+payrollRunSelectColumns+`
FROM payroll.payroll_runs
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, runID), &out); err != nil {
		return PayrollRun{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayrollRun{}, err
	}
	return out, nil
}

// submitRunEvent resolves the run's period and submits one lifecycle event in
// its own transaction, returning the run as of after the event.
func (s *payrollPGStore) submitRunEvent(ctx context.Context, tenantID string, runID string, eventType string, payload []byte) (PayrollRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return PayrollRun{}, newBadRequestError("run_id is required")
	}
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayrollRun{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayrollRun{}, err
	}

	var payPeriodID string
	if err := tx.QueryRow(ctx, `
SELECT pay_period_id::text
FROM payroll.payroll_runs
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, runID).Scan(&payPeriodID); err != nil {
		return PayrollRun{}, err
	}

	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return PayrollRun{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT payroll.submit_payroll_run_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::uuid,
  $5::text,
  $6::jsonb,
  $7::text,
  $8::uuid
)
`, eventID, tenantID, runID, payPeriodID, eventType, payload, eventID, tenantID); err != nil {
		return PayrollRun{}, err
	}

	var out PayrollRun
	if err := scanPayrollRun(tx.QueryRow(ctx, `
SELECT`+payrollRunSelectColumns+`
FROM payroll.payroll_runs
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, runID), &out); err != nil {
		return PayrollRun{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayrollRun{}, err
	}
	return out, nil
}

func (s *payrollPGStore) BeginCalculation(ctx context.Context, tenantID string, runID string) (PayrollRun, error) {
	return s.submitRunEvent(ctx, tenantID, runID, "CALC_START", nil)
}

func (s *payrollPGStore) CompleteCalculation(ctx context.Context, tenantID string, runID string, drafts []payslipDraft) (PayrollRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return PayrollRun{}, newBadRequestError("run_id is required")
	}

	totals := runTotalsFromDrafts(drafts)
	payload, err := json.Marshal(totals)
	if err != nil {
		return PayrollRun{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayrollRun{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayrollRun{}, err
	}

	var payPeriodID string
	var year int
	if err := tx.QueryRow(ctx, `
SELECT r.pay_period_id::text, p.year
FROM payroll.payroll_runs r
JOIN payroll.pay_periods p ON p.tenant_id = r.tenant_id AND p.id = r.pay_period_id
WHERE r.tenant_id = $1::uuid AND r.id = $2::uuid
`, tenantID, runID).Scan(&payPeriodID, &year); err != nil {
		return PayrollRun{}, err
	}

	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return PayrollRun{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT payroll.submit_payroll_run_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::uuid,
  'CALC_FINISH',
  $5::jsonb,
  $6::text,
  $7::uuid
)
`, eventID, tenantID, runID, payPeriodID, payload, eventID, tenantID); err != nil {
		return PayrollRun{}, err
	}

	// Recalculation replaces the run's payslips wholesale; numbers are not
	// reused.
	if _, err := tx.Exec(ctx, `
DELETE FROM payroll.payslip_items
WHERE tenant_id = $1::uuid
  AND payslip_id IN (SELECT id FROM payroll.payslips WHERE tenant_id = $1::uuid AND run_id = $2::uuid)
`, tenantID, runID); err != nil {
		return PayrollRun{}, err
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM payroll.payslips
WHERE tenant_id = $1::uuid AND run_id = $2::uuid
`, tenantID, runID); err != nil {
		return PayrollRun{}, err
	}

	numberKey := fmt.Sprintf("payslip-%d", year)
	for _, d := range drafts {
		var seq int64
		if err := tx.QueryRow(ctx, `
INSERT INTO settings.numbering_sequences AS ns (tenant_id, key, value)
VALUES ($1::uuid, $2::text, 1)
ON CONFLICT (tenant_id, key) DO UPDATE SET value = ns.value + 1
RETURNING value
`, tenantID, numberKey).Scan(&seq); err != nil {
			return PayrollRun{}, err
		}

		slip, items := payslipFromDraft(d, fmt.Sprintf("PS-%d-%06d", year, seq))

		var payslipID string
		if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&payslipID); err != nil {
			return PayrollRun{}, err
		}
		warnings, err := json.Marshal(slip.Warnings)
		if err != nil {
			return PayrollRun{}, err
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO payroll.payslips (
  tenant_id, id, run_id, pay_period_id, payslip_no,
  employee_id, employee_no, employee_name, currency,
  gross_cents, taxable_cents, inss_base_cents, wit_cents,
  inss_employee_cents, inss_employer_cents, total_deduction_cents,
  net_cents, employer_cost_cents, warnings
) VALUES (
  $1::uuid, $2::uuid, $3::uuid, $4::uuid, $5::text,
  $6::uuid, $7::text, $8::text, $9::text,
  $10, $11, $12, $13,
  $14, $15, $16,
  $17, $18, $19::jsonb
)
`, tenantID, payslipID, runID, payPeriodID, slip.PayslipNo,
			slip.EmployeeID, slip.EmployeeNo, slip.EmployeeName, slip.Currency,
			slip.GrossCents, slip.TaxableCents, slip.INSSBaseCents, slip.WITCents,
			slip.INSSEmployeeCents, slip.INSSEmployerCents, slip.TotalDeductionCents,
			slip.NetCents, slip.EmployerCostCents, warnings); err != nil {
			return PayrollRun{}, err
		}

		for _, item := range items {
			if _, err := tx.Exec(ctx, `
INSERT INTO payroll.payslip_items (tenant_id, payslip_id, kind, code, name, amount_cents, meta)
VALUES ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6, $7::jsonb)
`, tenantID, payslipID, item.Kind, item.Code, item.Name, item.AmountCents, item.Meta); err != nil {
				return PayrollRun{}, err
			}
		}
	}

	var out PayrollRun
	if err := scanPayrollRun(tx.QueryRow(ctx, `
SELECT`+payrollRunSelectColumns+`
FROM payroll.payroll_runs
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, runID), &out); err != nil {
		return PayrollRun{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayrollRun{}, err
	}
	return out, nil
}

func (s *payrollPGStore) FailCalculation(ctx context.Context, tenantID string, runID string, errorCode string) error {
	errorCode = strings.TrimSpace(errorCode)
	if errorCode == "" {
		errorCode = "UNKNOWN"
	}
	payload, err := json.Marshal(map[string]any{"error_code": errorCode})
	if err != nil {
		return err
	}
	_, err = s.submitRunEvent(ctx, tenantID, runID, "CALC_FAIL", payload)
	return err
}

func (s *payrollPGStore) FinalizePayrollRun(ctx context.Context, tenantID string, runID string, policyVersion string) (PayrollRun, error) {
	payload, err := json.Marshal(map[string]any{"policy_version": strings.TrimSpace(policyVersion)})
	if err != nil {
		return PayrollRun{}, err
	}
	return s.submitRunEvent(ctx, tenantID, runID, "FINALIZE", payload)
}

func (s *payrollPGStore) ListPayslips(ctx context.Context, tenantID string, runID string) ([]Payslip, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, newBadRequestError("run_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT`+payslipSelectColumns+`
FROM payroll.payslips
WHERE tenant_id = $1::uuid AND run_id = $2::uuid
ORDER BY payslip_no ASC
`, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payslip
	for rows.Next() {
		var p Payslip
		if err := scanPayslip(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *payrollPGStore) GetPayslip(ctx context.Context, tenantID string, payslipID string) (PayslipDetail, error) {
	payslipID = strings.TrimSpace(payslipID)
	if payslipID == "" {
		return PayslipDetail{}, newBadRequestError("payslip_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayslipDetail{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayslipDetail{}, err
	}

	var out PayslipDetail
	if err := scanPayslip(tx.QueryRow(ctx, `
SELECT`+payslipSelectColumns+`
FROM payroll.payslips
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, payslipID), &out.Payslip); err != nil {
		return PayslipDetail{}, err
	}

	rows, err := tx.Query(ctx, `
SELECT
  id::text,
  kind,
  code,
  name,
  amount_cents,
  meta::text
FROM payroll.payslip_items
WHERE tenant_id = $1::uuid AND payslip_id = $2::uuid
ORDER BY id ASC
`, tenantID, payslipID)
	if err != nil {
		return PayslipDetail{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var item PayslipItem
		var metaText string
		if err := rows.Scan(&item.ID, &item.Kind, &item.Code, &item.Name, &item.AmountCents, &metaText); err != nil {
			return PayslipDetail{}, err
		}
		item.Meta = json.RawMessage(metaText)
		out.Items = append(out.Items, item)
	}
	if err := rows.Err(); err != nil {
		return PayslipDetail{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayslipDetail{}, err
	}
	return out, nil
}

type payrollMemoryStore struct {
	periods map[string][]PayPeriod
	runs    map[string][]PayrollRun
	slips   map[string]map[string][]PayslipDetail
	nextID  int
	nextSeq map[string]int64
}

func newPayrollMemoryStore() *payrollMemoryStore {
	return &payrollMemoryStore{
		periods: map[string][]PayPeriod{},
		runs:    map[string][]PayrollRun{},
		slips:   map[string]map[string][]PayslipDetail{},
		nextSeq: map[string]int64{},
	}
}

func (s *payrollMemoryStore) nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *payrollMemoryStore) findPeriod(tenantID string, periodID string) (*PayPeriod, error) {
	for i := range s.periods[tenantID] {
		if s.periods[tenantID][i].ID == periodID {
			return &s.periods[tenantID][i], nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *payrollMemoryStore) findRun(tenantID string, runID string) (*PayrollRun, error) {
	for i := range s.runs[tenantID] {
		if s.runs[tenantID][i].ID == runID {
			return &s.runs[tenantID][i], nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *payrollMemoryStore) ListPayPeriods(_ context.Context, tenantID string, payGroup string) ([]PayPeriod, error) {
	payGroup = strings.ToLower(strings.TrimSpace(payGroup))

	var out []PayPeriod
	for _, p := range s.periods[tenantID] {
		if payGroup != "" && p.PayGroup != payGroup {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].PayGroup < out[j].PayGroup
	})
	return out, nil
}

func (s *payrollMemoryStore) CreatePayPeriod(_ context.Context, tenantID string, payGroup string, year int, month int) (PayPeriod, error) {
	payGroup = strings.ToLower(strings.TrimSpace(payGroup))
	if err := validatePayPeriodParams(payGroup, year, month); err != nil {
		return PayPeriod{}, newBadRequestError(err.Error())
	}
	for _, p := range s.periods[tenantID] {
		if p.PayGroup == payGroup && p.Year == year && p.Month == month {
			return PayPeriod{}, errors.New("PAYROLL_PERIOD_EXISTS")
		}
	}

	startDate, endDate := payPeriodDates(year, month)
	s.nextID++
	period := PayPeriod{
		ID:               fmt.Sprintf("period-%d", s.nextID),
		PayGroup:         payGroup,
		Year:             year,
		Month:            month,
		StartDate:        startDate,
		EndDateExclusive: endDate,
		Status:           "open",
	}
	s.periods[tenantID] = append(s.periods[tenantID], period)
	return period, nil
}

func (s *payrollMemoryStore) GetPayPeriod(_ context.Context, tenantID string, periodID string) (PayPeriod, error) {
	periodID = strings.TrimSpace(periodID)
	if periodID == "" {
		return PayPeriod{}, newBadRequestError("period_id is required")
	}
	p, err := s.findPeriod(tenantID, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	return *p, nil
}

func (s *payrollMemoryStore) LockPayPeriod(_ context.Context, tenantID string, periodID string) (PayPeriod, error) {
	periodID = strings.TrimSpace(periodID)
	if periodID == "" {
		return PayPeriod{}, newBadRequestError("period_id is required")
	}
	p, err := s.findPeriod(tenantID, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	if p.Status != "open" {
		return PayPeriod{}, errors.New("PAYROLL_PERIOD_LOCKED")
	}
	for _, r := range s.runs[tenantID] {
		if r.PayPeriodID != periodID {
			continue
		}
		if r.Status != "finalized" && r.Status != "failed" {
			return PayPeriod{}, errors.New("PAYROLL_PERIOD_OPEN_RUNS")
		}
	}
	p.Status = "locked"
	p.LockedAt = s.nowStamp()
	return *p, nil
}

func (s *payrollMemoryStore) ListPayrollRuns(_ context.Context, tenantID string, payPeriodID string) ([]PayrollRun, error) {
	payPeriodID = strings.TrimSpace(payPeriodID)

	runs := s.runs[tenantID]
	var out []PayrollRun
	for i := len(runs) - 1; i >= 0; i-- {
		if payPeriodID != "" && runs[i].PayPeriodID != payPeriodID {
			continue
		}
		out = append(out, runs[i])
	}
	return out, nil
}

func (s *payrollMemoryStore) CreatePayrollRun(_ context.Context, tenantID string, payPeriodID string, runType string) (PayrollRun, error) {
	payPeriodID = strings.TrimSpace(payPeriodID)
	if payPeriodID == "" {
		return PayrollRun{}, newBadRequestError("pay_period_id is required")
	}
	rt, err := normalizeRunType(runType)
	if err != nil {
		return PayrollRun{}, newBadRequestError(err.Error())
	}

	period, err := s.findPeriod(tenantID, payPeriodID)
	if err != nil {
		return PayrollRun{}, err
	}
	if period.Status != "open" {
		return PayrollRun{}, errors.New("PAYROLL_PERIOD_LOCKED")
	}
	for _, r := range s.runs[tenantID] {
		if r.PayPeriodID == payPeriodID && r.RunType == rt {
			return PayrollRun{}, errors.New("PAYROLL_RUN_EXISTS_FOR_PERIOD")
		}
	}

	s.nextID++
	run := PayrollRun{
		ID:          fmt.Sprintf("run-%d", s.nextID),
		PayPeriodID: payPeriodID,
		RunType:     rt,
		Status:      "draft",
		CreatedAt:   s.nowStamp(),
	}
	s.runs[tenantID] = append(s.runs[tenantID], run)
	return run, nil
}

func (s *payrollMemoryStore) GetPayrollRun(_ context.Context, tenantID string, runID string) (PayrollRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return PayrollRun{}, newBadRequestError("run_id is required")
	}
	r, err := s.findRun(tenantID, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	return *r, nil
}

func (s *payrollMemoryStore) BeginCalculation(_ context.Context, tenantID string, runID string) (PayrollRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return PayrollRun{}, newBadRequestError("run_id is required")
	}
	r, err := s.findRun(tenantID, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	period, err := s.findPeriod(tenantID, r.PayPeriodID)
	if err != nil {
		return PayrollRun{}, err
	}
	if period.Status != "open" {
		return PayrollRun{}, errors.New("PAYROLL_PERIOD_LOCKED")
	}
	switch r.Status {
	case "draft", "calculated", "failed":
	default:
		return PayrollRun{}, errors.New("PAYROLL_RUN_STATE_INVALID")
	}
	r.Status = "calculating"
	r.CalcStartedAt = s.nowStamp()
	r.ErrorCode = ""
	return *r, nil
}

func (s *payrollMemoryStore) CompleteCalculation(_ context.Context, tenantID string, runID string, drafts []payslipDraft) (PayrollRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return PayrollRun{}, newBadRequestError("run_id is required")
	}
	r, err := s.findRun(tenantID, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	if r.Status != "calculating" {
		return PayrollRun{}, errors.New("PAYROLL_RUN_STATE_INVALID")
	}
	period, err := s.findPeriod(tenantID, r.PayPeriodID)
	if err != nil {
		return PayrollRun{}, err
	}

	seqKey := tenantID + "|" + fmt.Sprintf("payslip-%d", period.Year)
	var details []PayslipDetail
	for _, d := range drafts {
		s.nextSeq[seqKey]++
		slip, items := payslipFromDraft(d, fmt.Sprintf("PS-%d-%06d", period.Year, s.nextSeq[seqKey]))
		s.nextID++
		slip.ID = fmt.Sprintf("payslip-%d", s.nextID)
		slip.RunID = runID
		slip.PayPeriodID = r.PayPeriodID
		for i := range items {
			s.nextID++
			items[i].ID = fmt.Sprintf("item-%d", s.nextID)
		}
		details = append(details, PayslipDetail{Payslip: slip, Items: items})
	}

	if s.slips[tenantID] == nil {
		s.slips[tenantID] = map[string][]PayslipDetail{}
	}
	s.slips[tenantID][runID] = details

	r.Totals = runTotalsFromDrafts(drafts)
	r.Status = "calculated"
	r.CalcFinishedAt = s.nowStamp()
	return *r, nil
}

func (s *payrollMemoryStore) FailCalculation(_ context.Context, tenantID string, runID string, errorCode string) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return newBadRequestError("run_id is required")
	}
	r, err := s.findRun(tenantID, runID)
	if err != nil {
		return err
	}
	if r.Status != "calculating" {
		return errors.New("PAYROLL_RUN_STATE_INVALID")
	}
	errorCode = strings.TrimSpace(errorCode)
	if errorCode == "" {
		errorCode = "UNKNOWN"
	}
	r.Status = "failed"
	r.ErrorCode = errorCode
	return nil
}

func (s *payrollMemoryStore) FinalizePayrollRun(_ context.Context, tenantID string, runID string, policyVersion string) (PayrollRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return PayrollRun{}, newBadRequestError("run_id is required")
	}
	r, err := s.findRun(tenantID, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	period, err := s.findPeriod(tenantID, r.PayPeriodID)
	if err != nil {
		return PayrollRun{}, err
	}
	if period.Status != "open" {
		return PayrollRun{}, errors.New("PAYROLL_PERIOD_LOCKED")
	}
	if r.Status != "calculated" {
		return PayrollRun{}, errors.New("PAYROLL_RUN_STATE_INVALID")
	}
	r.Status = "finalized"
	r.PolicyVersion = strings.TrimSpace(policyVersion)
	r.FinalizedAt = s.nowStamp()
	return *r, nil
}

func (s *payrollMemoryStore) ListPayslips(_ context.Context, tenantID string, runID string) ([]Payslip, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, newBadRequestError("run_id is required")
	}
	var out []Payslip
	for _, d := range s.slips[tenantID][runID] {
		out = append(out, d.Payslip)
	}
	return out, nil
}

func (s *payrollMemoryStore) GetPayslip(_ context.Context, tenantID string, payslipID string) (PayslipDetail, error) {
	payslipID = strings.TrimSpace(payslipID)
	if payslipID == "" {
		return PayslipDetail{}, newBadRequestError("payslip_id is required")
	}
	for _, byRun := range s.slips[tenantID] {
		for _, d := range byRun {
			if d.ID == payslipID {
				return d, nil
			}
		}
	}
	return PayslipDetail{}, pgx.ErrNoRows
}

type pgRows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}
