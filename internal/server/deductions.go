package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/pkg/payroll/engine"
)

// DeductionType is one entry of the tenant deduction catalog. Recurring
// deductions reference a catalog code; statutory lines (WIT, INSS) never
// appear here.
type DeductionType struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecurringDeduction is a fixed per-period deduction for one employee,
// active between its effective dates.
type RecurringDeduction struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	Code          string `json:"code"`
	AmountCents   int64  `json:"amount_cents"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	CreatedAt     string `json:"created_at"`
}

const (
	AdvanceStatusActive    = "active"
	AdvanceStatusSettled   = "settled"
	AdvanceStatusCancelled = "cancelled"
)

// CashAdvance is money paid to an employee ahead of payroll, recovered in
// installments. The outstanding balance only moves when a payroll run
// finalizes or the advance is settled outside payroll.
type CashAdvance struct {
	ID               string `json:"id"`
	EmployeeID       string `json:"employee_id"`
	PrincipalCents   int64  `json:"principal_cents"`
	Installments     int    `json:"installments"`
	InstallmentCents int64  `json:"installment_cents"`
	OutstandingCents int64  `json:"outstanding_cents"`
	RecoveredCents   int64  `json:"recovered_cents"`
	Status           string `json:"status"`
	GrantedOn        string `json:"granted_on"`
	Note             string `json:"note,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// DeductionStore persists the deduction catalog, recurring deductions and
// cash advances for a tenant.
type DeductionStore interface {
	ListDeductionTypes(ctx context.Context, tenantID string) ([]DeductionType, error)
	UpsertDeductionType(ctx context.Context, tenantID string, t DeductionType) (DeductionType, error)

	ListRecurringDeductions(ctx context.Context, tenantID string, employeeID string) ([]RecurringDeduction, error)
	CreateRecurringDeduction(ctx context.Context, tenantID string, d RecurringDeduction) (RecurringDeduction, error)
	// ActiveRecurringDeductions returns the deductions in force for an
	// employee on a date, resolved against active catalog entries.
	ActiveRecurringDeductions(ctx context.Context, tenantID string, employeeID string, asOfDate string) ([]engine.Deduction, error)

	ListAdvances(ctx context.Context, tenantID string, employeeID string) ([]CashAdvance, error)
	CreateAdvance(ctx context.Context, tenantID string, a CashAdvance) (CashAdvance, error)
	GetAdvance(ctx context.Context, tenantID string, advanceID string) (CashAdvance, error)
	SettleAdvance(ctx context.Context, tenantID string, advanceID string) (CashAdvance, error)
	CancelAdvance(ctx context.Context, tenantID string, advanceID string) (CashAdvance, error)

	// AdvancesDue returns the installments collectable from an employee in
	// the current run: active advances granted on or before the date with
	// outstanding balance.
	AdvancesDue(ctx context.Context, tenantID string, employeeID string, asOfDate string) ([]engine.AdvanceDue, error)
	// ApplyAdvanceRecoveries moves balances after a run finalizes. Each
	// recovery must fit inside the advance's outstanding balance; an
	// advance that reaches zero becomes settled.
	ApplyAdvanceRecoveries(ctx context.Context, tenantID string, recoveries []engine.AdvanceRecovery) error
}

var deductionCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,31}$`)

func normalizeDeductionCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !deductionCodePattern.MatchString(code) {
		return "", errors.New("code must be 2-32 chars of A-Z, 0-9, _ starting with a letter")
	}
	if reservedPayslipCodes[code] {
		return "", fmt.Errorf("code %s is reserved", code)
	}
	return code, nil
}

func validateDeductionType(t *DeductionType) error {
	code, err := normalizeDeductionCode(t.Code)
	if err != nil {
		return err
	}
	t.Code = code
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func validateRecurringDeduction(d *RecurringDeduction) error {
	d.EmployeeID = strings.TrimSpace(d.EmployeeID)
	if d.EmployeeID == "" {
		return errors.New("employee_id is required")
	}
	code, err := normalizeDeductionCode(d.Code)
	if err != nil {
		return err
	}
	d.Code = code
	if d.AmountCents <= 0 {
		return errors.New("amount_cents must be positive")
	}
	d.EffectiveFrom = strings.TrimSpace(d.EffectiveFrom)
	if _, err := time.Parse("2006-01-02", d.EffectiveFrom); err != nil {
		return errors.New("effective_from must be YYYY-MM-DD")
	}
	d.EffectiveTo = strings.TrimSpace(d.EffectiveTo)
	if d.EffectiveTo != "" {
		if _, err := time.Parse("2006-01-02", d.EffectiveTo); err != nil {
			return errors.New("effective_to must be YYYY-MM-DD")
		}
		if d.EffectiveTo < d.EffectiveFrom {
			return errors.New("effective_to must not precede effective_from")
		}
	}
	return nil
}

func validateCashAdvance(a *CashAdvance) error {
	a.EmployeeID = strings.TrimSpace(a.EmployeeID)
	if a.EmployeeID == "" {
		return errors.New("employee_id is required")
	}
	if a.PrincipalCents <= 0 {
		return errors.New("principal_cents must be positive")
	}
	if a.Installments < 1 {
		return errors.New("installments must be at least 1")
	}
	if int64(a.Installments) > a.PrincipalCents {
		return errors.New("installments must not exceed principal cents")
	}
	a.GrantedOn = strings.TrimSpace(a.GrantedOn)
	if _, err := time.Parse("2006-01-02", a.GrantedOn); err != nil {
		return errors.New("granted_on must be YYYY-MM-DD")
	}
	a.Note = strings.TrimSpace(a.Note)
	return nil
}

// advanceInstallmentCents is the per-run recovery target. The schedule rounds
// up so the final installment absorbs the remainder and the advance clears in
// the requested number of runs.
func advanceInstallmentCents(principalCents int64, installments int) int64 {
	n := int64(installments)
	return (principalCents + n - 1) / n
}

type deductionPGStore struct {
	pool pgBeginner
}

func newDeductionPGStore(pool pgBeginner) *deductionPGStore {
	return &deductionPGStore{pool: pool}
}

const recurringDeductionSelectColumns = `
  id::text,
  employee_id::text,
  code,
  amount_cents,
  effective_from::text,
  COALESCE(effective_to::text, '') AS effective_to,
  created_at::text
`

const cashAdvanceSelectColumns = `
  id::text,
  employee_id::text,
  principal_cents,
  installments,
  installment_cents,
  outstanding_cents,
  recovered_cents,
  status,
  granted_on::text,
  COALESCE(note, '') AS note,
  created_at::text,
  updated_at::text
`

func scanRecurringDeduction(row pgx.Row, d *RecurringDeduction) error {
	return row.Scan(
		&d.ID,
		&d.EmployeeID,
		&d.Code,
		&d.AmountCents,
		&d.EffectiveFrom,
		&d.EffectiveTo,
		&d.CreatedAt,
	)
}

func scanCashAdvance(row pgx.Row, a *CashAdvance) error {
	return row.Scan(
		&a.ID,
		&a.EmployeeID,
		&a.PrincipalCents,
		&a.Installments,
		&a.InstallmentCents,
		&a.OutstandingCents,
		&a.RecoveredCents,
		&a.Status,
		&a.GrantedOn,
		&a.Note,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
}

func (s *deductionPGStore) ListDeductionTypes(ctx context.Context, tenantID string) ([]DeductionType, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT code, name, active, updated_at
FROM payroll.deduction_types
WHERE tenant_id = $1::uuid
ORDER BY code ASC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeductionType
	for rows.Next() {
		var t DeductionType
		if err := rows.Scan(&t.Code, &t.Name, &t.Active, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *deductionPGStore) UpsertDeductionType(ctx context.Context, tenantID string, t DeductionType) (DeductionType, error) {
	if err := validateDeductionType(&t); err != nil {
		return DeductionType{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return DeductionType{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return DeductionType{}, err
	}

	var out DeductionType
	if err := tx.QueryRow(ctx, `
INSERT INTO payroll.deduction_types (tenant_id, code, name, active, updated_at)
VALUES ($1::uuid, $2, $3, $4, now())
ON CONFLICT (tenant_id, code) DO UPDATE SET
  name = EXCLUDED.name,
  active = EXCLUDED.active,
  updated_at = now()
RETURNING code, name, active, updated_at
`, tenantID, t.Code, t.Name, t.Active).
		Scan(&out.Code, &out.Name, &out.Active, &out.UpdatedAt); err != nil {
		return DeductionType{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DeductionType{}, err
	}
	return out, nil
}

func (s *deductionPGStore) ListRecurringDeductions(ctx context.Context, tenantID string, employeeID string) ([]RecurringDeduction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	employeeID = strings.TrimSpace(employeeID)

	var rows pgRows
	if employeeID == "" {
		rows, err = tx.Query(ctx, `
SELECT`+recurringDeductionSelectColumns+`
FROM payroll.recurring_deductions
WHERE tenant_id = $1::uuid
ORDER BY employee_id::text ASC, code ASC, effective_from DESC
`, tenantID)
	} else {
		rows, err = tx.Query(ctx, `
SELECT`+recurringDeductionSelectColumns+`
FROM payroll.recurring_deductions
WHERE tenant_id = $1::uuid AND employee_id = $2::uuid
ORDER BY code ASC, effective_from DESC
`, tenantID, employeeID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecurringDeduction
	for rows.Next() {
		var d RecurringDeduction
		if err := scanRecurringDeduction(rows, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *deductionPGStore) CreateRecurringDeduction(ctx context.Context, tenantID string, d RecurringDeduction) (RecurringDeduction, error) {
	if err := validateRecurringDeduction(&d); err != nil {
		return RecurringDeduction{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RecurringDeduction{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return RecurringDeduction{}, err
	}

	var deductionID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&deductionID); err != nil {
		return RecurringDeduction{}, err
	}

	var out RecurringDeduction
	if err := scanRecurringDeduction(tx.QueryRow(ctx, `
INSERT INTO payroll.recurring_deductions (tenant_id, id, employee_id, code, amount_cents, effective_from, effective_to)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6::date, NULLIF($7, '')::date)
RETURNING`+recurringDeductionSelectColumns+`
`, tenantID, deductionID, d.EmployeeID, d.Code, d.AmountCents, d.EffectiveFrom, d.EffectiveTo), &out); err != nil {
		return RecurringDeduction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RecurringDeduction{}, err
	}
	return out, nil
}

func (s *deductionPGStore) ActiveRecurringDeductions(ctx context.Context, tenantID string, employeeID string, asOfDate string) ([]engine.Deduction, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, newBadRequestError("employee_id is required")
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
SELECT d.code, t.name, d.amount_cents
FROM payroll.recurring_deductions d
JOIN payroll.deduction_types t
  ON t.tenant_id = d.tenant_id AND t.code = d.code
WHERE d.tenant_id = $1::uuid
  AND d.employee_id = $2::uuid
  AND t.active
  AND d.effective_from <= $3::date
  AND (d.effective_to IS NULL OR d.effective_to >= $3::date)
ORDER BY d.code ASC
`, tenantID, employeeID, asOfDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Deduction
	for rows.Next() {
		var d engine.Deduction
		if err := rows.Scan(&d.Code, &d.Name, &d.AmountCents); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *deductionPGStore) ListAdvances(ctx context.Context, tenantID string, employeeID string) ([]CashAdvance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	employeeID = strings.TrimSpace(employeeID)

	var rows pgRows
	if employeeID == "" {
		rows, err = tx.Query(ctx, `
SELECT`+cashAdvanceSelectColumns+`
FROM payroll.cash_advances
WHERE tenant_id = $1::uuid
ORDER BY granted_on DESC, created_at DESC
`, tenantID)
	} else {
		rows, err = tx.Query(ctx, `
SELECT`+cashAdvanceSelectColumns+`
FROM payroll.cash_advances
WHERE tenant_id = $1::uuid AND employee_id = $2::uuid
ORDER BY granted_on DESC, created_at DESC
`, tenantID, employeeID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CashAdvance
	for rows.Next() {
		var a CashAdvance
		if err := scanCashAdvance(rows, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *deductionPGStore) CreateAdvance(ctx context.Context, tenantID string, a CashAdvance) (CashAdvance, error) {
	if err := validateCashAdvance(&a); err != nil {
		return CashAdvance{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CashAdvance{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return CashAdvance{}, err
	}

	var advanceID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&advanceID); err != nil {
		return CashAdvance{}, err
	}

	installment := advanceInstallmentCents(a.PrincipalCents, a.Installments)

	var out CashAdvance
	if err := scanCashAdvance(tx.QueryRow(ctx, `
INSERT INTO payroll.cash_advances (tenant_id, id, employee_id, principal_cents, installments, installment_cents, outstanding_cents, recovered_cents, status, granted_on, note)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $4, 0, 'active', $7::date, NULLIF($8, ''))
RETURNING`+cashAdvanceSelectColumns+`
`, tenantID, advanceID, a.EmployeeID, a.PrincipalCents, a.Installments, installment, a.GrantedOn, a.Note), &out); err != nil {
		return CashAdvance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CashAdvance{}, err
	}
	return out, nil
}

func (s *deductionPGStore) GetAdvance(ctx context.Context, tenantID string, advanceID string) (CashAdvance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CashAdvance{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return CashAdvance{}, err
	}

	var out CashAdvance
	if err := scanCashAdvance(tx.QueryRow(ctx, `
SELECT`+cashAdvanceSelectColumns+`
FROM payroll.cash_advances
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, advanceID), &out); err != nil {
		return CashAdvance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CashAdvance{}, err
	}
	return out, nil
}

func (s *deductionPGStore) SettleAdvance(ctx context.Context, tenantID string, advanceID string) (CashAdvance, error) {
	return s.closeAdvance(ctx, tenantID, advanceID, AdvanceStatusSettled)
}

func (s *deductionPGStore) CancelAdvance(ctx context.Context, tenantID string, advanceID string) (CashAdvance, error) {
	return s.closeAdvance(ctx, tenantID, advanceID, AdvanceStatusCancelled)
}

func (s *deductionPGStore) closeAdvance(ctx context.Context, tenantID string, advanceID string, status string) (CashAdvance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CashAdvance{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return CashAdvance{}, err
	}

	var current string
	if err := tx.QueryRow(ctx, `
SELECT status FROM payroll.cash_advances
WHERE tenant_id = $1::uuid AND id = $2::uuid
FOR UPDATE
`, tenantID, advanceID).Scan(&current); err != nil {
		return CashAdvance{}, err
	}
	if current != AdvanceStatusActive {
		return CashAdvance{}, errors.New("PAYROLL_ADVANCE_STATE_INVALID")
	}

	// Settlement clears the balance outside payroll; cancellation forgives
	// whatever remains. Both stop future recoveries.
	var out CashAdvance
	if err := scanCashAdvance(tx.QueryRow(ctx, `
UPDATE payroll.cash_advances
SET status = $3, outstanding_cents = 0, updated_at = now()
WHERE tenant_id = $1::uuid AND id = $2::uuid
RETURNING`+cashAdvanceSelectColumns+`
`, tenantID, advanceID, status), &out); err != nil {
		return CashAdvance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CashAdvance{}, err
	}
	return out, nil
}

func (s *deductionPGStore) AdvancesDue(ctx context.Context, tenantID string, employeeID string, asOfDate string) ([]engine.AdvanceDue, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, newBadRequestError("employee_id is required")
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
SELECT id::text, installment_cents, outstanding_cents
FROM payroll.cash_advances
WHERE tenant_id = $1::uuid
  AND employee_id = $2::uuid
  AND status = 'active'
  AND outstanding_cents > 0
  AND granted_on <= $3::date
ORDER BY granted_on ASC, created_at ASC
`, tenantID, employeeID, asOfDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.AdvanceDue
	for rows.Next() {
		var due engine.AdvanceDue
		if err := rows.Scan(&due.AdvanceID, &due.InstallmentCents, &due.OutstandingCents); err != nil {
			return nil, err
		}
		out = append(out, due)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *deductionPGStore) ApplyAdvanceRecoveries(ctx context.Context, tenantID string, recoveries []engine.AdvanceRecovery) error {
	if len(recoveries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}

	for _, rec := range recoveries {
		if rec.AmountCents <= 0 {
			continue
		}
		tag, err := tx.Exec(ctx, `
UPDATE payroll.cash_advances
SET recovered_cents = recovered_cents + $3,
    outstanding_cents = outstanding_cents - $3,
    status = CASE WHEN outstanding_cents - $3 <= 0 THEN 'settled' ELSE status END,
    updated_at = now()
WHERE tenant_id = $1::uuid AND id = $2::uuid
  AND status = 'active'
  AND outstanding_cents >= $3
`, tenantID, rec.AdvanceID, rec.AmountCents)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return errors.New("PAYROLL_ADVANCE_STATE_INVALID")
		}
	}

	return tx.Commit(ctx)
}

type deductionMemoryStore struct {
	types     map[string]map[string]DeductionType
	recurring map[string][]RecurringDeduction
	advances  map[string][]CashAdvance
	nextID    int
}

func newDeductionMemoryStore() *deductionMemoryStore {
	return &deductionMemoryStore{
		types:     map[string]map[string]DeductionType{},
		recurring: map[string][]RecurringDeduction{},
		advances:  map[string][]CashAdvance{},
	}
}

func (s *deductionMemoryStore) ListDeductionTypes(_ context.Context, tenantID string) ([]DeductionType, error) {
	var out []DeductionType
	for _, t := range s.types[tenantID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *deductionMemoryStore) UpsertDeductionType(_ context.Context, tenantID string, t DeductionType) (DeductionType, error) {
	if err := validateDeductionType(&t); err != nil {
		return DeductionType{}, newBadRequestError(err.Error())
	}
	t.UpdatedAt = time.Now().UTC()
	if s.types[tenantID] == nil {
		s.types[tenantID] = map[string]DeductionType{}
	}
	s.types[tenantID][t.Code] = t
	return t, nil
}

func (s *deductionMemoryStore) ListRecurringDeductions(_ context.Context, tenantID string, employeeID string) ([]RecurringDeduction, error) {
	employeeID = strings.TrimSpace(employeeID)
	var out []RecurringDeduction
	for _, d := range s.recurring[tenantID] {
		if employeeID != "" && d.EmployeeID != employeeID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].EffectiveFrom > out[j].EffectiveFrom
	})
	return out, nil
}

func (s *deductionMemoryStore) CreateRecurringDeduction(_ context.Context, tenantID string, d RecurringDeduction) (RecurringDeduction, error) {
	if err := validateRecurringDeduction(&d); err != nil {
		return RecurringDeduction{}, newBadRequestError(err.Error())
	}
	if _, ok := s.types[tenantID][d.Code]; !ok {
		return RecurringDeduction{}, errors.New("PAYROLL_DEDUCTION_UNKNOWN_CODE")
	}
	s.nextID++
	d.ID = fmt.Sprintf("ded-%d", s.nextID)
	d.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	s.recurring[tenantID] = append(s.recurring[tenantID], d)
	return d, nil
}

func (s *deductionMemoryStore) ActiveRecurringDeductions(_ context.Context, tenantID string, employeeID string, asOfDate string) ([]engine.Deduction, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, newBadRequestError("employee_id is required")
	}
	var out []engine.Deduction
	for _, d := range s.recurring[tenantID] {
		if d.EmployeeID != employeeID {
			continue
		}
		if d.EffectiveFrom > asOfDate {
			continue
		}
		if d.EffectiveTo != "" && d.EffectiveTo < asOfDate {
			continue
		}
		t, ok := s.types[tenantID][d.Code]
		if !ok || !t.Active {
			continue
		}
		out = append(out, engine.Deduction{Code: d.Code, Name: t.Name, AmountCents: d.AmountCents})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *deductionMemoryStore) ListAdvances(_ context.Context, tenantID string, employeeID string) ([]CashAdvance, error) {
	employeeID = strings.TrimSpace(employeeID)
	var out []CashAdvance
	for _, a := range s.advances[tenantID] {
		if employeeID != "" && a.EmployeeID != employeeID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedOn > out[j].GrantedOn })
	return out, nil
}

func (s *deductionMemoryStore) CreateAdvance(_ context.Context, tenantID string, a CashAdvance) (CashAdvance, error) {
	if err := validateCashAdvance(&a); err != nil {
		return CashAdvance{}, newBadRequestError(err.Error())
	}
	s.nextID++
	a.ID = fmt.Sprintf("adv-%d", s.nextID)
	a.InstallmentCents = advanceInstallmentCents(a.PrincipalCents, a.Installments)
	a.OutstandingCents = a.PrincipalCents
	a.RecoveredCents = 0
	a.Status = AdvanceStatusActive
	now := time.Now().UTC().Format(time.RFC3339)
	a.CreatedAt = now
	a.UpdatedAt = now
	s.advances[tenantID] = append(s.advances[tenantID], a)
	return a, nil
}

func (s *deductionMemoryStore) GetAdvance(_ context.Context, tenantID string, advanceID string) (CashAdvance, error) {
	for _, a := range s.advances[tenantID] {
		if a.ID == advanceID {
			return a, nil
		}
	}
	return CashAdvance{}, pgx.ErrNoRows
}

func (s *deductionMemoryStore) SettleAdvance(_ context.Context, tenantID string, advanceID string) (CashAdvance, error) {
	return s.closeAdvance(tenantID, advanceID, AdvanceStatusSettled)
}

func (s *deductionMemoryStore) CancelAdvance(_ context.Context, tenantID string, advanceID string) (CashAdvance, error) {
	return s.closeAdvance(tenantID, advanceID, AdvanceStatusCancelled)
}

func (s *deductionMemoryStore) closeAdvance(tenantID string, advanceID string, status string) (CashAdvance, error) {
	for i, a := range s.advances[tenantID] {
		if a.ID != advanceID {
			continue
		}
		if a.Status != AdvanceStatusActive {
			return CashAdvance{}, errors.New("PAYROLL_ADVANCE_STATE_INVALID")
		}
		a.Status = status
		a.OutstandingCents = 0
		a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		s.advances[tenantID][i] = a
		return a, nil
	}
	return CashAdvance{}, pgx.ErrNoRows
}

func (s *deductionMemoryStore) AdvancesDue(_ context.Context, tenantID string, employeeID string, asOfDate string) ([]engine.AdvanceDue, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, newBadRequestError("employee_id is required")
	}
	var out []engine.AdvanceDue
	for _, a := range s.advances[tenantID] {
		if a.EmployeeID != employeeID || a.Status != AdvanceStatusActive {
			continue
		}
		if a.OutstandingCents <= 0 || a.GrantedOn > asOfDate {
			continue
		}
		out = append(out, engine.AdvanceDue{
			AdvanceID:        a.ID,
			InstallmentCents: a.InstallmentCents,
			OutstandingCents: a.OutstandingCents,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdvanceID < out[j].AdvanceID })
	return out, nil
}

func (s *deductionMemoryStore) ApplyAdvanceRecoveries(_ context.Context, tenantID string, recoveries []engine.AdvanceRecovery) error {
	for _, rec := range recoveries {
		if rec.AmountCents <= 0 {
			continue
		}
		applied := false
		for i, a := range s.advances[tenantID] {
			if a.ID != rec.AdvanceID {
				continue
			}
			if a.Status != AdvanceStatusActive || a.OutstandingCents < rec.AmountCents {
				return errors.New("PAYROLL_ADVANCE_STATE_INVALID")
			}
			a.RecoveredCents += rec.AmountCents
			a.OutstandingCents -= rec.AmountCents
			if a.OutstandingCents == 0 {
				a.Status = AdvanceStatusSettled
			}
			a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
			s.advances[tenantID][i] = a
			applied = true
			break
		}
		if !applied {
			return errors.New("PAYROLL_ADVANCE_STATE_INVALID")
		}
	}
	return nil
}
