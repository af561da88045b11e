package server

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/pkg/bankfile"
)

type Employee struct {
	ID                 string    `json:"id"`
	EmployeeNo         string    `json:"employee_no"`
	FullName           string    `json:"full_name"`
	TIN                string    `json:"tin"`
	INSSNo             string    `json:"inss_no"`
	Email              string    `json:"email"`
	HireDate           string    `json:"hire_date"`
	TerminationDate    string    `json:"termination_date"`
	DepartmentID       string    `json:"department_id"`
	PayGroup           string    `json:"pay_group"`
	PayBasis           string    `json:"pay_basis"`
	MonthlySalaryCents int64     `json:"monthly_salary_cents"`
	HourlyRateCents    int64     `json:"hourly_rate_cents"`
	Residency          string    `json:"residency"`
	INSSExempt         bool      `json:"inss_exempt"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

type EmployeeBankAccount struct {
	ID            string    `json:"id"`
	EmployeeID    string    `json:"employee_id"`
	BankCode      string    `json:"bank_code"`
	AccountNumber string    `json:"account_number"`
	AccountName   string    `json:"account_name"`
	Primary       bool      `json:"primary"`
	CreatedAt     time.Time `json:"created_at"`
}

type createEmployeeParams struct {
	EmployeeNo         string
	FullName           string
	TIN                string
	INSSNo             string
	Email              string
	HireDate           string
	DepartmentID       string
	PayGroup           string
	PayBasis           string
	MonthlySalaryCents int64
	HourlyRateCents    int64
	Residency          string
	INSSExempt         bool
}

type updateCompensationParams struct {
	EffectiveDate      string
	PayBasis           string
	MonthlySalaryCents int64
	HourlyRateCents    int64
}

type addBankAccountParams struct {
	BankCode      string
	AccountNumber string
	AccountName   string
	Primary       bool
}

type EmployeeStore interface {
	ListEmployees(ctx context.Context, tenantID string, asOfDate string, payGroup string) ([]Employee, error)
	CreateEmployee(ctx context.Context, tenantID string, params createEmployeeParams) (Employee, error)
	GetEmployee(ctx context.Context, tenantID string, employeeID string) (Employee, error)
	UpdateCompensation(ctx context.Context, tenantID string, employeeID string, params updateCompensationParams) (Employee, error)
	TerminateEmployee(ctx context.Context, tenantID string, employeeID string, terminationDate string, reason string) (Employee, error)

	ListBankAccounts(ctx context.Context, tenantID string, employeeID string) ([]EmployeeBankAccount, error)
	AddBankAccount(ctx context.Context, tenantID string, employeeID string, params addBankAccountParams) (EmployeeBankAccount, error)

	ListPayrollCandidates(ctx context.Context, tenantID string, payGroup string, periodStart string, periodEnd string) ([]Employee, error)
}

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type hrPGStore struct {
	pool pgBeginner
}

func newHRPGStore(pool pgBeginner) *hrPGStore {
	return &hrPGStore{pool: pool}
}

var employeeNoDigitsRe = regexp.MustCompile(`^[0-9]{1,6}$`)

// normalizeEmployeeNo canonicalizes "e0042", "E42" and "42" to "E42".
func normalizeEmployeeNo(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "E"), "e")
	if raw == "" {
		return "", errors.New("employee_no is required")
	}
	if !employeeNoDigitsRe.MatchString(raw) {
		return "", errors.New("employee_no must be E followed by 1-6 digits")
	}
	raw = strings.TrimLeft(raw, "0")
	if raw == "" {
		return "", errors.New("employee_no must be positive")
	}
	return "E" + raw, nil
}

func normalizePayBasis(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MONTHLY":
		return "MONTHLY", nil
	case "HOURLY":
		return "HOURLY", nil
	default:
		return "", errors.New("pay_basis must be MONTHLY or HOURLY")
	}
}

func normalizeResidency(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "RESIDENT":
		return "RESIDENT", nil
	case "NON_RESIDENT":
		return "NON_RESIDENT", nil
	default:
		return "", errors.New("residency must be RESIDENT or NON_RESIDENT")
	}
}

func validateCreateEmployeeParams(params *createEmployeeParams) error {
	canonical, err := normalizeEmployeeNo(params.EmployeeNo)
	if err != nil {
		return err
	}
	params.EmployeeNo = canonical

	params.FullName = strings.TrimSpace(params.FullName)
	if params.FullName == "" {
		return errors.New("full_name is required")
	}

	params.HireDate = strings.TrimSpace(params.HireDate)
	if _, err := time.Parse("2006-01-02", params.HireDate); err != nil {
		return errors.New("hire_date invalid: " + err.Error())
	}

	params.PayGroup = strings.ToLower(strings.TrimSpace(params.PayGroup))
	if params.PayGroup == "" {
		return errors.New("pay_group is required")
	}

	basis, err := normalizePayBasis(params.PayBasis)
	if err != nil {
		return err
	}
	params.PayBasis = basis
	switch basis {
	case "MONTHLY":
		if params.MonthlySalaryCents <= 0 {
			return errors.New("monthly_salary must be positive")
		}
		params.HourlyRateCents = 0
	case "HOURLY":
		if params.HourlyRateCents <= 0 {
			return errors.New("hourly_rate must be positive")
		}
		params.MonthlySalaryCents = 0
	}

	residency, err := normalizeResidency(params.Residency)
	if err != nil {
		return err
	}
	params.Residency = residency

	params.TIN = strings.TrimSpace(params.TIN)
	params.INSSNo = strings.TrimSpace(params.INSSNo)
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.DepartmentID = strings.TrimSpace(params.DepartmentID)
	return nil
}

func validateUpdateCompensationParams(params *updateCompensationParams) error {
	params.EffectiveDate = strings.TrimSpace(params.EffectiveDate)
	if _, err := time.Parse("2006-01-02", params.EffectiveDate); err != nil {
		return errors.New("effective_date invalid: " + err.Error())
	}
	basis, err := normalizePayBasis(params.PayBasis)
	if err != nil {
		return err
	}
	params.PayBasis = basis
	switch basis {
	case "MONTHLY":
		if params.MonthlySalaryCents <= 0 {
			return errors.New("monthly_salary must be positive")
		}
		params.HourlyRateCents = 0
	case "HOURLY":
		if params.HourlyRateCents <= 0 {
			return errors.New("hourly_rate must be positive")
		}
		params.MonthlySalaryCents = 0
	}
	return nil
}

func validateAddBankAccountParams(params *addBankAccountParams) error {
	params.BankCode = strings.ToUpper(strings.TrimSpace(params.BankCode))
	if _, ok := bankfile.ForCode(params.BankCode); !ok {
		return errors.New("bank_code unknown")
	}
	params.AccountNumber = strings.TrimSpace(params.AccountNumber)
	if params.AccountNumber == "" {
		return errors.New("account_number is required")
	}
	for i := 0; i < len(params.AccountNumber); i++ {
		if params.AccountNumber[i] < '0' || params.AccountNumber[i] > '9' {
			return errors.New("account_number must be digits")
		}
	}
	params.AccountName = strings.TrimSpace(params.AccountName)
	if params.AccountName == "" {
		return errors.New("account_name is required")
	}
	return nil
}

// employeeStatusAsOf derives status from the termination date, so reads stay
// correct without a projection rewrite when the date passes.
func employeeStatusAsOf(terminationDate string, asOfDate string) string {
	if terminationDate == "" {
		return "active"
	}
	if terminationDate <= asOfDate {
		return "terminated"
	}
	return "active"
}

const employeeSelectColumns = `
  id::text,
  employee_no,
  full_name,
  COALESCE(tin, '') AS tin,
  COALESCE(inss_no, '') AS inss_no,
  COALESCE(email, '') AS email,
  hire_date::text,
  COALESCE(termination_date::text, '') AS termination_date,
  COALESCE(department_id::text, '') AS department_id,
  pay_group,
  pay_basis,
  monthly_salary_cents,
  hourly_rate_cents,
  residency,
  inss_exempt,
  created_at`

func scanEmployee(row pgx.Row, e *Employee) error {
	return row.Scan(
		&e.ID,
		&e.EmployeeNo,
		&e.FullName,
		&e.TIN,
		&e.INSSNo,
		&e.Email,
		&e.HireDate,
		&e.TerminationDate,
		&e.DepartmentID,
		&e.PayGroup,
		&e.PayBasis,
		&e.MonthlySalaryCents,
		&e.HourlyRateCents,
		&e.Residency,
		&e.INSSExempt,
		&e.CreatedAt,
	)
}

func (s *hrPGStore) ListEmployees(ctx context.Context, tenantID string, asOfDate string, payGroup string) ([]Employee, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	asOfDate = strings.TrimSpace(asOfDate)
	if asOfDate == "" {
		asOfDate = currentUTCDateString()
	}
	payGroup = strings.ToLower(strings.TrimSpace(payGroup))

	rows, err := tx.Query(ctx, `
SELECT`+employeeSelectColumns+`
FROM hr.employees
WHERE tenant_id = $1::uuid
  AND hire_date <= $2::date
  AND ($3::text = '' OR pay_group = $3::text)
ORDER BY employee_no ASC, id::text ASC
`, tenantID, asOfDate, payGroup)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		if err := scanEmployee(rows, &e); err != nil {
			return nil, err
		}
		e.Status = employeeStatusAsOf(e.TerminationDate, asOfDate)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *hrPGStore) CreateEmployee(ctx context.Context, tenantID string, params createEmployeeParams) (Employee, error) {
	if err := validateCreateEmployeeParams(&params); err != nil {
		return Employee{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Employee{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return Employee{}, err
	}

	var employeeID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&employeeID); err != nil {
		return Employee{}, err
	}
	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return Employee{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"employee_no":          params.EmployeeNo,
		"full_name":            params.FullName,
		"tin":                  params.TIN,
		"inss_no":              params.INSSNo,
		"email":                params.Email,
		"hire_date":            params.HireDate,
		"department_id":        params.DepartmentID,
		"pay_group":            params.PayGroup,
		"pay_basis":            params.PayBasis,
		"monthly_salary_cents": params.MonthlySalaryCents,
		"hourly_rate_cents":    params.HourlyRateCents,
		"residency":            params.Residency,
		"inss_exempt":          params.INSSExempt,
	})
	if err != nil {
		return Employee{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT hr.submit_employee_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  'HIRE',
  $4::jsonb,
  $5::text,
  $6::uuid
)
`, eventID, tenantID, employeeID, payload, eventID, tenantID); err != nil {
		return Employee{}, err
	}

	var out Employee
	if err := scanEmployee(tx.QueryRow(ctx, `
SELECT`+employeeSelectColumns+`
FROM hr.employees
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, employeeID), &out); err != nil {
		return Employee{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Employee{}, err
	}
	out.Status = employeeStatusAsOf(out.TerminationDate, currentUTCDateString())
	return out, nil
}

func (s *hrPGStore) GetEmployee(ctx context.Context, tenantID string, employeeID string) (Employee, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Employee{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return Employee{}, err
	}

	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return Employee{}, newBadRequestError("employee_id is required")
	}

	var out Employee
	if err := scanEmployee(tx.QueryRow(ctx, `
SELECT`+employeeSelectColumns+`
FROM hr.employees
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, employeeID), &out); err != nil {
		return Employee{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Employee{}, err
	}
	out.Status = employeeStatusAsOf(out.TerminationDate, currentUTCDateString())
	return out, nil
}

func (s *hrPGStore) UpdateCompensation(ctx context.Context, tenantID string, employeeID string, params updateCompensationParams) (Employee, error) {
	if err := validateUpdateCompensationParams(&params); err != nil {
		return Employee{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Employee{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return Employee{}, err
	}

	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return Employee{}, newBadRequestError("employee_id is required")
	}

	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return Employee{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"effective_date":       params.EffectiveDate,
		"pay_basis":            params.PayBasis,
		"monthly_salary_cents": params.MonthlySalaryCents,
		"hourly_rate_cents":    params.HourlyRateCents,
	})
	if err != nil {
		return Employee{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT hr.submit_employee_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  'COMP_CHANGE',
  $4::jsonb,
  $5::text,
  $6::uuid
)
`, eventID, tenantID, employeeID, payload, eventID, tenantID); err != nil {
		return Employee{}, err
	}

	var out Employee
	if err := scanEmployee(tx.QueryRow(ctx, `
SELECT`+employeeSelectColumns+`
FROM hr.employees
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, employeeID), &out); err != nil {
		return Employee{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Employee{}, err
	}
	out.Status = employeeStatusAsOf(out.TerminationDate, currentUTCDateString())
	return out, nil
}

func (s *hrPGStore) TerminateEmployee(ctx context.Context, tenantID string, employeeID string, terminationDate string, reason string) (Employee, error) {
	terminationDate = strings.TrimSpace(terminationDate)
	if _, err := time.Parse("2006-01-02", terminationDate); err != nil {
		return Employee{}, newBadRequestError("termination_date invalid: " + err.Error())
	}
	reason = strings.TrimSpace(reason)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Employee{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return Employee{}, err
	}

	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return Employee{}, newBadRequestError("employee_id is required")
	}

	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return Employee{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"termination_date": terminationDate,
		"reason":           reason,
	})
	if err != nil {
		return Employee{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT hr.submit_employee_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  'TERMINATE',
  $4::jsonb,
  $5::text,
  $6::uuid
)
`, eventID, tenantID, employeeID, payload, eventID, tenantID); err != nil {
		return Employee{}, err
	}

	var out Employee
	if err := scanEmployee(tx.QueryRow(ctx, `
SELECT`+employeeSelectColumns+`
FROM hr.employees
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, employeeID), &out); err != nil {
		return Employee{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Employee{}, err
	}
	out.Status = employeeStatusAsOf(out.TerminationDate, currentUTCDateString())
	return out, nil
}

func (s *hrPGStore) ListBankAccounts(ctx context.Context, tenantID string, employeeID string) ([]EmployeeBankAccount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, newBadRequestError("employee_id is required")
	}

	rows, err := tx.Query(ctx, `
SELECT
  id::text,
  employee_id::text,
  bank_code,
  account_number,
  account_name,
  is_primary,
  created_at
FROM hr.employee_bank_accounts
WHERE tenant_id = $1::uuid AND employee_id = $2::uuid
ORDER BY is_primary DESC, created_at ASC, id::text ASC
`, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmployeeBankAccount
	for rows.Next() {
		var a EmployeeBankAccount
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.BankCode, &a.AccountNumber, &a.AccountName, &a.Primary, &a.CreatedAt); err != nil {
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

func (s *hrPGStore) AddBankAccount(ctx context.Context, tenantID string, employeeID string, params addBankAccountParams) (EmployeeBankAccount, error) {
	if err := validateAddBankAccountParams(&params); err != nil {
		return EmployeeBankAccount{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EmployeeBankAccount{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return EmployeeBankAccount{}, err
	}

	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return EmployeeBankAccount{}, newBadRequestError("employee_id is required")
	}

	if params.Primary {
		if _, err := tx.Exec(ctx, `
UPDATE hr.employee_bank_accounts
SET is_primary = false
WHERE tenant_id = $1::uuid AND employee_id = $2::uuid AND is_primary = true
`, tenantID, employeeID); err != nil {
			return EmployeeBankAccount{}, err
		}
	}

	out := EmployeeBankAccount{
		EmployeeID:    employeeID,
		BankCode:      params.BankCode,
		AccountNumber: params.AccountNumber,
		AccountName:   params.AccountName,
		Primary:       params.Primary,
	}
	if err := tx.QueryRow(ctx, `
INSERT INTO hr.employee_bank_accounts (tenant_id, employee_id, bank_code, account_number, account_name, is_primary)
VALUES ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::boolean)
RETURNING id::text, created_at
`, tenantID, employeeID, params.BankCode, params.AccountNumber, params.AccountName, params.Primary).Scan(&out.ID, &out.CreatedAt); err != nil {
		return EmployeeBankAccount{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EmployeeBankAccount{}, err
	}
	return out, nil
}

func (s *hrPGStore) ListPayrollCandidates(ctx context.Context, tenantID string, payGroup string, periodStart string, periodEnd string) ([]Employee, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	payGroup = strings.ToLower(strings.TrimSpace(payGroup))
	if payGroup == "" {
		return nil, newBadRequestError("pay_group is required")
	}

	rows, err := tx.Query(ctx, `
SELECT`+employeeSelectColumns+`
FROM hr.employees
WHERE tenant_id = $1::uuid
  AND pay_group = $2::text
  AND hire_date <= $4::date
  AND (termination_date IS NULL OR termination_date >= $3::date)
ORDER BY employee_no ASC, id::text ASC
`, tenantID, payGroup, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		if err := scanEmployee(rows, &e); err != nil {
			return nil, err
		}
		e.Status = employeeStatusAsOf(e.TerminationDate, periodEnd)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

type hrMemoryStore struct {
	byTenant    map[string][]Employee
	accounts    map[string][]EmployeeBankAccount
	nextAccount int
}

func newHRMemoryStore() *hrMemoryStore {
	return &hrMemoryStore{
		byTenant: make(map[string][]Employee),
		accounts: make(map[string][]EmployeeBankAccount),
	}
}

func (s *hrMemoryStore) ListEmployees(_ context.Context, tenantID string, asOfDate string, payGroup string) ([]Employee, error) {
	asOfDate = strings.TrimSpace(asOfDate)
	if asOfDate == "" {
		asOfDate = currentUTCDateString()
	}
	payGroup = strings.ToLower(strings.TrimSpace(payGroup))

	var out []Employee
	for _, e := range s.byTenant[tenantID] {
		if e.HireDate > asOfDate {
			continue
		}
		if payGroup != "" && e.PayGroup != payGroup {
			continue
		}
		e.Status = employeeStatusAsOf(e.TerminationDate, asOfDate)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeNo < out[j].EmployeeNo })
	return out, nil
}

func (s *hrMemoryStore) CreateEmployee(_ context.Context, tenantID string, params createEmployeeParams) (Employee, error) {
	if err := validateCreateEmployeeParams(&params); err != nil {
		return Employee{}, newBadRequestError(err.Error())
	}
	for _, e := range s.byTenant[tenantID] {
		if e.EmployeeNo == params.EmployeeNo {
			return Employee{}, errors.New("HR_EMPLOYEE_NO_TAKEN")
		}
	}
	e := Employee{
		ID:                 "employee-" + strings.ToLower(params.EmployeeNo),
		EmployeeNo:         params.EmployeeNo,
		FullName:           params.FullName,
		TIN:                params.TIN,
		INSSNo:             params.INSSNo,
		Email:              params.Email,
		HireDate:           params.HireDate,
		DepartmentID:       params.DepartmentID,
		PayGroup:           params.PayGroup,
		PayBasis:           params.PayBasis,
		MonthlySalaryCents: params.MonthlySalaryCents,
		HourlyRateCents:    params.HourlyRateCents,
		Residency:          params.Residency,
		INSSExempt:         params.INSSExempt,
		Status:             "active",
		CreatedAt:          time.Now().UTC(),
	}
	s.byTenant[tenantID] = append(s.byTenant[tenantID], e)
	return e, nil
}

func (s *hrMemoryStore) GetEmployee(_ context.Context, tenantID string, employeeID string) (Employee, error) {
	for _, e := range s.byTenant[tenantID] {
		if e.ID == employeeID {
			e.Status = employeeStatusAsOf(e.TerminationDate, currentUTCDateString())
			return e, nil
		}
	}
	return Employee{}, pgx.ErrNoRows
}

func (s *hrMemoryStore) UpdateCompensation(_ context.Context, tenantID string, employeeID string, params updateCompensationParams) (Employee, error) {
	if err := validateUpdateCompensationParams(&params); err != nil {
		return Employee{}, newBadRequestError(err.Error())
	}
	list := s.byTenant[tenantID]
	for i := range list {
		if list[i].ID == employeeID {
			list[i].PayBasis = params.PayBasis
			list[i].MonthlySalaryCents = params.MonthlySalaryCents
			list[i].HourlyRateCents = params.HourlyRateCents
			out := list[i]
			out.Status = employeeStatusAsOf(out.TerminationDate, currentUTCDateString())
			return out, nil
		}
	}
	return Employee{}, pgx.ErrNoRows
}

func (s *hrMemoryStore) TerminateEmployee(_ context.Context, tenantID string, employeeID string, terminationDate string, _ string) (Employee, error) {
	terminationDate = strings.TrimSpace(terminationDate)
	if _, err := time.Parse("2006-01-02", terminationDate); err != nil {
		return Employee{}, newBadRequestError("termination_date invalid: " + err.Error())
	}
	list := s.byTenant[tenantID]
	for i := range list {
		if list[i].ID == employeeID {
			list[i].TerminationDate = terminationDate
			out := list[i]
			out.Status = employeeStatusAsOf(out.TerminationDate, currentUTCDateString())
			return out, nil
		}
	}
	return Employee{}, pgx.ErrNoRows
}

func (s *hrMemoryStore) ListBankAccounts(_ context.Context, tenantID string, employeeID string) ([]EmployeeBankAccount, error) {
	var out []EmployeeBankAccount
	for _, a := range s.accounts[tenantID] {
		if a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *hrMemoryStore) AddBankAccount(_ context.Context, tenantID string, employeeID string, params addBankAccountParams) (EmployeeBankAccount, error) {
	if err := validateAddBankAccountParams(&params); err != nil {
		return EmployeeBankAccount{}, newBadRequestError(err.Error())
	}
	if params.Primary {
		list := s.accounts[tenantID]
		for i := range list {
			if list[i].EmployeeID == employeeID {
				list[i].Primary = false
			}
		}
	}
	s.nextAccount++
	a := EmployeeBankAccount{
		ID:            "account-" + strconv.Itoa(s.nextAccount),
		EmployeeID:    employeeID,
		BankCode:      params.BankCode,
		AccountNumber: params.AccountNumber,
		AccountName:   params.AccountName,
		Primary:       params.Primary,
		CreatedAt:     time.Now().UTC(),
	}
	s.accounts[tenantID] = append(s.accounts[tenantID], a)
	return a, nil
}

func (s *hrMemoryStore) ListPayrollCandidates(_ context.Context, tenantID string, payGroup string, periodStart string, periodEnd string) ([]Employee, error) {
	payGroup = strings.ToLower(strings.TrimSpace(payGroup))
	if payGroup == "" {
		return nil, newBadRequestError("pay_group is required")
	}
	var out []Employee
	for _, e := range s.byTenant[tenantID] {
		if e.PayGroup != payGroup {
			continue
		}
		if e.HireDate > periodEnd {
			continue
		}
		if e.TerminationDate != "" && e.TerminationDate < periodStart {
			continue
		}
		e.Status = employeeStatusAsOf(e.TerminationDate, periodEnd)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeNo < out[j].EmployeeNo })
	return out, nil
}
