package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/pkg/bankfile"
	"github.com/OniT-Enterprises/meza/pkg/payroll/engine"
	"github.com/OniT-Enterprises/meza/pkg/payroll/inss"
	"github.com/OniT-Enterprises/meza/pkg/payroll/wit"
)

type CompanyProfile struct {
	Name              string    `json:"name"`
	TIN               string    `json:"tin"`
	INSSEmployerNo    string    `json:"inss_employer_no"`
	Address           string    `json:"address"`
	ContactEmail      string    `json:"contact_email"`
	BankCode          string    `json:"bank_code"`
	BankAccountNumber string    `json:"bank_account_number"`
	BankAccountName   string    `json:"bank_account_name"`
	Currency          string    `json:"currency"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type PayPolicySettings struct {
	OvertimePercent          int64     `json:"overtime_percent"`
	NightPercent             int64     `json:"night_percent"`
	RestDayPercent           int64     `json:"rest_day_percent"`
	StandardMonthlyHours     int64     `json:"standard_monthly_hours"`
	MaxOvertimeHoursPerMonth int64     `json:"max_overtime_hours_per_month"`
	MinimumMonthlyWageCents  int64     `json:"minimum_monthly_wage_cents"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (p PayPolicySettings) enginePolicy() engine.PayPolicy {
	return engine.PayPolicy{
		OvertimePercent:          p.OvertimePercent,
		NightPercent:             p.NightPercent,
		RestDayPercent:           p.RestDayPercent,
		StandardMonthlyHours:     p.StandardMonthlyHours,
		MaxOvertimeHoursPerMonth: p.MaxOvertimeHoursPerMonth,
		MinimumMonthlyWageCents:  p.MinimumMonthlyWageCents,
	}
}

func defaultPayPolicySettings() PayPolicySettings {
	d := engine.DefaultPayPolicy()
	return PayPolicySettings{
		OvertimePercent:          d.OvertimePercent,
		NightPercent:             d.NightPercent,
		RestDayPercent:           d.RestDayPercent,
		StandardMonthlyHours:     d.StandardMonthlyHours,
		MaxOvertimeHoursPerMonth: d.MaxOvertimeHoursPerMonth,
		MinimumMonthlyWageCents:  d.MinimumMonthlyWageCents,
	}
}

// StatutoryTable is one dated revision of a WIT bracket table or INSS rate
// pair. Drafts can be edited freely; the payroll engine only ever sees the
// latest active revision whose effective_from is not in the future.
type StatutoryTable struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	EffectiveFrom string          `json:"effective_from"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Holiday struct {
	Date   string `json:"date"`
	Name   string `json:"name"`
	NamePT string `json:"name_pt"`
}

type PayGroup struct {
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	PayDay    int       `json:"pay_day"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SettingsStore interface {
	GetCompanyProfile(ctx context.Context, tenantID string) (CompanyProfile, error)
	UpdateCompanyProfile(ctx context.Context, tenantID string, initiatorID string, p CompanyProfile) (CompanyProfile, error)

	GetPayPolicy(ctx context.Context, tenantID string) (PayPolicySettings, error)
	UpdatePayPolicy(ctx context.Context, tenantID string, initiatorID string, p PayPolicySettings) (PayPolicySettings, error)

	ListStatutoryTables(ctx context.Context, tenantID string, kind string, limit int) ([]StatutoryTable, error)
	CreateStatutoryTable(ctx context.Context, tenantID string, initiatorID string, kind string, effectiveFrom string, payload json.RawMessage) (StatutoryTable, error)
	ActivateStatutoryTable(ctx context.Context, tenantID string, initiatorID string, tableID string) (StatutoryTable, error)
	ActiveStatutoryTable(ctx context.Context, tenantID string, kind string, asOfDate string) (StatutoryTable, bool, error)

	ListHolidays(ctx context.Context, tenantID string, year int) ([]Holiday, error)
	SetHoliday(ctx context.Context, tenantID string, initiatorID string, h Holiday) error
	ClearHoliday(ctx context.Context, tenantID string, initiatorID string, date string) error

	ListPayGroups(ctx context.Context, tenantID string) ([]PayGroup, error)
	UpsertPayGroup(ctx context.Context, tenantID string, initiatorID string, g PayGroup) (PayGroup, error)
}

const (
	StatutoryKindWIT  = "WIT"
	StatutoryKindINSS = "INSS"
)

type witBracketPayload struct {
	UpToCents   int64 `json:"up_to_cents"`
	RatePercent int64 `json:"rate_percent"`
}

type witTablePayload struct {
	Resident    []witBracketPayload `json:"resident"`
	NonResident []witBracketPayload `json:"non_resident"`
}

type inssRatesPayload struct {
	EmployeePercent int64 `json:"employee_percent"`
	EmployerPercent int64 `json:"employer_percent"`
}

func witTableFromPayload(payload json.RawMessage) (wit.Table, error) {
	var p witTablePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return wit.Table{}, fmt.Errorf("wit payload: %w", err)
	}
	t := wit.Table{}
	for _, b := range p.Resident {
		t.Resident = append(t.Resident, wit.Bracket{UpToCents: b.UpToCents, RatePercent: b.RatePercent})
	}
	for _, b := range p.NonResident {
		t.NonResident = append(t.NonResident, wit.Bracket{UpToCents: b.UpToCents, RatePercent: b.RatePercent})
	}
	if err := t.Validate(); err != nil {
		return wit.Table{}, err
	}
	return t, nil
}

func inssRatesFromPayload(payload json.RawMessage) (inss.RateTable, error) {
	var p inssRatesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return inss.RateTable{}, fmt.Errorf("inss payload: %w", err)
	}
	r := inss.RateTable{EmployeePercent: p.EmployeePercent, EmployerPercent: p.EmployerPercent}
	if err := r.Validate(); err != nil {
		return inss.RateTable{}, err
	}
	return r, nil
}

func normalizeStatutoryKind(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case StatutoryKindWIT:
		return StatutoryKindWIT, nil
	case StatutoryKindINSS:
		return StatutoryKindINSS, nil
	default:
		return "", errors.New("kind must be WIT|INSS")
	}
}

func validateStatutoryDraft(kind string, effectiveFrom string, payload json.RawMessage) error {
	if _, err := time.Parse("2006-01-02", strings.TrimSpace(effectiveFrom)); err != nil {
		return errors.New("effective_from must look like 2026-01-01")
	}
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	switch kind {
	case StatutoryKindWIT:
		_, err := witTableFromPayload(payload)
		return err
	case StatutoryKindINSS:
		_, err := inssRatesFromPayload(payload)
		return err
	}
	return errors.New("kind must be WIT|INSS")
}

func validateCompanyProfile(p *CompanyProfile) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errors.New("name is required")
	}
	p.TIN = strings.TrimSpace(p.TIN)
	p.INSSEmployerNo = strings.TrimSpace(p.INSSEmployerNo)
	p.Address = strings.TrimSpace(p.Address)
	p.ContactEmail = strings.ToLower(strings.TrimSpace(p.ContactEmail))
	p.BankAccountName = strings.TrimSpace(p.BankAccountName)
	p.Currency = "USD"

	p.BankCode = strings.ToUpper(strings.TrimSpace(p.BankCode))
	if p.BankCode != "" {
		if _, ok := bankfile.ForCode(p.BankCode); !ok {
			return fmt.Errorf("unknown bank code %q, known: %s", p.BankCode, strings.Join(bankfile.Codes(), ", "))
		}
	}
	p.BankAccountNumber = strings.TrimSpace(p.BankAccountNumber)
	if p.BankAccountNumber != "" && !isDigits(p.BankAccountNumber) {
		return errors.New("bank_account_number must be digits")
	}
	return nil
}

func validatePayPolicySettings(p *PayPolicySettings) error {
	if p.OvertimePercent < 100 || p.NightPercent < 100 || p.RestDayPercent < 100 {
		return errors.New("premium percents must be at least 100")
	}
	if p.StandardMonthlyHours <= 0 {
		return errors.New("standard_monthly_hours must be positive")
	}
	if p.MaxOvertimeHoursPerMonth < 0 {
		return errors.New("max_overtime_hours_per_month must be non-negative")
	}
	if p.MinimumMonthlyWageCents < 0 {
		return errors.New("minimum_monthly_wage_cents must be non-negative")
	}
	return nil
}

func validateHoliday(h *Holiday) error {
	h.Date = strings.TrimSpace(h.Date)
	if _, err := time.Parse("2006-01-02", h.Date); err != nil {
		return errors.New("date must look like 2026-05-20")
	}
	h.Name = strings.TrimSpace(h.Name)
	if h.Name == "" {
		return errors.New("name is required")
	}
	h.NamePT = strings.TrimSpace(h.NamePT)
	return nil
}

var payGroupSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

func validatePayGroup(g *PayGroup) error {
	g.Slug = strings.ToLower(strings.TrimSpace(g.Slug))
	if !payGroupSlugPattern.MatchString(g.Slug) {
		return errors.New("slug must be lowercase letters, digits and dashes")
	}
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return errors.New("name is required")
	}
	g.Schedule = strings.ToUpper(strings.TrimSpace(g.Schedule))
	if g.Schedule == "" {
		g.Schedule = "MONTHLY"
	}
	if g.Schedule != "MONTHLY" {
		return errors.New("schedule must be MONTHLY")
	}
	if g.PayDay == 0 {
		g.PayDay = 28
	}
	if g.PayDay < 1 || g.PayDay > 28 {
		return errors.New("pay_day must be between 1 and 28")
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type settingsPGStore struct {
	pool pgBeginner
}

func newSettingsPGStore(pool pgBeginner) *settingsPGStore {
	return &settingsPGStore{pool: pool}
}

func (s *settingsPGStore) GetCompanyProfile(ctx context.Context, tenantID string) (CompanyProfile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CompanyProfile{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return CompanyProfile{}, err
	}

	var out CompanyProfile
	err = tx.QueryRow(ctx, `
SELECT
  name,
  COALESCE(tin, ''),
  COALESCE(inss_employer_no, ''),
  COALESCE(address, ''),
  COALESCE(contact_email, ''),
  COALESCE(bank_code, ''),
  COALESCE(bank_account_number, ''),
  COALESCE(bank_account_name, ''),
  currency,
  updated_at
FROM settings.company_profiles
WHERE tenant_id = $1::uuid
`, tenantID).Scan(
		&out.Name,
		&out.TIN,
		&out.INSSEmployerNo,
		&out.Address,
		&out.ContactEmail,
		&out.BankCode,
		&out.BankAccountNumber,
		&out.BankAccountName,
		&out.Currency,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.Commit(ctx); err != nil {
				return CompanyProfile{}, err
			}
			return CompanyProfile{Currency: "USD"}, nil
		}
		return CompanyProfile{}, err
	}
	out.UpdatedAt = out.UpdatedAt.UTC()

	if err := tx.Commit(ctx); err != nil {
		return CompanyProfile{}, err
	}
	return out, nil
}

func (s *settingsPGStore) UpdateCompanyProfile(ctx context.Context, tenantID string, initiatorID string, p CompanyProfile) (CompanyProfile, error) {
	if err := validateCompanyProfile(&p); err != nil {
		return CompanyProfile{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CompanyProfile{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return CompanyProfile{}, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO settings.company_profiles (
  tenant_id, name, tin, inss_employer_no, address, contact_email,
  bank_code, bank_account_number, bank_account_name, currency,
  updated_by, created_at, updated_at
) VALUES (
  $1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::uuid, now(), now()
)
ON CONFLICT (tenant_id) DO UPDATE SET
  name = EXCLUDED.name,
  tin = EXCLUDED.tin,
  inss_employer_no = EXCLUDED.inss_employer_no,
  address = EXCLUDED.address,
  contact_email = EXCLUDED.contact_email,
  bank_code = EXCLUDED.bank_code,
  bank_account_number = EXCLUDED.bank_account_number,
  bank_account_name = EXCLUDED.bank_account_name,
  currency = EXCLUDED.currency,
  updated_by = EXCLUDED.updated_by,
  updated_at = now()
`, tenantID, p.Name, p.TIN, p.INSSEmployerNo, p.Address, p.ContactEmail,
		p.BankCode, p.BankAccountNumber, p.BankAccountName, p.Currency, initiatorID); err != nil {
		return CompanyProfile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CompanyProfile{}, err
	}
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

func (s *settingsPGStore) GetPayPolicy(ctx context.Context, tenantID string) (PayPolicySettings, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayPolicySettings{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayPolicySettings{}, err
	}

	var out PayPolicySettings
	err = tx.QueryRow(ctx, `
SELECT
  overtime_percent,
  night_percent,
  rest_day_percent,
  standard_monthly_hours,
  max_overtime_hours_per_month,
  minimum_monthly_wage_cents,
  updated_at
FROM settings.pay_policies
WHERE tenant_id = $1::uuid
`, tenantID).Scan(
		&out.OvertimePercent,
		&out.NightPercent,
		&out.RestDayPercent,
		&out.StandardMonthlyHours,
		&out.MaxOvertimeHoursPerMonth,
		&out.MinimumMonthlyWageCents,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.Commit(ctx); err != nil {
				return PayPolicySettings{}, err
			}
			return defaultPayPolicySettings(), nil
		}
		return PayPolicySettings{}, err
	}
	out.UpdatedAt = out.UpdatedAt.UTC()

	if err := tx.Commit(ctx); err != nil {
		return PayPolicySettings{}, err
	}
	return out, nil
}

func (s *settingsPGStore) UpdatePayPolicy(ctx context.Context, tenantID string, initiatorID string, p PayPolicySettings) (PayPolicySettings, error) {
	if err := validatePayPolicySettings(&p); err != nil {
		return PayPolicySettings{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayPolicySettings{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayPolicySettings{}, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO settings.pay_policies (
  tenant_id, overtime_percent, night_percent, rest_day_percent,
  standard_monthly_hours, max_overtime_hours_per_month, minimum_monthly_wage_cents,
  updated_by, created_at, updated_at
) VALUES (
  $1::uuid, $2, $3, $4, $5, $6, $7, $8::uuid, now(), now()
)
ON CONFLICT (tenant_id) DO UPDATE SET
  overtime_percent = EXCLUDED.overtime_percent,
  night_percent = EXCLUDED.night_percent,
  rest_day_percent = EXCLUDED.rest_day_percent,
  standard_monthly_hours = EXCLUDED.standard_monthly_hours,
  max_overtime_hours_per_month = EXCLUDED.max_overtime_hours_per_month,
  minimum_monthly_wage_cents = EXCLUDED.minimum_monthly_wage_cents,
  updated_by = EXCLUDED.updated_by,
  updated_at = now()
`, tenantID, p.OvertimePercent, p.NightPercent, p.RestDayPercent,
		p.StandardMonthlyHours, p.MaxOvertimeHoursPerMonth, p.MinimumMonthlyWageCents, initiatorID); err != nil {
		return PayPolicySettings{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayPolicySettings{}, err
	}
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

const statutoryTableSelectColumns = `
  id::text,
  kind,
  status,
  effective_from::text,
  payload,
  created_at,
  updated_at`

func scanStatutoryTable(row pgx.Row, t *StatutoryTable) error {
	var payload []byte
	if err := row.Scan(&t.ID, &t.Kind, &t.Status, &t.EffectiveFrom, &payload, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return err
	}
	t.Payload = json.RawMessage(payload)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return nil
}

func (s *settingsPGStore) ListStatutoryTables(ctx context.Context, tenantID string, kind string, limit int) ([]StatutoryTable, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	kind = strings.ToUpper(strings.TrimSpace(kind))
	rows, err := tx.Query(ctx, `
SELECT`+statutoryTableSelectColumns+`
FROM settings.statutory_tables
WHERE tenant_id = $1::uuid
  AND ($2 = '' OR kind = $2)
ORDER BY effective_from DESC, created_at DESC
LIMIT $3
`, tenantID, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatutoryTable
	for rows.Next() {
		var t StatutoryTable
		if err := scanStatutoryTable(rows, &t); err != nil {
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

func (s *settingsPGStore) CreateStatutoryTable(ctx context.Context, tenantID string, initiatorID string, kind string, effectiveFrom string, payload json.RawMessage) (StatutoryTable, error) {
	kind, err := normalizeStatutoryKind(kind)
	if err != nil {
		return StatutoryTable{}, newBadRequestError(err.Error())
	}
	effectiveFrom = strings.TrimSpace(effectiveFrom)
	if err := validateStatutoryDraft(kind, effectiveFrom, payload); err != nil {
		return StatutoryTable{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return StatutoryTable{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return StatutoryTable{}, err
	}

	var out StatutoryTable
	row := tx.QueryRow(ctx, `
INSERT INTO settings.statutory_tables (
  tenant_id, kind, status, effective_from, payload, created_by, created_at, updated_at
) VALUES (
  $1::uuid, $2, 'draft', $3::date, $4::jsonb, $5::uuid, now(), now()
)
RETURNING`+statutoryTableSelectColumns+`
`, tenantID, kind, effectiveFrom, []byte(payload), initiatorID)
	if err := scanStatutoryTable(row, &out); err != nil {
		return StatutoryTable{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StatutoryTable{}, err
	}
	return out, nil
}

func (s *settingsPGStore) ActivateStatutoryTable(ctx context.Context, tenantID string, initiatorID string, tableID string) (StatutoryTable, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return StatutoryTable{}, newBadRequestError("table_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return StatutoryTable{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return StatutoryTable{}, err
	}

	var out StatutoryTable
	row := tx.QueryRow(ctx, `
UPDATE settings.statutory_tables
SET status = 'active',
    activated_by = $3::uuid,
    updated_at = now()
WHERE tenant_id = $1::uuid
  AND id = $2::uuid
  AND status = 'draft'
RETURNING`+statutoryTableSelectColumns+`
`, tenantID, tableID, initiatorID)
	if err := scanStatutoryTable(row, &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatutoryTable{}, errors.New("statutory table not found (or not draft)")
		}
		return StatutoryTable{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StatutoryTable{}, err
	}
	return out, nil
}

func (s *settingsPGStore) ActiveStatutoryTable(ctx context.Context, tenantID string, kind string, asOfDate string) (StatutoryTable, bool, error) {
	kind, err := normalizeStatutoryKind(kind)
	if err != nil {
		return StatutoryTable{}, false, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return StatutoryTable{}, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return StatutoryTable{}, false, err
	}

	var out StatutoryTable
	row := tx.QueryRow(ctx, `
SELECT`+statutoryTableSelectColumns+`
FROM settings.statutory_tables
WHERE tenant_id = $1::uuid
  AND kind = $2
  AND status = 'active'
  AND effective_from <= $3::date
ORDER BY effective_from DESC, created_at DESC
LIMIT 1
`, tenantID, kind, asOfDate)
	if err := scanStatutoryTable(row, &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.Commit(ctx); err != nil {
				return StatutoryTable{}, false, err
			}
			return StatutoryTable{}, false, nil
		}
		return StatutoryTable{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StatutoryTable{}, false, err
	}
	return out, true, nil
}

func (s *settingsPGStore) ListHolidays(ctx context.Context, tenantID string, year int) ([]Holiday, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT
  day_date::text,
  name,
  COALESCE(name_pt, '')
FROM settings.holidays
WHERE tenant_id = $1::uuid
  AND day_date >= make_date($2, 1, 1)
  AND day_date < make_date($2 + 1, 1, 1)
ORDER BY day_date ASC
`, tenantID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.Date, &h.Name, &h.NamePT); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *settingsPGStore) SetHoliday(ctx context.Context, tenantID string, initiatorID string, h Holiday) error {
	if err := validateHoliday(&h); err != nil {
		return newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO settings.holidays (tenant_id, day_date, name, name_pt, updated_by, created_at, updated_at)
VALUES ($1::uuid, $2::date, $3, $4, $5::uuid, now(), now())
ON CONFLICT (tenant_id, day_date) DO UPDATE SET
  name = EXCLUDED.name,
  name_pt = EXCLUDED.name_pt,
  updated_by = EXCLUDED.updated_by,
  updated_at = now()
`, tenantID, h.Date, h.Name, h.NamePT, initiatorID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *settingsPGStore) ClearHoliday(ctx context.Context, tenantID string, initiatorID string, date string) error {
	date = strings.TrimSpace(date)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return newBadRequestError("date must look like 2026-05-20")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
DELETE FROM settings.holidays
WHERE tenant_id = $1::uuid
  AND day_date = $2::date
`, tenantID, date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("holiday not found")
	}

	return tx.Commit(ctx)
}

func (s *settingsPGStore) ListPayGroups(ctx context.Context, tenantID string) ([]PayGroup, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT
  slug,
  name,
  schedule,
  pay_day,
  active,
  updated_at
FROM settings.pay_groups
WHERE tenant_id = $1::uuid
ORDER BY slug ASC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayGroup
	for rows.Next() {
		var g PayGroup
		if err := rows.Scan(&g.Slug, &g.Name, &g.Schedule, &g.PayDay, &g.Active, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.UpdatedAt = g.UpdatedAt.UTC()
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *settingsPGStore) UpsertPayGroup(ctx context.Context, tenantID string, initiatorID string, g PayGroup) (PayGroup, error) {
	if err := validatePayGroup(&g); err != nil {
		return PayGroup{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayGroup{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return PayGroup{}, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO settings.pay_groups (tenant_id, slug, name, schedule, pay_day, active, updated_by, created_at, updated_at)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::uuid, now(), now())
ON CONFLICT (tenant_id, slug) DO UPDATE SET
  name = EXCLUDED.name,
  schedule = EXCLUDED.schedule,
  pay_day = EXCLUDED.pay_day,
  active = EXCLUDED.active,
  updated_by = EXCLUDED.updated_by,
  updated_at = now()
`, tenantID, g.Slug, g.Name, g.Schedule, g.PayDay, g.Active, initiatorID); err != nil {
		return PayGroup{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PayGroup{}, err
	}
	g.UpdatedAt = time.Now().UTC()
	return g, nil
}

type settingsMemoryStore struct {
	profiles  map[string]CompanyProfile
	policies  map[string]PayPolicySettings
	tables    map[string][]StatutoryTable
	holidays  map[string]map[string]Holiday
	payGroups map[string]map[string]PayGroup
	nextTable int
}

func newSettingsMemoryStore() *settingsMemoryStore {
	return &settingsMemoryStore{
		profiles:  make(map[string]CompanyProfile),
		policies:  make(map[string]PayPolicySettings),
		tables:    make(map[string][]StatutoryTable),
		holidays:  make(map[string]map[string]Holiday),
		payGroups: make(map[string]map[string]PayGroup),
	}
}

func (s *settingsMemoryStore) GetCompanyProfile(_ context.Context, tenantID string) (CompanyProfile, error) {
	if p, ok := s.profiles[tenantID]; ok {
		return p, nil
	}
	return CompanyProfile{Currency: "USD"}, nil
}

func (s *settingsMemoryStore) UpdateCompanyProfile(_ context.Context, tenantID string, _ string, p CompanyProfile) (CompanyProfile, error) {
	if err := validateCompanyProfile(&p); err != nil {
		return CompanyProfile{}, newBadRequestError(err.Error())
	}
	p.UpdatedAt = time.Now().UTC()
	s.profiles[tenantID] = p
	return p, nil
}

func (s *settingsMemoryStore) GetPayPolicy(_ context.Context, tenantID string) (PayPolicySettings, error) {
	if p, ok := s.policies[tenantID]; ok {
		return p, nil
	}
	return defaultPayPolicySettings(), nil
}

func (s *settingsMemoryStore) UpdatePayPolicy(_ context.Context, tenantID string, _ string, p PayPolicySettings) (PayPolicySettings, error) {
	if err := validatePayPolicySettings(&p); err != nil {
		return PayPolicySettings{}, newBadRequestError(err.Error())
	}
	p.UpdatedAt = time.Now().UTC()
	s.policies[tenantID] = p
	return p, nil
}

func (s *settingsMemoryStore) ListStatutoryTables(_ context.Context, tenantID string, kind string, limit int) ([]StatutoryTable, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	kind = strings.ToUpper(strings.TrimSpace(kind))

	var out []StatutoryTable
	for _, t := range s.tables[tenantID] {
		if kind != "" && t.Kind != kind {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectiveFrom == out[j].EffectiveFrom {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].EffectiveFrom > out[j].EffectiveFrom
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *settingsMemoryStore) CreateStatutoryTable(_ context.Context, tenantID string, _ string, kind string, effectiveFrom string, payload json.RawMessage) (StatutoryTable, error) {
	kind, err := normalizeStatutoryKind(kind)
	if err != nil {
		return StatutoryTable{}, newBadRequestError(err.Error())
	}
	effectiveFrom = strings.TrimSpace(effectiveFrom)
	if err := validateStatutoryDraft(kind, effectiveFrom, payload); err != nil {
		return StatutoryTable{}, newBadRequestError(err.Error())
	}

	s.nextTable++
	now := time.Now().UTC()
	t := StatutoryTable{
		ID:            fmt.Sprintf("table-%d", s.nextTable),
		Kind:          kind,
		Status:        "draft",
		EffectiveFrom: effectiveFrom,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tables[tenantID] = append(s.tables[tenantID], t)
	return t, nil
}

func (s *settingsMemoryStore) ActivateStatutoryTable(_ context.Context, tenantID string, _ string, tableID string) (StatutoryTable, error) {
	list := s.tables[tenantID]
	for i := range list {
		if list[i].ID != strings.TrimSpace(tableID) {
			continue
		}
		if list[i].Status != "draft" {
			return StatutoryTable{}, errors.New("statutory table not found (or not draft)")
		}
		list[i].Status = "active"
		list[i].UpdatedAt = time.Now().UTC()
		return list[i], nil
	}
	return StatutoryTable{}, errors.New("statutory table not found (or not draft)")
}

func (s *settingsMemoryStore) ActiveStatutoryTable(_ context.Context, tenantID string, kind string, asOfDate string) (StatutoryTable, bool, error) {
	kind, err := normalizeStatutoryKind(kind)
	if err != nil {
		return StatutoryTable{}, false, newBadRequestError(err.Error())
	}

	var best StatutoryTable
	found := false
	for _, t := range s.tables[tenantID] {
		if t.Kind != kind || t.Status != "active" || t.EffectiveFrom > asOfDate {
			continue
		}
		if !found || t.EffectiveFrom > best.EffectiveFrom ||
			(t.EffectiveFrom == best.EffectiveFrom && t.CreatedAt.After(best.CreatedAt)) {
			best = t
			found = true
		}
	}
	return best, found, nil
}

func (s *settingsMemoryStore) ListHolidays(_ context.Context, tenantID string, year int) ([]Holiday, error) {
	prefix := fmt.Sprintf("%04d-", year)
	var out []Holiday
	for date, h := range s.holidays[tenantID] {
		if !strings.HasPrefix(date, prefix) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *settingsMemoryStore) SetHoliday(_ context.Context, tenantID string, _ string, h Holiday) error {
	if err := validateHoliday(&h); err != nil {
		return newBadRequestError(err.Error())
	}
	if s.holidays[tenantID] == nil {
		s.holidays[tenantID] = make(map[string]Holiday)
	}
	s.holidays[tenantID][h.Date] = h
	return nil
}

func (s *settingsMemoryStore) ClearHoliday(_ context.Context, tenantID string, _ string, date string) error {
	date = strings.TrimSpace(date)
	if _, ok := s.holidays[tenantID][date]; !ok {
		return errors.New("holiday not found")
	}
	delete(s.holidays[tenantID], date)
	return nil
}

func (s *settingsMemoryStore) ListPayGroups(_ context.Context, tenantID string) ([]PayGroup, error) {
	var out []PayGroup
	for _, g := range s.payGroups[tenantID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *settingsMemoryStore) UpsertPayGroup(_ context.Context, tenantID string, _ string, g PayGroup) (PayGroup, error) {
	if err := validatePayGroup(&g); err != nil {
		return PayGroup{}, newBadRequestError(err.Error())
	}
	g.UpdatedAt = time.Now().UTC()
	if s.payGroups[tenantID] == nil {
		s.payGroups[tenantID] = make(map[string]PayGroup)
	}
	s.payGroups[tenantID][g.Slug] = g
	return g, nil
}

// statutoryWITTable resolves the WIT brackets the engine should apply on a
// date, falling back to the statutory defaults when a tenant has never
// activated a custom table.
func statutoryWITTable(ctx context.Context, store SettingsStore, tenantID string, asOfDate string) (wit.Table, error) {
	t, ok, err := store.ActiveStatutoryTable(ctx, tenantID, StatutoryKindWIT, asOfDate)
	if err != nil {
		return wit.Table{}, err
	}
	if !ok {
		return wit.DefaultTable(), nil
	}
	return witTableFromPayload(t.Payload)
}

func statutoryINSSRates(ctx context.Context, store SettingsStore, tenantID string, asOfDate string) (inss.RateTable, error) {
	t, ok, err := store.ActiveStatutoryTable(ctx, tenantID, StatutoryKindINSS, asOfDate)
	if err != nil {
		return inss.RateTable{}, err
	}
	if !ok {
		return inss.DefaultRates(), nil
	}
	return inssRatesFromPayload(t.Payload)
}
