package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/pkg/payroll/engine"
)

// AllowanceType is a catalog entry. The eligibility expression, when set, is
// a CEL boolean over ctx (department, pay_group, contract_months, residency);
// an employee only receives grants of this code while the expression holds.
type AllowanceType struct {
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	Taxable            bool      `json:"taxable"`
	INSSBase           bool      `json:"inss_base"`
	DefaultAmountCents int64     `json:"default_amount_cents"`
	EligibilityExpr    string    `json:"eligibility_expr"`
	Active             bool      `json:"active"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AllowanceGrant assigns a catalog code to one employee for a date range.
// AmountCents zero means the type's default amount. When several grants of
// the same code overlap, the highest priority wins; ties go to the latest
// effective_from.
type AllowanceGrant struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	Code          string `json:"code"`
	AmountCents   int64  `json:"amount_cents"`
	Priority      int    `json:"priority"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to"`
	CreatedAt     string `json:"created_at"`
}

type AllowanceStore interface {
	ListAllowanceTypes(ctx context.Context, tenantID string) ([]AllowanceType, error)
	UpsertAllowanceType(ctx context.Context, tenantID string, t AllowanceType) (AllowanceType, error)
	ListAllowanceGrants(ctx context.Context, tenantID string, employeeID string) ([]AllowanceGrant, error)
	CreateAllowanceGrant(ctx context.Context, tenantID string, g AllowanceGrant) (AllowanceGrant, error)
	ActiveAllowanceGrants(ctx context.Context, tenantID string, employeeID string, asOfDate string) ([]AllowanceGrant, error)
}

var allowanceCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,31}$`)

// reservedPayslipCodes are line codes the engine emits itself; allowance
// types must not shadow them.
var reservedPayslipCodes = map[string]bool{
	engine.EarningBase:          true,
	engine.EarningOvertime:      true,
	engine.EarningNight:         true,
	engine.EarningRestDay:       true,
	engine.EarningSubsidioAnual: true,
	engine.DeductionWIT:         true,
	engine.DeductionINSSEmployee: true,
	"ADVANCE":                   true,
}

func normalizeAllowanceCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", errors.New("code is required")
	}
	if !allowanceCodePattern.MatchString(code) {
		return "", errors.New("code must be A-Z, digits or underscore")
	}
	if reservedPayslipCodes[code] {
		return "", fmt.Errorf("code %s is reserved", code)
	}
	return code, nil
}

func validateAllowanceType(t *AllowanceType) error {
	code, err := normalizeAllowanceCode(t.Code)
	if err != nil {
		return err
	}
	t.Code = code
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("name is required")
	}
	if t.DefaultAmountCents < 0 {
		return errors.New("default_amount_cents must not be negative")
	}
	t.EligibilityExpr = strings.TrimSpace(t.EligibilityExpr)
	if t.EligibilityExpr != "" {
		if _, err := compileAllowanceEligibility(t.EligibilityExpr); err != nil {
			return fmt.Errorf("eligibility_expr: %v", err)
		}
	}
	return nil
}

func validateAllowanceGrant(g *AllowanceGrant) error {
	g.EmployeeID = strings.TrimSpace(g.EmployeeID)
	if g.EmployeeID == "" {
		return errors.New("employee_id is required")
	}
	code, err := normalizeAllowanceCode(g.Code)
	if err != nil {
		return err
	}
	g.Code = code
	if g.AmountCents < 0 {
		return errors.New("amount_cents must not be negative")
	}
	if g.Priority < 0 {
		return errors.New("priority must not be negative")
	}
	g.EffectiveFrom = strings.TrimSpace(g.EffectiveFrom)
	if _, err := time.Parse("2006-01-02", g.EffectiveFrom); err != nil {
		return errors.New("effective_from must be YYYY-MM-DD")
	}
	g.EffectiveTo = strings.TrimSpace(g.EffectiveTo)
	if g.EffectiveTo != "" {
		if _, err := time.Parse("2006-01-02", g.EffectiveTo); err != nil {
			return errors.New("effective_to must be YYYY-MM-DD")
		}
		if g.EffectiveTo < g.EffectiveFrom {
			return errors.New("effective_to must not precede effective_from")
		}
	}
	return nil
}

var newAllowanceCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)))
}

var allowanceEligibilityProgramCache sync.Map

func compileAllowanceEligibility(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := allowanceEligibilityProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newAllowanceCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("expression must be boolean")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	allowanceEligibilityProgramCache.Store(expr, program)
	return program, nil
}

func evalAllowanceEligibility(expr string, ctxMap map[string]string) (bool, error) {
	program, err := compileAllowanceEligibility(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"ctx": ctxMap})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("expression must be boolean")
	}
	return v, nil
}

// allowanceCELContext builds the evaluation context for one employee as of a
// date. All values are strings so expressions stay uniform.
func allowanceCELContext(emp Employee, asOfDate string) map[string]string {
	months := 0
	if hired, err := time.Parse("2006-01-02", emp.HireDate); err == nil {
		if asOf, err := time.Parse("2006-01-02", asOfDate); err == nil && asOf.After(hired) {
			months = (asOf.Year()-hired.Year())*12 + int(asOf.Month()) - int(hired.Month())
			if asOf.Day() < hired.Day() {
				months--
			}
			if months < 0 {
				months = 0
			}
		}
	}
	return map[string]string{
		"employee_id":     emp.ID,
		"department":      emp.DepartmentID,
		"pay_group":       emp.PayGroup,
		"contract_months": strconv.Itoa(months),
		"residency":       emp.Residency,
	}
}

// allowanceDecision explains why one catalog code did or did not produce an
// allowance for an employee.
type allowanceDecision struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Decision    string `json:"decision"`
	Reason      string `json:"reason"`
	AmountCents int64  `json:"amount_cents"`
	GrantID     string `json:"grant_id,omitempty"`
	Candidates  int    `json:"candidates"`
}

// resolveAllowances turns the grants active for an employee into engine
// allowances. Selection per code: highest priority, then latest
// effective_from. The decisions list covers every code that had at least one
// candidate grant, including the rejected ones.
func resolveAllowances(types []AllowanceType, grants []AllowanceGrant, ctxMap map[string]string) ([]engine.Allowance, []allowanceDecision, error) {
	byCode := make(map[string]AllowanceType, len(types))
	for _, t := range types {
		byCode[t.Code] = t
	}

	grouped := map[string][]AllowanceGrant{}
	for _, g := range grants {
		grouped[g.Code] = append(grouped[g.Code], g)
	}

	codes := make([]string, 0, len(grouped))
	for code := range grouped {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []engine.Allowance
	var decisions []allowanceDecision
	for _, code := range codes {
		candidates := grouped[code]
		decision := allowanceDecision{Code: code, Candidates: len(candidates)}

		t, ok := byCode[code]
		if !ok {
			decision.Decision = "skipped"
			decision.Reason = "no catalog entry for code"
			decisions = append(decisions, decision)
			continue
		}
		decision.Name = t.Name
		if !t.Active {
			decision.Decision = "skipped"
			decision.Reason = "allowance type inactive"
			decisions = append(decisions, decision)
			continue
		}
		if t.EligibilityExpr != "" {
			eligible, err := evalAllowanceEligibility(t.EligibilityExpr, ctxMap)
			if err != nil {
				return nil, nil, fmt.Errorf("allowance %s: %w", code, err)
			}
			if !eligible {
				decision.Decision = "ineligible"
				decision.Reason = "eligibility expression is false"
				decisions = append(decisions, decision)
				continue
			}
		}

		selected := candidates[0]
		for _, g := range candidates[1:] {
			if g.Priority > selected.Priority ||
				(g.Priority == selected.Priority && g.EffectiveFrom > selected.EffectiveFrom) {
				selected = g
			}
		}
		amount := selected.AmountCents
		if amount == 0 {
			amount = t.DefaultAmountCents
		}

		decision.Decision = "granted"
		decision.Reason = fmt.Sprintf("selected grant priority=%d effective_from=%s", selected.Priority, selected.EffectiveFrom)
		decision.AmountCents = amount
		decision.GrantID = selected.ID
		decisions = append(decisions, decision)

		out = append(out, engine.Allowance{
			Code:        code,
			Name:        t.Name,
			AmountCents: amount,
			Taxable:     t.Taxable,
			INSSBase:    t.INSSBase,
		})
	}
	return out, decisions, nil
}

type allowancePGStore struct {
	pool pgBeginner
}

func newAllowancePGStore(pool pgBeginner) *allowancePGStore {
	return &allowancePGStore{pool: pool}
}

const allowanceTypeSelectColumns = `
  code,
  name,
  taxable,
  inss_base,
  default_amount_cents,
  COALESCE(eligibility_expr, '') AS eligibility_expr,
  active,
  updated_at
`

const allowanceGrantSelectColumns = `
  id::text,
  employee_id::text,
  code,
  amount_cents,
  priority,
  effective_from::text,
  COALESCE(effective_to::text, '') AS effective_to,
  created_at::text
`

func scanAllowanceGrant(row pgx.Row, g *AllowanceGrant) error {
	return row.Scan(
		&g.ID,
		&g.EmployeeID,
		&g.Code,
		&g.AmountCents,
		&g.Priority,
		&g.EffectiveFrom,
		&g.EffectiveTo,
		&g.CreatedAt,
	)
}

func (s *allowancePGStore) ListAllowanceTypes(ctx context.Context, tenantID string) ([]AllowanceType, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT`+allowanceTypeSelectColumns+`
FROM payroll.allowance_types
WHERE tenant_id = $1::uuid
ORDER BY code ASC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllowanceType
	for rows.Next() {
		var t AllowanceType
		if err := rows.Scan(&t.Code, &t.Name, &t.Taxable, &t.INSSBase, &t.DefaultAmountCents, &t.EligibilityExpr, &t.Active, &t.UpdatedAt); err != nil {
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

func (s *allowancePGStore) UpsertAllowanceType(ctx context.Context, tenantID string, t AllowanceType) (AllowanceType, error) {
	if err := validateAllowanceType(&t); err != nil {
		return AllowanceType{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AllowanceType{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return AllowanceType{}, err
	}

	var out AllowanceType
	if err := tx.QueryRow(ctx, `
INSERT INTO payroll.allowance_types (tenant_id, code, name, taxable, inss_base, default_amount_cents, eligibility_expr, active, updated_at)
VALUES ($1::uuid, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, now())
ON CONFLICT (tenant_id, code) DO UPDATE SET
  name = EXCLUDED.name,
  taxable = EXCLUDED.taxable,
  inss_base = EXCLUDED.inss_base,
  default_amount_cents = EXCLUDED.default_amount_cents,
  eligibility_expr = EXCLUDED.eligibility_expr,
  active = EXCLUDED.active,
  updated_at = now()
RETURNING`+allowanceTypeSelectColumns+`
`, tenantID, t.Code, t.Name, t.Taxable, t.INSSBase, t.DefaultAmountCents, t.EligibilityExpr, t.Active).
		Scan(&out.Code, &out.Name, &out.Taxable, &out.INSSBase, &out.DefaultAmountCents, &out.EligibilityExpr, &out.Active, &out.UpdatedAt); err != nil {
		return AllowanceType{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AllowanceType{}, err
	}
	return out, nil
}

func (s *allowancePGStore) ListAllowanceGrants(ctx context.Context, tenantID string, employeeID string) ([]AllowanceGrant, error) {
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
SELECT`+allowanceGrantSelectColumns+`
FROM payroll.allowance_grants
WHERE tenant_id = $1::uuid
ORDER BY employee_id::text ASC, code ASC, effective_from DESC
`, tenantID)
	} else {
		rows, err = tx.Query(ctx, `
SELECT`+allowanceGrantSelectColumns+`
FROM payroll.allowance_grants
WHERE tenant_id = $1::uuid AND employee_id = $2::uuid
ORDER BY code ASC, effective_from DESC
`, tenantID, employeeID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllowanceGrant
	for rows.Next() {
		var g AllowanceGrant
		if err := scanAllowanceGrant(rows, &g); err != nil {
			return nil, err
		}
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

func (s *allowancePGStore) CreateAllowanceGrant(ctx context.Context, tenantID string, g AllowanceGrant) (AllowanceGrant, error) {
	if err := validateAllowanceGrant(&g); err != nil {
		return AllowanceGrant{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AllowanceGrant{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return AllowanceGrant{}, err
	}

	var grantID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&grantID); err != nil {
		return AllowanceGrant{}, err
	}

	var out AllowanceGrant
	if err := scanAllowanceGrant(tx.QueryRow(ctx, `
INSERT INTO payroll.allowance_grants (tenant_id, id, employee_id, code, amount_cents, priority, effective_from, effective_to)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7::date, NULLIF($8, '')::date)
RETURNING`+allowanceGrantSelectColumns+`
`, tenantID, grantID, g.EmployeeID, g.Code, g.AmountCents, g.Priority, g.EffectiveFrom, g.EffectiveTo), &out); err != nil {
		return AllowanceGrant{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AllowanceGrant{}, err
	}
	return out, nil
}

func (s *allowancePGStore) ActiveAllowanceGrants(ctx context.Context, tenantID string, employeeID string, asOfDate string) ([]AllowanceGrant, error) {
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
SELECT`+allowanceGrantSelectColumns+`
FROM payroll.allowance_grants
WHERE tenant_id = $1::uuid
  AND employee_id = $2::uuid
  AND effective_from <= $3::date
  AND (effective_to IS NULL OR effective_to >= $3::date)
ORDER BY code ASC, priority DESC, effective_from DESC
`, tenantID, employeeID, asOfDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllowanceGrant
	for rows.Next() {
		var g AllowanceGrant
		if err := scanAllowanceGrant(rows, &g); err != nil {
			return nil, err
		}
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

type allowanceMemoryStore struct {
	types  map[string]map[string]AllowanceType
	grants map[string][]AllowanceGrant
	nextID int
}

func newAllowanceMemoryStore() *allowanceMemoryStore {
	return &allowanceMemoryStore{
		types:  map[string]map[string]AllowanceType{},
		grants: map[string][]AllowanceGrant{},
	}
}

func (s *allowanceMemoryStore) ListAllowanceTypes(_ context.Context, tenantID string) ([]AllowanceType, error) {
	var out []AllowanceType
	for _, t := range s.types[tenantID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *allowanceMemoryStore) UpsertAllowanceType(_ context.Context, tenantID string, t AllowanceType) (AllowanceType, error) {
	if err := validateAllowanceType(&t); err != nil {
		return AllowanceType{}, newBadRequestError(err.Error())
	}
	t.UpdatedAt = time.Now().UTC()
	if s.types[tenantID] == nil {
		s.types[tenantID] = map[string]AllowanceType{}
	}
	s.types[tenantID][t.Code] = t
	return t, nil
}

func (s *allowanceMemoryStore) ListAllowanceGrants(_ context.Context, tenantID string, employeeID string) ([]AllowanceGrant, error) {
	employeeID = strings.TrimSpace(employeeID)
	var out []AllowanceGrant
	for _, g := range s.grants[tenantID] {
		if employeeID != "" && g.EmployeeID != employeeID {
			continue
		}
		out = append(out, g)
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

func (s *allowanceMemoryStore) CreateAllowanceGrant(_ context.Context, tenantID string, g AllowanceGrant) (AllowanceGrant, error) {
	if err := validateAllowanceGrant(&g); err != nil {
		return AllowanceGrant{}, newBadRequestError(err.Error())
	}
	if _, ok := s.types[tenantID][g.Code]; !ok {
		return AllowanceGrant{}, errors.New("PAYROLL_ALLOWANCE_UNKNOWN_CODE")
	}
	s.nextID++
	g.ID = fmt.Sprintf("grant-%d", s.nextID)
	g.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	s.grants[tenantID] = append(s.grants[tenantID], g)
	return g, nil
}

func (s *allowanceMemoryStore) ActiveAllowanceGrants(_ context.Context, tenantID string, employeeID string, asOfDate string) ([]AllowanceGrant, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, newBadRequestError("employee_id is required")
	}
	var out []AllowanceGrant
	for _, g := range s.grants[tenantID] {
		if g.EmployeeID != employeeID {
			continue
		}
		if g.EffectiveFrom > asOfDate {
			continue
		}
		if g.EffectiveTo != "" && g.EffectiveTo < asOfDate {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].EffectiveFrom > out[j].EffectiveFrom
	})
	return out, nil
}
