package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/pkg/money"
)

const (
	FilingKindWIT  = "wit"
	FilingKindINSS = "inss"

	FilingStatusDraft     = "draft"
	FilingStatusSubmitted = "submitted"
)

// FilingReturn is one monthly statutory return. For WIT returns the amount is
// the tax withheld; for INSS returns it is the employee share, with the
// employer share alongside.
type FilingReturn struct {
	ID                  string `json:"id"`
	Kind                string `json:"kind"`
	Year                int    `json:"year"`
	Month               int    `json:"month"`
	Reference           string `json:"reference"`
	Status              string `json:"status"`
	TotalBaseCents      int64  `json:"total_base_cents"`
	TotalAmountCents    int64  `json:"total_amount_cents"`
	TotalEmployerCents  int64  `json:"total_employer_cents"`
	LineCount           int    `json:"line_count"`
	GeneratedAt         string `json:"generated_at"`
	SubmittedAt         string `json:"submitted_at,omitempty"`
}

type FilingLine struct {
	EmployeeID    string `json:"employee_id"`
	EmployeeNo    string `json:"employee_no"`
	EmployeeName  string `json:"employee_name"`
	TIN           string `json:"tin,omitempty"`
	INSSNo        string `json:"inss_no,omitempty"`
	BaseCents     int64  `json:"base_cents"`
	AmountCents   int64  `json:"amount_cents"`
	EmployerCents int64  `json:"employer_cents,omitempty"`
}

type FilingReturnDetail struct {
	FilingReturn
	Lines []FilingLine `json:"lines"`
}

// AnnualWageRow is one employee's aggregate over the finalized runs of a
// calendar year, for the annual wage-income summary.
type AnnualWageRow struct {
	EmployeeID        string `json:"employee_id"`
	EmployeeNo        string `json:"employee_no"`
	EmployeeName      string `json:"employee_name"`
	TIN               string `json:"tin,omitempty"`
	GrossCents        int64  `json:"gross_cents"`
	TaxableCents      int64  `json:"taxable_cents"`
	WITCents          int64  `json:"wit_cents"`
	INSSEmployeeCents int64  `json:"inss_employee_cents"`
	NetCents          int64  `json:"net_cents"`
	PayslipCount      int    `json:"payslip_count"`
}

// FilingStore persists monthly returns. Line assembly from finalized runs
// happens in buildFilingReturn so Postgres and memory backends stay in step.
type FilingStore interface {
	ListFilingReturns(ctx context.Context, tenantID string) ([]FilingReturn, error)
	// SaveDraftReturn creates or replaces the draft for ret's tenant-month.
	// A submitted return for the same month rejects the save.
	SaveDraftReturn(ctx context.Context, tenantID string, ret FilingReturn, lines []FilingLine) (FilingReturn, error)
	GetFilingReturn(ctx context.Context, tenantID string, returnID string) (FilingReturnDetail, error)
	SubmitFilingReturn(ctx context.Context, tenantID string, returnID string) (FilingReturn, error)
}

func normalizeFilingKind(raw string) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(raw))
	switch kind {
	case FilingKindWIT, FilingKindINSS:
		return kind, nil
	default:
		return "", errors.New("kind must be wit or inss")
	}
}

func filingReference(kind string, year int, month int) string {
	return fmt.Sprintf("%s-%d-%02d", strings.ToUpper(kind), year, month)
}

func validateFilingMonth(year int, month int) error {
	if year < 2000 || year > 2100 {
		return errors.New("year out of range")
	}
	if month < 1 || month > 12 {
		return errors.New("month must be 1-12")
	}
	return nil
}

// buildFilingReturn aggregates the finalized runs of one tenant-month into a
// draft return. Payslips of the same employee across runs (regular plus
// annual subsidy) merge into one line.
func buildFilingReturn(ctx context.Context, payroll PayrollStore, employees EmployeeStore, tenantID string, kind string, year int, month int) (FilingReturn, []FilingLine, error) {
	kind, err := normalizeFilingKind(kind)
	if err != nil {
		return FilingReturn{}, nil, newBadRequestError(err.Error())
	}
	if err := validateFilingMonth(year, month); err != nil {
		return FilingReturn{}, nil, newBadRequestError(err.Error())
	}

	periods, err := payroll.ListPayPeriods(ctx, tenantID, "")
	if err != nil {
		return FilingReturn{}, nil, err
	}

	byEmployee := map[string]*FilingLine{}
	finalizedRuns := 0
	for _, period := range periods {
		if period.Year != year || period.Month != month {
			continue
		}
		runs, err := payroll.ListPayrollRuns(ctx, tenantID, period.ID)
		if err != nil {
			return FilingReturn{}, nil, err
		}
		for _, run := range runs {
			if run.Status != "finalized" {
				continue
			}
			finalizedRuns++
			slips, err := payroll.ListPayslips(ctx, tenantID, run.ID)
			if err != nil {
				return FilingReturn{}, nil, err
			}
			for _, slip := range slips {
				var base, amount, employer int64
				switch kind {
				case FilingKindWIT:
					base, amount = slip.TaxableCents, slip.WITCents
				case FilingKindINSS:
					base, amount, employer = slip.INSSBaseCents, slip.INSSEmployeeCents, slip.INSSEmployerCents
				}
				if base == 0 && amount == 0 && employer == 0 {
					continue
				}
				line, ok := byEmployee[slip.EmployeeID]
				if !ok {
					line = &FilingLine{
						EmployeeID:   slip.EmployeeID,
						EmployeeNo:   slip.EmployeeNo,
						EmployeeName: slip.EmployeeName,
					}
					byEmployee[slip.EmployeeID] = line
				}
				line.BaseCents += base
				line.AmountCents += amount
				line.EmployerCents += employer
			}
		}
	}
	if finalizedRuns == 0 {
		return FilingReturn{}, nil, errors.New("FILING_NO_FINALIZED_RUNS")
	}

	lines := make([]FilingLine, 0, len(byEmployee))
	ret := FilingReturn{
		Kind:      kind,
		Year:      year,
		Month:     month,
		Reference: filingReference(kind, year, month),
		Status:    FilingStatusDraft,
	}
	for _, line := range byEmployee {
		emp, err := employees.GetEmployee(ctx, tenantID, line.EmployeeID)
		if err == nil {
			line.TIN = emp.TIN
			line.INSSNo = emp.INSSNo
		}
		if kind == FilingKindWIT {
			line.INSSNo = ""
		} else {
			line.TIN = ""
		}
		lines = append(lines, *line)
		ret.TotalBaseCents += line.BaseCents
		ret.TotalAmountCents += line.AmountCents
		ret.TotalEmployerCents += line.EmployerCents
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].EmployeeNo < lines[j].EmployeeNo })
	ret.LineCount = len(lines)
	return ret, lines, nil
}

// buildAnnualWageSummary aggregates every finalized run of a calendar year
// per employee.
func buildAnnualWageSummary(ctx context.Context, payroll PayrollStore, employees EmployeeStore, tenantID string, year int) ([]AnnualWageRow, error) {
	if year < 2000 || year > 2100 {
		return nil, newBadRequestError("year out of range")
	}

	periods, err := payroll.ListPayPeriods(ctx, tenantID, "")
	if err != nil {
		return nil, err
	}

	byEmployee := map[string]*AnnualWageRow{}
	for _, period := range periods {
		if period.Year != year {
			continue
		}
		runs, err := payroll.ListPayrollRuns(ctx, tenantID, period.ID)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			if run.Status != "finalized" {
				continue
			}
			slips, err := payroll.ListPayslips(ctx, tenantID, run.ID)
			if err != nil {
				return nil, err
			}
			for _, slip := range slips {
				row, ok := byEmployee[slip.EmployeeID]
				if !ok {
					row = &AnnualWageRow{
						EmployeeID:   slip.EmployeeID,
						EmployeeNo:   slip.EmployeeNo,
						EmployeeName: slip.EmployeeName,
					}
					byEmployee[slip.EmployeeID] = row
				}
				row.GrossCents += slip.GrossCents
				row.TaxableCents += slip.TaxableCents
				row.WITCents += slip.WITCents
				row.INSSEmployeeCents += slip.INSSEmployeeCents
				row.NetCents += slip.NetCents
				row.PayslipCount++
			}
		}
	}

	rows := make([]AnnualWageRow, 0, len(byEmployee))
	for _, row := range byEmployee {
		if emp, err := employees.GetEmployee(ctx, tenantID, row.EmployeeID); err == nil {
			row.TIN = emp.TIN
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].EmployeeNo < rows[j].EmployeeNo })
	return rows, nil
}

// filingCSVRecords renders a return in its fixed export layout. Amounts are
// USD with two decimals.
func filingCSVRecords(detail FilingReturnDetail) [][]string {
	var out [][]string
	switch detail.Kind {
	case FilingKindINSS:
		out = append(out, []string{"employee_no", "employee_name", "inss_number", "contribution_base", "employee_contribution", "employer_contribution", "total_contribution"})
		for _, line := range detail.Lines {
			out = append(out, []string{
				line.EmployeeNo,
				line.EmployeeName,
				line.INSSNo,
				money.FormatCents(line.BaseCents),
				money.FormatCents(line.AmountCents),
				money.FormatCents(line.EmployerCents),
				money.FormatCents(line.AmountCents + line.EmployerCents),
			})
		}
		out = append(out, []string{
			"TOTAL", "", "",
			money.FormatCents(detail.TotalBaseCents),
			money.FormatCents(detail.TotalAmountCents),
			money.FormatCents(detail.TotalEmployerCents),
			money.FormatCents(detail.TotalAmountCents + detail.TotalEmployerCents),
		})
	default:
		out = append(out, []string{"employee_no", "employee_name", "tin", "taxable_income", "wit_withheld"})
		for _, line := range detail.Lines {
			out = append(out, []string{
				line.EmployeeNo,
				line.EmployeeName,
				line.TIN,
				money.FormatCents(line.BaseCents),
				money.FormatCents(line.AmountCents),
			})
		}
		out = append(out, []string{
			"TOTAL", "", "",
			money.FormatCents(detail.TotalBaseCents),
			money.FormatCents(detail.TotalAmountCents),
		})
	}
	return out
}

func annualSummaryCSVRecords(rows []AnnualWageRow) [][]string {
	out := [][]string{{"employee_no", "employee_name", "tin", "gross_income", "taxable_income", "wit_withheld", "inss_employee", "net_paid", "payslips"}}
	for _, row := range rows {
		out = append(out, []string{
			row.EmployeeNo,
			row.EmployeeName,
			row.TIN,
			money.FormatCents(row.GrossCents),
			money.FormatCents(row.TaxableCents),
			money.FormatCents(row.WITCents),
			money.FormatCents(row.INSSEmployeeCents),
			money.FormatCents(row.NetCents),
			strconv.Itoa(row.PayslipCount),
		})
	}
	return out
}

type filingPGStore struct {
	pool pgBeginner
}

func newFilingPGStore(pool pgBeginner) *filingPGStore {
	return &filingPGStore{pool: pool}
}

const filingReturnSelectColumns = `
  id::text,
  kind,
  year,
  month,
  reference,
  status,
  total_base_cents,
  total_amount_cents,
  total_employer_cents,
  line_count,
  generated_at::text,
  COALESCE(submitted_at::text, '') AS submitted_at
`

func scanFilingReturn(row pgx.Row, ret *FilingReturn) error {
	return row.Scan(
		&ret.ID,
		&ret.Kind,
		&ret.Year,
		&ret.Month,
		&ret.Reference,
		&ret.Status,
		&ret.TotalBaseCents,
		&ret.TotalAmountCents,
		&ret.TotalEmployerCents,
		&ret.LineCount,
		&ret.GeneratedAt,
		&ret.SubmittedAt,
	)
}

func (s *filingPGStore) ListFilingReturns(ctx context.Context, tenantID string) ([]FilingReturn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT`+filingReturnSelectColumns+`
FROM filing.returns
WHERE tenant_id = $1::uuid
ORDER BY year DESC, month DESC, kind ASC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilingReturn
	for rows.Next() {
		var ret FilingReturn
		if err := scanFilingReturn(rows, &ret); err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *filingPGStore) SaveDraftReturn(ctx context.Context, tenantID string, ret FilingReturn, lines []FilingLine) (FilingReturn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return FilingReturn{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return FilingReturn{}, err
	}

	var existingID, existingStatus string
	err = tx.QueryRow(ctx, `
SELECT id::text, status
FROM filing.returns
WHERE tenant_id = $1::uuid AND kind = $2 AND year = $3 AND month = $4
FOR UPDATE
`, tenantID, ret.Kind, ret.Year, ret.Month).Scan(&existingID, &existingStatus)
	switch {
	case err == nil:
		if existingStatus != FilingStatusDraft {
			return FilingReturn{}, errors.New("FILING_ALREADY_SUBMITTED")
		}
		if _, err := tx.Exec(ctx, `
DELETE FROM filing.return_lines WHERE tenant_id = $1::uuid AND return_id = $2::uuid
`, tenantID, existingID); err != nil {
			return FilingReturn{}, err
		}
		if _, err := tx.Exec(ctx, `
DELETE FROM filing.returns WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, existingID); err != nil {
			return FilingReturn{}, err
		}
	case errors.Is(err, pgx.ErrNoRows):
		// first generation for this month
	default:
		return FilingReturn{}, err
	}

	var returnID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&returnID); err != nil {
		return FilingReturn{}, err
	}

	var out FilingReturn
	if err := scanFilingReturn(tx.QueryRow(ctx, `
INSERT INTO filing.returns (
  tenant_id, id, kind, year, month, reference, status,
  total_base_cents, total_amount_cents, total_employer_cents, line_count, generated_at
) VALUES (
  $1::uuid, $2::uuid, $3, $4, $5, $6, 'draft',
  $7, $8, $9, $10, now()
)
RETURNING`+filingReturnSelectColumns+`
`, tenantID, returnID, ret.Kind, ret.Year, ret.Month, ret.Reference,
		ret.TotalBaseCents, ret.TotalAmountCents, ret.TotalEmployerCents, ret.LineCount), &out); err != nil {
		return FilingReturn{}, err
	}

	for _, line := range lines {
		if _, err := tx.Exec(ctx, `
INSERT INTO filing.return_lines (
  tenant_id, return_id, employee_id, employee_no, employee_name,
  tin, inss_no, base_cents, amount_cents, employer_cents
) VALUES (
  $1::uuid, $2::uuid, $3::uuid, $4, $5,
  NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10
)
`, tenantID, returnID, line.EmployeeID, line.EmployeeNo, line.EmployeeName,
			line.TIN, line.INSSNo, line.BaseCents, line.AmountCents, line.EmployerCents); err != nil {
			return FilingReturn{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return FilingReturn{}, err
	}
	return out, nil
}

func (s *filingPGStore) GetFilingReturn(ctx context.Context, tenantID string, returnID string) (FilingReturnDetail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return FilingReturnDetail{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return FilingReturnDetail{}, err
	}

	var detail FilingReturnDetail
	if err := scanFilingReturn(tx.QueryRow(ctx, `
SELECT`+filingReturnSelectColumns+`
FROM filing.returns
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, returnID), &detail.FilingReturn); err != nil {
		return FilingReturnDetail{}, err
	}

	rows, err := tx.Query(ctx, `
SELECT
  employee_id::text,
  employee_no,
  employee_name,
  COALESCE(tin, '') AS tin,
  COALESCE(inss_no, '') AS inss_no,
  base_cents,
  amount_cents,
  employer_cents
FROM filing.return_lines
WHERE tenant_id = $1::uuid AND return_id = $2::uuid
ORDER BY employee_no ASC
`, tenantID, returnID)
	if err != nil {
		return FilingReturnDetail{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var line FilingLine
		if err := rows.Scan(&line.EmployeeID, &line.EmployeeNo, &line.EmployeeName, &line.TIN, &line.INSSNo, &line.BaseCents, &line.AmountCents, &line.EmployerCents); err != nil {
			return FilingReturnDetail{}, err
		}
		detail.Lines = append(detail.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return FilingReturnDetail{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FilingReturnDetail{}, err
	}
	return detail, nil
}

func (s *filingPGStore) SubmitFilingReturn(ctx context.Context, tenantID string, returnID string) (FilingReturn, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return FilingReturn{}, newBadRequestError("return_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return FilingReturn{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return FilingReturn{}, err
	}

	var eventID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&eventID); err != nil {
		return FilingReturn{}, err
	}

	payload, err := json.Marshal(map[string]any{"submitted_at": time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return FilingReturn{}, err
	}

	if _, err := tx.Exec(ctx, `
SELECT filing.submit_filing_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::text,
  $5::jsonb
)
`, eventID, tenantID, returnID, "SUBMIT", payload); err != nil {
		return FilingReturn{}, err
	}

	var out FilingReturn
	if err := scanFilingReturn(tx.QueryRow(ctx, `
SELECT`+filingReturnSelectColumns+`
FROM filing.returns
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, returnID), &out); err != nil {
		return FilingReturn{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FilingReturn{}, err
	}
	return out, nil
}

type filingMemoryStore struct {
	returns map[string][]FilingReturnDetail
	nextID  int
}

func newFilingMemoryStore() *filingMemoryStore {
	return &filingMemoryStore{returns: map[string][]FilingReturnDetail{}}
}

func (s *filingMemoryStore) ListFilingReturns(_ context.Context, tenantID string) ([]FilingReturn, error) {
	var out []FilingReturn
	for _, detail := range s.returns[tenantID] {
		out = append(out, detail.FilingReturn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (s *filingMemoryStore) SaveDraftReturn(_ context.Context, tenantID string, ret FilingReturn, lines []FilingLine) (FilingReturn, error) {
	for i, existing := range s.returns[tenantID] {
		if existing.Kind != ret.Kind || existing.Year != ret.Year || existing.Month != ret.Month {
			continue
		}
		if existing.Status != FilingStatusDraft {
			return FilingReturn{}, errors.New("FILING_ALREADY_SUBMITTED")
		}
		s.returns[tenantID] = append(s.returns[tenantID][:i], s.returns[tenantID][i+1:]...)
		break
	}
	s.nextID++
	ret.ID = fmt.Sprintf("ret-%d", s.nextID)
	ret.Status = FilingStatusDraft
	ret.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	s.returns[tenantID] = append(s.returns[tenantID], FilingReturnDetail{FilingReturn: ret, Lines: lines})
	return ret, nil
}

func (s *filingMemoryStore) GetFilingReturn(_ context.Context, tenantID string, returnID string) (FilingReturnDetail, error) {
	for _, detail := range s.returns[tenantID] {
		if detail.ID == returnID {
			return detail, nil
		}
	}
	return FilingReturnDetail{}, pgx.ErrNoRows
}

func (s *filingMemoryStore) SubmitFilingReturn(_ context.Context, tenantID string, returnID string) (FilingReturn, error) {
	for i, detail := range s.returns[tenantID] {
		if detail.ID != returnID {
			continue
		}
		if detail.Status != FilingStatusDraft {
			return FilingReturn{}, errors.New("FILING_ALREADY_SUBMITTED")
		}
		detail.Status = FilingStatusSubmitted
		detail.SubmittedAt = time.Now().UTC().Format(time.RFC3339)
		s.returns[tenantID][i] = detail
		return detail.FilingReturn, nil
	}
	return FilingReturn{}, pgx.ErrNoRows
}
