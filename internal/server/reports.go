package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

// RegisterRow is one payslip flattened for the payroll register report.
type RegisterRow struct {
	PayslipNo           string `db:"payslip_no" json:"payslip_no"`
	RunID               string `db:"run_id" json:"run_id"`
	PeriodYear          int    `db:"period_year" json:"period_year"`
	PeriodMonth         int    `db:"period_month" json:"period_month"`
	PayGroup            string `db:"pay_group" json:"pay_group"`
	EmployeeNo          string `db:"employee_no" json:"employee_no"`
	EmployeeName        string `db:"employee_name" json:"employee_name"`
	DepartmentID        string `db:"department_id" json:"department_id,omitempty"`
	GrossCents          int64  `db:"gross_cents" json:"gross_cents"`
	TaxableCents        int64  `db:"taxable_cents" json:"taxable_cents"`
	WITCents            int64  `db:"wit_cents" json:"wit_cents"`
	INSSEmployeeCents   int64  `db:"inss_employee_cents" json:"inss_employee_cents"`
	INSSEmployerCents   int64  `db:"inss_employer_cents" json:"inss_employer_cents"`
	TotalDeductionCents int64  `db:"total_deduction_cents" json:"total_deduction_cents"`
	NetCents            int64  `db:"net_cents" json:"net_cents"`
}

// RegisterFilter narrows the register query. Empty fields match everything.
type RegisterFilter struct {
	PeriodID     string
	DepartmentID string
	PayGroup     string
	EmployeeID   string
}

// RegisterArchive is the stored snapshot of a run's register, taken when the
// run finalizes.
type RegisterArchive struct {
	ID              string `json:"id"`
	RunID           string `json:"run_id"`
	RowCount        int    `json:"row_count"`
	UncompressedLen int    `json:"uncompressed_len"`
	CompressedLen   int    `json:"compressed_len"`
	CreatedAt       string `json:"created_at"`
}

type ReportStore interface {
	RegisterRows(ctx context.Context, tenantID string, filter RegisterFilter) ([]RegisterRow, error)
	// SaveRegisterArchive snapshots rows as compressed JSON, replacing any
	// earlier archive of the same run.
	SaveRegisterArchive(ctx context.Context, tenantID string, runID string, rows []RegisterRow) (RegisterArchive, error)
	ListRegisterArchives(ctx context.Context, tenantID string) ([]RegisterArchive, error)
	GetRegisterArchive(ctx context.Context, tenantID string, archiveID string) (RegisterArchive, []RegisterRow, error)
}

type reportPGStore struct {
	pool    pgBeginner
	builder squirrel.StatementBuilderType
}

func newReportPGStore(pool pgBeginner) *reportPGStore {
	return &reportPGStore{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (s *reportPGStore) RegisterRows(ctx context.Context, tenantID string, filter RegisterFilter) ([]RegisterRow, error) {
	q := s.builder.Select(
		"ps.payslip_no",
		"ps.run_id::text AS run_id",
		"pp.year AS period_year",
		"pp.month AS period_month",
		"pp.pay_group",
		"ps.employee_no",
		"ps.employee_name",
		"COALESCE(e.department_id::text, '') AS department_id",
		"ps.gross_cents",
		"ps.taxable_cents",
		"ps.wit_cents",
		"ps.inss_employee_cents",
		"ps.inss_employer_cents",
		"ps.total_deduction_cents",
		"ps.net_cents",
	).
		From("payroll.payslips ps").
		Join("payroll.pay_periods pp ON pp.tenant_id = ps.tenant_id AND pp.id = ps.pay_period_id").
		LeftJoin("hr.employees e ON e.tenant_id = ps.tenant_id AND e.id = ps.employee_id").
		Where(squirrel.Eq{"ps.tenant_id": tenantID}).
		OrderBy("pp.year DESC", "pp.month DESC", "ps.payslip_no ASC")

	if filter.PeriodID != "" {
		q = q.Where(squirrel.Eq{"ps.pay_period_id": filter.PeriodID})
	}
	if filter.DepartmentID != "" {
		q = q.Where(squirrel.Eq{"e.department_id": filter.DepartmentID})
	}
	if filter.PayGroup != "" {
		q = q.Where(squirrel.Eq{"pp.pay_group": filter.PayGroup})
	}
	if filter.EmployeeID != "" {
		q = q.Where(squirrel.Eq{"ps.employee_id": filter.EmployeeID})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build register query: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	var rows []RegisterRow
	if err := pgxscan.Select(ctx, tx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select register rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

const registerArchiveSelectColumns = `
  id::text,
  run_id::text,
  row_count,
  uncompressed_len,
  compressed_len,
  created_at::text
`

func scanRegisterArchive(row pgx.Row, a *RegisterArchive) error {
	return row.Scan(&a.ID, &a.RunID, &a.RowCount, &a.UncompressedLen, &a.CompressedLen, &a.CreatedAt)
}

func (s *reportPGStore) SaveRegisterArchive(ctx context.Context, tenantID string, runID string, rows []RegisterRow) (RegisterArchive, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return RegisterArchive{}, err
	}
	compressed := compressBlob(payload)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RegisterArchive{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return RegisterArchive{}, err
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM payroll.register_archives
WHERE tenant_id = $1::uuid AND run_id = $2::uuid
`, tenantID, runID); err != nil {
		return RegisterArchive{}, err
	}

	var archiveID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&archiveID); err != nil {
		return RegisterArchive{}, err
	}

	var out RegisterArchive
	if err := scanRegisterArchive(tx.QueryRow(ctx, `
INSERT INTO payroll.register_archives (
  tenant_id, id, run_id, row_count, uncompressed_len, compressed_len, rows_zst, created_at
) VALUES (
  $1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, now()
)
RETURNING`+registerArchiveSelectColumns+`
`, tenantID, archiveID, runID, len(rows), len(payload), len(compressed), compressed), &out); err != nil {
		return RegisterArchive{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RegisterArchive{}, err
	}
	return out, nil
}

func (s *reportPGStore) ListRegisterArchives(ctx context.Context, tenantID string) ([]RegisterArchive, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT`+registerArchiveSelectColumns+`
FROM payroll.register_archives
WHERE tenant_id = $1::uuid
ORDER BY created_at DESC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RegisterArchive
	for rows.Next() {
		var a RegisterArchive
		if err := scanRegisterArchive(rows, &a); err != nil {
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

func (s *reportPGStore) GetRegisterArchive(ctx context.Context, tenantID string, archiveID string) (RegisterArchive, []RegisterRow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RegisterArchive{}, nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return RegisterArchive{}, nil, err
	}

	var out RegisterArchive
	var compressed []byte
	if err := tx.QueryRow(ctx, `
SELECT`+registerArchiveSelectColumns+`, rows_zst
FROM payroll.register_archives
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, archiveID).Scan(&out.ID, &out.RunID, &out.RowCount, &out.UncompressedLen, &out.CompressedLen, &out.CreatedAt, &compressed); err != nil {
		return RegisterArchive{}, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RegisterArchive{}, nil, err
	}

	payload, err := decompressBlob(compressed)
	if err != nil {
		return RegisterArchive{}, nil, err
	}
	var rows []RegisterRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return RegisterArchive{}, nil, err
	}
	return out, rows, nil
}

// reportMemoryStore reads registers off the in-memory payroll and HR stores.
type reportMemoryStore struct {
	payroll  *payrollMemoryStore
	hr       *hrMemoryStore
	archives map[string][]RegisterArchive
	rows     map[string][]byte
	nextID   int
}

func newReportMemoryStore(payroll *payrollMemoryStore, hr *hrMemoryStore) *reportMemoryStore {
	return &reportMemoryStore{
		payroll:  payroll,
		hr:       hr,
		archives: map[string][]RegisterArchive{},
		rows:     map[string][]byte{},
	}
}

func (s *reportMemoryStore) RegisterRows(ctx context.Context, tenantID string, filter RegisterFilter) ([]RegisterRow, error) {
	periods, err := s.payroll.ListPayPeriods(ctx, tenantID, "")
	if err != nil {
		return nil, err
	}
	var out []RegisterRow
	for _, period := range periods {
		if filter.PeriodID != "" && period.ID != filter.PeriodID {
			continue
		}
		if filter.PayGroup != "" && period.PayGroup != filter.PayGroup {
			continue
		}
		runs, err := s.payroll.ListPayrollRuns(ctx, tenantID, period.ID)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			slips, err := s.payroll.ListPayslips(ctx, tenantID, run.ID)
			if err != nil {
				return nil, err
			}
			for _, slip := range slips {
				if filter.EmployeeID != "" && slip.EmployeeID != filter.EmployeeID {
					continue
				}
				departmentID := ""
				if emp, err := s.hr.GetEmployee(ctx, tenantID, slip.EmployeeID); err == nil {
					departmentID = emp.DepartmentID
				}
				if filter.DepartmentID != "" && departmentID != filter.DepartmentID {
					continue
				}
				out = append(out, RegisterRow{
					PayslipNo:           slip.PayslipNo,
					RunID:               run.ID,
					PeriodYear:          period.Year,
					PeriodMonth:         period.Month,
					PayGroup:            period.PayGroup,
					EmployeeNo:          slip.EmployeeNo,
					EmployeeName:        slip.EmployeeName,
					DepartmentID:        departmentID,
					GrossCents:          slip.GrossCents,
					TaxableCents:        slip.TaxableCents,
					WITCents:            slip.WITCents,
					INSSEmployeeCents:   slip.INSSEmployeeCents,
					INSSEmployerCents:   slip.INSSEmployerCents,
					TotalDeductionCents: slip.TotalDeductionCents,
					NetCents:            slip.NetCents,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodYear != out[j].PeriodYear {
			return out[i].PeriodYear > out[j].PeriodYear
		}
		if out[i].PeriodMonth != out[j].PeriodMonth {
			return out[i].PeriodMonth > out[j].PeriodMonth
		}
		return out[i].PayslipNo < out[j].PayslipNo
	})
	return out, nil
}

func (s *reportMemoryStore) SaveRegisterArchive(_ context.Context, tenantID string, runID string, rows []RegisterRow) (RegisterArchive, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return RegisterArchive{}, err
	}
	compressed := compressBlob(payload)

	for i, existing := range s.archives[tenantID] {
		if existing.RunID == runID {
			delete(s.rows, tenantID+"|"+existing.ID)
			s.archives[tenantID] = append(s.archives[tenantID][:i], s.archives[tenantID][i+1:]...)
			break
		}
	}
	s.nextID++
	archive := RegisterArchive{
		ID:              fmt.Sprintf("archive-%d", s.nextID),
		RunID:           runID,
		RowCount:        len(rows),
		UncompressedLen: len(payload),
		CompressedLen:   len(compressed),
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	s.archives[tenantID] = append(s.archives[tenantID], archive)
	s.rows[tenantID+"|"+archive.ID] = compressed
	return archive, nil
}

func (s *reportMemoryStore) ListRegisterArchives(_ context.Context, tenantID string) ([]RegisterArchive, error) {
	out := append([]RegisterArchive(nil), s.archives[tenantID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (s *reportMemoryStore) GetRegisterArchive(_ context.Context, tenantID string, archiveID string) (RegisterArchive, []RegisterRow, error) {
	for _, archive := range s.archives[tenantID] {
		if archive.ID != archiveID {
			continue
		}
		payload, err := decompressBlob(s.rows[tenantID+"|"+archiveID])
		if err != nil {
			return RegisterArchive{}, nil, err
		}
		var rows []RegisterRow
		if err := json.Unmarshal(payload, &rows); err != nil {
			return RegisterArchive{}, nil, err
		}
		return archive, rows, nil
	}
	return RegisterArchive{}, nil, pgx.ErrNoRows
}

func registerFilterFromQuery(values map[string][]string) RegisterFilter {
	get := func(key string) string {
		if vs, ok := values[key]; ok && len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
		return ""
	}
	return RegisterFilter{
		PeriodID:     get("period_id"),
		DepartmentID: get("department_id"),
		PayGroup:     get("pay_group"),
		EmployeeID:   get("employee_id"),
	}
}
