package persistence

import (
	"context"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/modules/department/domain/ports"
	"github.com/OniT-Enterprises/meza/modules/department/domain/types"
	"github.com/OniT-Enterprises/meza/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DepartmentPGStore struct {
	pool pgBeginner
}

func NewDepartmentPGStore(pool pgBeginner) ports.DepartmentStore {
	return &DepartmentPGStore{pool: pool}
}

var departmentCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,31}$`)

func normalizeDepartment(d *types.Department) error {
	d.Code = strings.ToUpper(strings.TrimSpace(d.Code))
	if d.Code == "" {
		return httperr.NewBadRequest("code is required")
	}
	if !departmentCodePattern.MatchString(d.Code) {
		return httperr.NewBadRequest("code must start with a letter and use A-Z, digits or underscore")
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return httperr.NewBadRequest("name is required")
	}
	d.CostCenter = strings.TrimSpace(d.CostCenter)
	return nil
}

// normalizeDepartmentUpdate skips the code, which is immutable after create.
func normalizeDepartmentUpdate(d *types.Department) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return httperr.NewBadRequest("name is required")
	}
	d.CostCenter = strings.TrimSpace(d.CostCenter)
	return nil
}

const departmentSelectColumns = `
  id::text,
  code,
  name,
  COALESCE(cost_center, '') AS cost_center,
  active,
  created_at::text,
  updated_at::text
`

func scanDepartment(row pgx.Row) (types.Department, error) {
	var d types.Department
	err := row.Scan(&d.DepartmentID, &d.Code, &d.Name, &d.CostCenter, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (s *DepartmentPGStore) ListDepartments(ctx context.Context, tenantID string, activeOnly bool) ([]types.Department, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	q := `
	SELECT ` + departmentSelectColumns + `
	FROM hr.departments
	WHERE tenant_id = $1::uuid
	`
	if activeOnly {
		q += ` AND active`
	}
	q += ` ORDER BY code`

	rows, err := tx.Query(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
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

func (s *DepartmentPGStore) CreateDepartment(ctx context.Context, tenantID string, d types.Department) (types.Department, error) {
	if err := normalizeDepartment(&d); err != nil {
		return types.Department{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Department{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return types.Department{}, err
	}

	created, err := scanDepartment(tx.QueryRow(ctx, `
	INSERT INTO hr.departments (tenant_id, code, name, cost_center, active)
	VALUES ($1::uuid, $2, $3, NULLIF($4, ''), $5)
	RETURNING `+departmentSelectColumns+`
	`, tenantID, d.Code, d.Name, d.CostCenter, true))
	if err != nil {
		return types.Department{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Department{}, err
	}
	return created, nil
}

func (s *DepartmentPGStore) GetDepartment(ctx context.Context, tenantID string, departmentID string) (types.Department, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Department{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return types.Department{}, err
	}

	d, err := scanDepartment(tx.QueryRow(ctx, `
	SELECT `+departmentSelectColumns+`
	FROM hr.departments
	WHERE tenant_id = $1::uuid AND id = $2::uuid
	`, tenantID, departmentID))
	if err != nil {
		return types.Department{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Department{}, err
	}
	return d, nil
}

func (s *DepartmentPGStore) UpdateDepartment(ctx context.Context, tenantID string, departmentID string, d types.Department) (types.Department, error) {
	if err := normalizeDepartmentUpdate(&d); err != nil {
		return types.Department{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Department{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return types.Department{}, err
	}

	updated, err := scanDepartment(tx.QueryRow(ctx, `
	UPDATE hr.departments
	SET name = $3, cost_center = NULLIF($4, ''), active = $5, updated_at = now()
	WHERE tenant_id = $1::uuid AND id = $2::uuid
	RETURNING `+departmentSelectColumns+`
	`, tenantID, departmentID, d.Name, d.CostCenter, d.Active))
	if err != nil {
		return types.Department{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Department{}, err
	}
	return updated, nil
}
