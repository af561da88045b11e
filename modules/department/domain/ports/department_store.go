package ports

import (
	"context"

	"github.com/OniT-Enterprises/meza/modules/department/domain/types"
)

type DepartmentStore interface {
	ListDepartments(ctx context.Context, tenantID string, activeOnly bool) ([]types.Department, error)
	CreateDepartment(ctx context.Context, tenantID string, d types.Department) (types.Department, error)
	GetDepartment(ctx context.Context, tenantID string, departmentID string) (types.Department, error)
	UpdateDepartment(ctx context.Context, tenantID string, departmentID string, d types.Department) (types.Department, error)
}
