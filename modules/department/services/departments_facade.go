package services

import (
	"context"

	"github.com/OniT-Enterprises/meza/modules/department/domain/ports"
	"github.com/OniT-Enterprises/meza/modules/department/domain/types"
)

type DepartmentsFacade struct {
	store ports.DepartmentStore
}

func NewDepartmentsFacade(store ports.DepartmentStore) DepartmentsFacade {
	return DepartmentsFacade{store: store}
}

func (f DepartmentsFacade) ListDepartments(ctx context.Context, tenantID string, activeOnly bool) ([]types.Department, error) {
	return f.store.ListDepartments(ctx, tenantID, activeOnly)
}

func (f DepartmentsFacade) CreateDepartment(ctx context.Context, tenantID string, d types.Department) (types.Department, error) {
	return f.store.CreateDepartment(ctx, tenantID, d)
}

func (f DepartmentsFacade) GetDepartment(ctx context.Context, tenantID string, departmentID string) (types.Department, error) {
	return f.store.GetDepartment(ctx, tenantID, departmentID)
}

func (f DepartmentsFacade) UpdateDepartment(ctx context.Context, tenantID string, departmentID string, d types.Department) (types.Department, error) {
	return f.store.UpdateDepartment(ctx, tenantID, departmentID, d)
}
