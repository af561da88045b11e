package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/modules/department/domain/ports"
	"github.com/OniT-Enterprises/meza/modules/department/domain/types"
)

// DepartmentMemoryStore backs DEV_NO_DB mode and tests.
type DepartmentMemoryStore struct {
	mu     sync.Mutex
	byID   map[string]map[string]types.Department
	nextID int
}

func NewDepartmentMemoryStore() *DepartmentMemoryStore {
	return &DepartmentMemoryStore{byID: map[string]map[string]types.Department{}}
}

var _ ports.DepartmentStore = (*DepartmentMemoryStore)(nil)

func (s *DepartmentMemoryStore) ListDepartments(_ context.Context, tenantID string, activeOnly bool) ([]types.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Department
	for _, d := range s.byID[tenantID] {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *DepartmentMemoryStore) CreateDepartment(_ context.Context, tenantID string, d types.Department) (types.Department, error) {
	if err := normalizeDepartment(&d); err != nil {
		return types.Department{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID[tenantID] {
		if existing.Code == d.Code {
			return types.Department{}, errors.New("HR_DEPARTMENT_CODE_TAKEN")
		}
	}

	s.nextID++
	d.DepartmentID = fmt.Sprintf("dept-%d", s.nextID)
	d.Active = true
	now := time.Now().UTC().Format(time.RFC3339)
	d.CreatedAt = now
	d.UpdatedAt = now
	if s.byID[tenantID] == nil {
		s.byID[tenantID] = map[string]types.Department{}
	}
	s.byID[tenantID][d.DepartmentID] = d
	return d, nil
}

func (s *DepartmentMemoryStore) GetDepartment(_ context.Context, tenantID string, departmentID string) (types.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[tenantID][departmentID]
	if !ok {
		return types.Department{}, pgx.ErrNoRows
	}
	return d, nil
}

func (s *DepartmentMemoryStore) UpdateDepartment(_ context.Context, tenantID string, departmentID string, d types.Department) (types.Department, error) {
	if err := normalizeDepartmentUpdate(&d); err != nil {
		return types.Department{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[tenantID][departmentID]
	if !ok {
		return types.Department{}, pgx.ErrNoRows
	}
	existing.Name = d.Name
	existing.CostCenter = d.CostCenter
	existing.Active = d.Active
	existing.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.byID[tenantID][departmentID] = existing
	return existing, nil
}
