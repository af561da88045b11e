package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OniT-Enterprises/meza/modules/department/domain/types"
	"github.com/OniT-Enterprises/meza/modules/department/services"
	"github.com/OniT-Enterprises/meza/pkg/httperr"
)

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

type DepartmentsController struct {
	TenantID TenantIDGetter
	Facade   services.DepartmentsFacade
}

type departmentWriteRequest struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	CostCenter string `json:"cost_center"`
	Active     *bool  `json:"active"`
}

// HandleDepartmentsAPI serves GET and POST /hr/api/departments.
func (c DepartmentsController) HandleDepartmentsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		activeOnly := strings.TrimSpace(r.URL.Query().Get("active")) == "true"
		departments, err := c.Facade.ListDepartments(r.Context(), tenantID, activeOnly)
		if err != nil {
			writeStoreError(w, r, err, "list failed")
			return
		}
		if departments == nil {
			departments = make([]types.Department, 0)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant":      tenantID,
			"departments": departments,
		})
	case http.MethodPost:
		var req departmentWriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		created, err := c.Facade.CreateDepartment(r.Context(), tenantID, types.Department{
			Code:       req.Code,
			Name:       req.Name,
			CostCenter: req.CostCenter,
		})
		if err != nil {
			writeStoreError(w, r, err, "create failed")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// HandleDepartmentAPI serves GET and POST /hr/api/departments/{department_id}.
// POST updates name, cost center and the active flag; the code never changes.
func (c DepartmentsController) HandleDepartmentAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	departmentID := strings.TrimPrefix(r.URL.Path, "/hr/api/departments/")
	if departmentID == "" || strings.Contains(departmentID, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := c.Facade.GetDepartment(r.Context(), tenantID, departmentID)
		if err != nil {
			writeStoreError(w, r, err, "get failed")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(d)
	case http.MethodPost:
		var req departmentWriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		current, err := c.Facade.GetDepartment(r.Context(), tenantID, departmentID)
		if err != nil {
			writeStoreError(w, r, err, "get failed")
			return
		}
		next := types.Department{
			Name:       req.Name,
			CostCenter: req.CostCenter,
			Active:     current.Active,
		}
		if next.Name == "" {
			next.Name = current.Name
		}
		if next.CostCenter == "" {
			next.CostCenter = current.CostCenter
		}
		if req.Active != nil {
			next.Active = *req.Active
		}

		updated, err := c.Facade.UpdateDepartment(r.Context(), tenantID, departmentID, next)
		if err != nil {
			writeStoreError(w, r, err, "update failed")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(updated)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

type errorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    errorEnvelopeMeta `json:"meta"`
}

type errorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Code:    code,
		Message: message,
		Meta: errorEnvelopeMeta{
			Path:   r.URL.Path,
			Method: r.Method,
		},
	})
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, r, http.StatusNotFound, "HR_DEPARTMENT_NOT_FOUND", "department not found")
		return
	}
	code := stablePgMessage(err)
	status := http.StatusInternalServerError
	if isStableDBCode(code) {
		status = http.StatusUnprocessableEntity
	}
	if httperr.IsBadRequest(err) || isPgInvalidInput(err) {
		status = http.StatusBadRequest
	}
	writeError(w, r, status, code, message)
}

func pgErrorCode(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

func isPgInvalidInput(err error) bool {
	switch pgErrorCode(err) {
	case "22P02", "22003", "22007", "22008":
		return true
	default:
		return false
	}
}

func stablePgMessage(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		msg := strings.TrimSpace(pgErr.Message)
		if isStableDBCode(msg) {
			return msg
		}
		if strings.TrimSpace(pgErr.ConstraintName) == "departments_code_unique" {
			return "HR_DEPARTMENT_CODE_TAKEN"
		}
	}
	return err.Error()
}

func isStableDBCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || code == "UNKNOWN" {
		return false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch >= 'A' && ch <= 'Z' {
			continue
		}
		if ch >= '0' && ch <= '9' {
			continue
		}
		if ch == '_' {
			continue
		}
		return false
	}
	if code[0] < 'A' || code[0] > 'Z' {
		return false
	}
	return true
}
