package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

func handleAllowancesAPI(w http.ResponseWriter, r *http.Request, store AllowanceStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		types, err := store.ListAllowanceTypes(r.Context(), tenant.ID)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_ALLOWANCE_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(types)
	case http.MethodPost:
		var req struct {
			Code               string `json:"code"`
			Name               string `json:"name"`
			Taxable            bool   `json:"taxable"`
			INSSBase           bool   `json:"inss_base"`
			DefaultAmountCents int64  `json:"default_amount_cents"`
			EligibilityExpr    string `json:"eligibility_expr"`
			Active             *bool  `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		saved, err := store.UpsertAllowanceType(r.Context(), tenant.ID, AllowanceType{
			Code:               req.Code,
			Name:               req.Name,
			Taxable:            req.Taxable,
			INSSBase:           req.INSSBase,
			DefaultAmountCents: req.DefaultAmountCents,
			EligibilityExpr:    req.EligibilityExpr,
			Active:             active,
		})
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_ALLOWANCE_SAVE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(saved)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleAllowanceGrantsAPI(w http.ResponseWriter, r *http.Request, store AllowanceStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
		grants, err := store.ListAllowanceGrants(r.Context(), tenant.ID, employeeID)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_ALLOWANCE_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(grants)
	case http.MethodPost:
		var req AllowanceGrant
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		created, err := store.CreateAllowanceGrant(r.Context(), tenant.ID, req)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_ALLOWANCE_GRANT_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleAllowancesEvaluateAPI previews which allowances an employee would
// receive on a given date, without running payroll.
func handleAllowancesEvaluateAPI(w http.ResponseWriter, r *http.Request, store AllowanceStore, employees EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req struct {
		EmployeeID string `json:"employee_id"`
		AsOf       string `json:"as_of"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
		return
	}
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.EmployeeID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}
	asOf := strings.TrimSpace(req.AsOf)
	if asOf == "" {
		asOf = currentUTCDateString()
	}
	if _, err := time.Parse("2006-01-02", asOf); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_request", "as_of must be YYYY-MM-DD")
		return
	}

	employee, err := employees.GetEmployee(r.Context(), tenant.ID, req.EmployeeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "HR_EMPLOYEE_NOT_FOUND", "employee not found")
			return
		}
		writeInternalAPIError(w, r, err, "PAYROLL_ALLOWANCE_EVALUATE_FAILED")
		return
	}

	types, err := store.ListAllowanceTypes(r.Context(), tenant.ID)
	if err != nil {
		writeInternalAPIError(w, r, err, "PAYROLL_ALLOWANCE_EVALUATE_FAILED")
		return
	}
	grants, err := store.ActiveAllowanceGrants(r.Context(), tenant.ID, req.EmployeeID, asOf)
	if err != nil {
		writeInternalAPIError(w, r, err, "PAYROLL_ALLOWANCE_EVALUATE_FAILED")
		return
	}

	ctxMap := allowanceCELContext(employee, asOf)
	resolved, decisions, err := resolveAllowances(types, grants, ctxMap)
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "PAYROLL_ALLOWANCE_EVAL_FAILED", err.Error())
		return
	}

	type resolvedAllowance struct {
		Code        string `json:"code"`
		Name        string `json:"name"`
		AmountCents int64  `json:"amount_cents"`
		Taxable     bool   `json:"taxable"`
		INSSBase    bool   `json:"inss_base"`
	}
	out := struct {
		EmployeeID string              `json:"employee_id"`
		AsOf       string              `json:"as_of"`
		Context    map[string]string   `json:"context"`
		Allowances []resolvedAllowance `json:"allowances"`
		Decisions  []allowanceDecision `json:"decisions"`
	}{
		EmployeeID: req.EmployeeID,
		AsOf:       asOf,
		Context:    ctxMap,
		Allowances: []resolvedAllowance{},
		Decisions:  decisions,
	}
	for _, a := range resolved {
		out.Allowances = append(out.Allowances, resolvedAllowance{
			Code:        a.Code,
			Name:        a.Name,
			AmountCents: a.AmountCents,
			Taxable:     a.Taxable,
			INSSBase:    a.INSSBase,
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}
