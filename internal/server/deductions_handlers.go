package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

func handleDeductionsAPI(w http.ResponseWriter, r *http.Request, store DeductionStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		// ?view=types returns the catalog; default is recurring deductions.
		if r.URL.Query().Get("view") == "types" {
			types, err := store.ListDeductionTypes(r.Context(), tenant.ID)
			if err != nil {
				writeInternalAPIError(w, r, err, "PAYROLL_DEDUCTION_LIST_FAILED")
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(types)
			return
		}
		employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
		deductions, err := store.ListRecurringDeductions(r.Context(), tenant.ID, employeeID)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_DEDUCTION_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(deductions)
	case http.MethodPost:
		var req struct {
			Code          string `json:"code"`
			Name          string `json:"name"`
			Active        *bool  `json:"active"`
			EmployeeID    string `json:"employee_id"`
			AmountCents   int64  `json:"amount_cents"`
			EffectiveFrom string `json:"effective_from"`
			EffectiveTo   string `json:"effective_to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		// A body without employee_id maintains the catalog; with one it
		// creates a recurring deduction.
		if strings.TrimSpace(req.EmployeeID) == "" {
			active := true
			if req.Active != nil {
				active = *req.Active
			}
			saved, err := store.UpsertDeductionType(r.Context(), tenant.ID, DeductionType{
				Code:   req.Code,
				Name:   req.Name,
				Active: active,
			})
			if err != nil {
				writeInternalAPIError(w, r, err, "PAYROLL_DEDUCTION_SAVE_FAILED")
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(saved)
			return
		}

		created, err := store.CreateRecurringDeduction(r.Context(), tenant.ID, RecurringDeduction{
			EmployeeID:    req.EmployeeID,
			Code:          req.Code,
			AmountCents:   req.AmountCents,
			EffectiveFrom: req.EffectiveFrom,
			EffectiveTo:   req.EffectiveTo,
		})
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_DEDUCTION_SAVE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleAdvancesAPI(w http.ResponseWriter, r *http.Request, store DeductionStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
		advances, err := store.ListAdvances(r.Context(), tenant.ID, employeeID)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_ADVANCE_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(advances)
	case http.MethodPost:
		var req struct {
			EmployeeID     string `json:"employee_id"`
			PrincipalCents int64  `json:"principal_cents"`
			Installments   int    `json:"installments"`
			GrantedOn      string `json:"granted_on"`
			Note           string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		if strings.TrimSpace(req.GrantedOn) == "" {
			req.GrantedOn = currentUTCDateString()
		}
		created, err := store.CreateAdvance(r.Context(), tenant.ID, CashAdvance{
			EmployeeID:     req.EmployeeID,
			PrincipalCents: req.PrincipalCents,
			Installments:   req.Installments,
			GrantedOn:      req.GrantedOn,
			Note:           req.Note,
		})
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_ADVANCE_SAVE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleAdvanceActionAPI serves /payroll/api/advances/{advance_id} and its
// settle/cancel actions.
func handleAdvanceActionAPI(w http.ResponseWriter, r *http.Request, store DeductionStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	advanceID, ok := requirePathID(w, r, "/payroll/api/advances/")
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/payroll/api/advances/"+advanceID)
	rest = strings.TrimPrefix(rest, "/")

	var (
		out CashAdvance
		err error
	)
	switch {
	case rest == "" && r.Method == http.MethodGet:
		out, err = store.GetAdvance(r.Context(), tenant.ID, advanceID)
	case rest == "settle" && r.Method == http.MethodPost:
		out, err = store.SettleAdvance(r.Context(), tenant.ID, advanceID)
	case rest == "cancel" && r.Method == http.MethodPost:
		out, err = store.CancelAdvance(r.Context(), tenant.ID, advanceID)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_ADVANCE_NOT_FOUND", "advance not found")
			return
		}
		writeInternalAPIError(w, r, err, "PAYROLL_ADVANCE_UPDATE_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}
