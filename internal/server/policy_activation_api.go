package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

type policyActivationRequest struct {
	Action        string `json:"action"`
	PolicyVersion string `json:"policy_version"`
	Operator      string `json:"operator"`
}

func handleInternalPolicyStateAPI(w http.ResponseWriter, r *http.Request) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	state, err := defaultPolicyActivationRuntime.state(tenant.ID)
	if err != nil {
		writePolicyActivationError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(state)
}

// handleInternalPolicyActivateAPI mutates the tenant's finalize-policy
// state. The action field selects draft, activate, or rollback.
func handleInternalPolicyActivateAPI(w http.ResponseWriter, r *http.Request) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req policyActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	req.PolicyVersion = strings.TrimSpace(req.PolicyVersion)
	req.Operator = strings.TrimSpace(req.Operator)

	var (
		state finalizePolicyState
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "draft":
		state, err = defaultPolicyActivationRuntime.setDraft(tenant.ID, req.PolicyVersion, req.Operator)
	case "", "activate":
		state, err = defaultPolicyActivationRuntime.activate(tenant.ID, req.PolicyVersion, req.Operator)
	case "rollback":
		state, err = defaultPolicyActivationRuntime.rollback(tenant.ID, req.PolicyVersion, req.Operator)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_request", "unknown action")
		return
	}
	if err != nil {
		writePolicyActivationError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(state)
}

func writePolicyActivationError(w http.ResponseWriter, r *http.Request, err error) {
	code := strings.TrimSpace(err.Error())
	status := http.StatusInternalServerError
	message := "internal error"
	switch code {
	case policyActivationCodeVersionRequired:
		status = http.StatusBadRequest
		message = "policy version required"
	case policyActivationCodeDraftMissing:
		status = http.StatusConflict
		message = "policy draft missing"
	case policyActivationCodeRollbackMissing:
		status = http.StatusConflict
		message = "policy rollback unavailable"
	}
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}
