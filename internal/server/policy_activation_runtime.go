package server

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	policyActivationStateActive = "active"
	policyActivationStateDraft  = "draft"

	policyActivationCodeVersionRequired = "POLICY_VERSION_REQUIRED"
	policyActivationCodeDraftMissing    = "POLICY_DRAFT_MISSING"
	policyActivationCodeRollbackMissing = "POLICY_ROLLBACK_UNAVAILABLE"
)

// finalizePolicyState tracks which finalize-gate policy version a tenant
// runs. Versions are names; the rego text itself ships with the binary or
// via FINALIZE_POLICY_PATH.
type finalizePolicyState struct {
	ActivationState     string `json:"activation_state"`
	ActivePolicyVersion string `json:"active_policy_version"`
	DraftPolicyVersion  string `json:"draft_policy_version,omitempty"`
	RollbackFromVersion string `json:"rollback_from_version,omitempty"`
	ActivatedAt         string `json:"activated_at,omitempty"`
	ActivatedBy         string `json:"activated_by,omitempty"`
}

type policyActivationRuntime struct {
	mu       sync.RWMutex
	byTenant map[string]finalizePolicyState
}

func newPolicyActivationRuntime() *policyActivationRuntime {
	return &policyActivationRuntime{
		byTenant: make(map[string]finalizePolicyState),
	}
}

var defaultPolicyActivationRuntime = newPolicyActivationRuntime()

func resetPolicyActivationRuntimeForTest() {
	defaultPolicyActivationRuntime = newPolicyActivationRuntime()
}

func (r *policyActivationRuntime) state(tenantID string) (finalizePolicyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(tenantID)
}

func (r *policyActivationRuntime) setDraft(tenantID string, draftVersion string, operator string) (finalizePolicyState, error) {
	draftVersion = strings.TrimSpace(draftVersion)
	if draftVersion == "" {
		return finalizePolicyState{}, errors.New(policyActivationCodeVersionRequired)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, err := r.ensureLocked(tenantID)
	if err != nil {
		return finalizePolicyState{}, err
	}
	state.DraftPolicyVersion = draftVersion
	state.ActivationState = policyActivationStateDraft
	state.ActivatedBy = strings.TrimSpace(operator)
	r.byTenant[strings.TrimSpace(tenantID)] = state
	return state, nil
}

func (r *policyActivationRuntime) activate(tenantID string, targetVersion string, operator string) (finalizePolicyState, error) {
	targetVersion = strings.TrimSpace(targetVersion)
	if targetVersion == "" {
		return finalizePolicyState{}, errors.New(policyActivationCodeVersionRequired)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, err := r.ensureLocked(tenantID)
	if err != nil {
		return finalizePolicyState{}, err
	}
	if strings.TrimSpace(state.DraftPolicyVersion) != targetVersion {
		return finalizePolicyState{}, errors.New(policyActivationCodeDraftMissing)
	}
	previousActive := strings.TrimSpace(state.ActivePolicyVersion)
	state.ActivePolicyVersion = targetVersion
	state.DraftPolicyVersion = ""
	state.RollbackFromVersion = previousActive
	state.ActivationState = policyActivationStateActive
	state.ActivatedBy = strings.TrimSpace(operator)
	state.ActivatedAt = time.Now().UTC().Format(time.RFC3339)
	r.byTenant[strings.TrimSpace(tenantID)] = state
	return state, nil
}

func (r *policyActivationRuntime) rollback(tenantID string, targetVersion string, operator string) (finalizePolicyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, err := r.ensureLocked(tenantID)
	if err != nil {
		return finalizePolicyState{}, err
	}
	targetVersion = strings.TrimSpace(targetVersion)
	if targetVersion == "" {
		targetVersion = strings.TrimSpace(state.RollbackFromVersion)
	}
	if targetVersion == "" {
		return finalizePolicyState{}, errors.New(policyActivationCodeRollbackMissing)
	}
	previousActive := strings.TrimSpace(state.ActivePolicyVersion)
	state.ActivePolicyVersion = targetVersion
	state.DraftPolicyVersion = ""
	state.RollbackFromVersion = previousActive
	state.ActivationState = policyActivationStateActive
	state.ActivatedBy = strings.TrimSpace(operator)
	state.ActivatedAt = time.Now().UTC().Format(time.RFC3339)
	r.byTenant[strings.TrimSpace(tenantID)] = state
	return state, nil
}

// activePolicyVersion is what finalize stamps on the FINALIZE event.
func (r *policyActivationRuntime) activePolicyVersion(tenantID string) string {
	state, err := r.state(tenantID)
	if err != nil {
		return baselineFinalizePolicyVersion
	}
	version := strings.TrimSpace(state.ActivePolicyVersion)
	if version == "" {
		return baselineFinalizePolicyVersion
	}
	return version
}

func (r *policyActivationRuntime) ensureLocked(tenantID string) (finalizePolicyState, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return finalizePolicyState{}, errors.New("tenant missing")
	}
	state, ok := r.byTenant[tenantID]
	if ok {
		return state, nil
	}
	state = finalizePolicyState{
		ActivationState:     policyActivationStateActive,
		ActivePolicyVersion: baselineFinalizePolicyVersion,
	}
	r.byTenant[tenantID] = state
	return state, nil
}
