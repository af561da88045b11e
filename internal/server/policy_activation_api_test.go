package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleInternalPolicyStateAPI(t *testing.T) {
	resetPolicyActivationRuntimeForTest()
	t.Cleanup(resetPolicyActivationRuntimeForTest)

	recTenantMissing := httptest.NewRecorder()
	reqTenantMissing := httptest.NewRequest(http.MethodGet, "/internal/policies/state", nil)
	handleInternalPolicyStateAPI(recTenantMissing, reqTenantMissing)
	if recTenantMissing.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", recTenantMissing.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/internal/policies/state", nil)
	req = req.WithContext(withTenant(req.Context(), Tenant{ID: "t1"}))
	rec := httptest.NewRecorder()
	handleInternalPolicyStateAPI(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"active_policy_version":"`+baselineFinalizePolicyVersion+`"`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	recMethod := httptest.NewRecorder()
	reqMethod := httptest.NewRequest(http.MethodPost, "/internal/policies/state", nil)
	reqMethod = reqMethod.WithContext(withTenant(reqMethod.Context(), Tenant{ID: "t1"}))
	handleInternalPolicyStateAPI(recMethod, reqMethod)
	if recMethod.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", recMethod.Code)
	}
}

func TestHandleInternalPolicyActivateAPI(t *testing.T) {
	resetPolicyActivationRuntimeForTest()
	t.Cleanup(resetPolicyActivationRuntimeForTest)

	makeReq := func(body string) (*httptest.ResponseRecorder, *http.Request) {
		req := httptest.NewRequest(http.MethodPost, "/internal/policies/activate", bytes.NewBufferString(body))
		req = req.WithContext(withTenant(req.Context(), Tenant{ID: "t1"}))
		return httptest.NewRecorder(), req
	}

	t.Run("bad json", func(t *testing.T) {
		rec, req := makeReq("{")
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		rec, req := makeReq(`{"action":"promote","policy_version":"2026-09-01"}`)
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("activate without draft conflicts", func(t *testing.T) {
		rec, req := makeReq(`{"action":"activate","policy_version":"2026-09-01"}`)
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), policyActivationCodeDraftMissing) {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("draft then activate then rollback", func(t *testing.T) {
		rec, req := makeReq(`{"action":"draft","policy_version":"2026-09-01","operator":"ops"}`)
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("draft status=%d body=%s", rec.Code, rec.Body.String())
		}

		rec, req = makeReq(`{"action":"activate","policy_version":"2026-09-01","operator":"ops"}`)
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("activate status=%d body=%s", rec.Code, rec.Body.String())
		}
		var state finalizePolicyState
		if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if state.ActivePolicyVersion != "2026-09-01" || state.ActivationState != policyActivationStateActive {
			t.Fatalf("state=%+v", state)
		}

		rec, req = makeReq(`{"action":"rollback","operator":"ops"}`)
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"active_policy_version":"`+baselineFinalizePolicyVersion+`"`) {
			t.Fatalf("rollback status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("version required", func(t *testing.T) {
		rec, req := makeReq(`{"action":"draft","policy_version":" "}`)
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), policyActivationCodeVersionRequired) {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("tenant missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/internal/policies/activate", bytes.NewBufferString(`{}`))
		handleInternalPolicyActivateAPI(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", rec.Code)
		}
	})
}
