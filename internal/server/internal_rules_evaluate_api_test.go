package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleInternalRulesEvaluateAPI(t *testing.T) {
	hr := newHRMemoryStore()
	ctx := context.Background()
	if _, err := hr.CreateEmployee(ctx, "t1", createEmployeeParams{
		EmployeeNo: "E1", FullName: "Ana Ximenes",
		HireDate: "2024-01-01", PayGroup: "monthly", PayBasis: "monthly",
		MonthlySalaryCents: 80000, Residency: "resident",
	}); err != nil {
		t.Fatalf("create employee: %v", err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/rules/evaluate", bytes.NewBufferString(body))
		req = req.WithContext(withTenant(req.Context(), Tenant{ID: "t1"}))
		rec := httptest.NewRecorder()
		handleInternalRulesEvaluateAPI(rec, req, hr)
		return rec
	}

	t.Run("explicit context", func(t *testing.T) {
		rec := post(`{"expr":"ctx[\"pay_group\"] == \"monthly\"","context":{"pay_group":"monthly"}}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var resp internalRulesEvaluateResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Decision != internalRuleDecisionAllow {
			t.Fatalf("decision=%q", resp.Decision)
		}
	})

	t.Run("employee context", func(t *testing.T) {
		rec := post(`{"expr":"ctx[\"pay_group\"] == \"monthly\" && ctx[\"residency\"] == \"RESIDENT\"","employee_id":"employee-e1","as_of":"2026-03-31"}`)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"decision":"allow"`) {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("deny", func(t *testing.T) {
		rec := post(`{"expr":"ctx[\"pay_group\"] == \"weekly\"","employee_id":"employee-e1"}`)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"decision":"deny"`) {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("context overrides employee", func(t *testing.T) {
		rec := post(`{"expr":"ctx[\"pay_group\"] == \"weekly\"","employee_id":"employee-e1","context":{"pay_group":"weekly"}}`)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"decision":"allow"`) {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("bad expression", func(t *testing.T) {
		rec := post(`{"expr":"ctx[\"pay_group\"] +"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("non boolean expression", func(t *testing.T) {
		rec := post(`{"expr":"ctx[\"pay_group\"]"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("expr required", func(t *testing.T) {
		rec := post(`{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("invalid as_of", func(t *testing.T) {
		rec := post(`{"expr":"true","as_of":"2026-13-99"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("unknown employee", func(t *testing.T) {
		rec := post(`{"expr":"true","employee_id":"employee-missing"}`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("tenant missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/rules/evaluate", bytes.NewBufferString(`{"expr":"true"}`))
		rec := httptest.NewRecorder()
		handleInternalRulesEvaluateAPI(rec, req, hr)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("get not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/internal/rules/evaluate", nil)
		req = req.WithContext(withTenant(req.Context(), Tenant{ID: "t1"}))
		rec := httptest.NewRecorder()
		handleInternalRulesEvaluateAPI(rec, req, hr)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status=%d", rec.Code)
		}
	})
}
