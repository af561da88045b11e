package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OniT-Enterprises/meza/pkg/payroll/engine"
)

// seedFinalizedRun builds one finalized run for 2026-03 with two payslips.
func seedFinalizedRun(t *testing.T, payroll *payrollMemoryStore, hr *hrMemoryStore) (tenantID string) {
	t.Helper()
	ctx := context.Background()
	tenantID = "t1"

	ana, err := hr.CreateEmployee(ctx, tenantID, createEmployeeParams{
		EmployeeNo: "E1", FullName: "Ana Ximenes", TIN: "1000001", INSSNo: "INSS-1",
		HireDate: "2024-01-01", PayGroup: "monthly", PayBasis: "monthly",
		MonthlySalaryCents: 80000, Residency: "resident",
	})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	joao, err := hr.CreateEmployee(ctx, tenantID, createEmployeeParams{
		EmployeeNo: "E2", FullName: "Joao Belo", TIN: "1000002", INSSNo: "INSS-2",
		HireDate: "2024-06-01", PayGroup: "monthly", PayBasis: "monthly",
		MonthlySalaryCents: 120000, Residency: "resident",
	})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}

	period, err := payroll.CreatePayPeriod(ctx, tenantID, "monthly", 2026, 3)
	if err != nil {
		t.Fatalf("create period: %v", err)
	}
	run, err := payroll.CreatePayrollRun(ctx, tenantID, period.ID, "REGULAR")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := payroll.BeginCalculation(ctx, tenantID, run.ID); err != nil {
		t.Fatalf("begin calc: %v", err)
	}
	drafts := []payslipDraft{
		{EmployeeID: ana.ID, EmployeeNo: "E1", EmployeeName: "Ana Ximenes", Result: engine.Result{
			GrossCents: 80000, TaxableCents: 80000, INSSBaseCents: 80000,
			WITCents: 3000, INSSEmployeeCents: 3200, INSSEmployerCents: 4800,
			TotalDeductionCents: 6200, NetCents: 73800, EmployerCostCents: 84800,
		}},
		{EmployeeID: joao.ID, EmployeeNo: "E2", EmployeeName: "Joao Belo", Result: engine.Result{
			GrossCents: 120000, TaxableCents: 120000, INSSBaseCents: 120000,
			WITCents: 7000, INSSEmployeeCents: 4800, INSSEmployerCents: 7200,
			TotalDeductionCents: 11800, NetCents: 108200, EmployerCostCents: 127200,
		}},
	}
	if _, err := payroll.CompleteCalculation(ctx, tenantID, run.ID, drafts); err != nil {
		t.Fatalf("complete calc: %v", err)
	}
	if _, err := payroll.FinalizePayrollRun(ctx, tenantID, run.ID, "v1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return tenantID
}

func TestBuildFilingReturn(t *testing.T) {
	payroll := newPayrollMemoryStore()
	hr := newHRMemoryStore()
	tenantID := seedFinalizedRun(t, payroll, hr)
	ctx := context.Background()

	t.Run("wit", func(t *testing.T) {
		ret, lines, err := buildFilingReturn(ctx, payroll, hr, tenantID, "WIT", 2026, 3)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if ret.Reference != "WIT-2026-03" || ret.Status != FilingStatusDraft {
			t.Fatalf("ret=%+v", ret)
		}
		if ret.TotalAmountCents != 10000 || ret.TotalBaseCents != 200000 || ret.LineCount != 2 {
			t.Fatalf("ret=%+v", ret)
		}
		if len(lines) != 2 || lines[0].EmployeeNo != "E1" || lines[0].TIN != "1000001" {
			t.Fatalf("lines=%+v", lines)
		}
		var sum int64
		for _, line := range lines {
			sum += line.AmountCents
		}
		if sum != ret.TotalAmountCents {
			t.Fatalf("line sum %d != total %d", sum, ret.TotalAmountCents)
		}
	})

	t.Run("inss carries employer share", func(t *testing.T) {
		ret, lines, err := buildFilingReturn(ctx, payroll, hr, tenantID, "inss", 2026, 3)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if ret.Reference != "INSS-2026-03" {
			t.Fatalf("ret=%+v", ret)
		}
		if ret.TotalAmountCents != 8000 || ret.TotalEmployerCents != 12000 {
			t.Fatalf("ret=%+v", ret)
		}
		if lines[0].INSSNo != "INSS-1" || lines[0].TIN != "" {
			t.Fatalf("lines=%+v", lines)
		}
	})

	t.Run("month without finalized runs", func(t *testing.T) {
		_, _, err := buildFilingReturn(ctx, payroll, hr, tenantID, "wit", 2026, 4)
		if err == nil || err.Error() != "FILING_NO_FINALIZED_RUNS" {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("bad kind", func(t *testing.T) {
		_, _, err := buildFilingReturn(ctx, payroll, hr, tenantID, "vat", 2026, 3)
		if err == nil {
			t.Fatal("bad kind accepted")
		}
	})
}

func TestFilingMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newFilingMemoryStore()

	draft := FilingReturn{Kind: FilingKindWIT, Year: 2026, Month: 3, Reference: "WIT-2026-03", TotalAmountCents: 100, LineCount: 1}
	lines := []FilingLine{{EmployeeID: "emp1", EmployeeNo: "E1", AmountCents: 100}}

	first, err := store.SaveDraftReturn(ctx, "t1", draft, lines)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Run("regenerate replaces draft", func(t *testing.T) {
		draft.TotalAmountCents = 200
		second, err := store.SaveDraftReturn(ctx, "t1", draft, lines)
		if err != nil {
			t.Fatalf("regenerate: %v", err)
		}
		if second.ID == first.ID {
			t.Fatal("regenerated draft kept the old id")
		}
		all, err := store.ListFilingReturns(ctx, "t1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 1 || all[0].TotalAmountCents != 200 {
			t.Fatalf("all=%+v", all)
		}
	})

	t.Run("submit freezes", func(t *testing.T) {
		all, _ := store.ListFilingReturns(ctx, "t1")
		submitted, err := store.SubmitFilingReturn(ctx, "t1", all[0].ID)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if submitted.Status != FilingStatusSubmitted || submitted.SubmittedAt == "" {
			t.Fatalf("submitted=%+v", submitted)
		}
		if _, err := store.SubmitFilingReturn(ctx, "t1", submitted.ID); err == nil {
			t.Fatal("double submit accepted")
		}
		if _, err := store.SaveDraftReturn(ctx, "t1", draft, lines); err == nil || err.Error() != "FILING_ALREADY_SUBMITTED" {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestFilingCSVRecords(t *testing.T) {
	detail := FilingReturnDetail{
		FilingReturn: FilingReturn{Kind: FilingKindINSS, TotalBaseCents: 200000, TotalAmountCents: 8000, TotalEmployerCents: 12000},
		Lines: []FilingLine{
			{EmployeeNo: "E1", EmployeeName: "Ana Ximenes", INSSNo: "INSS-1", BaseCents: 80000, AmountCents: 3200, EmployerCents: 4800},
		},
	}
	records := filingCSVRecords(detail)
	if len(records) != 3 {
		t.Fatalf("records=%v", records)
	}
	if records[1][3] != "800.00" || records[1][6] != "80.00" {
		t.Fatalf("line=%v", records[1])
	}
	if records[2][0] != "TOTAL" || records[2][6] != "200.00" {
		t.Fatalf("total=%v", records[2])
	}
}

func TestHandleFilingReturnsAPI(t *testing.T) {
	payroll := newPayrollMemoryStore()
	hr := newHRMemoryStore()
	tenantID := seedFinalizedRun(t, payroll, hr)
	store := newFilingMemoryStore()

	generate := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/filing/api/returns", strings.NewReader(body))
		req = req.WithContext(withTenant(req.Context(), Tenant{ID: tenantID}))
		rec := httptest.NewRecorder()
		handleFilingReturnsAPI(rec, req, store, payroll, hr)
		return rec
	}

	rec := generate(`{"kind":"wit","year":2026,"month":3}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	var ret FilingReturn
	if err := json.NewDecoder(rec.Body).Decode(&ret); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ret.Reference != "WIT-2026-03" || ret.LineCount != 2 {
		t.Fatalf("ret=%+v", ret)
	}

	t.Run("export csv", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/filing/api/returns/"+ret.ID+"/export", nil)
		req = req.WithContext(withTenant(req.Context(), Tenant{ID: tenantID}))
		rec := httptest.NewRecorder()
		handleFilingReturnAPI(rec, req, store)
		if rec.Code != http.StatusOK {
			t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Fatalf("content-type=%q", ct)
		}
		records, err := csv.NewReader(rec.Body).ReadAll()
		if err != nil {
			t.Fatalf("parse csv: %v", err)
		}
		// header + 2 lines + total
		if len(records) != 4 || records[0][0] != "employee_no" {
			t.Fatalf("records=%v", records)
		}
	})

	t.Run("no finalized runs yields 422", func(t *testing.T) {
		rec := generate(`{"kind":"wit","year":2026,"month":5}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "FILING_NO_FINALIZED_RUNS") {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})
}

func TestHandleAnnualSummaryAPI(t *testing.T) {
	payroll := newPayrollMemoryStore()
	hr := newHRMemoryStore()
	tenantID := seedFinalizedRun(t, payroll, hr)

	req := httptest.NewRequest(http.MethodGet, "/filing/api/annual-summary?year=2026", nil)
	req = req.WithContext(withTenant(req.Context(), Tenant{ID: tenantID}))
	rec := httptest.NewRecorder()
	handleAnnualSummaryAPI(rec, req, payroll, hr)
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	var rows []AnnualWageRow
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[0].TIN != "1000001" || rows[0].GrossCents != 80000 {
		t.Fatalf("rows=%+v", rows)
	}

	t.Run("csv", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/filing/api/annual-summary?year=2026&format=csv", nil)
		req = req.WithContext(withTenant(req.Context(), Tenant{ID: tenantID}))
		rec := httptest.NewRecorder()
		handleAnnualSummaryAPI(rec, req, payroll, hr)
		records, err := csv.NewReader(rec.Body).ReadAll()
		if err != nil {
			t.Fatalf("parse csv: %v", err)
		}
		if len(records) != 3 || records[1][0] != "E1" {
			t.Fatalf("records=%v", records)
		}
	})
}
