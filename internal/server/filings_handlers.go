package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
	"github.com/OniT-Enterprises/meza/pkg/money"
)

func handleFilingReturnsAPI(w http.ResponseWriter, r *http.Request, store FilingStore, payroll PayrollStore, employees EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		returns, err := store.ListFilingReturns(r.Context(), tenant.ID)
		if err != nil {
			writeInternalAPIError(w, r, err, "FILING_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(returns)
	case http.MethodPost:
		var req struct {
			Kind  string `json:"kind"`
			Year  int    `json:"year"`
			Month int    `json:"month"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		ret, lines, err := buildFilingReturn(r.Context(), payroll, employees, tenant.ID, req.Kind, req.Year, req.Month)
		if err != nil {
			writeInternalAPIError(w, r, err, "FILING_GENERATE_FAILED")
			return
		}
		saved, err := store.SaveDraftReturn(r.Context(), tenant.ID, ret, lines)
		if err != nil {
			writeInternalAPIError(w, r, err, "FILING_GENERATE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(saved)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleFilingReturnAPI serves /filing/api/returns/{return_id} plus its
// export and submit actions.
func handleFilingReturnAPI(w http.ResponseWriter, r *http.Request, store FilingStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	returnID, ok := requirePathID(w, r, "/filing/api/returns/")
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/filing/api/returns/"+returnID)
	rest = strings.TrimPrefix(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		detail, err := store.GetFilingReturn(r.Context(), tenant.ID, returnID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "FILING_RETURN_NOT_FOUND", "return not found")
				return
			}
			writeInternalAPIError(w, r, err, "FILING_GET_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(detail)
	case rest == "export" && r.Method == http.MethodGet:
		detail, err := store.GetFilingReturn(r.Context(), tenant.ID, returnID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "FILING_RETURN_NOT_FOUND", "return not found")
				return
			}
			writeInternalAPIError(w, r, err, "FILING_EXPORT_FAILED")
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", detail.Reference+".csv"))
		_ = csv.NewWriter(w).WriteAll(filingCSVRecords(detail))
	case rest == "submit" && r.Method == http.MethodPost:
		submitted, err := store.SubmitFilingReturn(r.Context(), tenant.ID, returnID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "FILING_RETURN_NOT_FOUND", "return not found")
				return
			}
			writeInternalAPIError(w, r, err, "FILING_SUBMIT_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(submitted)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleAnnualSummaryAPI(w http.ResponseWriter, r *http.Request, payroll PayrollStore, employees EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_year", "year query parameter is required")
		return
	}
	rows, err := buildAnnualWageSummary(r.Context(), payroll, employees, tenant.ID, year)
	if err != nil {
		writeInternalAPIError(w, r, err, "FILING_SUMMARY_FAILED")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("annual-wages-%d.csv", year)))
		_ = csv.NewWriter(w).WriteAll(annualSummaryCSVRecords(rows))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(rows)
}

func handleFilingsPage(w http.ResponseWriter, r *http.Request, store FilingStore, payroll PayrollStore, employees EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	render := func(errMsg string, msg string) {
		returns, err := store.ListFilingReturns(r.Context(), tenant.ID)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		writePage(w, r, renderFilingReturns(returns, errMsg, msg))
	}

	switch r.Method {
	case http.MethodGet:
		render("", strings.TrimSpace(r.URL.Query().Get("msg")))
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			render("invalid form", "")
			return
		}
		redirect := func(msg string) {
			http.Redirect(w, r, "/app/filings?msg="+url.QueryEscape(msg), http.StatusSeeOther)
		}

		switch strings.TrimSpace(r.PostFormValue("op")) {
		case "generate":
			year, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("year")))
			if err != nil {
				render("year must be a number", "")
				return
			}
			month, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("month")))
			if err != nil {
				render("month must be a number", "")
				return
			}
			ret, lines, err := buildFilingReturn(r.Context(), payroll, employees, tenant.ID, r.PostFormValue("kind"), year, month)
			if err != nil {
				render(err.Error(), "")
				return
			}
			saved, err := store.SaveDraftReturn(r.Context(), tenant.ID, ret, lines)
			if err != nil {
				render(err.Error(), "")
				return
			}
			redirect("return " + saved.Reference + " generated")
		case "submit":
			submitted, err := store.SubmitFilingReturn(r.Context(), tenant.ID, strings.TrimSpace(r.PostFormValue("return_id")))
			if err != nil {
				render(err.Error(), "")
				return
			}
			redirect("return " + submitted.Reference + " submitted")
		default:
			render("unknown op", "")
		}
	default:
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func renderFilingReturns(returns []FilingReturn, errMsg string, msg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Filings</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	if msg != "" {
		b.WriteString(`<p>` + html.EscapeString(msg) + `</p>`)
	}

	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Reference</th><th>Kind</th><th>Month</th><th>Base</th><th>Amount</th><th>Lines</th><th>Status</th><th></th></tr>`)
	for _, ret := range returns {
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(ret.Reference) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(strings.ToUpper(ret.Kind)) + `</td>`)
		b.WriteString(fmt.Sprintf(`<td>%04d-%02d</td>`, ret.Year, ret.Month))
		b.WriteString(`<td>` + money.FormatCents(ret.TotalBaseCents) + `</td>`)
		b.WriteString(`<td>` + money.FormatCents(ret.TotalAmountCents) + `</td>`)
		b.WriteString(fmt.Sprintf(`<td>%d</td>`, ret.LineCount))
		b.WriteString(`<td>` + html.EscapeString(ret.Status) + `</td>`)
		b.WriteString(`<td><a href="/filing/api/returns/` + url.PathEscape(ret.ID) + `/export">CSV</a> `)
		if ret.Status == FilingStatusDraft {
			b.WriteString(`<form method="post" action="/app/filings" style="display:inline">`)
			b.WriteString(`<input type="hidden" name="op" value="submit">`)
			b.WriteString(`<input type="hidden" name="return_id" value="` + html.EscapeString(ret.ID) + `">`)
			b.WriteString(`<button type="submit">Submit</button>`)
			b.WriteString(`</form>`)
		}
		b.WriteString(`</td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)

	b.WriteString(`<h2>Generate Return</h2>`)
	b.WriteString(`<form method="post" action="/app/filings">`)
	b.WriteString(`<input type="hidden" name="op" value="generate">`)
	b.WriteString(`<label>Kind <select name="kind"><option value="wit">WIT</option><option value="inss">INSS</option></select></label> `)
	b.WriteString(`<label>Year <input name="year" size="4" required></label> `)
	b.WriteString(`<label>Month <input name="month" size="2" required></label> `)
	b.WriteString(`<button type="submit">Generate</button>`)
	b.WriteString(`</form>`)
	return b.String()
}
