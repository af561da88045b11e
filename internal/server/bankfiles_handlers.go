package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
	"github.com/OniT-Enterprises/meza/pkg/bankfile"
	"github.com/OniT-Enterprises/meza/pkg/money"
)

func handleBankFilesAPI(w http.ResponseWriter, r *http.Request, store BankFileStore, payroll PayrollStore, employees EmployeeStore, settings SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		files, err := store.ListBankFiles(r.Context(), tenant.ID)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_BANK_FILE_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(files)
	case http.MethodPost:
		var req struct {
			RunID     string `json:"run_id"`
			Format    string `json:"format"`
			ValueDate string `json:"value_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		valueDate := time.Now().UTC()
		if strings.TrimSpace(req.ValueDate) != "" {
			parsed, err := time.Parse("2006-01-02", req.ValueDate)
			if err != nil {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_value_date", "value_date must be YYYY-MM-DD")
				return
			}
			valueDate = parsed
		}

		batch, format, year, err := buildBankFileBatch(r.Context(), payroll, employees, settings, tenant.ID, req.RunID, req.Format, valueDate)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_RUN_NOT_FOUND", "run not found")
				return
			}
			writeInternalAPIError(w, r, err, "PAYROLL_BANK_FILE_FAILED")
			return
		}

		reference, err := store.NextBankFileReference(r.Context(), tenant.ID, year)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_BANK_FILE_FAILED")
			return
		}
		batch.Reference = reference

		var body bytes.Buffer
		if err := format.Write(&body, batch); err != nil {
			writeInternalAPIError(w, r, newBadRequestError(err.Error()), "PAYROLL_BANK_FILE_FAILED")
			return
		}

		saved, err := store.SaveBankFile(r.Context(), tenant.ID, BankFile{
			RunID:       req.RunID,
			FormatCode:  format.Code(),
			Reference:   reference,
			FileName:    format.FileName(batch),
			ContentType: format.ContentType(),
			ItemCount:   len(batch.Items),
			TotalCents:  batch.TotalCents(),
			ValueDate:   valueDate.Format("2006-01-02"),
		}, compressBlob(body.Bytes()))
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_BANK_FILE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(saved)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleBankFileAPI serves /payroll/api/bank-files/{file_id} and its content
// download.
func handleBankFileAPI(w http.ResponseWriter, r *http.Request, store BankFileStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	fileID, ok := requirePathID(w, r, "/payroll/api/bank-files/")
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/payroll/api/bank-files/"+fileID)
	rest = strings.TrimPrefix(rest, "/")

	switch rest {
	case "":
		bf, err := store.GetBankFile(r.Context(), tenant.ID, fileID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_BANK_FILE_NOT_FOUND", "bank file not found")
				return
			}
			writeInternalAPIError(w, r, err, "PAYROLL_BANK_FILE_GET_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(bf)
	case "content":
		bf, body, err := store.GetBankFileContent(r.Context(), tenant.ID, fileID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_BANK_FILE_NOT_FOUND", "bank file not found")
				return
			}
			writeInternalAPIError(w, r, err, "PAYROLL_BANK_FILE_GET_FAILED")
			return
		}
		w.Header().Set("Content-Type", bf.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bf.FileName))
		_, _ = w.Write(body)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "not_found", "not found")
	}
}

func handleBankFilesPage(w http.ResponseWriter, r *http.Request, store BankFileStore, payroll PayrollStore, employees EmployeeStore, settings SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	render := func(errMsg string, msg string) {
		files, err := store.ListBankFiles(r.Context(), tenant.ID)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		writePage(w, r, renderBankFiles(files, errMsg, msg))
	}

	switch r.Method {
	case http.MethodGet:
		render("", strings.TrimSpace(r.URL.Query().Get("msg")))
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			render("invalid form", "")
			return
		}
		if strings.TrimSpace(r.PostFormValue("op")) != "generate" {
			render("unknown op", "")
			return
		}

		valueDate := time.Now().UTC()
		if raw := strings.TrimSpace(r.PostFormValue("value_date")); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				render("value date must be YYYY-MM-DD", "")
				return
			}
			valueDate = parsed
		}

		runID := strings.TrimSpace(r.PostFormValue("run_id"))
		batch, format, year, err := buildBankFileBatch(r.Context(), payroll, employees, settings, tenant.ID, runID, r.PostFormValue("format"), valueDate)
		if err != nil {
			render(err.Error(), "")
			return
		}
		reference, err := store.NextBankFileReference(r.Context(), tenant.ID, year)
		if err != nil {
			render(err.Error(), "")
			return
		}
		batch.Reference = reference

		var body bytes.Buffer
		if err := format.Write(&body, batch); err != nil {
			render(err.Error(), "")
			return
		}
		saved, err := store.SaveBankFile(r.Context(), tenant.ID, BankFile{
			RunID:       runID,
			FormatCode:  format.Code(),
			Reference:   reference,
			FileName:    format.FileName(batch),
			ContentType: format.ContentType(),
			ItemCount:   len(batch.Items),
			TotalCents:  batch.TotalCents(),
			ValueDate:   valueDate.Format("2006-01-02"),
		}, compressBlob(body.Bytes()))
		if err != nil {
			render(err.Error(), "")
			return
		}
		http.Redirect(w, r, "/app/bank-files?msg="+url.QueryEscape("bank file "+saved.Reference+" generated"), http.StatusSeeOther)
	default:
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func renderBankFiles(files []BankFile, errMsg string, msg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Bank Files</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	if msg != "" {
		b.WriteString(`<p>` + html.EscapeString(msg) + `</p>`)
	}

	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Reference</th><th>Format</th><th>Run</th><th>Items</th><th>Total</th><th>Value Date</th><th></th></tr>`)
	for _, bf := range files {
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(bf.Reference) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(bf.FormatCode) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(bf.RunID) + `</td>`)
		b.WriteString(fmt.Sprintf(`<td>%d</td>`, bf.ItemCount))
		b.WriteString(`<td>` + money.FormatCents(bf.TotalCents) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(bf.ValueDate) + `</td>`)
		b.WriteString(`<td><a href="/payroll/api/bank-files/` + url.PathEscape(bf.ID) + `/content">Download</a></td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)

	b.WriteString(`<h2>Generate Bank File</h2>`)
	b.WriteString(`<form method="post" action="/app/bank-files">`)
	b.WriteString(`<input type="hidden" name="op" value="generate">`)
	b.WriteString(`<label>Run <input name="run_id" required></label> `)
	b.WriteString(`<label>Format <select name="format">`)
	for _, code := range bankfile.Codes() {
		b.WriteString(`<option value="` + html.EscapeString(code) + `">` + html.EscapeString(code) + `</option>`)
	}
	b.WriteString(`</select></label> `)
	b.WriteString(`<label>Value Date <input name="value_date" placeholder="YYYY-MM-DD"></label> `)
	b.WriteString(`<button type="submit">Generate</button>`)
	b.WriteString(`</form>`)
	return b.String()
}
