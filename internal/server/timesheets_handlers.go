package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

type holidayLister interface {
	ListHolidays(ctx context.Context, tenantID string, year int) ([]Holiday, error)
}

func holidaySet(ctx context.Context, store holidayLister, tenantID string, year int) (map[string]bool, error) {
	list, err := store.ListHolidays(ctx, tenantID, year)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(list))
	for _, h := range list {
		set[h.Date] = true
	}
	return set, nil
}

type timePunchesAPIRequest struct {
	EmployeeID     string          `json:"employee_id"`
	PunchTime      string          `json:"punch_time"`
	PunchType      string          `json:"punch_type"`
	SourceProvider string          `json:"source_provider"`
	DeviceID       string          `json:"device_id"`
	RequestID      string          `json:"request_id"`
	Payload        json.RawMessage `json:"payload"`
}

func (req timePunchesAPIRequest) toParams() (submitTimePunchParams, error) {
	employeeID := strings.TrimSpace(req.EmployeeID)
	if employeeID == "" {
		return submitTimePunchParams{}, newBadRequestError("employee_id is required")
	}
	punchTime, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(req.PunchTime))
	if err != nil {
		return submitTimePunchParams{}, newBadRequestError("punch_time must be RFC3339")
	}
	return submitTimePunchParams{
		EmployeeID:     employeeID,
		PunchTime:      punchTime.UTC(),
		PunchType:      req.PunchType,
		SourceProvider: req.SourceProvider,
		DeviceID:       req.DeviceID,
		RequestID:      req.RequestID,
		Payload:        req.Payload,
	}, nil
}

func handleTimePunchesAPI(w http.ResponseWriter, r *http.Request, store TimePunchStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		employeeID := strings.TrimSpace(q.Get("employee_id"))
		if employeeID == "" {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "missing_employee_id", "employee_id query parameter is required")
			return
		}

		to := time.Now().UTC()
		from := to.Add(-24 * time.Hour)
		if raw := strings.TrimSpace(q.Get("from")); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
				return
			}
			from = t.UTC()
		}
		if raw := strings.TrimSpace(q.Get("to")); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
				return
			}
			to = t.UTC()
		}

		limit := 200
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			if n > 1000 {
				n = 1000
			}
			limit = n
		}

		punches, err := store.ListTimePunchesForEmployee(r.Context(), tenant.ID, employeeID, from, to, limit)
		if err != nil {
			writeInternalAPIError(w, r, err, "TIMECLOCK_LIST_FAILED")
			return
		}
		if punches == nil {
			punches = []TimePunch{}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant":      tenant.ID,
			"employee_id": employeeID,
			"from":        from,
			"to":          to,
			"punches":     punches,
		})
	case http.MethodPost:
		principal, ok := currentPrincipal(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
			return
		}

		var req timePunchesAPIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		if strings.TrimSpace(req.EmployeeID) == "" {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "missing_employee_id", "employee_id is required")
			return
		}
		params, err := req.toParams()
		if err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_punch_time", err.Error())
			return
		}
		if _, err := normalizePunchType(params.PunchType); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_punch_type", err.Error())
			return
		}
		if _, err := normalizePunchSource(params.SourceProvider); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_source_provider", err.Error())
			return
		}

		punch, err := store.SubmitTimePunch(r.Context(), tenant.ID, principal.ID, params)
		if err != nil {
			if isTimeclockIdempotencyReused(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusConflict, "idempotency_reused", "request_id was already used with a different punch")
				return
			}
			if isBadRequestError(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "submit_failed", err.Error())
				return
			}
			writeInternalAPIError(w, r, err, "TIMECLOCK_SUBMIT_FAILED")
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(punch)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleTimePunchImportAPI(w http.ResponseWriter, r *http.Request, store TimePunchStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
		return
	}

	var req struct {
		Punches []timePunchesAPIRequest `json:"punches"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
		return
	}
	if len(req.Punches) == 0 {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "empty_import", "punches is required")
		return
	}
	if len(req.Punches) > 2000 {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "import_too_large", "at most 2000 punches per import")
		return
	}

	events := make([]submitTimePunchParams, 0, len(req.Punches))
	for i, pr := range req.Punches {
		params, err := pr.toParams()
		if err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_punch", fmt.Sprintf("line %d: %v", i+1, err))
			return
		}
		if params.SourceProvider == "" || strings.EqualFold(params.SourceProvider, "MANUAL") {
			params.SourceProvider = "IMPORT"
		}
		events = append(events, params)
	}

	if err := store.ImportTimePunches(r.Context(), tenant.ID, principal.ID, events); err != nil {
		if isTimeclockIdempotencyReused(err) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusConflict, "idempotency_reused", err.Error())
			return
		}
		if isBadRequestError(err) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "import_failed", err.Error())
			return
		}
		writeInternalAPIError(w, r, err, "TIMECLOCK_IMPORT_FAILED")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tenant":   tenant.ID,
		"imported": len(events),
	})
}

func handleTimesheetSummariesAPI(w http.ResponseWriter, r *http.Request, store TimePunchStore, employees EmployeeStore, holidays holidayLister) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	loc := diliLocation()
	q := r.URL.Query()

	monthRaw := strings.TrimSpace(q.Get("month"))
	if monthRaw == "" {
		monthRaw = time.Now().In(loc).Format("2006-01")
	}
	monthStart, err := time.ParseInLocation("2006-01", monthRaw, loc)
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_month", "month must be YYYY-MM")
		return
	}
	monthEnd := monthStart.AddDate(0, 1, 0)

	set, err := holidaySet(r.Context(), holidays, tenant.ID, monthStart.Year())
	if err != nil {
		writeInternalAPIError(w, r, err, "TIMECLOCK_SUMMARY_FAILED")
		return
	}

	asOf := monthEnd.AddDate(0, 0, -1).Format("2006-01-02")
	list, err := employees.ListEmployees(r.Context(), tenant.ID, asOf, "")
	if err != nil {
		writeInternalAPIError(w, r, err, "TIMECLOCK_SUMMARY_FAILED")
		return
	}
	if employeeID := strings.TrimSpace(q.Get("employee_id")); employeeID != "" {
		filtered := list[:0]
		for _, e := range list {
			if e.ID == employeeID {
				filtered = append(filtered, e)
			}
		}
		list = filtered
		if len(list) == 0 {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "HR_EMPLOYEE_NOT_FOUND", "employee not found")
			return
		}
	}

	punches, err := store.ListTimePunchesBetween(r.Context(), tenant.ID, monthStart.UTC(), monthEnd.UTC())
	if err != nil {
		writeInternalAPIError(w, r, err, "TIMECLOCK_SUMMARY_FAILED")
		return
	}

	summaries := make([]MonthlyTimesheet, 0, len(list))
	for _, e := range list {
		trackAbsence := e.PayBasis == "MONTHLY"
		summaries = append(summaries, summarizeTimesheet(punches, e.ID, monthStart.Year(), monthStart.Month(), loc, set, trackAbsence))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tenant":    tenant.ID,
		"month":     monthRaw,
		"summaries": summaries,
	})
}

func handleTimesheetsPage(w http.ResponseWriter, r *http.Request, store TimePunchStore, employees EmployeeStore, holidays holidayLister) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	loc := diliLocation()
	q := r.URL.Query()
	monthRaw := strings.TrimSpace(q.Get("month"))
	if monthRaw == "" {
		monthRaw = time.Now().In(loc).Format("2006-01")
	}
	monthStart, err := time.ParseInLocation("2006-01", monthRaw, loc)
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusBadRequest, "invalid_month", "month must be YYYY-MM")
		return
	}
	monthEnd := monthStart.AddDate(0, 1, 0)
	employeeID := strings.TrimSpace(q.Get("employee_id"))

	asOf := monthEnd.AddDate(0, 0, -1).Format("2006-01-02")
	staff, err := employees.ListEmployees(r.Context(), tenant.ID, asOf, "")
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}

	render := func(errMsg string, msg string) {
		var punches []TimePunch
		var summary *MonthlyTimesheet
		if employeeID != "" {
			punches, err = store.ListTimePunchesForEmployee(r.Context(), tenant.ID, employeeID, monthStart.UTC(), monthEnd.UTC(), 2000)
			if err != nil {
				errMsg = mergeMsg(errMsg, err.Error())
			}
			set, herr := holidaySet(r.Context(), holidays, tenant.ID, monthStart.Year())
			if herr != nil {
				errMsg = mergeMsg(errMsg, herr.Error())
			} else {
				trackAbsence := false
				for _, e := range staff {
					if e.ID == employeeID {
						trackAbsence = e.PayBasis == "MONTHLY"
					}
				}
				s := summarizeTimesheet(punches, employeeID, monthStart.Year(), monthStart.Month(), loc, set, trackAbsence)
				summary = &s
			}
		}
		writePage(w, r, renderTimesheets(staff, employeeID, monthRaw, punches, summary, loc, errMsg, msg))
	}

	switch r.Method {
	case http.MethodGet:
		render("", strings.TrimSpace(q.Get("msg")))
	case http.MethodPost:
		principal, ok := currentPrincipal(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "principal_missing", "principal missing")
			return
		}
		if err := r.ParseForm(); err != nil {
			render("invalid form", "")
			return
		}

		redirect := func(msg string) {
			target := "/app/timesheets?employee_id=" + url.QueryEscape(employeeID) + "&month=" + url.QueryEscape(monthRaw)
			if msg != "" {
				target += "&msg=" + url.QueryEscape(msg)
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
		}

		switch strings.TrimSpace(r.PostFormValue("op")) {
		case "manual":
			target := strings.TrimSpace(r.PostFormValue("employee_id"))
			if target == "" {
				target = employeeID
			}
			punchAt, err := time.ParseInLocation("2006-01-02T15:04", strings.TrimSpace(r.PostFormValue("punch_at")), loc)
			if err != nil {
				render("punch_at must look like 2026-06-01T08:30", "")
				return
			}
			_, err = store.SubmitTimePunch(r.Context(), tenant.ID, principal.ID, submitTimePunchParams{
				EmployeeID:     target,
				PunchTime:      punchAt.UTC(),
				PunchType:      r.PostFormValue("punch_type"),
				SourceProvider: "MANUAL",
				Payload:        json.RawMessage(`{"source":"ui"}`),
			})
			if err != nil {
				render(err.Error(), "")
				return
			}
			employeeID = target
			redirect("punch recorded")
		case "import":
			csvText := r.PostFormValue("csv")
			if len(csvText) > 512*1024 {
				render("csv too large", "")
				return
			}
			lines := splitNonEmptyLines(csvText)
			if len(lines) == 0 {
				render("csv is empty", "")
				return
			}
			if len(lines) > 2000 {
				render("at most 2000 lines per import", "")
				return
			}
			events := make([]submitTimePunchParams, 0, len(lines))
			for i, line := range lines {
				cols := strings.Split(line, ",")
				if len(cols) != 3 {
					render(fmt.Sprintf("line %d: expected employee_id,punch_at,punch_type", i+1), "")
					return
				}
				punchAt, err := parsePunchTime(strings.TrimSpace(cols[1]), loc)
				if err != nil {
					render(fmt.Sprintf("line %d: %v", i+1, err), "")
					return
				}
				events = append(events, submitTimePunchParams{
					EmployeeID:     strings.TrimSpace(cols[0]),
					PunchTime:      punchAt.UTC(),
					PunchType:      strings.TrimSpace(cols[2]),
					SourceProvider: "IMPORT",
					Payload:        json.RawMessage(`{"source":"import"}`),
				})
			}
			if err := store.ImportTimePunches(r.Context(), tenant.ID, principal.ID, events); err != nil {
				render(err.Error(), "")
				return
			}
			redirect(fmt.Sprintf("imported %d punches", len(events)))
		default:
			render("unknown op", "")
		}
	default:
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// parsePunchTime accepts RFC3339 (device exports) or a local wall-clock
// stamp without zone (spreadsheet exports).
func parsePunchTime(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("punch_at must be RFC3339 or 2026-06-01T08:30")
	}
	return t, nil
}

func splitNonEmptyLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func mergeMsg(errMsg string, msg string) string {
	if errMsg == "" {
		return msg
	}
	if msg == "" {
		return errMsg
	}
	return errMsg + "; " + msg
}

func renderTimesheets(staff []Employee, employeeID string, month string, punches []TimePunch, summary *MonthlyTimesheet, loc *time.Location, errMsg string, msg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Timesheets</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	if msg != "" {
		b.WriteString(`<p>` + html.EscapeString(msg) + `</p>`)
	}

	b.WriteString(`<form method="get" action="/app/timesheets">`)
	b.WriteString(`<label>Employee <select name="employee_id"><option value="">(choose)</option>`)
	for _, e := range staff {
		sel := ""
		if e.ID == employeeID {
			sel = ` selected`
		}
		b.WriteString(`<option value="` + html.EscapeString(e.ID) + `"` + sel + `>` + html.EscapeString(e.EmployeeNo+" "+e.FullName) + `</option>`)
	}
	b.WriteString(`</select></label> `)
	b.WriteString(`<label>Month <input type="month" name="month" value="` + html.EscapeString(month) + `"></label> `)
	b.WriteString(`<button type="submit">Show</button>`)
	b.WriteString(`</form>`)

	if summary != nil {
		b.WriteString(`<h2>Monthly Summary</h2>`)
		b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
		b.WriteString(`<tr><th>Regular</th><th>Overtime</th><th>Night</th><th>Rest Day</th><th>Unpaid Absence</th><th>Days Worked</th></tr>`)
		b.WriteString(fmt.Sprintf(`<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>`,
			formatMinutes(summary.RegularMinutes),
			formatMinutes(summary.OvertimeMinutes),
			formatMinutes(summary.NightMinutes),
			formatMinutes(summary.RestDayMinutes),
			formatMinutes(summary.UnpaidAbsenceMinutes),
			summary.DaysWorked))
		b.WriteString(`</table>`)
		if summary.OpenInterval {
			b.WriteString(`<p style="color:#b00020">An IN punch has no matching OUT; the open interval is not counted.</p>`)
		}
	}

	if employeeID != "" {
		b.WriteString(`<h2>Punches</h2>`)
		b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
		b.WriteString(`<tr><th>Time (Dili)</th><th>Type</th><th>Source</th><th>Device</th></tr>`)
		for _, p := range punches {
			b.WriteString(`<tr>`)
			b.WriteString(`<td>` + html.EscapeString(p.PunchTime.In(loc).Format("2006-01-02 15:04")) + `</td>`)
			b.WriteString(`<td>` + html.EscapeString(p.PunchType) + `</td>`)
			b.WriteString(`<td>` + html.EscapeString(p.SourceProvider) + `</td>`)
			b.WriteString(`<td>` + html.EscapeString(p.DeviceID) + `</td>`)
			b.WriteString(`</tr>`)
		}
		b.WriteString(`</table>`)

		b.WriteString(`<h2>Manual Punch</h2>`)
		b.WriteString(`<form method="post" action="/app/timesheets?employee_id=` + url.QueryEscape(employeeID) + `&month=` + url.QueryEscape(month) + `">`)
		b.WriteString(`<input type="hidden" name="op" value="manual">`)
		b.WriteString(`<input type="hidden" name="employee_id" value="` + html.EscapeString(employeeID) + `">`)
		b.WriteString(`<label>At <input type="datetime-local" name="punch_at" required></label> `)
		b.WriteString(`<label>Type <select name="punch_type"><option>IN</option><option>OUT</option></select></label> `)
		b.WriteString(`<button type="submit">Record</button>`)
		b.WriteString(`</form>`)
	}

	b.WriteString(`<h2>Import CSV</h2>`)
	b.WriteString(`<p>One punch per line: employee_id,punch_at,punch_type</p>`)
	b.WriteString(`<form method="post" action="/app/timesheets?employee_id=` + url.QueryEscape(employeeID) + `&month=` + url.QueryEscape(month) + `">`)
	b.WriteString(`<input type="hidden" name="op" value="import">`)
	b.WriteString(`<textarea name="csv" rows="8" cols="72" placeholder="employee-1,2026-06-01T08:00,IN"></textarea><br>`)
	b.WriteString(`<button type="submit">Import</button>`)
	b.WriteString(`</form>`)

	return b.String()
}

func formatMinutes(m int64) string {
	return fmt.Sprintf("%d:%02d", m/60, m%60)
}
