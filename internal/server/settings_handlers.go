package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/OniT-Enterprises/meza/internal/routing"
	"github.com/OniT-Enterprises/meza/pkg/bankfile"
	"github.com/OniT-Enterprises/meza/pkg/money"
)

func handleCompanySettingsAPI(w http.ResponseWriter, r *http.Request, store SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		profile, err := store.GetCompanyProfile(r.Context(), tenant.ID)
		if err != nil {
			writeInternalAPIError(w, r, err, "SETTINGS_COMPANY_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(profile)
	case http.MethodPost:
		principal, ok := currentPrincipal(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
			return
		}

		var req CompanyProfile
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		updated, err := store.UpdateCompanyProfile(r.Context(), tenant.ID, principal.ID, req)
		if err != nil {
			if isBadRequestError(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_profile", err.Error())
				return
			}
			writeInternalAPIError(w, r, err, "SETTINGS_COMPANY_FAILED")
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(updated)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handlePayPolicyAPI(w http.ResponseWriter, r *http.Request, store SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		policy, err := store.GetPayPolicy(r.Context(), tenant.ID)
		if err != nil {
			writeInternalAPIError(w, r, err, "SETTINGS_POLICY_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(policy)
	case http.MethodPost:
		principal, ok := currentPrincipal(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
			return
		}

		var req PayPolicySettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		updated, err := store.UpdatePayPolicy(r.Context(), tenant.ID, principal.ID, req)
		if err != nil {
			if isBadRequestError(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_policy", err.Error())
				return
			}
			writeInternalAPIError(w, r, err, "SETTINGS_POLICY_FAILED")
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(updated)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleStatutoryTablesAPI(w http.ResponseWriter, r *http.Request, store SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		limit := 0
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = n
		}

		tables, err := store.ListStatutoryTables(r.Context(), tenant.ID, q.Get("kind"), limit)
		if err != nil {
			writeInternalAPIError(w, r, err, "SETTINGS_STATUTORY_FAILED")
			return
		}
		if tables == nil {
			tables = []StatutoryTable{}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant": tenant.ID,
			"tables": tables,
		})
	case http.MethodPost:
		principal, ok := currentPrincipal(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
			return
		}

		var req struct {
			Kind          string          `json:"kind"`
			EffectiveFrom string          `json:"effective_from"`
			Payload       json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		created, err := store.CreateStatutoryTable(r.Context(), tenant.ID, principal.ID, req.Kind, req.EffectiveFrom, req.Payload)
		if err != nil {
			if isBadRequestError(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_table", err.Error())
				return
			}
			writeInternalAPIError(w, r, err, "SETTINGS_STATUTORY_FAILED")
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleStatutoryTableActivateAPI(w http.ResponseWriter, r *http.Request, store SettingsStore) {
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
	tableID, ok := requirePathID(w, r, "/settings/api/statutory-tables/")
	if !ok {
		return
	}

	activated, err := store.ActivateStatutoryTable(r.Context(), tenant.ID, principal.ID, tableID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "table_not_found", err.Error())
			return
		}
		writeInternalAPIError(w, r, err, "SETTINGS_STATUTORY_FAILED")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(activated)
}

func handleHolidaysAPI(w http.ResponseWriter, r *http.Request, store SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		year := time.Now().In(diliLocation()).Year()
		if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 2000 || n > 2200 {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_year", "year must be a four digit year")
				return
			}
			year = n
		}

		holidays, err := store.ListHolidays(r.Context(), tenant.ID, year)
		if err != nil {
			writeInternalAPIError(w, r, err, "SETTINGS_HOLIDAYS_FAILED")
			return
		}
		if holidays == nil {
			holidays = []Holiday{}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant":   tenant.ID,
			"year":     year,
			"holidays": holidays,
		})
	case http.MethodPost:
		principal, ok := currentPrincipal(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
			return
		}

		// Remove clears the day instead of setting it, so the calendar can be
		// managed through a single route.
		var req struct {
			Date   string `json:"date"`
			Name   string `json:"name"`
			NamePT string `json:"name_pt"`
			Remove bool   `json:"remove"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		if req.Remove {
			if err := store.ClearHoliday(r.Context(), tenant.ID, principal.ID, req.Date); err != nil {
				if strings.Contains(err.Error(), "not found") {
					routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "holiday_not_found", err.Error())
					return
				}
				if isBadRequestError(err) {
					routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_holiday", err.Error())
					return
				}
				writeInternalAPIError(w, r, err, "SETTINGS_HOLIDAYS_FAILED")
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(map[string]any{"tenant": tenant.ID, "removed": req.Date})
			return
		}

		h := Holiday{Date: req.Date, Name: req.Name, NamePT: req.NamePT}
		if err := store.SetHoliday(r.Context(), tenant.ID, principal.ID, h); err != nil {
			if isBadRequestError(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_holiday", err.Error())
				return
			}
			writeInternalAPIError(w, r, err, "SETTINGS_HOLIDAYS_FAILED")
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(h)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handlePayGroupsAPI(w http.ResponseWriter, r *http.Request, store SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		groups, err := store.ListPayGroups(r.Context(), tenant.ID)
		if err != nil {
			writeInternalAPIError(w, r, err, "SETTINGS_PAY_GROUPS_FAILED")
			return
		}
		if groups == nil {
			groups = []PayGroup{}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant":     tenant.ID,
			"pay_groups": groups,
		})
	case http.MethodPost:
		principal, ok := currentPrincipal(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
			return
		}

		var req PayGroup
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		saved, err := store.UpsertPayGroup(r.Context(), tenant.ID, principal.ID, req)
		if err != nil {
			if isBadRequestError(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_pay_group", err.Error())
				return
			}
			writeInternalAPIError(w, r, err, "SETTINGS_PAY_GROUPS_FAILED")
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(saved)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleSettingsPage(w http.ResponseWriter, r *http.Request, store SettingsStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	year := time.Now().In(diliLocation()).Year()
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 2000 && n <= 2200 {
			year = n
		}
	}

	render := func(errMsg string, msg string) {
		profile, err := store.GetCompanyProfile(r.Context(), tenant.ID)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		policy, err := store.GetPayPolicy(r.Context(), tenant.ID)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		tables, err := store.ListStatutoryTables(r.Context(), tenant.ID, "", 0)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		holidays, err := store.ListHolidays(r.Context(), tenant.ID, year)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		groups, err := store.ListPayGroups(r.Context(), tenant.ID)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		writePage(w, r, renderSettings(profile, policy, tables, holidays, groups, year, errMsg, msg))
	}

	switch r.Method {
	case http.MethodGet:
		render("", strings.TrimSpace(r.URL.Query().Get("msg")))
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
			http.Redirect(w, r, "/app/settings?year="+strconv.Itoa(year)+"&msg="+url.QueryEscape(msg), http.StatusSeeOther)
		}

		switch strings.TrimSpace(r.PostFormValue("op")) {
		case "company":
			_, err := store.UpdateCompanyProfile(r.Context(), tenant.ID, principal.ID, CompanyProfile{
				Name:              r.PostFormValue("name"),
				TIN:               r.PostFormValue("tin"),
				INSSEmployerNo:    r.PostFormValue("inss_employer_no"),
				Address:           r.PostFormValue("address"),
				ContactEmail:      r.PostFormValue("contact_email"),
				BankCode:          r.PostFormValue("bank_code"),
				BankAccountNumber: r.PostFormValue("bank_account_number"),
				BankAccountName:   r.PostFormValue("bank_account_name"),
			})
			if err != nil {
				render(err.Error(), "")
				return
			}
			redirect("company profile saved")
		case "pay_policy":
			policy := PayPolicySettings{}
			fields := []struct {
				name string
				dst  *int64
			}{
				{"overtime_percent", &policy.OvertimePercent},
				{"night_percent", &policy.NightPercent},
				{"rest_day_percent", &policy.RestDayPercent},
				{"standard_monthly_hours", &policy.StandardMonthlyHours},
				{"max_overtime_hours_per_month", &policy.MaxOvertimeHoursPerMonth},
			}
			for _, f := range fields {
				n, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue(f.name)), 10, 64)
				if err != nil {
					render(f.name+" must be a number", "")
					return
				}
				*f.dst = n
			}
			wage, err := money.ParseAmount(r.PostFormValue("minimum_monthly_wage"))
			if err != nil {
				render("minimum_monthly_wage: "+err.Error(), "")
				return
			}
			policy.MinimumMonthlyWageCents = wage
			if _, err := store.UpdatePayPolicy(r.Context(), tenant.ID, principal.ID, policy); err != nil {
				render(err.Error(), "")
				return
			}
			redirect("pay policy saved")
		case "statutory_create":
			_, err := store.CreateStatutoryTable(r.Context(), tenant.ID, principal.ID,
				r.PostFormValue("kind"), r.PostFormValue("effective_from"), json.RawMessage(r.PostFormValue("payload")))
			if err != nil {
				render(err.Error(), "")
				return
			}
			redirect("draft table created")
		case "statutory_activate":
			activated, err := store.ActivateStatutoryTable(r.Context(), tenant.ID, principal.ID, r.PostFormValue("table_id"))
			if err != nil {
				render(err.Error(), "")
				return
			}
			redirect(activated.Kind + " table activated from " + activated.EffectiveFrom)
		case "holiday_set":
			err := store.SetHoliday(r.Context(), tenant.ID, principal.ID, Holiday{
				Date:   r.PostFormValue("date"),
				Name:   r.PostFormValue("name"),
				NamePT: r.PostFormValue("name_pt"),
			})
			if err != nil {
				render(err.Error(), "")
				return
			}
			redirect("holiday saved")
		case "holiday_clear":
			if err := store.ClearHoliday(r.Context(), tenant.ID, principal.ID, r.PostFormValue("date")); err != nil {
				render(err.Error(), "")
				return
			}
			redirect("holiday removed")
		case "pay_group":
			payDay := 0
			if raw := strings.TrimSpace(r.PostFormValue("pay_day")); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil {
					render("pay_day must be a number", "")
					return
				}
				payDay = n
			}
			_, err := store.UpsertPayGroup(r.Context(), tenant.ID, principal.ID, PayGroup{
				Slug:     r.PostFormValue("slug"),
				Name:     r.PostFormValue("name"),
				Schedule: r.PostFormValue("schedule"),
				PayDay:   payDay,
				Active:   r.PostFormValue("active") != "off",
			})
			if err != nil {
				render(err.Error(), "")
				return
			}
			redirect("pay group saved")
		default:
			render("unknown op", "")
		}
	default:
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func renderSettings(profile CompanyProfile, policy PayPolicySettings, tables []StatutoryTable, holidays []Holiday, groups []PayGroup, year int, errMsg string, msg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Settings</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	if msg != "" {
		b.WriteString(`<p>` + html.EscapeString(msg) + `</p>`)
	}

	b.WriteString(`<h2>Company</h2>`)
	b.WriteString(`<form method="post" action="/app/settings">`)
	b.WriteString(`<input type="hidden" name="op" value="company">`)
	b.WriteString(`<label>Name <input name="name" value="` + html.EscapeString(profile.Name) + `" required></label> `)
	b.WriteString(`<label>TIN <input name="tin" value="` + html.EscapeString(profile.TIN) + `"></label> `)
	b.WriteString(`<label>INSS Employer No <input name="inss_employer_no" value="` + html.EscapeString(profile.INSSEmployerNo) + `"></label><br>`)
	b.WriteString(`<label>Address <input name="address" size="48" value="` + html.EscapeString(profile.Address) + `"></label> `)
	b.WriteString(`<label>Email <input name="contact_email" value="` + html.EscapeString(profile.ContactEmail) + `"></label><br>`)
	b.WriteString(`<label>Bank <select name="bank_code"><option value=""></option>`)
	for _, code := range bankfile.Codes() {
		sel := ""
		if code == profile.BankCode {
			sel = ` selected`
		}
		b.WriteString(`<option value="` + code + `"` + sel + `>` + code + `</option>`)
	}
	b.WriteString(`</select></label> `)
	b.WriteString(`<label>Account No <input name="bank_account_number" value="` + html.EscapeString(profile.BankAccountNumber) + `"></label> `)
	b.WriteString(`<label>Account Name <input name="bank_account_name" value="` + html.EscapeString(profile.BankAccountName) + `"></label> `)
	b.WriteString(`<button type="submit">Save</button>`)
	b.WriteString(`</form>`)

	b.WriteString(`<h2>Pay Policy</h2>`)
	b.WriteString(`<form method="post" action="/app/settings">`)
	b.WriteString(`<input type="hidden" name="op" value="pay_policy">`)
	b.WriteString(fmt.Sprintf(`<label>Overtime %% <input name="overtime_percent" size="4" value="%d"></label> `, policy.OvertimePercent))
	b.WriteString(fmt.Sprintf(`<label>Night %% <input name="night_percent" size="4" value="%d"></label> `, policy.NightPercent))
	b.WriteString(fmt.Sprintf(`<label>Rest Day %% <input name="rest_day_percent" size="4" value="%d"></label><br>`, policy.RestDayPercent))
	b.WriteString(fmt.Sprintf(`<label>Standard Monthly Hours <input name="standard_monthly_hours" size="4" value="%d"></label> `, policy.StandardMonthlyHours))
	b.WriteString(fmt.Sprintf(`<label>Max OT Hours/Month <input name="max_overtime_hours_per_month" size="4" value="%d"></label> `, policy.MaxOvertimeHoursPerMonth))
	b.WriteString(`<label>Minimum Wage <input name="minimum_monthly_wage" size="8" value="` + money.FormatCents(policy.MinimumMonthlyWageCents) + `"></label> `)
	b.WriteString(`<button type="submit">Save</button>`)
	b.WriteString(`</form>`)

	b.WriteString(`<h2>Statutory Tables</h2>`)
	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Kind</th><th>Status</th><th>Effective From</th><th>Payload</th><th></th></tr>`)
	for _, t := range tables {
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(t.Kind) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(t.Status) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(t.EffectiveFrom) + `</td>`)
		b.WriteString(`<td><code>` + html.EscapeString(string(t.Payload)) + `</code></td>`)
		b.WriteString(`<td>`)
		if t.Status == "draft" {
			b.WriteString(`<form method="post" action="/app/settings" style="display:inline">`)
			b.WriteString(`<input type="hidden" name="op" value="statutory_activate">`)
			b.WriteString(`<input type="hidden" name="table_id" value="` + html.EscapeString(t.ID) + `">`)
			b.WriteString(`<button type="submit">Activate</button>`)
			b.WriteString(`</form>`)
		}
		b.WriteString(`</td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)
	b.WriteString(`<h3>New Draft</h3>`)
	b.WriteString(`<form method="post" action="/app/settings">`)
	b.WriteString(`<input type="hidden" name="op" value="statutory_create">`)
	b.WriteString(`<label>Kind <select name="kind"><option>WIT</option><option>INSS</option></select></label> `)
	b.WriteString(`<label>Effective From <input name="effective_from" placeholder="2027-01-01"></label><br>`)
	b.WriteString(`<textarea name="payload" rows="4" cols="72" placeholder='{"resident":[{"up_to_cents":50000,"rate_percent":0},{"up_to_cents":0,"rate_percent":10}],"non_resident":[{"up_to_cents":0,"rate_percent":10}]}'></textarea><br>`)
	b.WriteString(`<button type="submit">Create Draft</button>`)
	b.WriteString(`</form>`)

	b.WriteString(fmt.Sprintf(`<h2>Holidays %d</h2>`, year))
	b.WriteString(`<form method="get" action="/app/settings">`)
	b.WriteString(fmt.Sprintf(`<label>Year <input name="year" size="4" value="%d"></label> <button type="submit">Show</button>`, year))
	b.WriteString(`</form>`)
	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Date</th><th>Name</th><th>Nome (PT)</th><th></th></tr>`)
	for _, h := range holidays {
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(h.Date) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(h.Name) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(h.NamePT) + `</td>`)
		b.WriteString(`<td><form method="post" action="/app/settings" style="display:inline">`)
		b.WriteString(`<input type="hidden" name="op" value="holiday_clear">`)
		b.WriteString(`<input type="hidden" name="date" value="` + html.EscapeString(h.Date) + `">`)
		b.WriteString(`<button type="submit">Remove</button>`)
		b.WriteString(`</form></td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)
	b.WriteString(`<form method="post" action="/app/settings">`)
	b.WriteString(`<input type="hidden" name="op" value="holiday_set">`)
	b.WriteString(`<label>Date <input name="date" placeholder="2026-05-20"></label> `)
	b.WriteString(`<label>Name <input name="name"></label> `)
	b.WriteString(`<label>Nome (PT) <input name="name_pt"></label> `)
	b.WriteString(`<button type="submit">Add Holiday</button>`)
	b.WriteString(`</form>`)

	b.WriteString(`<h2>Pay Groups</h2>`)
	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Slug</th><th>Name</th><th>Schedule</th><th>Pay Day</th><th>Active</th></tr>`)
	for _, g := range groups {
		active := "no"
		if g.Active {
			active = "yes"
		}
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(g.Slug) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(g.Name) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(g.Schedule) + `</td>`)
		b.WriteString(fmt.Sprintf(`<td>%d</td>`, g.PayDay))
		b.WriteString(`<td>` + active + `</td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)
	b.WriteString(`<form method="post" action="/app/settings">`)
	b.WriteString(`<input type="hidden" name="op" value="pay_group">`)
	b.WriteString(`<label>Slug <input name="slug"></label> `)
	b.WriteString(`<label>Name <input name="name"></label> `)
	b.WriteString(`<label>Pay Day <input name="pay_day" size="3" value="28"></label> `)
	b.WriteString(`<input type="hidden" name="schedule" value="MONTHLY">`)
	b.WriteString(`<input type="hidden" name="active" value="on">`)
	b.WriteString(`<button type="submit">Save Pay Group</button>`)
	b.WriteString(`</form>`)

	return b.String()
}
