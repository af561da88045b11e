package server

import (
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
	"github.com/OniT-Enterprises/meza/pkg/bankfile"
	"github.com/OniT-Enterprises/meza/pkg/money"
)

func handleEmployeesAPI(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "HR_INTERNAL", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		asOf := strings.TrimSpace(r.URL.Query().Get("as_of"))
		if asOf == "" {
			asOf = currentUTCDateString()
		}
		payGroup := strings.TrimSpace(r.URL.Query().Get("pay_group"))
		employees, err := store.ListEmployees(r.Context(), tenant.ID, asOf, payGroup)
		if err != nil {
			writeInternalAPIError(w, r, err, "HR_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(employees)
	case http.MethodPost:
		var req struct {
			EmployeeNo    string `json:"employee_no"`
			FullName      string `json:"full_name"`
			TIN           string `json:"tin"`
			INSSNo        string `json:"inss_no"`
			Email         string `json:"email"`
			HireDate      string `json:"hire_date"`
			DepartmentID  string `json:"department_id"`
			PayGroup      string `json:"pay_group"`
			PayBasis      string `json:"pay_basis"`
			MonthlySalary string `json:"monthly_salary"`
			HourlyRate    string `json:"hourly_rate"`
			Residency     string `json:"residency"`
			INSSExempt    bool   `json:"inss_exempt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		params := createEmployeeParams{
			EmployeeNo:   req.EmployeeNo,
			FullName:     req.FullName,
			TIN:          req.TIN,
			INSSNo:       req.INSSNo,
			Email:        req.Email,
			HireDate:     req.HireDate,
			DepartmentID: req.DepartmentID,
			PayGroup:     req.PayGroup,
			PayBasis:     req.PayBasis,
			Residency:    req.Residency,
			INSSExempt:   req.INSSExempt,
		}
		var err error
		if params.MonthlySalaryCents, err = parseOptionalAmount(req.MonthlySalary); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_amount", "monthly_salary: "+err.Error())
			return
		}
		if params.HourlyRateCents, err = parseOptionalAmount(req.HourlyRate); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_amount", "hourly_rate: "+err.Error())
			return
		}
		created, err := store.CreateEmployee(r.Context(), tenant.ID, params)
		if err != nil {
			writeInternalAPIError(w, r, err, "HR_EMPLOYEE_CREATE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleEmployeeAPI(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "HR_INTERNAL", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	employeeID, ok := requirePathID(w, r, "/hr/api/employees/")
	if !ok {
		return
	}

	employee, err := store.GetEmployee(r.Context(), tenant.ID, employeeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "HR_EMPLOYEE_NOT_FOUND", "employee not found")
			return
		}
		writeInternalAPIError(w, r, err, "HR_GET_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(employee)
}

func handleEmployeeCompensationAPI(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "HR_INTERNAL", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	employeeID, ok := requirePathID(w, r, "/hr/api/employees/")
	if !ok {
		return
	}

	var req struct {
		EffectiveDate string `json:"effective_date"`
		PayBasis      string `json:"pay_basis"`
		MonthlySalary string `json:"monthly_salary"`
		HourlyRate    string `json:"hourly_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	params := updateCompensationParams{
		EffectiveDate: req.EffectiveDate,
		PayBasis:      req.PayBasis,
	}
	var err error
	if params.MonthlySalaryCents, err = parseOptionalAmount(req.MonthlySalary); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_amount", "monthly_salary: "+err.Error())
		return
	}
	if params.HourlyRateCents, err = parseOptionalAmount(req.HourlyRate); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_amount", "hourly_rate: "+err.Error())
		return
	}
	updated, err := store.UpdateCompensation(r.Context(), tenant.ID, employeeID, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "HR_EMPLOYEE_NOT_FOUND", "employee not found")
			return
		}
		writeInternalAPIError(w, r, err, "HR_COMP_CHANGE_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(updated)
}

func handleEmployeeTerminateAPI(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "HR_INTERNAL", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	employeeID, ok := requirePathID(w, r, "/hr/api/employees/")
	if !ok {
		return
	}

	var req struct {
		TerminationDate string `json:"termination_date"`
		Reason          string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	updated, err := store.TerminateEmployee(r.Context(), tenant.ID, employeeID, req.TerminationDate, req.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "HR_EMPLOYEE_NOT_FOUND", "employee not found")
			return
		}
		writeInternalAPIError(w, r, err, "HR_TERMINATE_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(updated)
}

func handleEmployeeBankAccountsAPI(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "HR_INTERNAL", "tenant missing")
		return
	}
	employeeID, ok := requirePathID(w, r, "/hr/api/employees/")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		accounts, err := store.ListBankAccounts(r.Context(), tenant.ID, employeeID)
		if err != nil {
			writeInternalAPIError(w, r, err, "HR_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(accounts)
	case http.MethodPost:
		var req struct {
			BankCode      string `json:"bank_code"`
			AccountNumber string `json:"account_number"`
			AccountName   string `json:"account_name"`
			Primary       bool   `json:"primary"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		created, err := store.AddBankAccount(r.Context(), tenant.ID, employeeID, addBankAccountParams{
			BankCode:      req.BankCode,
			AccountNumber: req.AccountNumber,
			AccountName:   req.AccountName,
			Primary:       req.Primary,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "HR_EMPLOYEE_NOT_FOUND", "employee not found")
				return
			}
			writeInternalAPIError(w, r, err, "HR_BANK_ACCOUNT_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleEmployeesPage(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	asOf, ok := requireAsOf(w, r)
	if !ok {
		return
	}
	payGroup := strings.TrimSpace(r.URL.Query().Get("pay_group"))

	switch r.Method {
	case http.MethodGet:
		employees, err := store.ListEmployees(r.Context(), tenant.ID, asOf, payGroup)
		if err != nil {
			writePage(w, r, renderEmployees(nil, asOf, payGroup, stablePgMessage(err)))
			return
		}
		writePage(w, r, renderEmployees(employees, asOf, payGroup, ""))
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			writePage(w, r, renderEmployees(nil, asOf, payGroup, "invalid form"))
			return
		}
		params := createEmployeeParams{
			EmployeeNo:   r.PostFormValue("employee_no"),
			FullName:     r.PostFormValue("full_name"),
			TIN:          r.PostFormValue("tin"),
			INSSNo:       r.PostFormValue("inss_no"),
			Email:        r.PostFormValue("email"),
			HireDate:     r.PostFormValue("hire_date"),
			DepartmentID: r.PostFormValue("department_id"),
			PayGroup:     r.PostFormValue("pay_group"),
			PayBasis:     r.PostFormValue("pay_basis"),
			Residency:    r.PostFormValue("residency"),
			INSSExempt:   r.PostFormValue("inss_exempt") == "on",
		}
		var err error
		if params.MonthlySalaryCents, err = parseOptionalAmount(r.PostFormValue("monthly_salary")); err != nil {
			renderEmployeesWithList(w, r, store, tenant.ID, asOf, payGroup, "monthly_salary: "+err.Error())
			return
		}
		if params.HourlyRateCents, err = parseOptionalAmount(r.PostFormValue("hourly_rate")); err != nil {
			renderEmployeesWithList(w, r, store, tenant.ID, asOf, payGroup, "hourly_rate: "+err.Error())
			return
		}
		created, err := store.CreateEmployee(r.Context(), tenant.ID, params)
		if err != nil {
			renderEmployeesWithList(w, r, store, tenant.ID, asOf, payGroup, stablePgMessage(err))
			return
		}
		http.Redirect(w, r, "/app/employees/"+url.PathEscape(created.ID)+"?as_of="+url.QueryEscape(asOf), http.StatusSeeOther)
	default:
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// renderEmployeesWithList re-lists before rendering so a failed POST still
// shows current rows beside the error.
func renderEmployeesWithList(w http.ResponseWriter, r *http.Request, store EmployeeStore, tenantID string, asOf string, payGroup string, errMsg string) {
	employees, err := store.ListEmployees(r.Context(), tenantID, asOf, payGroup)
	if err != nil {
		writePage(w, r, renderEmployees(nil, asOf, payGroup, errMsg))
		return
	}
	writePage(w, r, renderEmployees(employees, asOf, payGroup, errMsg))
}

func handleEmployeePage(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	asOf, ok := requireAsOf(w, r)
	if !ok {
		return
	}
	employeeID, ok := requirePathID(w, r, "/app/employees/")
	if !ok {
		return
	}

	employee, err := store.GetEmployee(r.Context(), tenant.ID, employeeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassUI, http.StatusNotFound, "not_found", "not found")
			return
		}
		writePage(w, r, renderEmployeeDetail(Employee{ID: employeeID}, nil, asOf, stablePgMessage(err)))
		return
	}
	accounts, err := store.ListBankAccounts(r.Context(), tenant.ID, employeeID)
	if err != nil {
		writePage(w, r, renderEmployeeDetail(employee, nil, asOf, stablePgMessage(err)))
		return
	}
	writePage(w, r, renderEmployeeDetail(employee, accounts, asOf, ""))
}

func handleEmployeeCompensationForm(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	asOf, ok := requireAsOf(w, r)
	if !ok {
		return
	}
	employeeID, ok := requirePathID(w, r, "/app/employees/")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, "invalid form")
		return
	}

	params := updateCompensationParams{
		EffectiveDate: r.PostFormValue("effective_date"),
		PayBasis:      r.PostFormValue("pay_basis"),
	}
	var err error
	if params.MonthlySalaryCents, err = parseOptionalAmount(r.PostFormValue("monthly_salary")); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, "monthly_salary: "+err.Error())
		return
	}
	if params.HourlyRateCents, err = parseOptionalAmount(r.PostFormValue("hourly_rate")); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, "hourly_rate: "+err.Error())
		return
	}
	if _, err := store.UpdateCompensation(r.Context(), tenant.ID, employeeID, params); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, stablePgMessage(err))
		return
	}
	http.Redirect(w, r, "/app/employees/"+url.PathEscape(employeeID)+"?as_of="+url.QueryEscape(asOf), http.StatusSeeOther)
}

func handleEmployeeTerminateForm(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	asOf, ok := requireAsOf(w, r)
	if !ok {
		return
	}
	employeeID, ok := requirePathID(w, r, "/app/employees/")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, "invalid form")
		return
	}

	if _, err := store.TerminateEmployee(r.Context(), tenant.ID, employeeID, r.PostFormValue("termination_date"), r.PostFormValue("reason")); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, stablePgMessage(err))
		return
	}
	http.Redirect(w, r, "/app/employees/"+url.PathEscape(employeeID)+"?as_of="+url.QueryEscape(asOf), http.StatusSeeOther)
}

func handleEmployeeBankAccountForm(w http.ResponseWriter, r *http.Request, store EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	asOf, ok := requireAsOf(w, r)
	if !ok {
		return
	}
	employeeID, ok := requirePathID(w, r, "/app/employees/")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, "invalid form")
		return
	}

	params := addBankAccountParams{
		BankCode:      r.PostFormValue("bank_code"),
		AccountNumber: r.PostFormValue("account_number"),
		AccountName:   r.PostFormValue("account_name"),
		Primary:       r.PostFormValue("primary") == "on",
	}
	if _, err := store.AddBankAccount(r.Context(), tenant.ID, employeeID, params); err != nil {
		renderEmployeeDetailWithData(w, r, store, tenant.ID, employeeID, asOf, stablePgMessage(err))
		return
	}
	http.Redirect(w, r, "/app/employees/"+url.PathEscape(employeeID)+"?as_of="+url.QueryEscape(asOf), http.StatusSeeOther)
}

func renderEmployeeDetailWithData(w http.ResponseWriter, r *http.Request, store EmployeeStore, tenantID string, employeeID string, asOf string, errMsg string) {
	employee, err := store.GetEmployee(r.Context(), tenantID, employeeID)
	if err != nil {
		writePage(w, r, renderEmployeeDetail(Employee{ID: employeeID}, nil, asOf, errMsg))
		return
	}
	accounts, _ := store.ListBankAccounts(r.Context(), tenantID, employeeID)
	writePage(w, r, renderEmployeeDetail(employee, accounts, asOf, errMsg))
}

func requirePathID(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	path := strings.TrimSpace(r.URL.Path)
	if !strings.HasPrefix(path, prefix) {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusNotFound, "not_found", "not found")
		return "", false
	}

	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusNotFound, "not_found", "not found")
		return "", false
	}
	if strings.Contains(rest, "/") {
		rest = strings.Split(rest, "/")[0]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusNotFound, "not_found", "not found")
		return "", false
	}
	return rest, true
}

func writeInternalAPIError(w http.ResponseWriter, r *http.Request, err error, defaultCode string) {
	code := stablePgMessage(err)
	status := http.StatusInternalServerError
	if isStableDBCode(code) {
		status = http.StatusUnprocessableEntity
	}
	if isBadRequestError(err) || isPgInvalidInput(err) {
		status = http.StatusBadRequest
	}
	if code == "" || code == "UNKNOWN" {
		code = defaultCode
	}
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, defaultCode)
}

// parseOptionalAmount treats the empty string as zero cents so optional
// salary and rate fields can be omitted.
func parseOptionalAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return money.ParseAmount(s)
}

func renderEmployees(employees []Employee, asOf string, payGroup string, errMsg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Employees</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}

	b.WriteString(`<form method="GET" action="/app/employees">`)
	b.WriteString(`<label>As-of <input type="date" name="as_of" value="` + html.EscapeString(asOf) + `"></label> `)
	b.WriteString(`<label>Pay group <input type="text" name="pay_group" value="` + html.EscapeString(payGroup) + `"></label> `)
	b.WriteString(`<button type="submit">Filter</button>`)
	b.WriteString(`</form>`)

	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>No</th><th>Name</th><th>Pay Group</th><th>Basis</th><th>Salary</th><th>Rate</th><th>Hired</th><th>Status</th></tr>`)
	for _, e := range employees {
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(e.EmployeeNo) + `</td>`)
		b.WriteString(`<td><a href="/app/employees/` + url.PathEscape(e.ID) + `?as_of=` + url.QueryEscape(asOf) + `">` + html.EscapeString(e.FullName) + `</a></td>`)
		b.WriteString(`<td>` + html.EscapeString(e.PayGroup) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(e.PayBasis) + `</td>`)
		b.WriteString(`<td>` + money.FormatCents(e.MonthlySalaryCents) + `</td>`)
		b.WriteString(`<td>` + money.FormatCents(e.HourlyRateCents) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(e.HireDate) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(e.Status) + `</td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)

	b.WriteString(`<h2>Hire Employee</h2>`)
	b.WriteString(`<form method="POST" action="/app/employees?as_of=` + url.QueryEscape(asOf) + `">`)
	b.WriteString(`<label>Employee No <input type="text" name="employee_no" placeholder="E42"></label><br>`)
	b.WriteString(`<label>Full Name <input type="text" name="full_name" required></label><br>`)
	b.WriteString(`<label>TIN <input type="text" name="tin"></label><br>`)
	b.WriteString(`<label>INSS No <input type="text" name="inss_no"></label><br>`)
	b.WriteString(`<label>Email <input type="email" name="email"></label><br>`)
	b.WriteString(`<label>Hire Date <input type="date" name="hire_date" required></label><br>`)
	b.WriteString(`<label>Pay Group <input type="text" name="pay_group" required></label><br>`)
	b.WriteString(`<label>Pay Basis <select name="pay_basis"><option value="MONTHLY">MONTHLY</option><option value="HOURLY">HOURLY</option></select></label><br>`)
	b.WriteString(`<label>Monthly Salary <input type="text" name="monthly_salary" placeholder="500.00"></label><br>`)
	b.WriteString(`<label>Hourly Rate <input type="text" name="hourly_rate" placeholder="3.25"></label><br>`)
	b.WriteString(`<label>Residency <select name="residency"><option value="RESIDENT">RESIDENT</option><option value="NON_RESIDENT">NON_RESIDENT</option></select></label><br>`)
	b.WriteString(`<label>INSS Exempt <input type="checkbox" name="inss_exempt"></label><br>`)
	b.WriteString(`<button type="submit">Hire</button>`)
	b.WriteString(`</form>`)

	return b.String()
}

func renderEmployeeDetail(e Employee, accounts []EmployeeBankAccount, asOf string, errMsg string) string {
	var b strings.Builder
	b.WriteString(`<h1>` + html.EscapeString(e.FullName) + ` (` + html.EscapeString(e.EmployeeNo) + `)</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	b.WriteString(`<p><a href="/app/employees?as_of=` + url.QueryEscape(asOf) + `">Back to employees</a></p>`)

	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>TIN</th><td>` + html.EscapeString(e.TIN) + `</td></tr>`)
	b.WriteString(`<tr><th>INSS No</th><td>` + html.EscapeString(e.INSSNo) + `</td></tr>`)
	b.WriteString(`<tr><th>Email</th><td>` + html.EscapeString(e.Email) + `</td></tr>`)
	b.WriteString(`<tr><th>Hired</th><td>` + html.EscapeString(e.HireDate) + `</td></tr>`)
	b.WriteString(`<tr><th>Terminated</th><td>` + html.EscapeString(e.TerminationDate) + `</td></tr>`)
	b.WriteString(`<tr><th>Pay Group</th><td>` + html.EscapeString(e.PayGroup) + `</td></tr>`)
	b.WriteString(`<tr><th>Pay Basis</th><td>` + html.EscapeString(e.PayBasis) + `</td></tr>`)
	b.WriteString(`<tr><th>Monthly Salary</th><td>` + money.FormatCents(e.MonthlySalaryCents) + `</td></tr>`)
	b.WriteString(`<tr><th>Hourly Rate</th><td>` + money.FormatCents(e.HourlyRateCents) + `</td></tr>`)
	b.WriteString(`<tr><th>Residency</th><td>` + html.EscapeString(e.Residency) + `</td></tr>`)
	b.WriteString(`<tr><th>Status</th><td>` + html.EscapeString(e.Status) + `</td></tr>`)
	b.WriteString(`</table>`)

	detailPath := "/app/employees/" + url.PathEscape(e.ID)
	asOfQuery := "?as_of=" + url.QueryEscape(asOf)

	b.WriteString(`<h2>Change Compensation</h2>`)
	b.WriteString(`<form method="POST" action="` + detailPath + `/compensation` + asOfQuery + `">`)
	b.WriteString(`<label>Effective Date <input type="date" name="effective_date" required></label><br>`)
	b.WriteString(`<label>Pay Basis <select name="pay_basis"><option value="MONTHLY">MONTHLY</option><option value="HOURLY">HOURLY</option></select></label><br>`)
	b.WriteString(`<label>Monthly Salary <input type="text" name="monthly_salary"></label><br>`)
	b.WriteString(`<label>Hourly Rate <input type="text" name="hourly_rate"></label><br>`)
	b.WriteString(`<button type="submit">Apply</button>`)
	b.WriteString(`</form>`)

	if e.TerminationDate == "" {
		b.WriteString(`<h2>Terminate</h2>`)
		b.WriteString(`<form method="POST" action="` + detailPath + `/terminate` + asOfQuery + `">`)
		b.WriteString(`<label>Termination Date <input type="date" name="termination_date" required></label><br>`)
		b.WriteString(`<label>Reason <input type="text" name="reason"></label><br>`)
		b.WriteString(`<button type="submit">Terminate</button>`)
		b.WriteString(`</form>`)
	}

	b.WriteString(`<h2>Bank Accounts</h2>`)
	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Bank</th><th>Account</th><th>Name</th><th>Primary</th></tr>`)
	for _, a := range accounts {
		primary := ""
		if a.Primary {
			primary = "yes"
		}
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(a.BankCode) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(a.AccountNumber) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(a.AccountName) + `</td>`)
		b.WriteString(`<td>` + primary + `</td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)

	b.WriteString(`<form method="POST" action="` + detailPath + `/bank-accounts` + asOfQuery + `">`)
	b.WriteString(`<label>Bank <select name="bank_code">`)
	for _, code := range bankfile.Codes() {
		b.WriteString(`<option value="` + html.EscapeString(code) + `">` + html.EscapeString(code) + `</option>`)
	}
	b.WriteString(`</select></label><br>`)
	b.WriteString(`<label>Account Number <input type="text" name="account_number" required></label><br>`)
	b.WriteString(`<label>Account Name <input type="text" name="account_name" required></label><br>`)
	b.WriteString(`<label>Primary <input type="checkbox" name="primary" checked></label><br>`)
	b.WriteString(`<button type="submit">Add Account</button>`)
	b.WriteString(`</form>`)

	return b.String()
}
