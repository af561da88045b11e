package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
	"github.com/OniT-Enterprises/meza/pkg/money"
	"github.com/OniT-Enterprises/meza/pkg/payroll/engine"
	"github.com/OniT-Enterprises/meza/pkg/payroll/inss"
	"github.com/OniT-Enterprises/meza/pkg/payroll/wit"
)

// payrollDeps bundles everything the calculate and finalize flows touch.
// Period and run CRUD only needs the payroll store; the orchestration pulls
// employees, punches, settings, allowances and deductions together.
type payrollDeps struct {
	payroll    PayrollStore
	employees  EmployeeStore
	punches    TimePunchStore
	settings   SettingsStore
	allowances AllowanceStore
	deductions DeductionStore
	reports    ReportStore
	notifier   PayslipNotifier
	gate       *finalizeGate
}

func handlePayrollPeriodsAPI(w http.ResponseWriter, r *http.Request, store PayrollStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		periods, err := store.ListPayPeriods(r.Context(), tenant.ID, strings.TrimSpace(r.URL.Query().Get("pay_group")))
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_PERIOD_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(periods)
	case http.MethodPost:
		var req struct {
			PayGroup string `json:"pay_group"`
			Year     int    `json:"year"`
			Month    int    `json:"month"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		created, err := store.CreatePayPeriod(r.Context(), tenant.ID, req.PayGroup, req.Year, req.Month)
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_PERIOD_CREATE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handlePayrollPeriodLockAPI serves POST /payroll/api/periods/{period_id}/lock.
func handlePayrollPeriodLockAPI(w http.ResponseWriter, r *http.Request, store PayrollStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	periodID, ok := requirePathID(w, r, "/payroll/api/periods/")
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/payroll/api/periods/"+periodID)
	rest = strings.TrimPrefix(rest, "/")
	if rest != "lock" || r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	locked, err := store.LockPayPeriod(r.Context(), tenant.ID, periodID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_PERIOD_NOT_FOUND", "pay period not found")
			return
		}
		writeInternalAPIError(w, r, err, "PAYROLL_PERIOD_LOCK_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(locked)
}

func handlePayrollRunsAPI(w http.ResponseWriter, r *http.Request, store PayrollStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		runs, err := store.ListPayrollRuns(r.Context(), tenant.ID, strings.TrimSpace(r.URL.Query().Get("pay_period_id")))
		if err != nil {
			writeInternalAPIError(w, r, err, "PAYROLL_RUN_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(runs)
	case http.MethodPost:
		var req struct {
			PayPeriodID string `json:"pay_period_id"`
			RunType     string `json:"run_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}
		created, err := store.CreatePayrollRun(r.Context(), tenant.ID, req.PayPeriodID, req.RunType)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_PERIOD_NOT_FOUND", "pay period not found")
				return
			}
			writeInternalAPIError(w, r, err, "PAYROLL_RUN_CREATE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handlePayrollRunAPI serves /payroll/api/runs/{run_id} plus its calculate,
// finalize and payslips subresources.
func handlePayrollRunAPI(w http.ResponseWriter, r *http.Request, deps payrollDeps) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	runID, ok := requirePathID(w, r, "/payroll/api/runs/")
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/payroll/api/runs/"+runID)
	rest = strings.TrimPrefix(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		run, err := deps.payroll.GetPayrollRun(r.Context(), tenant.ID, runID)
		if err != nil {
			writePayrollRunError(w, r, err, "PAYROLL_RUN_GET_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(run)
	case rest == "payslips" && r.Method == http.MethodGet:
		slips, err := deps.payroll.ListPayslips(r.Context(), tenant.ID, runID)
		if err != nil {
			writePayrollRunError(w, r, err, "PAYROLL_PAYSLIP_LIST_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(slips)
	case rest == "calculate" && r.Method == http.MethodPost:
		run, err := calculatePayrollRun(r.Context(), tenant.ID, deps, runID)
		if err != nil {
			writePayrollRunError(w, r, err, "PAYROLL_CALC_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(run)
	case rest == "finalize" && r.Method == http.MethodPost:
		run, err := finalizePayrollRun(r.Context(), tenant, deps, runID)
		if err != nil {
			writePayrollRunError(w, r, err, "PAYROLL_FINALIZE_FAILED")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(run)
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handlePayslipAPI serves GET /payroll/api/payslips/{payslip_id} with line
// items included.
func handlePayslipAPI(w http.ResponseWriter, r *http.Request, store PayrollStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	payslipID, ok := requirePathID(w, r, "/payroll/api/payslips/")
	if !ok {
		return
	}

	detail, err := store.GetPayslip(r.Context(), tenant.ID, payslipID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_PAYSLIP_NOT_FOUND", "payslip not found")
			return
		}
		writeInternalAPIError(w, r, err, "PAYROLL_PAYSLIP_GET_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(detail)
}

func writePayrollRunError(w http.ResponseWriter, r *http.Request, err error, defaultCode string) {
	if errors.Is(err, pgx.ErrNoRows) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "PAYROLL_RUN_NOT_FOUND", "payroll run not found")
		return
	}
	writeInternalAPIError(w, r, err, defaultCode)
}

// calculatePayrollRun computes a payslip for every candidate of the run's pay
// group and period and stores the results. Any failure after the run entered
// calculating parks it in failed so a retry stays possible.
func calculatePayrollRun(ctx context.Context, tenantID string, deps payrollDeps, runID string) (PayrollRun, error) {
	run, err := deps.payroll.BeginCalculation(ctx, tenantID, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	period, err := deps.payroll.GetPayPeriod(ctx, tenantID, run.PayPeriodID)
	if err != nil {
		_ = deps.payroll.FailCalculation(ctx, tenantID, runID, "PAYROLL_CALC_FAILED")
		return PayrollRun{}, err
	}

	drafts, err := buildPayslipDrafts(ctx, tenantID, deps, run, period)
	if err != nil {
		_ = deps.payroll.FailCalculation(ctx, tenantID, runID, "PAYROLL_CALC_FAILED")
		return PayrollRun{}, err
	}

	return deps.payroll.CompleteCalculation(ctx, tenantID, runID, drafts)
}

func buildPayslipDrafts(ctx context.Context, tenantID string, deps payrollDeps, run PayrollRun, period PayPeriod) ([]payslipDraft, error) {
	candidates, err := deps.employees.ListPayrollCandidates(ctx, tenantID, period.PayGroup, period.StartDate, period.EndDateExclusive)
	if err != nil {
		return nil, err
	}

	policySettings, err := deps.settings.GetPayPolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	policy := policySettings.enginePolicy()

	periodEnd, err := time.Parse("2006-01-02", period.EndDateExclusive)
	if err != nil {
		return nil, fmt.Errorf("pay period %s: %w", period.ID, err)
	}
	asOf := periodEnd.AddDate(0, 0, -1).Format("2006-01-02")

	witTable, err := statutoryWITTable(ctx, deps.settings, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	inssRates, err := statutoryINSSRates(ctx, deps.settings, tenantID, asOf)
	if err != nil {
		return nil, err
	}

	loc := diliLocation()
	holidays, err := holidaySet(ctx, deps.settings, tenantID, period.Year)
	if err != nil {
		return nil, err
	}
	monthStart := time.Date(period.Year, time.Month(period.Month), 1, 0, 0, 0, 0, loc)
	monthEnd := monthStart.AddDate(0, 1, 0)
	punches, err := deps.punches.ListTimePunchesBetween(ctx, tenantID, monthStart.UTC(), monthEnd.UTC())
	if err != nil {
		return nil, err
	}

	types, err := deps.allowances.ListAllowanceTypes(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	drafts := make([]payslipDraft, 0, len(candidates))
	for _, emp := range candidates {
		in, err := payrollEngineInput(ctx, tenantID, deps, run, period, emp, policy, witTable, inssRates, punches, holidays, types, loc, asOf)
		if err != nil {
			return nil, err
		}
		res, err := engine.Calculate(in)
		if err != nil {
			return nil, fmt.Errorf("employee %s: %w", emp.EmployeeNo, err)
		}
		drafts = append(drafts, payslipDraft{
			EmployeeID:   emp.ID,
			EmployeeNo:   emp.EmployeeNo,
			EmployeeName: emp.FullName,
			Result:       res,
		})
	}
	return drafts, nil
}

func payrollEngineInput(
	ctx context.Context,
	tenantID string,
	deps payrollDeps,
	run PayrollRun,
	period PayPeriod,
	emp Employee,
	policy engine.PayPolicy,
	witTable wit.Table,
	inssRates inss.RateTable,
	punches []TimePunch,
	holidays map[string]bool,
	types []AllowanceType,
	loc *time.Location,
	asOf string,
) (engine.Input, error) {
	hireDate, err := time.Parse("2006-01-02", emp.HireDate)
	if err != nil {
		return engine.Input{}, fmt.Errorf("employee %s: invalid hire date %q", emp.EmployeeNo, emp.HireDate)
	}
	var terminationDate time.Time
	if emp.TerminationDate != "" {
		terminationDate, err = time.Parse("2006-01-02", emp.TerminationDate)
		if err != nil {
			return engine.Input{}, fmt.Errorf("employee %s: invalid termination date %q", emp.EmployeeNo, emp.TerminationDate)
		}
	}

	trackAbsence := emp.PayBasis == string(engine.PayBasisMonthly)
	sheet := summarizeTimesheet(punches, emp.ID, period.Year, time.Month(period.Month), loc, holidays, trackAbsence)

	grants, err := deps.allowances.ActiveAllowanceGrants(ctx, tenantID, emp.ID, asOf)
	if err != nil {
		return engine.Input{}, err
	}
	allowances, _, err := resolveAllowances(types, grants, allowanceCELContext(emp, asOf))
	if err != nil {
		return engine.Input{}, fmt.Errorf("employee %s: %w", emp.EmployeeNo, err)
	}

	recurring, err := deps.deductions.ActiveRecurringDeductions(ctx, tenantID, emp.ID, asOf)
	if err != nil {
		return engine.Input{}, err
	}
	advances, err := deps.deductions.AdvancesDue(ctx, tenantID, emp.ID, asOf)
	if err != nil {
		return engine.Input{}, err
	}

	return engine.Input{
		Period:  engine.Period{Year: period.Year, Month: time.Month(period.Month)},
		RunType: engine.RunType(run.RunType),
		Employee: engine.Employee{
			EmployeeUUID:       emp.ID,
			PayBasis:           engine.PayBasis(emp.PayBasis),
			MonthlySalaryCents: emp.MonthlySalaryCents,
			HourlyRateCents:    emp.HourlyRateCents,
			Resident:           emp.Residency == "RESIDENT",
			INSSExempt:         emp.INSSExempt,
			HireDate:           hireDate,
			TerminationDate:    terminationDate,
		},
		Minutes: engine.Minutes{
			Regular:       sheet.RegularMinutes,
			Overtime:      sheet.OvertimeMinutes,
			Night:         sheet.NightMinutes,
			RestDay:       sheet.RestDayMinutes,
			UnpaidAbsence: sheet.UnpaidAbsenceMinutes,
		},
		Allowances: allowances,
		Deductions: recurring,
		Advances:   advances,
		Policy:     policy,
		WITTable:   witTable,
		INSSRates:  inssRates,
	}, nil
}

// finalizePayrollRun runs the policy gate, seals the run and then settles the
// side effects: advance balances move, the register is archived and employees
// get their payslip emails.
func finalizePayrollRun(ctx context.Context, tenant Tenant, deps payrollDeps, runID string) (PayrollRun, error) {
	run, err := deps.payroll.GetPayrollRun(ctx, tenant.ID, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	period, err := deps.payroll.GetPayPeriod(ctx, tenant.ID, run.PayPeriodID)
	if err != nil {
		return PayrollRun{}, err
	}

	timesheetsComplete, err := runTimesheetsComplete(ctx, tenant.ID, deps, run, period)
	if err != nil {
		return PayrollRun{}, err
	}

	allowed, err := deps.gate.Allow(ctx, finalizeGateInput{
		RunID:              run.ID,
		RunType:            run.RunType,
		RunStatus:          run.Status,
		PeriodStatus:       period.Status,
		PayslipCount:       run.Totals.PayslipCount,
		WarningCount:       run.Totals.WarningCount,
		GrossCents:         run.Totals.GrossCents,
		NetCents:           run.Totals.NetCents,
		TimesheetsComplete: timesheetsComplete,
	})
	if err != nil {
		return PayrollRun{}, err
	}
	if !allowed {
		return PayrollRun{}, errors.New("PAYROLL_FINALIZE_DENIED")
	}

	policyVersion := defaultPolicyActivationRuntime.activePolicyVersion(tenant.ID)
	run, err = deps.payroll.FinalizePayrollRun(ctx, tenant.ID, runID, policyVersion)
	if err != nil {
		return PayrollRun{}, err
	}

	slips, err := deps.payroll.ListPayslips(ctx, tenant.ID, runID)
	if err != nil {
		return run, err
	}

	recoveries, err := advanceRecoveriesForRun(ctx, tenant.ID, deps, slips)
	if err != nil {
		return run, err
	}
	if len(recoveries) > 0 {
		if err := deps.deductions.ApplyAdvanceRecoveries(ctx, tenant.ID, recoveries); err != nil {
			return run, err
		}
	}

	rows, err := deps.reports.RegisterRows(ctx, tenant.ID, RegisterFilter{PeriodID: run.PayPeriodID})
	if err != nil {
		return run, err
	}
	var runRows []RegisterRow
	for _, row := range rows {
		if row.RunID == run.ID {
			runRows = append(runRows, row)
		}
	}
	if _, err := deps.reports.SaveRegisterArchive(ctx, tenant.ID, run.ID, runRows); err != nil {
		return run, err
	}

	notifyFinalizedRun(ctx, tenant, deps, run, slips)
	return run, nil
}

// runTimesheetsComplete reports whether every candidate's month closed
// without a dangling IN punch. Subsidy runs have no timesheet dependency.
func runTimesheetsComplete(ctx context.Context, tenantID string, deps payrollDeps, run PayrollRun, period PayPeriod) (bool, error) {
	if run.RunType != string(engine.RunTypeRegular) {
		return true, nil
	}

	candidates, err := deps.employees.ListPayrollCandidates(ctx, tenantID, period.PayGroup, period.StartDate, period.EndDateExclusive)
	if err != nil {
		return false, err
	}
	loc := diliLocation()
	monthStart := time.Date(period.Year, time.Month(period.Month), 1, 0, 0, 0, 0, loc)
	monthEnd := monthStart.AddDate(0, 1, 0)
	punches, err := deps.punches.ListTimePunchesBetween(ctx, tenantID, monthStart.UTC(), monthEnd.UTC())
	if err != nil {
		return false, err
	}
	holidays, err := holidaySet(ctx, deps.settings, tenantID, period.Year)
	if err != nil {
		return false, err
	}

	for _, emp := range candidates {
		sheet := summarizeTimesheet(punches, emp.ID, period.Year, time.Month(period.Month), loc, holidays, false)
		if sheet.OpenInterval {
			return false, nil
		}
	}
	return true, nil
}

// advanceRecoveriesForRun reads the advance line items back off the stored
// payslips. Deferred-only rows carry no amount and are skipped.
func advanceRecoveriesForRun(ctx context.Context, tenantID string, deps payrollDeps, slips []Payslip) ([]engine.AdvanceRecovery, error) {
	var out []engine.AdvanceRecovery
	for _, slip := range slips {
		detail, err := deps.payroll.GetPayslip(ctx, tenantID, slip.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range detail.Items {
			if item.Kind != "advance" {
				continue
			}
			var meta struct {
				AdvanceID     string `json:"advance_id"`
				DeferredCents int64  `json:"deferred_cents"`
			}
			if err := json.Unmarshal(item.Meta, &meta); err != nil {
				return nil, fmt.Errorf("payslip %s: advance item meta: %w", slip.PayslipNo, err)
			}
			if meta.AdvanceID == "" || item.AmountCents <= 0 {
				continue
			}
			out = append(out, engine.AdvanceRecovery{
				AdvanceID:     meta.AdvanceID,
				AmountCents:   item.AmountCents,
				DeferredCents: meta.DeferredCents,
			})
		}
	}
	return out, nil
}

func notifyFinalizedRun(ctx context.Context, tenant Tenant, deps payrollDeps, run PayrollRun, slips []Payslip) {
	if deps.notifier == nil {
		return
	}
	profile, err := deps.settings.GetCompanyProfile(ctx, tenant.ID)
	if err != nil {
		profile = CompanyProfile{}
	}
	emails := make(map[string]string, len(slips))
	for _, slip := range slips {
		emp, err := deps.employees.GetEmployee(ctx, tenant.ID, slip.EmployeeID)
		if err != nil || emp.Email == "" {
			continue
		}
		emails[slip.EmployeeID] = emp.Email
	}
	deps.notifier.NotifyPayslips(ctx, tenant, profile, run, slips, emails)
}

func handlePayrollPeriodsPage(w http.ResponseWriter, r *http.Request, store PayrollStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	q := r.URL.Query()
	payGroup := strings.TrimSpace(q.Get("pay_group"))

	render := func(errMsg string, msg string) {
		periods, err := store.ListPayPeriods(r.Context(), tenant.ID, payGroup)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		writePage(w, r, renderPayPeriods(periods, payGroup, errMsg, msg))
	}

	switch r.Method {
	case http.MethodGet:
		render("", strings.TrimSpace(q.Get("msg")))
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			render("invalid form", "")
			return
		}
		redirect := func(msg string) {
			target := "/app/payroll/periods?pay_group=" + url.QueryEscape(payGroup)
			if msg != "" {
				target += "&msg=" + url.QueryEscape(msg)
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
		}

		switch strings.TrimSpace(r.PostFormValue("op")) {
		case "create":
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
			if _, err := store.CreatePayPeriod(r.Context(), tenant.ID, r.PostFormValue("pay_group"), year, month); err != nil {
				render(err.Error(), "")
				return
			}
			redirect("pay period created")
		case "lock":
			if _, err := store.LockPayPeriod(r.Context(), tenant.ID, strings.TrimSpace(r.PostFormValue("period_id"))); err != nil {
				render(err.Error(), "")
				return
			}
			redirect("pay period locked")
		default:
			render("unknown op", "")
		}
	default:
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func renderPayPeriods(periods []PayPeriod, payGroup string, errMsg string, msg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Pay Periods</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	if msg != "" {
		b.WriteString(`<p>` + html.EscapeString(msg) + `</p>`)
	}

	b.WriteString(`<form method="get" action="/app/payroll/periods">`)
	b.WriteString(`<label>Pay Group <input name="pay_group" value="` + html.EscapeString(payGroup) + `"></label> `)
	b.WriteString(`<button type="submit">Filter</button>`)
	b.WriteString(`</form>`)

	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Pay Group</th><th>Month</th><th>Start</th><th>End (excl.)</th><th>Status</th><th>Locked At</th><th></th></tr>`)
	for _, p := range periods {
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(p.PayGroup) + `</td>`)
		b.WriteString(fmt.Sprintf(`<td>%04d-%02d</td>`, p.Year, p.Month))
		b.WriteString(`<td>` + html.EscapeString(p.StartDate) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(p.EndDateExclusive) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(p.Status) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(p.LockedAt) + `</td>`)
		b.WriteString(`<td><a href="/app/payroll/runs?period_id=` + url.QueryEscape(p.ID) + `">Runs</a> `)
		if p.Status == "open" {
			b.WriteString(`<form method="post" action="/app/payroll/periods" style="display:inline">`)
			b.WriteString(`<input type="hidden" name="op" value="lock">`)
			b.WriteString(`<input type="hidden" name="period_id" value="` + html.EscapeString(p.ID) + `">`)
			b.WriteString(`<button type="submit">Lock</button>`)
			b.WriteString(`</form>`)
		}
		b.WriteString(`</td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)

	b.WriteString(`<h2>New Period</h2>`)
	b.WriteString(`<form method="post" action="/app/payroll/periods">`)
	b.WriteString(`<input type="hidden" name="op" value="create">`)
	b.WriteString(`<label>Pay Group <input name="pay_group" value="` + html.EscapeString(payGroup) + `" required></label> `)
	b.WriteString(`<label>Year <input name="year" size="4" required></label> `)
	b.WriteString(`<label>Month <input name="month" size="2" required></label> `)
	b.WriteString(`<button type="submit">Create</button>`)
	b.WriteString(`</form>`)
	return b.String()
}

func handlePayrollRunsPage(w http.ResponseWriter, r *http.Request, deps payrollDeps) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	q := r.URL.Query()
	periodID := strings.TrimSpace(q.Get("period_id"))
	runID := strings.TrimSpace(q.Get("run_id"))
	payslipID := strings.TrimSpace(q.Get("payslip_id"))

	render := func(errMsg string, msg string) {
		periods, err := deps.payroll.ListPayPeriods(r.Context(), tenant.ID, "")
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		runs, err := deps.payroll.ListPayrollRuns(r.Context(), tenant.ID, periodID)
		if err != nil {
			errMsg = mergeMsg(errMsg, err.Error())
		}
		var selected *PayrollRun
		var slips []Payslip
		if runID != "" {
			run, err := deps.payroll.GetPayrollRun(r.Context(), tenant.ID, runID)
			if err != nil {
				errMsg = mergeMsg(errMsg, err.Error())
			} else {
				selected = &run
				slips, err = deps.payroll.ListPayslips(r.Context(), tenant.ID, runID)
				if err != nil {
					errMsg = mergeMsg(errMsg, err.Error())
				}
			}
		}
		var detail *PayslipDetail
		if payslipID != "" {
			d, err := deps.payroll.GetPayslip(r.Context(), tenant.ID, payslipID)
			if err != nil {
				errMsg = mergeMsg(errMsg, err.Error())
			} else {
				detail = &d
			}
		}
		writePage(w, r, renderPayrollRuns(periods, periodID, runs, selected, slips, detail, errMsg, msg))
	}

	switch r.Method {
	case http.MethodGet:
		render("", strings.TrimSpace(q.Get("msg")))
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			render("invalid form", "")
			return
		}
		redirect := func(msg string) {
			target := "/app/payroll/runs?period_id=" + url.QueryEscape(periodID) + "&run_id=" + url.QueryEscape(runID)
			if msg != "" {
				target += "&msg=" + url.QueryEscape(msg)
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
		}

		switch strings.TrimSpace(r.PostFormValue("op")) {
		case "create":
			target := strings.TrimSpace(r.PostFormValue("period_id"))
			if target == "" {
				target = periodID
			}
			run, err := deps.payroll.CreatePayrollRun(r.Context(), tenant.ID, target, r.PostFormValue("run_type"))
			if err != nil {
				render(err.Error(), "")
				return
			}
			periodID = target
			runID = run.ID
			redirect("run created")
		case "calculate":
			target := strings.TrimSpace(r.PostFormValue("run_id"))
			if target == "" {
				target = runID
			}
			run, err := calculatePayrollRun(r.Context(), tenant.ID, deps, target)
			if err != nil {
				render(err.Error(), "")
				return
			}
			runID = run.ID
			redirect(fmt.Sprintf("calculated %d payslips", run.Totals.PayslipCount))
		case "finalize":
			target := strings.TrimSpace(r.PostFormValue("run_id"))
			if target == "" {
				target = runID
			}
			run, err := finalizePayrollRun(r.Context(), tenant, deps, target)
			if err != nil {
				render(err.Error(), "")
				return
			}
			runID = run.ID
			redirect("run finalized")
		default:
			render("unknown op", "")
		}
	default:
		routing.WriteError(w, r, routing.RouteClassUI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func renderPayrollRuns(periods []PayPeriod, periodID string, runs []PayrollRun, selected *PayrollRun, slips []Payslip, detail *PayslipDetail, errMsg string, msg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Payroll Runs</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	if msg != "" {
		b.WriteString(`<p>` + html.EscapeString(msg) + `</p>`)
	}

	b.WriteString(`<form method="get" action="/app/payroll/runs">`)
	b.WriteString(`<label>Period <select name="period_id"><option value="">(all)</option>`)
	for _, p := range periods {
		sel := ""
		if p.ID == periodID {
			sel = ` selected`
		}
		label := fmt.Sprintf("%s %04d-%02d (%s)", p.PayGroup, p.Year, p.Month, p.Status)
		b.WriteString(`<option value="` + html.EscapeString(p.ID) + `"` + sel + `>` + html.EscapeString(label) + `</option>`)
	}
	b.WriteString(`</select></label> <button type="submit">Show</button>`)
	b.WriteString(`</form>`)

	b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
	b.WriteString(`<tr><th>Type</th><th>Status</th><th>Payslips</th><th>Gross</th><th>Net</th><th>Warnings</th><th>Policy</th><th></th></tr>`)
	for _, run := range runs {
		b.WriteString(`<tr>`)
		b.WriteString(`<td>` + html.EscapeString(run.RunType) + `</td>`)
		b.WriteString(`<td>` + html.EscapeString(run.Status) + `</td>`)
		b.WriteString(fmt.Sprintf(`<td>%d</td>`, run.Totals.PayslipCount))
		b.WriteString(`<td>` + money.FormatCents(run.Totals.GrossCents) + `</td>`)
		b.WriteString(`<td>` + money.FormatCents(run.Totals.NetCents) + `</td>`)
		b.WriteString(fmt.Sprintf(`<td>%d</td>`, run.Totals.WarningCount))
		b.WriteString(`<td>` + html.EscapeString(run.PolicyVersion) + `</td>`)
		b.WriteString(`<td><a href="/app/payroll/runs?period_id=` + url.QueryEscape(periodID) + `&run_id=` + url.QueryEscape(run.ID) + `">View</a></td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)

	if periodID != "" {
		b.WriteString(`<h2>New Run</h2>`)
		b.WriteString(`<form method="post" action="/app/payroll/runs?period_id=` + url.QueryEscape(periodID) + `">`)
		b.WriteString(`<input type="hidden" name="op" value="create">`)
		b.WriteString(`<input type="hidden" name="period_id" value="` + html.EscapeString(periodID) + `">`)
		b.WriteString(`<label>Type <select name="run_type"><option>REGULAR</option><option>ANNUAL_SUBSIDY</option></select></label> `)
		b.WriteString(`<button type="submit">Create</button>`)
		b.WriteString(`</form>`)
	}

	if selected != nil {
		b.WriteString(`<h2>Run ` + html.EscapeString(selected.ID) + `</h2>`)
		b.WriteString(`<p>Status: <code>` + html.EscapeString(selected.Status) + `</code>`)
		if selected.ErrorCode != "" {
			b.WriteString(` | Error: <code>` + html.EscapeString(selected.ErrorCode) + `</code>`)
		}
		if selected.FinalizedAt != "" {
			b.WriteString(` | Finalized: ` + html.EscapeString(selected.FinalizedAt))
		}
		b.WriteString(`</p>`)
		t := selected.Totals
		b.WriteString(`<p>Gross ` + money.FormatCents(t.GrossCents) +
			` | WIT ` + money.FormatCents(t.WITCents) +
			` | INSS ` + money.FormatCents(t.INSSEmployeeCents) + `/` + money.FormatCents(t.INSSEmployerCents) +
			` | Net ` + money.FormatCents(t.NetCents) +
			` | Employer cost ` + money.FormatCents(t.EmployerCostCents) + `</p>`)

		base := "/app/payroll/runs?period_id=" + url.QueryEscape(periodID) + "&run_id=" + url.QueryEscape(selected.ID)
		switch selected.Status {
		case "draft", "calculated", "failed":
			b.WriteString(`<form method="post" action="` + base + `" style="display:inline">`)
			b.WriteString(`<input type="hidden" name="op" value="calculate">`)
			b.WriteString(`<input type="hidden" name="run_id" value="` + html.EscapeString(selected.ID) + `">`)
			b.WriteString(`<button type="submit">Calculate</button>`)
			b.WriteString(`</form> `)
		}
		if selected.Status == "calculated" {
			b.WriteString(`<form method="post" action="` + base + `" style="display:inline">`)
			b.WriteString(`<input type="hidden" name="op" value="finalize">`)
			b.WriteString(`<input type="hidden" name="run_id" value="` + html.EscapeString(selected.ID) + `">`)
			b.WriteString(`<button type="submit">Finalize</button>`)
			b.WriteString(`</form>`)
		}

		b.WriteString(`<h3>Payslips</h3>`)
		b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
		b.WriteString(`<tr><th>No</th><th>Employee</th><th>Gross</th><th>WIT</th><th>INSS</th><th>Net</th><th>Warnings</th></tr>`)
		for _, s := range slips {
			b.WriteString(`<tr>`)
			b.WriteString(`<td><a href="` + base + `&payslip_id=` + url.QueryEscape(s.ID) + `">` + html.EscapeString(s.PayslipNo) + `</a></td>`)
			b.WriteString(`<td>` + html.EscapeString(s.EmployeeNo) + ` ` + html.EscapeString(s.EmployeeName) + `</td>`)
			b.WriteString(`<td>` + money.FormatCents(s.GrossCents) + `</td>`)
			b.WriteString(`<td>` + money.FormatCents(s.WITCents) + `</td>`)
			b.WriteString(`<td>` + money.FormatCents(s.INSSEmployeeCents) + `</td>`)
			b.WriteString(`<td>` + money.FormatCents(s.NetCents) + `</td>`)
			b.WriteString(fmt.Sprintf(`<td>%d</td>`, len(s.Warnings)))
			b.WriteString(`</tr>`)
		}
		b.WriteString(`</table>`)
	}

	if detail != nil {
		b.WriteString(`<h3>Payslip ` + html.EscapeString(detail.PayslipNo) + `</h3>`)
		for _, warn := range detail.Warnings {
			b.WriteString(`<p style="color:#b00020">` + html.EscapeString(warn.Code) + `: ` + html.EscapeString(warn.Message) + `</p>`)
		}
		b.WriteString(`<table border="1" cellspacing="0" cellpadding="6">`)
		b.WriteString(`<tr><th>Kind</th><th>Code</th><th>Name</th><th>Amount</th></tr>`)
		for _, item := range detail.Items {
			b.WriteString(`<tr>`)
			b.WriteString(`<td>` + html.EscapeString(item.Kind) + `</td>`)
			b.WriteString(`<td>` + html.EscapeString(item.Code) + `</td>`)
			b.WriteString(`<td>` + html.EscapeString(item.Name) + `</td>`)
			b.WriteString(`<td>` + money.FormatCents(item.AmountCents) + `</td>`)
			b.WriteString(`</tr>`)
		}
		b.WriteString(`</table>`)
	}

	return b.String()
}
