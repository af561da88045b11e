package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OniT-Enterprises/meza/internal/routing"
	departmentports "github.com/OniT-Enterprises/meza/modules/department/domain/ports"
	departmentpersistence "github.com/OniT-Enterprises/meza/modules/department/infrastructure/persistence"
	departmentcontrollers "github.com/OniT-Enterprises/meza/modules/department/presentation/controllers"
	departmentservices "github.com/OniT-Enterprises/meza/modules/department/services"
	"github.com/OniT-Enterprises/meza/pkg/authz"
	"github.com/OniT-Enterprises/meza/pkg/logger"
)

//go:embed assets/*
var embeddedAssets embed.FS

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

// HandlerOptions lets tests and alternate deployments inject stores.
// Any nil store falls back to the shared PG pool built from DB_* env.
type HandlerOptions struct {
	TenancyResolver  TenancyResolver
	IdentityProvider identityProvider
	Employees        EmployeeStore
	Departments      departmentports.DepartmentStore
	Punches          TimePunchStore
	Payroll          PayrollStore
	Settings         SettingsStore
	Allowances       AllowanceStore
	Deductions       DeductionStore
	Filings          FilingStore
	BankFiles        BankFileStore
	Reports          ReportStore
	Notifier         PayslipNotifier
	Log              *logger.Logger
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = logger.Default()
	}

	employees := opts.Employees
	departments := opts.Departments
	punches := opts.Punches
	payroll := opts.Payroll
	settings := opts.Settings
	allowances := opts.Allowances
	deductions := opts.Deductions
	filings := opts.Filings
	bankFiles := opts.BankFiles
	reports := opts.Reports
	tenancyResolver := opts.TenancyResolver
	idp := opts.IdentityProvider

	var pgPool *pgxpool.Pool
	needsDB := employees == nil || punches == nil || payroll == nil || settings == nil ||
		allowances == nil || deductions == nil || filings == nil || bankFiles == nil ||
		reports == nil || departments == nil
	if needsDB {
		pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		pgPool = pool
	}

	if employees == nil {
		employees = newHRPGStore(pgPool)
	}
	if departments == nil {
		departments = departmentpersistence.NewDepartmentPGStore(pgPool)
	}
	if punches == nil {
		punches = newTimeclockPGStore(pgPool)
	}
	if payroll == nil {
		payroll = newPayrollPGStore(pgPool)
	}
	if settings == nil {
		settings = newSettingsPGStore(pgPool)
	}
	if allowances == nil {
		allowances = newAllowancePGStore(pgPool)
	}
	if deductions == nil {
		deductions = newDeductionPGStore(pgPool)
	}
	if filings == nil {
		filings = newFilingPGStore(pgPool)
	}
	if bankFiles == nil {
		bankFiles = newBankFilePGStore(pgPool)
	}
	if reports == nil {
		reports = newReportPGStore(pgPool)
	}

	if tenancyResolver == nil {
		if pgPool != nil {
			tenancyResolver = newTenancyDBResolver(pgPool)
		} else {
			tenants, err := loadTenants()
			if err != nil {
				return nil, err
			}
			tenancyResolver = newStaticTenancyResolver(tenants)
		}
	}
	if idp == nil {
		p, err := newIdentityProviderFromEnv(pgPool)
		if err != nil {
			return nil, err
		}
		idp = p
	}

	authorizer, err := loadAuthorizer()
	if err != nil {
		return nil, err
	}
	gate, err := newFinalizeGateFromEnv()
	if err != nil {
		return nil, err
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = newPayslipNotifierFromEnv(log)
	}

	deps := payrollDeps{
		payroll:    payroll,
		employees:  employees,
		punches:    punches,
		settings:   settings,
		allowances: allowances,
		deductions: deductions,
		reports:    reports,
		notifier:   notifier,
		gate:       gate,
	}

	departmentsController := departmentcontrollers.DepartmentsController{
		TenantID: func(ctx context.Context) (string, bool) {
			t, ok := currentTenant(ctx)
			return t.ID, ok
		},
		Facade: departmentservices.NewDepartmentsFacade(departments),
	}

	principals := newPrincipalStore(pgPool)
	sessions := newSessionStore(pgPool)

	router := routing.NewRouter(classifier)

	router.Handle(routing.RouteClassUI, http.MethodGet, "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app", http.StatusFound)
	}))
	router.Handle(routing.RouteClassUI, http.MethodGet, "/app", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app/employees", http.StatusFound)
	}))

	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))

	router.Handle(routing.RouteClassUI, http.MethodGet, "/lang/en", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setLangCookie(w, "en")
		redirectBack(w, r)
	}))
	router.Handle(routing.RouteClassUI, http.MethodGet, "/lang/pt", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setLangCookie(w, "pt")
		redirectBack(w, r)
	}))

	login := newLoginHandlers(idp, principals, sessions)
	router.Handle(routing.RouteClassAuthn, http.MethodGet, "/app/login", http.HandlerFunc(login.page))
	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/app/login", http.HandlerFunc(login.submit))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/iam/api/sessions", http.HandlerFunc(login.api))
	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/logout", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sid, ok := readSID(r); ok {
			_ = sessions.Revoke(r.Context(), sid)
		}
		clearSIDCookie(w)
		http.Redirect(w, r, "/app/login", http.StatusFound)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/iam/api/capabilities", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCapabilityCatalogAPI(w, r)
	}))

	handleBoth := func(path string, h http.HandlerFunc) {
		router.Handle(routing.RouteClassInternalAPI, http.MethodGet, path, h)
		router.Handle(routing.RouteClassInternalAPI, http.MethodPost, path, h)
	}

	// HR
	handleBoth("/hr/api/employees", func(w http.ResponseWriter, r *http.Request) {
		handleEmployeesAPI(w, r, employees)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/hr/api/employees/{employee_id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEmployeeAPI(w, r, employees)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/hr/api/employees/{employee_id}/compensation", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEmployeeCompensationAPI(w, r, employees)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/hr/api/employees/{employee_id}/terminate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEmployeeTerminateAPI(w, r, employees)
	}))
	handleBoth("/hr/api/employees/{employee_id}/bank-accounts", func(w http.ResponseWriter, r *http.Request) {
		handleEmployeeBankAccountsAPI(w, r, employees)
	})
	handleBoth("/hr/api/departments", departmentsController.HandleDepartmentsAPI)
	handleBoth("/hr/api/departments/{department_id}", departmentsController.HandleDepartmentAPI)

	// Timeclock
	handleBoth("/timeclock/api/punches", func(w http.ResponseWriter, r *http.Request) {
		handleTimePunchesAPI(w, r, punches)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/timeclock/api/punches:import", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleTimePunchImportAPI(w, r, punches)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/timeclock/api/summaries", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleTimesheetSummariesAPI(w, r, punches, employees, settings)
	}))
	handleBoth("/timeclock/api/device-links", func(w http.ResponseWriter, r *http.Request) {
		handleDeviceLinksAPI(w, r, punches)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/timeclock/api/device-links:unlink", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleDeviceLinkUnlinkAPI(w, r, punches)
	}))

	// Payroll
	handleBoth("/payroll/api/periods", func(w http.ResponseWriter, r *http.Request) {
		handlePayrollPeriodsAPI(w, r, payroll)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods/{period_id}/lock", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlePayrollPeriodLockAPI(w, r, payroll)
	}))
	handleBoth("/payroll/api/runs", func(w http.ResponseWriter, r *http.Request) {
		handlePayrollRunsAPI(w, r, payroll)
	})
	runHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlePayrollRunAPI(w, r, deps)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/runs/{run_id}", runHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/runs/{run_id}/payslips", runHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/runs/{run_id}/calculate", runHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/runs/{run_id}/finalize", runHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/payslips/{payslip_id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlePayslipAPI(w, r, payroll)
	}))

	// Allowances
	handleBoth("/payroll/api/allowances", func(w http.ResponseWriter, r *http.Request) {
		handleAllowancesAPI(w, r, allowances)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/allowances:evaluate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAllowancesEvaluateAPI(w, r, allowances, employees)
	}))
	handleBoth("/payroll/api/allowance-grants", func(w http.ResponseWriter, r *http.Request) {
		handleAllowanceGrantsAPI(w, r, allowances)
	})

	// Deductions and advances
	handleBoth("/payroll/api/deductions", func(w http.ResponseWriter, r *http.Request) {
		handleDeductionsAPI(w, r, deductions)
	})
	handleBoth("/payroll/api/advances", func(w http.ResponseWriter, r *http.Request) {
		handleAdvancesAPI(w, r, deductions)
	})
	advanceAction := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAdvanceActionAPI(w, r, deductions)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/advances/{advance_id}/settle", advanceAction)
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/advances/{advance_id}/cancel", advanceAction)

	// Bank files
	handleBoth("/payroll/api/bank-files", func(w http.ResponseWriter, r *http.Request) {
		handleBankFilesAPI(w, r, bankFiles, payroll, employees, settings)
	})
	bankFileHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleBankFileAPI(w, r, bankFiles)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/bank-files/{file_id}", bankFileHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/bank-files/{file_id}/content", bankFileHandler)

	// Filings
	handleBoth("/filing/api/returns", func(w http.ResponseWriter, r *http.Request) {
		handleFilingReturnsAPI(w, r, filings, payroll, employees)
	})
	filingReturnHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleFilingReturnAPI(w, r, filings)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/filing/api/returns/{return_id}", filingReturnHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/filing/api/returns/{return_id}/export", filingReturnHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/filing/api/returns/{return_id}/submit", filingReturnHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/filing/api/annual-summary", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAnnualSummaryAPI(w, r, payroll, employees)
	}))

	// Reports
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/reports/api/register", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRegisterReportAPI(w, r, reports)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/reports/api/archives", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRegisterArchivesAPI(w, r, reports)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/reports/api/archives/{archive_id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRegisterArchiveAPI(w, r, reports)
	}))

	// Settings
	handleBoth("/settings/api/company", func(w http.ResponseWriter, r *http.Request) {
		handleCompanySettingsAPI(w, r, settings)
	})
	handleBoth("/settings/api/pay-policy", func(w http.ResponseWriter, r *http.Request) {
		handlePayPolicyAPI(w, r, settings)
	})
	handleBoth("/settings/api/statutory-tables", func(w http.ResponseWriter, r *http.Request) {
		handleStatutoryTablesAPI(w, r, settings)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/settings/api/statutory-tables/{table_id}/activate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleStatutoryTableActivateAPI(w, r, settings)
	}))
	handleBoth("/settings/api/holidays", func(w http.ResponseWriter, r *http.Request) {
		handleHolidaysAPI(w, r, settings)
	})
	handleBoth("/settings/api/pay-groups", func(w http.ResponseWriter, r *http.Request) {
		handlePayGroupsAPI(w, r, settings)
	})

	// Internal governance surfaces
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/internal/rules/evaluate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleInternalRulesEvaluateAPI(w, r, employees)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/internal/policies/state", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleInternalPolicyStateAPI(w, r)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/internal/policies/activate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleInternalPolicyActivateAPI(w, r)
	}))

	// App pages
	handlePage := func(path string, h http.HandlerFunc) {
		router.Handle(routing.RouteClassUI, http.MethodGet, path, h)
		router.Handle(routing.RouteClassUI, http.MethodPost, path, h)
	}
	handlePage("/app/employees", func(w http.ResponseWriter, r *http.Request) {
		handleEmployeesPage(w, r, employees)
	})
	router.Handle(routing.RouteClassUI, http.MethodGet, "/app/employees/{employee_id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEmployeePage(w, r, employees)
	}))
	router.Handle(routing.RouteClassUI, http.MethodPost, "/app/employees/{employee_id}/compensation", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEmployeeCompensationForm(w, r, employees)
	}))
	router.Handle(routing.RouteClassUI, http.MethodPost, "/app/employees/{employee_id}/terminate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEmployeeTerminateForm(w, r, employees)
	}))
	router.Handle(routing.RouteClassUI, http.MethodPost, "/app/employees/{employee_id}/bank-accounts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEmployeeBankAccountForm(w, r, employees)
	}))
	handlePage("/app/timesheets", func(w http.ResponseWriter, r *http.Request) {
		handleTimesheetsPage(w, r, punches, employees, settings)
	})
	handlePage("/app/payroll/periods", func(w http.ResponseWriter, r *http.Request) {
		handlePayrollPeriodsPage(w, r, payroll)
	})
	handlePage("/app/payroll/runs", func(w http.ResponseWriter, r *http.Request) {
		handlePayrollRunsPage(w, r, deps)
	})
	handlePage("/app/filings", func(w http.ResponseWriter, r *http.Request) {
		handleFilingsPage(w, r, filings, payroll, employees)
	})
	handlePage("/app/bank-files", func(w http.ResponseWriter, r *http.Request) {
		handleBankFilesPage(w, r, bankFiles, payroll, employees, settings)
	})
	handlePage("/app/settings", func(w http.ResponseWriter, r *http.Request) {
		handleSettingsPage(w, r, settings)
	})

	assetsSub, _ := fs.Sub(embeddedAssets, "assets")

	guarded := withTenantAndSession(classifier, tenancyResolver, principals, sessions, withAuthz(classifier, authorizer, router))

	mux := http.NewServeMux()
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(assetsSub))))
	mux.Handle("/", guarded)

	return mux, nil
}

func MustNewHandler() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(errors.New("server: failed to build handler: " + err.Error()))
	}
	return h
}

func defaultAllowlistPath() (string, error) {
	path := "config/routing/allowlist.yaml"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: allowlist not found")
}

type loginHandlers struct {
	idp        identityProvider
	principals principalStore
	sessions   sessionStore
}

func newLoginHandlers(idp identityProvider, principals principalStore, sessions sessionStore) *loginHandlers {
	return &loginHandlers{idp: idp, principals: principals, sessions: sessions}
}

func (l *loginHandlers) page(w http.ResponseWriter, r *http.Request) {
	writeShell(w, r, renderLoginForm(""))
}

// authenticate runs the shared credential flow and returns "" on success or
// a user-facing error message.
func (l *loginHandlers) authenticate(w http.ResponseWriter, r *http.Request, email string, password string) string {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		return "tenant missing"
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return "email and password required"
	}

	ident, err := l.idp.AuthenticatePassword(r.Context(), tenant, email, password)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			return "invalid credentials"
		}
		return "identity error"
	}

	roleSlug := strings.TrimSpace(strings.ToLower(ident.RoleSlug))
	if roleSlug == "" {
		roleSlug = authz.RoleTenantAdmin
	}
	if roleSlug != authz.RoleTenantAdmin && roleSlug != authz.RoleTenantViewer {
		return "invalid identity role"
	}

	p, err := l.principals.UpsertFromIdentity(r.Context(), tenant.ID, ident.Email, roleSlug, ident.IdPIdentityID)
	if err != nil {
		return "principal error"
	}

	sid, err := l.sessions.Create(r.Context(), tenant.ID, p.ID, time.Now().Add(sidTTLFromEnv()), r.RemoteAddr, r.UserAgent())
	if err != nil {
		return "session error"
	}
	setSIDCookie(w, sid)
	return ""
}

func (l *loginHandlers) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeShellWithStatus(w, r, http.StatusUnprocessableEntity, renderLoginForm("invalid form"))
		return
	}
	if msg := l.authenticate(w, r, r.PostFormValue("email"), r.PostFormValue("password")); msg != "" {
		writeShellWithStatus(w, r, http.StatusUnprocessableEntity, renderLoginForm(msg))
		return
	}
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (l *loginHandlers) api(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
		return
	}
	if msg := l.authenticate(w, r, req.Email, req.Password); msg != "" {
		status := http.StatusUnprocessableEntity
		if msg == "tenant missing" || msg == "identity error" || msg == "principal error" || msg == "session error" {
			status = http.StatusInternalServerError
		}
		routing.WriteError(w, r, routing.RouteClassInternalAPI, status, strings.ReplaceAll(msg, " ", "_"), msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func withTenantAndSession(classifier *routing.Classifier, tenants TenancyResolver, principals principalStore, sessions sessionStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := routing.RouteClassUI
		if classifier != nil {
			rc = classifier.Classify(path)
		}

		if path == "/health" || path == "/healthz" || pathHasPrefixSegment(path, "/assets") {
			next.ServeHTTP(w, r)
			return
		}

		t, ok, err := tenants.ResolveTenant(r.Context(), effectiveHost(r))
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_resolve_error", "tenant resolve error")
			return
		}
		if !ok {
			routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}
		r = r.WithContext(withTenant(r.Context(), t))

		if path == "/app/login" || pathHasPrefixSegment(path, "/lang") || (path == "/iam/api/sessions" && r.Method == http.MethodPost) {
			next.ServeHTTP(w, r)
			return
		}

		sid, ok := readSID(r)
		if !ok {
			denySession(w, r, rc)
			return
		}
		sess, ok, err := sessions.Lookup(r.Context(), sid)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "session_lookup_error", "session lookup error")
			return
		}
		if !ok || sess.TenantID != t.ID {
			clearSIDCookie(w)
			denySession(w, r, rc)
			return
		}

		p, ok, err := principals.GetByID(r.Context(), t.ID, sess.PrincipalID)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "principal_lookup_error", "principal lookup error")
			return
		}
		if !ok || p.Status != "active" {
			clearSIDCookie(w)
			denySession(w, r, rc)
			return
		}
		r = r.WithContext(withPrincipal(r.Context(), p))

		next.ServeHTTP(w, r)
	})
}

func denySession(w http.ResponseWriter, r *http.Request, rc routing.RouteClass) {
	if rc == routing.RouteClassInternalAPI || rc == routing.RouteClassPublicAPI || rc == routing.RouteClassWebhook {
		routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	http.Redirect(w, r, "/app/login", http.StatusFound)
}

func pathHasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/"
}
