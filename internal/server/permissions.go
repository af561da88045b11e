package server

import (
	"net/http"
	"strings"

	"github.com/OniT-Enterprises/meza/pkg/authz"
)

// routePermission binds one method+path to the casbin object and action a
// principal must hold. Paths may carry {param} segments. The same table
// drives the authz middleware and GET /iam/api/capabilities.
type routePermission struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Object string `json:"object"`
	Action string `json:"action"`
}

var routePermissions = []routePermission{
	{Method: http.MethodPost, Path: "/iam/api/sessions", Object: authz.ObjectIAMSession, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/logout", Object: authz.ObjectIAMSession, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/iam/api/capabilities", Object: authz.ObjectIAMCapabilities, Action: authz.ActionRead},

	{Method: http.MethodGet, Path: "/hr/api/employees", Object: authz.ObjectHREmployees, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/hr/api/employees", Object: authz.ObjectHREmployees, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/hr/api/employees/{employee_id}", Object: authz.ObjectHREmployees, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/hr/api/employees/{employee_id}/compensation", Object: authz.ObjectHREmployees, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/hr/api/employees/{employee_id}/terminate", Object: authz.ObjectHREmployees, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/hr/api/employees/{employee_id}/bank-accounts", Object: authz.ObjectHREmployees, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/hr/api/employees/{employee_id}/bank-accounts", Object: authz.ObjectHREmployees, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/hr/api/departments", Object: authz.ObjectHRDepartments, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/hr/api/departments", Object: authz.ObjectHRDepartments, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/hr/api/departments/{department_id}", Object: authz.ObjectHRDepartments, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/hr/api/departments/{department_id}", Object: authz.ObjectHRDepartments, Action: authz.ActionAdmin},

	{Method: http.MethodGet, Path: "/timeclock/api/punches", Object: authz.ObjectTimeclockPunches, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/timeclock/api/punches", Object: authz.ObjectTimeclockPunches, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/timeclock/api/punches:import", Object: authz.ObjectTimeclockPunches, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/timeclock/api/summaries", Object: authz.ObjectTimeclockPunches, Action: authz.ActionRead},
	{Method: http.MethodGet, Path: "/timeclock/api/device-links", Object: authz.ObjectTimeclockDeviceLinks, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/timeclock/api/device-links", Object: authz.ObjectTimeclockDeviceLinks, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/timeclock/api/device-links:unlink", Object: authz.ObjectTimeclockDeviceLinks, Action: authz.ActionAdmin},

	{Method: http.MethodGet, Path: "/payroll/api/periods", Object: authz.ObjectPayrollPeriods, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/periods", Object: authz.ObjectPayrollPeriods, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/payroll/api/periods/{period_id}/lock", Object: authz.ObjectPayrollPeriods, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/payroll/api/runs", Object: authz.ObjectPayrollRuns, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/runs", Object: authz.ObjectPayrollRuns, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/payroll/api/runs/{run_id}", Object: authz.ObjectPayrollRuns, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/runs/{run_id}/calculate", Object: authz.ObjectPayrollRuns, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/payroll/api/runs/{run_id}/finalize", Object: authz.ObjectPayrollRuns, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/payroll/api/runs/{run_id}/payslips", Object: authz.ObjectPayrollPayslips, Action: authz.ActionRead},
	{Method: http.MethodGet, Path: "/payroll/api/payslips/{payslip_id}", Object: authz.ObjectPayrollPayslips, Action: authz.ActionRead},

	{Method: http.MethodGet, Path: "/payroll/api/allowances", Object: authz.ObjectPayrollAllowances, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/allowances", Object: authz.ObjectPayrollAllowances, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/payroll/api/allowances:evaluate", Object: authz.ObjectPayrollAllowances, Action: authz.ActionRead},
	{Method: http.MethodGet, Path: "/payroll/api/allowance-grants", Object: authz.ObjectPayrollAllowances, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/allowance-grants", Object: authz.ObjectPayrollAllowances, Action: authz.ActionAdmin},

	{Method: http.MethodGet, Path: "/payroll/api/deductions", Object: authz.ObjectPayrollDeductions, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/deductions", Object: authz.ObjectPayrollDeductions, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/payroll/api/advances", Object: authz.ObjectPayrollAdvances, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/advances", Object: authz.ObjectPayrollAdvances, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/payroll/api/advances/{advance_id}/settle", Object: authz.ObjectPayrollAdvances, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/payroll/api/advances/{advance_id}/cancel", Object: authz.ObjectPayrollAdvances, Action: authz.ActionAdmin},

	{Method: http.MethodGet, Path: "/payroll/api/bank-files", Object: authz.ObjectPayrollBankFiles, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/payroll/api/bank-files", Object: authz.ObjectPayrollBankFiles, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/payroll/api/bank-files/{file_id}", Object: authz.ObjectPayrollBankFiles, Action: authz.ActionRead},
	{Method: http.MethodGet, Path: "/payroll/api/bank-files/{file_id}/content", Object: authz.ObjectPayrollBankFiles, Action: authz.ActionRead},

	{Method: http.MethodGet, Path: "/filing/api/returns", Object: authz.ObjectFilingReturns, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/filing/api/returns", Object: authz.ObjectFilingReturns, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/filing/api/returns/{return_id}", Object: authz.ObjectFilingReturns, Action: authz.ActionRead},
	{Method: http.MethodGet, Path: "/filing/api/returns/{return_id}/export", Object: authz.ObjectFilingReturns, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/filing/api/returns/{return_id}/submit", Object: authz.ObjectFilingReturns, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/filing/api/annual-summary", Object: authz.ObjectFilingReturns, Action: authz.ActionRead},

	{Method: http.MethodGet, Path: "/reports/api/register", Object: authz.ObjectReportsRegister, Action: authz.ActionRead},
	{Method: http.MethodGet, Path: "/reports/api/archives", Object: authz.ObjectReportsRegister, Action: authz.ActionRead},
	{Method: http.MethodGet, Path: "/reports/api/archives/{archive_id}", Object: authz.ObjectReportsRegister, Action: authz.ActionRead},

	{Method: http.MethodGet, Path: "/settings/api/company", Object: authz.ObjectSettingsCompany, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/settings/api/company", Object: authz.ObjectSettingsCompany, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/settings/api/pay-policy", Object: authz.ObjectSettingsPayPolicy, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/settings/api/pay-policy", Object: authz.ObjectSettingsPayPolicy, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/settings/api/statutory-tables", Object: authz.ObjectSettingsStatutory, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/settings/api/statutory-tables", Object: authz.ObjectSettingsStatutory, Action: authz.ActionAdmin},
	{Method: http.MethodPost, Path: "/settings/api/statutory-tables/{table_id}/activate", Object: authz.ObjectSettingsStatutory, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/settings/api/holidays", Object: authz.ObjectSettingsHolidays, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/settings/api/holidays", Object: authz.ObjectSettingsHolidays, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/settings/api/pay-groups", Object: authz.ObjectSettingsPayGroups, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/settings/api/pay-groups", Object: authz.ObjectSettingsPayGroups, Action: authz.ActionAdmin},

	{Method: http.MethodPost, Path: "/internal/rules/evaluate", Object: authz.ObjectPayrollAllowances, Action: authz.ActionAdmin},
	{Method: http.MethodGet, Path: "/internal/policies/state", Object: authz.ObjectPayrollRuns, Action: authz.ActionRead},
	{Method: http.MethodPost, Path: "/internal/policies/activate", Object: authz.ObjectPayrollRuns, Action: authz.ActionAdmin},
}

var routePermissionByKey = buildRoutePermissionIndex(routePermissions)

func buildRoutePermissionIndex(perms []routePermission) map[string]routePermission {
	index := make(map[string]routePermission, len(perms))
	for _, p := range perms {
		index[routePermissionKey(p.Method, p.Path)] = p
	}
	return index
}

func routePermissionKey(method string, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(path)
}

// permissionForRoute resolves the permission a request needs. Exact paths
// are matched first, then {param} templates. ok=false means the route is
// not under authz (static pages, login screens).
func permissionForRoute(method string, path string) (routePermission, bool) {
	if p, ok := routePermissionByKey[routePermissionKey(method, path)]; ok {
		return p, true
	}
	normalizedMethod := strings.ToUpper(strings.TrimSpace(method))
	for _, candidate := range routePermissions {
		if candidate.Method != normalizedMethod {
			continue
		}
		if pathMatchRouteTemplate(path, candidate.Path) {
			return candidate, true
		}
	}
	return routePermission{}, false
}
