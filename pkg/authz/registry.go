package authz

// Role slugs assignable to principals. Policy rows in config/access/policy.csv
// grant objects and actions to these roles per tenant domain.
const (
	RoleTenantAdmin    = "tenant-admin"
	RolePayrollManager = "payroll-manager"
	RoleTenantViewer   = "tenant-viewer"
	RoleAnonymous      = "anonymous"
	RoleSuperadmin     = "superadmin"
)

// Actions. "read" covers GET-style access, "admin" covers mutations,
// "debug" covers _dev-only surfaces.
const (
	ActionRead  = "read"
	ActionAdmin = "admin"
	ActionDebug = "debug"
)

// DomainGlobal is the casbin domain for routes that are not tenant scoped.
const DomainGlobal = "global"

// Objects, one per protected surface, named module.noun.
const (
	ObjectIAMSession      = "iam.session"
	ObjectIAMCapabilities = "iam.capabilities"

	ObjectHREmployees   = "hr.employees"
	ObjectHRDepartments = "hr.departments"

	ObjectTimeclockPunches     = "timeclock.punches"
	ObjectTimeclockDeviceLinks = "timeclock.device-links"

	ObjectPayrollPeriods    = "payroll.periods"
	ObjectPayrollRuns       = "payroll.runs"
	ObjectPayrollPayslips   = "payroll.payslips"
	ObjectPayrollAllowances = "payroll.allowances"
	ObjectPayrollDeductions = "payroll.deductions"
	ObjectPayrollAdvances   = "payroll.advances"
	ObjectPayrollBankFiles  = "payroll.bank-files"

	ObjectFilingReturns = "filing.returns"

	ObjectReportsRegister = "reports.register"

	ObjectSettingsCompany   = "settings.company"
	ObjectSettingsPayPolicy = "settings.pay-policy"
	ObjectSettingsStatutory = "settings.statutory"
	ObjectSettingsHolidays  = "settings.holidays"
	ObjectSettingsPayGroups = "settings.pay-groups"

	ObjectSuperadminTenants = "superadmin.tenants"
	ObjectSuperadminSession = "superadmin.session"

	ObjectDevTools = "dev.tools"
)
