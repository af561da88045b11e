package server

import (
	"errors"
	"strings"

	"github.com/OniT-Enterprises/meza/pkg/httperr"
	"github.com/jackc/pgx/v5/pgconn"
)

func newBadRequestError(msg string) error {
	return httperr.NewBadRequest(msg)
}

func isBadRequestError(err error) bool {
	return httperr.IsBadRequest(err)
}

func pgErrorMessage(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		msg := strings.TrimSpace(pgErr.Message)
		if msg != "" {
			return msg
		}
	}
	return "UNKNOWN"
}

func pgErrorCode(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

func isPgInvalidInput(err error) bool {
	switch pgErrorCode(err) {
	case "22P02", "22003", "22007", "22008":
		return true
	default:
		return false
	}
}

// stablePgMessage maps database errors to stable codes clients can branch on.
// Functions raised with RAISE EXCEPTION already carry a stable code as the
// message; constraint violations are translated here.
func stablePgMessage(err error) string {
	msg := pgErrorMessage(err)
	if isStableDBCode(msg) {
		return msg
	}

	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		switch strings.TrimSpace(pgErr.ConstraintName) {
		case "employees_employee_no_unique":
			return "HR_EMPLOYEE_NO_TAKEN"
		case "employees_tin_unique":
			return "HR_EMPLOYEE_TIN_TAKEN"
		case "departments_code_unique":
			return "HR_DEPARTMENT_CODE_TAKEN"
		case "pay_periods_group_month_unique":
			return "PAYROLL_PERIOD_EXISTS"
		case "payroll_runs_one_regular_per_period":
			return "PAYROLL_RUN_EXISTS_FOR_PERIOD"
		case "allowance_grants_code_fkey":
			return "PAYROLL_ALLOWANCE_UNKNOWN_CODE"
		case "recurring_deductions_code_fkey":
			return "PAYROLL_DEDUCTION_UNKNOWN_CODE"
		case "bank_files_run_format_unique":
			return "PAYROLL_BANK_FILE_EXISTS"
		case "payslips_run_employee_unique":
			return "PAYROLL_PAYSLIP_DUPLICATE"
		case "time_punches_device_request_unique":
			return "TIMECLOCK_IDEMPOTENCY_REUSED"
		case "filing_returns_tenant_period_unique":
			return "FILING_RETURN_EXISTS_FOR_PERIOD"
		}
	}
	return err.Error()
}

func isStableDBCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || code == "UNKNOWN" {
		return false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch >= 'A' && ch <= 'Z' {
			continue
		}
		if ch >= '0' && ch <= '9' {
			continue
		}
		if ch == '_' {
			continue
		}
		return false
	}
	return true
}
