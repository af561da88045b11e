package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/OniT-Enterprises/meza/pkg/logger"
	"github.com/OniT-Enterprises/meza/pkg/money"
)

// PayslipNotifier tells employees their payslip is ready after a run
// finalizes. Delivery is best effort: payroll never rolls back because an
// email bounced.
type PayslipNotifier interface {
	NotifyPayslips(ctx context.Context, tenant Tenant, profile CompanyProfile, run PayrollRun, slips []Payslip, emailByEmployee map[string]string)
}

// payslipEmailBody renders the plain-text notification for one payslip.
func payslipEmailBody(companyName string, slip Payslip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", slip.EmployeeName)
	fmt.Fprintf(&b, "Your payslip %s from %s is ready.\n\n", slip.PayslipNo, companyName)
	fmt.Fprintf(&b, "Gross pay:      USD %s\n", money.FormatCents(slip.GrossCents))
	fmt.Fprintf(&b, "Deductions:     USD %s\n", money.FormatCents(slip.TotalDeductionCents))
	fmt.Fprintf(&b, "Net pay:        USD %s\n\n", money.FormatCents(slip.NetCents))
	b.WriteString("Log in to view the full breakdown.\n")
	return b.String()
}

// sendgridNotifier delivers payslip notifications through the SendGrid v3
// API.
type sendgridNotifier struct {
	key  string
	from *sgmail.Email
	log  *logger.Logger
}

func newSendgridNotifier(key string, fromName string, fromEmail string, log *logger.Logger) *sendgridNotifier {
	return &sendgridNotifier{
		key:  key,
		from: sgmail.NewEmail(fromName, fromEmail),
		log:  log,
	}
}

func (n *sendgridNotifier) NotifyPayslips(ctx context.Context, tenant Tenant, profile CompanyProfile, run PayrollRun, slips []Payslip, emailByEmployee map[string]string) {
	from := n.from
	if strings.TrimSpace(profile.ContactEmail) != "" {
		from = sgmail.NewEmail(profile.Name, profile.ContactEmail)
	}
	for _, slip := range slips {
		address := strings.TrimSpace(emailByEmployee[slip.EmployeeID])
		if address == "" {
			continue
		}

		p := sgmail.NewPersonalization()
		p.Subject = fmt.Sprintf("[%s] Payslip %s", profile.Name, slip.PayslipNo)
		p.AddTos(sgmail.NewEmail(slip.EmployeeName, address))

		m := sgmail.NewV3Mail()
		m.SetFrom(from)
		m.AddPersonalizations(p)
		m.AddContent(sgmail.NewContent("text/plain", payslipEmailBody(profile.Name, slip)))

		req := sendgrid.GetRequest(n.key, "/v3/mail/send", "https://api.sendgrid.com")
		req.Method = http.MethodPost
		req.Body = sgmail.GetRequestBody(m)

		res, err := sendgrid.API(req)
		if err != nil || res.StatusCode >= http.StatusBadRequest {
			status := 0
			if res != nil {
				status = res.StatusCode
			}
			n.log.WithContext(ctx).Warnw("payslip notification failed",
				"tenant", tenant.ID,
				"run_id", run.ID,
				"payslip_no", slip.PayslipNo,
				"status", status,
				"err", err,
			)
			continue
		}
		n.log.WithContext(ctx).Infow("payslip notification sent",
			"tenant", tenant.ID,
			"run_id", run.ID,
			"payslip_no", slip.PayslipNo,
		)
	}
}

// logNotifier stands in when no SendGrid key is configured: it logs what
// would have been sent.
type logNotifier struct {
	log *logger.Logger
}

func (n *logNotifier) NotifyPayslips(ctx context.Context, tenant Tenant, _ CompanyProfile, run PayrollRun, slips []Payslip, emailByEmployee map[string]string) {
	notified := 0
	for _, slip := range slips {
		if strings.TrimSpace(emailByEmployee[slip.EmployeeID]) != "" {
			notified++
		}
	}
	n.log.WithContext(ctx).Infow("payslip notifications skipped, no mail provider configured",
		"tenant", tenant.ID,
		"run_id", run.ID,
		"payslips", len(slips),
		"with_email", notified,
	)
}

// newPayslipNotifierFromEnv picks SendGrid when SENDGRID_API_KEY is set.
func newPayslipNotifierFromEnv(log *logger.Logger) PayslipNotifier {
	key := strings.TrimSpace(os.Getenv("SENDGRID_API_KEY"))
	if key == "" {
		return &logNotifier{log: log}
	}
	fromName := strings.TrimSpace(os.Getenv("MAIL_FROM_NAME"))
	if fromName == "" {
		fromName = "Meza Payroll"
	}
	fromEmail := strings.TrimSpace(os.Getenv("MAIL_FROM_EMAIL"))
	if fromEmail == "" {
		fromEmail = "payroll@meza.tl"
	}
	return newSendgridNotifier(key, fromName, fromEmail, log)
}
