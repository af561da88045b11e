// Command dbtool runs schema migrations and operational checks against the
// Meza database: migrate applies the embedded goose migrations, rls-smoke
// verifies row-level security isolation, seed-tenant bootstraps a tenant with
// a local admin credential, and seed-statutory installs the default WIT and
// INSS tables plus the fixed-date holiday calendar for a tenant.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/OniT-Enterprises/meza/db"
	"github.com/OniT-Enterprises/meza/pkg/payroll/inss"
	"github.com/OniT-Enterprises/meza/pkg/payroll/wit"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <migrate|rls-smoke|seed-tenant|seed-statutory> [args]")
	}

	switch os.Args[1] {
	case "migrate":
		migrate(os.Args[2:])
	case "rls-smoke":
		rlsSmoke(os.Args[2:])
	case "seed-tenant":
		seedTenant(os.Args[2:])
	case "seed-statutory":
		seedStatutory(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

func migrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}
	command := fs.Arg(0)
	if command == "" {
		command = "up"
	}

	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = sqlDB.Close() }()

	goose.SetBaseFS(db.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		fatal(err)
	}

	switch command {
	case "up":
		err = goose.Up(sqlDB, "migrations")
	case "down":
		err = goose.Down(sqlDB, "migrations")
	case "status":
		err = goose.Status(sqlDB, "migrations")
	case "version":
		err = goose.Version(sqlDB, "migrations")
	default:
		fatalf("unknown migrate command: %s (want up|down|status|version)", command)
	}
	if err != nil {
		fatal(err)
	}
	fmt.Printf("[migrate] %s OK\n", command)
}

func rlsSmoke(args []string) {
	fs := flag.NewFlagSet("rls-smoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	_ = tryEnsureRole(ctx, conn, "app_nobypassrls")

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	_ = trySetRole(ctx, tx, "app_nobypassrls")
	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE rls_smoke (tenant_id uuid NOT NULL, val text NOT NULL);`); err != nil {
		fatal(err)
	}
	if _, err := tx.Exec(ctx, `ALTER TABLE rls_smoke ENABLE ROW LEVEL SECURITY;`); err != nil {
		fatal(err)
	}
	if _, err := tx.Exec(ctx, `ALTER TABLE rls_smoke FORCE ROW LEVEL SECURITY;`); err != nil {
		fatal(err)
	}
	if _, err := tx.Exec(ctx, `
CREATE POLICY tenant_isolation ON rls_smoke
USING (tenant_id = current_setting('app.current_tenant', true)::uuid)
WITH CHECK (tenant_id = current_setting('app.current_tenant', true)::uuid);`); err != nil {
		fatal(err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM rls_smoke;`).Scan(&count); err != nil {
		fatal(err)
	}
	if count != 0 {
		fatalf("expected empty result when app.current_tenant is missing, got %d", count)
	}

	tenantA := "00000000-0000-0000-0000-00000000000a"
	tenantB := "00000000-0000-0000-0000-00000000000b"
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantA); err != nil {
		fatal(err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO rls_smoke (tenant_id, val) VALUES ($1, 'a');`, tenantA); err != nil {
		fatal(err)
	}

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_cross_insert;`); err != nil {
		fatal(err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO rls_smoke (tenant_id, val) VALUES ($1, 'b');`, tenantB)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_cross_insert;`); rbErr != nil {
		fatal(rbErr)
	}
	if err == nil {
		fatalf("expected RLS rejection on cross-tenant insert")
	}

	if err := tx.QueryRow(ctx, `SELECT count(*) FROM rls_smoke;`).Scan(&count); err != nil {
		fatal(err)
	}
	if count != 1 {
		fatalf("expected count=1 under tenant A, got %d", count)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantB); err != nil {
		fatal(err)
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM rls_smoke;`).Scan(&count); err != nil {
		fatal(err)
	}
	if count != 0 {
		fatalf("expected count=0 under tenant B, got %d", count)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO rls_smoke (tenant_id, val) VALUES ($1, 'b');`, tenantB); err != nil {
		fatal(err)
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM rls_smoke;`).Scan(&count); err != nil {
		fatal(err)
	}
	if count != 1 {
		fatalf("expected count=1 after insert under tenant B, got %d", count)
	}

	if err := tx.Commit(ctx); err != nil {
		fatal(err)
	}

	fmt.Println("[rls-smoke] OK")
}

func seedTenant(args []string) {
	fs := flag.NewFlagSet("seed-tenant", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url, name, domain, adminEmail, adminPassword, roleSlug string
	fs.StringVar(&url, "url", "", "postgres connection string")
	fs.StringVar(&name, "name", "", "tenant display name")
	fs.StringVar(&domain, "domain", "", "tenant domain, e.g. demo.localhost")
	fs.StringVar(&adminEmail, "admin-email", "", "admin login email")
	fs.StringVar(&adminPassword, "admin-password", "", "admin login password")
	fs.StringVar(&roleSlug, "role", "tenant-admin", "admin role slug")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" || name == "" || domain == "" || adminEmail == "" || adminPassword == "" {
		fatalf("missing --url, --name, --domain, --admin-email or --admin-password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var tenantID string
	if err := tx.QueryRow(ctx, `
INSERT INTO iam.tenants (name, domain, is_active)
VALUES ($1, $2, true)
ON CONFLICT ON CONSTRAINT tenants_domain_unique
DO UPDATE SET name = EXCLUDED.name, is_active = true, updated_at = now()
RETURNING id::text
`, name, domain).Scan(&tenantID); err != nil {
		fatal(err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO iam.principal_credentials (tenant_id, email, role_slug, password_hash)
VALUES ($1::uuid, lower($2), $3, $4)
ON CONFLICT ON CONSTRAINT principal_credentials_tenant_email_unique
DO UPDATE SET role_slug = EXCLUDED.role_slug, password_hash = EXCLUDED.password_hash, updated_at = now()
`, tenantID, adminEmail, roleSlug, hash); err != nil {
		fatal(err)
	}

	if err := tx.Commit(ctx); err != nil {
		fatal(err)
	}

	fmt.Printf("[seed-tenant] OK tenant_id=%s domain=%s\n", tenantID, domain)
}

func seedStatutory(args []string) {
	fs := flag.NewFlagSet("seed-statutory", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url, tenantID, effectiveFrom string
	fs.StringVar(&url, "url", "", "postgres connection string")
	fs.StringVar(&tenantID, "tenant", "", "tenant id (uuid)")
	fs.StringVar(&effectiveFrom, "effective-from", "", "effective date, default Jan 1 of the current year")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" || tenantID == "" {
		fatalf("missing --url or --tenant")
	}
	if effectiveFrom == "" {
		effectiveFrom = fmt.Sprintf("%04d-01-01", time.Now().UTC().Year())
	}
	if _, err := time.Parse("2006-01-02", effectiveFrom); err != nil {
		fatalf("invalid --effective-from: %v", err)
	}

	witPayload, err := witDefaultPayload()
	if err != nil {
		fatal(err)
	}
	inssPayload, err := inssDefaultPayload()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		fatal(err)
	}

	for _, seed := range []struct {
		kind    string
		payload []byte
	}{
		{kind: "WIT", payload: witPayload},
		{kind: "INSS", payload: inssPayload},
	} {
		var exists bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM settings.statutory_tables
  WHERE tenant_id = $1::uuid AND kind = $2 AND status = 'active'
)
`, tenantID, seed.kind).Scan(&exists); err != nil {
			fatal(err)
		}
		if exists {
			fmt.Printf("[seed-statutory] %s already active, skipped\n", seed.kind)
			continue
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO settings.statutory_tables (tenant_id, kind, status, effective_from, payload)
VALUES ($1::uuid, $2, 'active', $3::date, $4::jsonb)
`, tenantID, seed.kind, effectiveFrom, seed.payload); err != nil {
			fatal(err)
		}
		fmt.Printf("[seed-statutory] %s seeded effective_from=%s\n", seed.kind, effectiveFrom)
	}

	year, _ := strconv.Atoi(effectiveFrom[:4])
	inserted := 0
	for _, h := range defaultHolidays(year) {
		tag, err := tx.Exec(ctx, `
INSERT INTO settings.holidays (tenant_id, day_date, name, name_pt)
VALUES ($1::uuid, $2::date, $3, $4)
ON CONFLICT (tenant_id, day_date) DO NOTHING
`, tenantID, h.day, h.name, h.namePT)
		if err != nil {
			fatal(err)
		}
		inserted += int(tag.RowsAffected())
	}
	fmt.Printf("[seed-statutory] holidays seeded=%d year=%d\n", inserted, year)

	if err := tx.Commit(ctx); err != nil {
		fatal(err)
	}

	fmt.Println("[seed-statutory] OK")
}

type holidaySeed struct {
	day    string
	name   string
	namePT string
}

// Fixed-date national holidays only; movable feasts are entered by the
// tenant through the settings calendar.
func defaultHolidays(year int) []holidaySeed {
	d := func(month, day int) string { return fmt.Sprintf("%04d-%02d-%02d", year, month, day) }
	return []holidaySeed{
		{day: d(1, 1), name: "New Year's Day", namePT: "Ano Novo"},
		{day: d(3, 3), name: "Veterans Day", namePT: "Dia dos Veteranos"},
		{day: d(5, 1), name: "Labour Day", namePT: "Dia Mundial do Trabalhador"},
		{day: d(5, 20), name: "Restoration of Independence Day", namePT: "Dia da Restauracao da Independencia"},
		{day: d(8, 30), name: "Popular Consultation Day", namePT: "Dia da Consulta Popular"},
		{day: d(11, 1), name: "All Saints' Day", namePT: "Dia de Todos os Santos"},
		{day: d(11, 2), name: "All Souls' Day", namePT: "Dia dos Fieis Defuntos"},
		{day: d(11, 12), name: "National Youth Day", namePT: "Dia Nacional da Juventude"},
		{day: d(11, 28), name: "Proclamation of Independence Day", namePT: "Dia da Proclamacao da Independencia"},
		{day: d(12, 7), name: "Memorial Day", namePT: "Dia da Memoria"},
		{day: d(12, 8), name: "Immaculate Conception", namePT: "Imaculada Conceicao"},
		{day: d(12, 25), name: "Christmas Day", namePT: "Natal"},
	}
}

func witDefaultPayload() ([]byte, error) {
	t := wit.DefaultTable()
	type bracket struct {
		UpToCents   int64 `json:"up_to_cents"`
		RatePercent int64 `json:"rate_percent"`
	}
	out := struct {
		Resident    []bracket `json:"resident"`
		NonResident []bracket `json:"non_resident"`
	}{}
	for _, b := range t.Resident {
		out.Resident = append(out.Resident, bracket{UpToCents: b.UpToCents, RatePercent: b.RatePercent})
	}
	for _, b := range t.NonResident {
		out.NonResident = append(out.NonResident, bracket{UpToCents: b.UpToCents, RatePercent: b.RatePercent})
	}
	return json.Marshal(out)
}

func inssDefaultPayload() ([]byte, error) {
	r := inss.DefaultRates()
	return json.Marshal(struct {
		EmployeePercent int64 `json:"employee_percent"`
		EmployerPercent int64 `json:"employer_percent"`
	}{EmployeePercent: r.EmployeePercent, EmployerPercent: r.EmployerPercent})
}

func tryEnsureRole(ctx context.Context, conn *pgx.Conn, role string) error {
	if !validSQLIdent(role) {
		return fmt.Errorf("invalid role: %s", role)
	}

	stmt := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
    EXECUTE 'CREATE ROLE %s NOBYPASSRLS';
  END IF;
END
$$;`, role, role)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return err
	}
	for _, schema := range []string{"public", "iam", "hr", "timeclock", "payroll", "filing", "settings"} {
		_, _ = conn.Exec(ctx, `GRANT USAGE ON SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `ALTER DEFAULT PRIVILEGES IN SCHEMA `+schema+` GRANT USAGE, SELECT ON SEQUENCES TO `+role+`;`)
	}
	return nil
}

func trySetRole(ctx context.Context, tx pgx.Tx, role string) bool {
	if _, err := tx.Exec(ctx, `SET ROLE `+role+`;`); err != nil {
		return false
	}
	return true
}

var reSQLIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validSQLIdent(s string) bool {
	return reSQLIdent.MatchString(s)
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
