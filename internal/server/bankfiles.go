package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/pkg/bankfile"
)

// BankFile is the stored metadata of one generated transfer file. The body
// lives alongside it zstd-compressed and is only decompressed on download.
type BankFile struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	FormatCode  string `json:"format_code"`
	Reference   string `json:"reference"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ItemCount   int    `json:"item_count"`
	TotalCents  int64  `json:"total_cents"`
	ValueDate   string `json:"value_date"`
	GeneratedAt string `json:"generated_at"`
}

type BankFileStore interface {
	ListBankFiles(ctx context.Context, tenantID string) ([]BankFile, error)
	// NextBankFileReference hands out BF-<year>-<seq> from the tenant's
	// numbering sequence.
	NextBankFileReference(ctx context.Context, tenantID string, year int) (string, error)
	// SaveBankFile stores metadata plus compressed content, replacing any
	// earlier file for the same run and format.
	SaveBankFile(ctx context.Context, tenantID string, bf BankFile, compressed []byte) (BankFile, error)
	GetBankFile(ctx context.Context, tenantID string, fileID string) (BankFile, error)
	GetBankFileContent(ctx context.Context, tenantID string, fileID string) (BankFile, []byte, error)
}

// buildBankFileBatch assembles the transfer batch for one finalized run and
// format: every payslip with positive net pay whose employee has a matching
// bank account becomes one credit item.
func buildBankFileBatch(ctx context.Context, payroll PayrollStore, employees EmployeeStore, settings SettingsStore, tenantID string, runID string, formatCode string, valueDate time.Time) (bankfile.Batch, bankfile.Format, int, error) {
	format, ok := bankfile.ForCode(formatCode)
	if !ok {
		return bankfile.Batch{}, nil, 0, newBadRequestError(fmt.Sprintf("unknown bank format %q, known: %s", formatCode, strings.Join(bankfile.Codes(), ", ")))
	}

	run, err := payroll.GetPayrollRun(ctx, tenantID, runID)
	if err != nil {
		return bankfile.Batch{}, nil, 0, err
	}
	if run.Status != "finalized" {
		return bankfile.Batch{}, nil, 0, errors.New("PAYROLL_RUN_NOT_FINALIZED")
	}
	period, err := payroll.GetPayPeriod(ctx, tenantID, run.PayPeriodID)
	if err != nil {
		return bankfile.Batch{}, nil, 0, err
	}

	profile, err := settings.GetCompanyProfile(ctx, tenantID)
	if err != nil {
		return bankfile.Batch{}, nil, 0, err
	}

	slips, err := payroll.ListPayslips(ctx, tenantID, runID)
	if err != nil {
		return bankfile.Batch{}, nil, 0, err
	}

	currency := strings.TrimSpace(profile.Currency)
	if currency == "" {
		currency = "USD"
	}

	batch := bankfile.Batch{
		CompanyName:    profile.Name,
		CompanyAccount: profile.BankAccountNumber,
		BankCode:       format.Code(),
		Currency:       currency,
		ValueDate:      valueDate,
	}
	for _, slip := range slips {
		if slip.NetCents <= 0 {
			continue
		}
		accounts, err := employees.ListBankAccounts(ctx, tenantID, slip.EmployeeID)
		if err != nil {
			return bankfile.Batch{}, nil, 0, err
		}
		account, ok := pickBankAccount(accounts, format.Code())
		if !ok {
			continue
		}
		batch.Items = append(batch.Items, bankfile.Item{
			EmployeeNo:    slip.EmployeeNo,
			Name:          slip.EmployeeName,
			BankCode:      account.BankCode,
			AccountNumber: account.AccountNumber,
			AmountCents:   slip.NetCents,
			Narrative:     fmt.Sprintf("SALARY %04d-%02d", period.Year, period.Month),
		})
	}
	if len(batch.Items) == 0 {
		return bankfile.Batch{}, nil, 0, errors.New("PAYROLL_BANK_FILE_EMPTY")
	}
	return batch, format, period.Year, nil
}

// pickBankAccount prefers the primary account at the requested bank, then
// any account there.
func pickBankAccount(accounts []EmployeeBankAccount, bankCode string) (EmployeeBankAccount, bool) {
	var fallback EmployeeBankAccount
	found := false
	for _, a := range accounts {
		if a.BankCode != bankCode {
			continue
		}
		if a.Primary {
			return a, true
		}
		if !found {
			fallback = a
			found = true
		}
	}
	return fallback, found
}

type bankFilePGStore struct {
	pool pgBeginner
}

func newBankFilePGStore(pool pgBeginner) *bankFilePGStore {
	return &bankFilePGStore{pool: pool}
}

const bankFileSelectColumns = `
  id::text,
  run_id::text,
  format_code,
  reference,
  file_name,
  content_type,
  item_count,
  total_cents,
  value_date::text,
  generated_at::text
`

func scanBankFile(row pgx.Row, bf *BankFile) error {
	return row.Scan(
		&bf.ID,
		&bf.RunID,
		&bf.FormatCode,
		&bf.Reference,
		&bf.FileName,
		&bf.ContentType,
		&bf.ItemCount,
		&bf.TotalCents,
		&bf.ValueDate,
		&bf.GeneratedAt,
	)
}

func (s *bankFilePGStore) ListBankFiles(ctx context.Context, tenantID string) ([]BankFile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT`+bankFileSelectColumns+`
FROM payroll.bank_files
WHERE tenant_id = $1::uuid
ORDER BY generated_at DESC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BankFile
	for rows.Next() {
		var bf BankFile
		if err := scanBankFile(rows, &bf); err != nil {
			return nil, err
		}
		out = append(out, bf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bankFilePGStore) NextBankFileReference(ctx context.Context, tenantID string, year int) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return "", err
	}

	var seq int64
	if err := tx.QueryRow(ctx, `
INSERT INTO settings.numbering_sequences AS ns (tenant_id, key, value)
VALUES ($1::uuid, $2::text, 1)
ON CONFLICT (tenant_id, key) DO UPDATE SET value = ns.value + 1
RETURNING value
`, tenantID, fmt.Sprintf("bankfile-%d", year)).Scan(&seq); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("BF-%d-%04d", year, seq), nil
}

func (s *bankFilePGStore) SaveBankFile(ctx context.Context, tenantID string, bf BankFile, compressed []byte) (BankFile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BankFile{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return BankFile{}, err
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM payroll.bank_files
WHERE tenant_id = $1::uuid AND run_id = $2::uuid AND format_code = $3
`, tenantID, bf.RunID, bf.FormatCode); err != nil {
		return BankFile{}, err
	}

	var fileID string
	if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&fileID); err != nil {
		return BankFile{}, err
	}

	var out BankFile
	if err := scanBankFile(tx.QueryRow(ctx, `
INSERT INTO payroll.bank_files (
  tenant_id, id, run_id, format_code, reference, file_name, content_type,
  item_count, total_cents, value_date, content_zst, generated_at
) VALUES (
  $1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7,
  $8, $9, $10::date, $11, now()
)
RETURNING`+bankFileSelectColumns+`
`, tenantID, fileID, bf.RunID, bf.FormatCode, bf.Reference, bf.FileName, bf.ContentType,
		bf.ItemCount, bf.TotalCents, bf.ValueDate, compressed), &out); err != nil {
		return BankFile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return BankFile{}, err
	}
	return out, nil
}

func (s *bankFilePGStore) GetBankFile(ctx context.Context, tenantID string, fileID string) (BankFile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BankFile{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return BankFile{}, err
	}

	var out BankFile
	if err := scanBankFile(tx.QueryRow(ctx, `
SELECT`+bankFileSelectColumns+`
FROM payroll.bank_files
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, fileID), &out); err != nil {
		return BankFile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return BankFile{}, err
	}
	return out, nil
}

func (s *bankFilePGStore) GetBankFileContent(ctx context.Context, tenantID string, fileID string) (BankFile, []byte, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BankFile{}, nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return BankFile{}, nil, err
	}

	var out BankFile
	var compressed []byte
	if err := tx.QueryRow(ctx, `
SELECT`+bankFileSelectColumns+`, content_zst
FROM payroll.bank_files
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, fileID).Scan(
		&out.ID, &out.RunID, &out.FormatCode, &out.Reference, &out.FileName, &out.ContentType,
		&out.ItemCount, &out.TotalCents, &out.ValueDate, &out.GeneratedAt, &compressed); err != nil {
		return BankFile{}, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return BankFile{}, nil, err
	}
	body, err := decompressBlob(compressed)
	if err != nil {
		return BankFile{}, nil, err
	}
	return out, body, nil
}

type bankFileMemoryStore struct {
	files   map[string][]BankFile
	content map[string][]byte
	nextSeq map[string]int64
	nextID  int
}

func newBankFileMemoryStore() *bankFileMemoryStore {
	return &bankFileMemoryStore{
		files:   map[string][]BankFile{},
		content: map[string][]byte{},
		nextSeq: map[string]int64{},
	}
}

func (s *bankFileMemoryStore) ListBankFiles(_ context.Context, tenantID string) ([]BankFile, error) {
	out := append([]BankFile(nil), s.files[tenantID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt > out[j].GeneratedAt })
	return out, nil
}

func (s *bankFileMemoryStore) NextBankFileReference(_ context.Context, tenantID string, year int) (string, error) {
	key := fmt.Sprintf("%s|bankfile-%d", tenantID, year)
	s.nextSeq[key]++
	return fmt.Sprintf("BF-%d-%04d", year, s.nextSeq[key]), nil
}

func (s *bankFileMemoryStore) SaveBankFile(_ context.Context, tenantID string, bf BankFile, compressed []byte) (BankFile, error) {
	for i, existing := range s.files[tenantID] {
		if existing.RunID == bf.RunID && existing.FormatCode == bf.FormatCode {
			delete(s.content, tenantID+"|"+existing.ID)
			s.files[tenantID] = append(s.files[tenantID][:i], s.files[tenantID][i+1:]...)
			break
		}
	}
	s.nextID++
	bf.ID = fmt.Sprintf("bf-%d", s.nextID)
	bf.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	s.files[tenantID] = append(s.files[tenantID], bf)
	s.content[tenantID+"|"+bf.ID] = compressed
	return bf, nil
}

func (s *bankFileMemoryStore) GetBankFile(_ context.Context, tenantID string, fileID string) (BankFile, error) {
	for _, bf := range s.files[tenantID] {
		if bf.ID == fileID {
			return bf, nil
		}
	}
	return BankFile{}, pgx.ErrNoRows
}

func (s *bankFileMemoryStore) GetBankFileContent(_ context.Context, tenantID string, fileID string) (BankFile, []byte, error) {
	bf, err := s.GetBankFile(context.Background(), tenantID, fileID)
	if err != nil {
		return BankFile{}, nil, err
	}
	body, err := decompressBlob(s.content[tenantID+"|"+fileID])
	if err != nil {
		return BankFile{}, nil, err
	}
	return bf, body, nil
}
