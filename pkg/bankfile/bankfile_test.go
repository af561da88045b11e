package bankfile

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

func sampleBatch() Batch {
	return Batch{
		CompanyName:    "OniT Coffee Lda",
		CompanyAccount: "90210001",
		BankCode:       "BNU",
		Currency:       "USD",
		ValueDate:      time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
		Reference:      "PR-2026-003",
		Items: []Item{
			{EmployeeNo: "E0001", Name: "Maria dos Santos", BankCode: "BNU", AccountNumber: "11112222", AmountCents: 73800, Narrative: "Salario Marco 2026"},
			{EmployeeNo: "E0002", Name: "João Pereira", BankCode: "BNU", AccountNumber: "33334444", AmountCents: 51250, Narrative: "Salario Marco 2026"},
		},
	}
}

func fieldOf(t *testing.T, layout []field, name string) field {
	t.Helper()
	for _, f := range layout {
		if f.name == name {
			return f
		}
	}
	t.Fatalf("field %s not in layout", name)
	return field{}
}

func slice(rec string, f field) string { return rec[f.start-1 : f.end] }

func TestForCode(t *testing.T) {
	for _, code := range []string{"BNU", "bnu", " Bnctl ", "MANDIRI"} {
		if _, ok := ForCode(code); !ok {
			t.Fatalf("ForCode(%q) not found", code)
		}
	}
	if _, ok := ForCode("ANZ"); ok {
		t.Fatalf("unexpected format for ANZ")
	}
	want := []string{"BNCTL", "BNU", "MANDIRI"}
	got := Codes()
	if len(got) != len(want) {
		t.Fatalf("codes=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("codes=%v", got)
		}
	}
}

func TestBatchValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Batch)
	}{
		{"empty company name", func(b *Batch) { b.CompanyName = " " }},
		{"company account with letters", func(b *Batch) { b.CompanyAccount = "90210X" }},
		{"empty company account", func(b *Batch) { b.CompanyAccount = "" }},
		{"bad currency", func(b *Batch) { b.Currency = "US" }},
		{"zero value date", func(b *Batch) { b.ValueDate = time.Time{} }},
		{"empty reference", func(b *Batch) { b.Reference = "" }},
		{"no items", func(b *Batch) { b.Items = nil }},
		{"item without name", func(b *Batch) { b.Items[0].Name = "" }},
		{"item account with dash", func(b *Batch) { b.Items[0].AccountNumber = "1111-2222" }},
		{"zero amount", func(b *Batch) { b.Items[0].AmountCents = 0 }},
		{"negative amount", func(b *Batch) { b.Items[1].AmountCents = -5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := sampleBatch()
			tc.mutate(&b)
			if err := b.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if err := sampleBatch().Validate(); err != nil {
		t.Fatalf("valid batch rejected: %v", err)
	}
}

func TestBNULayoutsAreContiguous(t *testing.T) {
	for _, layout := range [][]field{bnuHeader, bnuDetail, bnuTrailer} {
		pos := 1
		for _, f := range layout {
			if f.start != pos {
				t.Fatalf("field %s starts at %d, want %d", f.name, f.start, pos)
			}
			if f.end < f.start {
				t.Fatalf("field %s ends before it starts", f.name)
			}
			pos = f.end + 1
		}
		if pos-1 > bnuRecordLen {
			t.Fatalf("layout overflows record length: %d", pos-1)
		}
	}
}

func TestBNUWrite(t *testing.T) {
	var buf bytes.Buffer
	f, _ := ForCode("BNU")
	if err := f.Write(&buf, sampleBatch()); err != nil {
		t.Fatalf("err=%v", err)
	}

	raw := buf.String()
	if !strings.HasSuffix(raw, "\r\n") {
		t.Fatalf("missing CRLF terminator")
	}
	lines := strings.Split(strings.TrimSuffix(raw, "\r\n"), "\r\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d", len(lines))
	}
	for i, ln := range lines {
		if len(ln) != bnuRecordLen {
			t.Fatalf("line %d length=%d", i, len(ln))
		}
	}

	header, detail1, detail2, trailer := lines[0], lines[1], lines[2], lines[3]

	if got := slice(header, fieldOf(t, bnuHeader, "RecordType")); got != "01" {
		t.Fatalf("header type=%q", got)
	}
	company := slice(header, fieldOf(t, bnuHeader, "CompanyName"))
	if strings.TrimRight(company, " ") != "ONIT COFFEE LDA" {
		t.Fatalf("company=%q", company)
	}
	if got := slice(header, fieldOf(t, bnuHeader, "CompanyAccount")); got != "0000000090210001" {
		t.Fatalf("account=%q", got)
	}
	if got := slice(header, fieldOf(t, bnuHeader, "ValueDate")); got != "20260331" {
		t.Fatalf("value date=%q", got)
	}

	if got := slice(detail1, fieldOf(t, bnuDetail, "RecordType")); got != "02" {
		t.Fatalf("detail type=%q", got)
	}
	if got := slice(detail1, fieldOf(t, bnuDetail, "Sequence")); got != "000001" {
		t.Fatalf("seq=%q", got)
	}
	if got := slice(detail2, fieldOf(t, bnuDetail, "Sequence")); got != "000002" {
		t.Fatalf("seq=%q", got)
	}
	if got := slice(detail1, fieldOf(t, bnuDetail, "Amount")); got != "000000073800" {
		t.Fatalf("amount=%q", got)
	}
	// Non-ASCII letters are replaced, never shifted.
	name2 := slice(detail2, fieldOf(t, bnuDetail, "BeneficiaryName"))
	if !strings.HasPrefix(name2, "JO O PEREIRA") {
		t.Fatalf("name=%q", name2)
	}
	if got := slice(detail1, fieldOf(t, bnuDetail, "EmployeeNo")); strings.TrimRight(got, " ") != "E0001" {
		t.Fatalf("employee=%q", got)
	}

	if got := slice(trailer, fieldOf(t, bnuTrailer, "RecordType")); got != "09" {
		t.Fatalf("trailer type=%q", got)
	}
	if got := slice(trailer, fieldOf(t, bnuTrailer, "RecordCount")); got != "000002" {
		t.Fatalf("count=%q", got)
	}
	if got := slice(trailer, fieldOf(t, bnuTrailer, "TotalAmount")); got != "000000125050" {
		t.Fatalf("total=%q", got)
	}
}

func TestBNUWriteRejectsInvalid(t *testing.T) {
	b := sampleBatch()
	b.Items[0].AmountCents = -1
	f, _ := ForCode("BNU")
	if err := f.Write(&bytes.Buffer{}, b); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPadAlpha(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "ABC  "},
		{"ABCDEF", 3, "ABC"},
		{"a.b/c-1", 8, "A.B/C-1 "},
		{"café", 4, "CAF "},
		{"", 2, "  "},
	}
	for _, tc := range cases {
		if got := padAlpha(tc.in, tc.n); got != tc.want {
			t.Fatalf("padAlpha(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestBNCTLWrite(t *testing.T) {
	var buf bytes.Buffer
	f, _ := ForCode("BNCTL")
	if err := f.Write(&buf, sampleBatch()); err != nil {
		t.Fatalf("err=%v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d", len(rows))
	}
	if rows[0][0] != "ACCOUNT" || rows[0][2] != "AMOUNT" {
		t.Fatalf("header=%v", rows[0])
	}
	if rows[1][0] != "11112222" || rows[1][2] != "738.00" || rows[1][4] != "2026-03-31" {
		t.Fatalf("row=%v", rows[1])
	}
	if rows[2][1] != "João Pereira" {
		t.Fatalf("row=%v", rows[2])
	}
}

func TestMandiriWrite(t *testing.T) {
	var buf bytes.Buffer
	f, _ := ForCode("MANDIRI")
	if err := f.Write(&buf, sampleBatch()); err != nil {
		t.Fatalf("err=%v", err)
	}

	r := csv.NewReader(&buf)
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d", len(rows))
	}
	if rows[0][0] != "1" || rows[0][1] != "11112222" || rows[0][3] != "738.00" || rows[0][4] != "USD" {
		t.Fatalf("row=%v", rows[0])
	}
	if rows[1][0] != "2" || rows[1][3] != "512.50" {
		t.Fatalf("row=%v", rows[1])
	}
}

func TestFileNames(t *testing.T) {
	b := sampleBatch()
	cases := map[string]string{
		"BNU":     "bnu-20260331-pr-2026-003.txt",
		"BNCTL":   "bnctl-20260331-pr-2026-003.csv",
		"MANDIRI": "mandiri-20260331-pr-2026-003.csv",
	}
	for code, want := range cases {
		f, _ := ForCode(code)
		if got := f.FileName(b); got != want {
			t.Fatalf("%s filename=%q want %q", code, got, want)
		}
	}
}
