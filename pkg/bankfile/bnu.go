package bankfile

import (
	"fmt"
	"io"
)

// BNU accepts a fixed-width salary transfer file: one header record,
// one detail record per credit, one trailer record with count and
// total. Records are 128 bytes, CRLF-terminated.
const bnuRecordLen = 128

type fieldType int

const (
	alpha   fieldType = iota // left-justified, space-filled, uppercase
	numeric                  // right-justified, zero-filled digits only
	moneyFd                  // 12-char zero-padded cents, no decimal
	fixed                    // literal constant
)

type field struct {
	name  string
	start int // 1-based, inclusive
	end   int
	typ   fieldType
}

func (f field) len() int { return f.end - f.start + 1 }

var bnuHeader = []field{
	{"RecordType", 1, 2, fixed},
	{"CompanyName", 3, 37, alpha},
	{"CompanyAccount", 38, 53, numeric},
	{"Currency", 54, 56, alpha},
	{"ValueDate", 57, 64, numeric},
	{"Reference", 65, 84, alpha},
}

var bnuDetail = []field{
	{"RecordType", 1, 2, fixed},
	{"Sequence", 3, 8, numeric},
	{"AccountNumber", 9, 24, numeric},
	{"BeneficiaryName", 25, 59, alpha},
	{"Amount", 60, 71, moneyFd},
	{"Narrative", 72, 101, alpha},
	{"EmployeeNo", 102, 111, alpha},
}

var bnuTrailer = []field{
	{"RecordType", 1, 2, fixed},
	{"RecordCount", 3, 8, numeric},
	{"TotalAmount", 9, 20, moneyFd},
}

type bnuFormat struct{}

func (bnuFormat) Code() string        { return "BNU" }
func (bnuFormat) ContentType() string { return "text/plain; charset=utf-8" }

func (bnuFormat) FileName(b Batch) string { return baseFileName("BNU", b) + ".txt" }

func (bnuFormat) Write(w io.Writer, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if len(b.Items) > 999999 {
		return fmt.Errorf("bankfile: BNU batch exceeds 999999 items")
	}

	rec := newRecord(bnuRecordLen)
	if err := rec.fill(bnuHeader, map[string]string{
		"RecordType":     "01",
		"CompanyName":    b.CompanyName,
		"CompanyAccount": b.CompanyAccount,
		"Currency":       b.Currency,
		"ValueDate":      b.ValueDate.Format("20060102"),
		"Reference":      b.Reference,
	}); err != nil {
		return err
	}
	if err := rec.writeTo(w); err != nil {
		return err
	}

	for i, it := range b.Items {
		rec.reset()
		if err := rec.fill(bnuDetail, map[string]string{
			"RecordType":      "02",
			"Sequence":        fmt.Sprintf("%d", i+1),
			"AccountNumber":   it.AccountNumber,
			"BeneficiaryName": it.Name,
			"Amount":          fmt.Sprintf("%d", it.AmountCents),
			"Narrative":       it.Narrative,
			"EmployeeNo":      it.EmployeeNo,
		}); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		if err := rec.writeTo(w); err != nil {
			return err
		}
	}

	rec.reset()
	if err := rec.fill(bnuTrailer, map[string]string{
		"RecordType":  "09",
		"RecordCount": fmt.Sprintf("%d", len(b.Items)),
		"TotalAmount": fmt.Sprintf("%d", b.TotalCents()),
	}); err != nil {
		return err
	}
	return rec.writeTo(w)
}

type record struct {
	buf []byte
}

func newRecord(n int) *record {
	r := &record{buf: make([]byte, n)}
	r.reset()
	return r
}

func (r *record) reset() {
	for i := range r.buf {
		r.buf[i] = ' '
	}
}

func (r *record) writeTo(w io.Writer) error {
	if _, err := w.Write(r.buf); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func (r *record) fill(layout []field, values map[string]string) error {
	for _, f := range layout {
		v, ok := values[f.name]
		if !ok {
			return fmt.Errorf("bankfile: no value for field %s", f.name)
		}
		s, err := renderField(f, v)
		if err != nil {
			return err
		}
		copy(r.buf[f.start-1:f.end], s)
	}
	return nil
}

func renderField(f field, v string) (string, error) {
	switch f.typ {
	case fixed:
		if len(v) != f.len() {
			return "", fmt.Errorf("bankfile: fixed field %s wants %d chars, got %q", f.name, f.len(), v)
		}
		return v, nil
	case alpha:
		return padAlpha(v, f.len()), nil
	case numeric:
		if !isDigits(v) && v != "" {
			return "", fmt.Errorf("bankfile: numeric field %s got %q", f.name, v)
		}
		if len(v) > f.len() {
			return "", fmt.Errorf("bankfile: numeric field %s overflows %d chars: %q", f.name, f.len(), v)
		}
		return padNumeric(v, f.len()), nil
	case moneyFd:
		if len(v) > f.len() {
			return "", fmt.Errorf("bankfile: amount %s does not fit %d chars", v, f.len())
		}
		return padNumeric(v, f.len()), nil
	}
	return "", fmt.Errorf("bankfile: unknown field type %d", f.typ)
}

// padAlpha uppercases, strips characters banks reject, left-justifies
// and space-fills. Overlong values truncate.
func padAlpha(v string, n int) string {
	out := make([]byte, 0, n)
	for _, r := range v {
		if len(out) == n {
			break
		}
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, byte(r-'a'+'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '-', r == '.', r == '/':
			out = append(out, byte(r))
		default:
			out = append(out, ' ')
		}
	}
	for len(out) < n {
		out = append(out, ' ')
	}
	return string(out)
}

func padNumeric(v string, n int) string {
	for len(v) < n {
		v = "0" + v
	}
	return v
}
