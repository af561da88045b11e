// Package bankfile renders payroll transfer batches into the upload
// formats of the banks operating in Timor-Leste. Each format is
// self-contained: it validates the batch, writes the file body, and
// names the download. Amounts are int64 cents throughout.
package bankfile

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Item is one credit instruction inside a batch.
type Item struct {
	EmployeeNo    string
	Name          string
	BankCode      string
	AccountNumber string
	AmountCents   int64
	Narrative     string
}

// Batch is a payroll transfer file: one debit account, one value date,
// many credit items. Currency is ISO 4217; Timor-Leste uses USD.
type Batch struct {
	CompanyName    string
	CompanyAccount string
	BankCode       string
	Currency       string
	ValueDate      time.Time
	Reference      string
	Items          []Item
}

func (b Batch) TotalCents() int64 {
	var total int64
	for _, it := range b.Items {
		total += it.AmountCents
	}
	return total
}

func (b Batch) Validate() error {
	if strings.TrimSpace(b.CompanyName) == "" {
		return fmt.Errorf("bankfile: company name is required")
	}
	if !isDigits(b.CompanyAccount) {
		return fmt.Errorf("bankfile: company account must be digits, got %q", b.CompanyAccount)
	}
	if len(b.Currency) != 3 {
		return fmt.Errorf("bankfile: currency must be a 3-letter code, got %q", b.Currency)
	}
	if b.ValueDate.IsZero() {
		return fmt.Errorf("bankfile: value date is required")
	}
	if strings.TrimSpace(b.Reference) == "" {
		return fmt.Errorf("bankfile: reference is required")
	}
	if len(b.Items) == 0 {
		return fmt.Errorf("bankfile: batch has no items")
	}
	for i, it := range b.Items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("bankfile: item %d has no beneficiary name", i+1)
		}
		if !isDigits(it.AccountNumber) {
			return fmt.Errorf("bankfile: item %d account must be digits, got %q", i+1, it.AccountNumber)
		}
		if it.AmountCents <= 0 {
			return fmt.Errorf("bankfile: item %d amount must be positive, got %d", i+1, it.AmountCents)
		}
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Format renders a batch into one bank's upload layout.
type Format interface {
	Code() string
	FileName(b Batch) string
	ContentType() string
	Write(w io.Writer, b Batch) error
}

var registry = map[string]Format{
	"BNU":     bnuFormat{},
	"BNCTL":   bnctlFormat{},
	"MANDIRI": mandiriFormat{},
}

// ForCode looks a format up by its bank code, case-insensitively.
func ForCode(code string) (Format, bool) {
	f, ok := registry[strings.ToUpper(strings.TrimSpace(code))]
	return f, ok
}

// Codes lists the registered bank codes in stable order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for c := range registry {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

func baseFileName(code string, b Batch) string {
	ref := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '-'
	}, b.Reference)
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(code), b.ValueDate.Format("20060102"), strings.ToLower(ref))
}
