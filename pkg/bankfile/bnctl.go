package bankfile

import (
	"encoding/csv"
	"io"

	"github.com/OniT-Enterprises/meza/pkg/money"
)

// BNCTL takes a comma-separated upload with a header row. Amounts carry
// two decimals, dates are ISO.
type bnctlFormat struct{}

func (bnctlFormat) Code() string        { return "BNCTL" }
func (bnctlFormat) ContentType() string { return "text/csv; charset=utf-8" }

func (bnctlFormat) FileName(b Batch) string { return baseFileName("BNCTL", b) + ".csv" }

func (bnctlFormat) Write(w io.Writer, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ACCOUNT", "BENEFICIARY", "AMOUNT", "CURRENCY", "VALUE_DATE", "NARRATIVE", "REFERENCE"}); err != nil {
		return err
	}
	for _, it := range b.Items {
		row := []string{
			it.AccountNumber,
			it.Name,
			money.FormatCents(it.AmountCents),
			b.Currency,
			b.ValueDate.Format("2006-01-02"),
			it.Narrative,
			b.Reference,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
