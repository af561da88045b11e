package bankfile

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/OniT-Enterprises/meza/pkg/money"
)

// Mandiri's payroll template is semicolon-separated without a header
// row: sequence, account, name, amount, currency, narrative.
type mandiriFormat struct{}

func (mandiriFormat) Code() string        { return "MANDIRI" }
func (mandiriFormat) ContentType() string { return "text/csv; charset=utf-8" }

func (mandiriFormat) FileName(b Batch) string { return baseFileName("MANDIRI", b) + ".csv" }

func (mandiriFormat) Write(w io.Writer, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	for i, it := range b.Items {
		row := []string{
			strconv.Itoa(i + 1),
			it.AccountNumber,
			it.Name,
			money.FormatCents(it.AmountCents),
			b.Currency,
			it.Narrative,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
