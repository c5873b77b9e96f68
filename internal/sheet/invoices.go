package sheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/EloiBiesek/fiscal-tracker/internal/common"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
)

// InvoiceRow is one line of the invoice register as captured at snapshot
// time. Money values failing to parse leave the cents at zero and keep the
// raw text for the divergence report.
type InvoiceRow struct {
	Row        int
	Provider   int
	Competence config.Competence
	DocNumber  string
	TotalCents int64
	INSSCents  int64
	ISSCents   int64
	RawTotal   string
}

// Register column positions, 1-based. The workbook ships with a fixed
// layout: provider, competence, invoice number, total, INSS, ISS.
const (
	colProvider = 1
	colComp     = 2
	colDoc      = 3
	colTotal    = 4
	colINSS     = 5
	colISS      = 6

	registerHeaderRows = 1
)

// ReadInvoices snapshots the invoice register sheet. Rows that match no
// roster entry are skipped, the register mixes in free-form notes.
func (w *Workbook) ReadInvoices(proj *config.Project) ([]InvoiceRow, error) {
	rows, err := w.f.GetRows(proj.InvoiceSheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", proj.InvoiceSheet, err)
	}

	var out []InvoiceRow
	for r := registerHeaderRows; r < len(rows); r++ {
		num := matchProvider(rows[r], proj.Providers)
		if num == 0 {
			continue
		}
		comp, err := normalize.ParseCompetence(at(rows[r], colComp))
		if err != nil {
			continue
		}
		row := InvoiceRow{
			Row:        r + 1,
			Provider:   num,
			Competence: comp,
			DocNumber:  normalize.NormalizeDocNumber(at(rows[r], colDoc)),
			RawTotal:   at(rows[r], colTotal),
		}
		row.TotalCents = cents(at(rows[r], colTotal))
		row.INSSCents = cents(at(rows[r], colINSS))
		row.ISSCents = cents(at(rows[r], colISS))
		out = append(out, row)
	}
	return out, nil
}

// AppendInvoice adds a register line after the last occupied row. An
// unnumbered row is refused, the register keys on the invoice number.
func (w *Workbook) AppendInvoice(proj *config.Project, provider config.Provider, row InvoiceRow) error {
	if row.DocNumber == "" {
		return fmt.Errorf("register line for provider %d: doc number: %w",
			provider.Num, common.ErrFieldMissing)
	}
	rows, err := w.f.GetRows(proj.InvoiceSheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", proj.InvoiceSheet, err)
	}
	target := len(rows) + 1

	values := map[int]any{
		colProvider: provider.ShortName,
		colComp:     fmt.Sprintf("%02d/%04d", row.Competence.Month, row.Competence.Year),
		colDoc:      row.DocNumber,
		colTotal:    float64(row.TotalCents) / 100,
		colINSS:     float64(row.INSSCents) / 100,
		colISS:      float64(row.ISSCents) / 100,
	}
	for col, v := range values {
		ref, err := excelize.CoordinatesToCellName(col, target)
		if err != nil {
			return err
		}
		if err := w.f.SetCellValue(proj.InvoiceSheet, ref, v); err != nil {
			return fmt.Errorf("append %s!%s: %w", proj.InvoiceSheet, ref, err)
		}
	}
	w.logger.Info("invoice register line appended",
		"sheet", proj.InvoiceSheet, "row", target,
		"provider", provider.Num, "doc", row.DocNumber)
	return nil
}

// WriteInvoiceValue updates one register cell, guarded by the snapshot's
// raw text for that cell.
func (w *Workbook) WriteInvoiceValue(proj *config.Project, row InvoiceRow, col int, want string, value any) error {
	return w.setGuarded(proj.InvoiceSheet, col, row.Row, want, value)
}

func at(row []string, col int) string {
	if col-1 < len(row) {
		return strings.TrimSpace(row[col-1])
	}
	return ""
}

// cents parses a BR-formatted money cell; excelize may also hand back plain
// decimals for numeric cells, so that form is accepted too.
func cents(s string) int64 {
	if s == "" {
		return 0
	}
	if v, err := normalize.ParseBRMoney(s); err == nil {
		return v
	}
	// plain decimal: "1234.56"
	s = strings.ReplaceAll(s, ",", "")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		s = s[:i] + frac
	} else {
		s += "00"
	}
	var v int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		v = v*10 + int64(r-'0')
	}
	return v
}
