package reconcile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
	"github.com/EloiBiesek/fiscal-tracker/internal/sheet"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

func sessionProject(base string) *config.Project {
	return &config.Project{
		CNO:             "900152252672",
		Name:            "Obra Norte",
		BaseDir:         base,
		SpreadsheetFile: "controle.xlsx",
		AllocationSheet: "Alocação",
		InvoiceSheet:    "NOTAS",
		ProviderRowFrom: 3,
		From:            config.Competence{Year: 2023, Month: 8},
		To:              config.Competence{Year: 2023, Month: 8},
		Providers: []config.Provider{
			{Num: 3, ShortName: "ACME", Payroll: true, Invoices: true},
		},
	}
}

func writeSessionWorkbook(t *testing.T, proj *config.Project) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	set := func(sheetName, ref string, v any) {
		if err := f.SetCellValue(sheetName, ref, v); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.NewSheet(proj.AllocationSheet); err != nil {
		t.Fatal(err)
	}
	set(proj.AllocationSheet, "C2", "08/2023")
	set(proj.AllocationSheet, "A3", "3")
	set(proj.AllocationSheet, "C3", "12")

	if _, err := f.NewSheet(proj.InvoiceSheet); err != nil {
		t.Fatal(err)
	}
	set(proj.InvoiceSheet, "A1", "Prestador")
	set(proj.InvoiceSheet, "B1", "Competência")
	set(proj.InvoiceSheet, "C1", "NF")
	set(proj.InvoiceSheet, "D1", "Total")
	set(proj.InvoiceSheet, "E1", "INSS")
	set(proj.InvoiceSheet, "F1", "ISS")

	if err := f.SaveAs(filepath.Join(proj.BaseDir, proj.SpreadsheetFile)); err != nil {
		t.Fatal(err)
	}
}

// The ledger holds an invoice the register does not. Accepting the extracted
// value appends a register line; a second apply finds nothing left to do.
func TestSessionAppendsMissingInvoice(t *testing.T) {
	ctx := context.Background()
	proj := sessionProject(t.TempDir())
	writeSessionWorkbook(t, proj)
	st := store.OpenMemory(t)

	cmp := config.Competence{Year: 2023, Month: 8}
	rec := normalize.Record{
		IdentityKey: normalize.IdentityKey(3, constants.KindInvoice, "345", cmp, ""),
		Provider:    3,
		Kind:        constants.KindInvoice,
		Competence:  cmp,
		DocNumber:   "345",
		TotalCents:  100000,
		INSSCents:   11000,
		ISSCents:    2000,
		Source:      constants.SourceText,
	}
	if _, err := st.Upsert(ctx, rec, store.Meta{ContentHash: "h1"}); err != nil {
		t.Fatal(err)
	}

	session, err := Open(ctx, proj, st, nil)
	if err != nil {
		t.Fatal(err)
	}

	var missing *Divergence
	for i, d := range session.Divergences {
		if d.Kind == constants.KindInvoice && d.Status == StatusMissingSheet {
			missing = &session.Divergences[i]
		}
	}
	if missing == nil {
		t.Fatalf("divergences = %+v, want an invoice MISSING_IN_SHEET", session.Divergences)
	}
	if err := st.SaveResolution(ctx, missing.Key, store.ChoiceAcceptExtracted, ""); err != nil {
		t.Fatal(err)
	}
	resolutions, err := st.Resolutions(ctx)
	if err != nil {
		t.Fatal(err)
	}

	applied, err := session.ApplyResolutions(resolutions)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want the appended register line", applied)
	}
	session.Close()

	// The saved workbook now carries the line and the divergence is gone.
	wb, err := sheet.Open(sheet.Path(proj), nil)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := wb.ReadInvoices(proj)
	wb.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].DocNumber != "345" || rows[0].TotalCents != 100000 {
		t.Fatalf("register rows = %+v, want NF 345 with its extracted values", rows)
	}

	again, err := Open(ctx, proj, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	applied, err = again.ApplyResolutions(resolutions)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 {
		t.Fatalf("second apply = %d, want 0", applied)
	}
}
