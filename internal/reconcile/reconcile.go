// Package reconcile compares the extraction ledger against the control
// spreadsheet and classifies every cell of the comparison. Divergences carry
// stable keys so a decision recorded for one survives any number of re-runs.
package reconcile

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/sheet"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

// Status classifies one compared cell.
type Status string

const (
	StatusMatched Status = "MATCHED"
	// StatusMissingExtraction: the sheet has a value but no document was
	// extracted for the cell. Informational, documents may simply not have
	// been filed yet.
	StatusMissingExtraction Status = "MISSING_IN_EXTRACTION"
	// StatusMissingSheet: a document was extracted but the sheet cell is
	// empty. Actionable, the sheet is behind.
	StatusMissingSheet  Status = "MISSING_IN_SHEET"
	StatusValueMismatch Status = "VALUE_MISMATCH"
)

// Money comparisons tolerate one cent of rounding drift. Worker counts are
// compared exactly.
const centTolerance = 1

// Divergence is one compared cell that did not match.
type Divergence struct {
	Key        string // stable: "provider|kind|competence|field"
	Cell       store.Cell
	Kind       constants.DocumentKind
	Field      string // worker_count | total | inss | iss
	Status     Status
	Extracted  string
	SheetValue string

	// ExtractedCents carries the ledger value for money fields so Apply can
	// write it without reparsing the display string.
	ExtractedCents int64
	ExtractedCount int
}

func key(c store.Cell, kind constants.DocumentKind, field string) string {
	return fmt.Sprintf("%d|%s|%s|%s", c.Provider, kind, c.Competence, field)
}

// CompareWorkers reconciles payroll worker counts against the allocation
// grid, one cell per payroll provider per covered month.
func CompareWorkers(proj *config.Project, counts map[store.Cell]int, snap *sheet.AllocSnapshot) []Divergence {
	var out []Divergence
	for _, prov := range proj.Providers {
		if !prov.Payroll || prov.Overrides.NoWorkerCount {
			continue
		}
		for _, comp := range proj.Months() {
			cell := store.Cell{Provider: prov.Num, Competence: comp}
			extracted, haveExtracted := counts[cell]
			sheetVal, haveSheet := snap.Counts[cell]

			d := Divergence{
				Key:            key(cell, constants.KindPayroll, "worker_count"),
				Cell:           cell,
				Kind:           constants.KindPayroll,
				Field:          "worker_count",
				Extracted:      fmt.Sprintf("%d", extracted),
				ExtractedCount: extracted,
			}
			if haveSheet {
				d.SheetValue = sheetVal.Raw
			}

			switch {
			case !haveExtracted && (!haveSheet || sheetVal.Raw == ""):
				continue // nothing on either side
			case !haveExtracted:
				d.Status = StatusMissingExtraction
				d.Extracted = ""
			case !haveSheet || sheetVal.Raw == "":
				d.Status = StatusMissingSheet
			case sheetVal.Count == extracted:
				continue
			default:
				d.Status = StatusValueMismatch
			}
			out = append(out, d)
		}
	}
	sortDivergences(out)
	return out
}

// CompareInvoices reconciles per-cell invoice sums against the register.
func CompareInvoices(proj *config.Project, sums map[store.Cell]store.InvoiceSum, rows []sheet.InvoiceRow) []Divergence {
	type sheetSum struct {
		total, inss, iss int64
		present          bool
	}
	bySheet := make(map[store.Cell]sheetSum)
	for _, r := range rows {
		cell := store.Cell{Provider: r.Provider, Competence: r.Competence}
		s := bySheet[cell]
		s.total += r.TotalCents
		s.inss += r.INSSCents
		s.iss += r.ISSCents
		s.present = true
		bySheet[cell] = s
	}

	var out []Divergence
	for _, prov := range proj.Providers {
		if !prov.Invoices {
			continue
		}
		for _, comp := range proj.Months() {
			cell := store.Cell{Provider: prov.Num, Competence: comp}
			extracted, haveExtracted := sums[cell]
			sv, haveSheet := bySheet[cell]

			if !haveExtracted && !haveSheet {
				continue
			}
			if !haveExtracted {
				out = append(out, Divergence{
					Key: key(cell, constants.KindInvoice, "total"), Cell: cell,
					Kind: constants.KindInvoice, Field: "total",
					Status: StatusMissingExtraction, SheetValue: brl(sv.total),
				})
				continue
			}
			if !haveSheet {
				out = append(out, Divergence{
					Key: key(cell, constants.KindInvoice, "total"), Cell: cell,
					Kind: constants.KindInvoice, Field: "total",
					Status: StatusMissingSheet, Extracted: brl(extracted.TotalCents),
					ExtractedCents: extracted.TotalCents,
				})
				continue
			}
			fields := []struct {
				name             string
				extracted, sheet int64
			}{
				{"total", extracted.TotalCents, sv.total},
				{"inss", extracted.INSSCents, sv.inss},
				{"iss", extracted.ISSCents, sv.iss},
			}
			for _, f := range fields {
				if diff := f.extracted - f.sheet; diff > centTolerance || diff < -centTolerance {
					out = append(out, Divergence{
						Key: key(cell, constants.KindInvoice, f.name), Cell: cell,
						Kind: constants.KindInvoice, Field: f.name,
						Status:    StatusValueMismatch,
						Extracted: brl(f.extracted), SheetValue: brl(f.sheet),
						ExtractedCents: f.extracted,
					})
				}
			}
		}
	}
	sortDivergences(out)
	return out
}

func sortDivergences(ds []Divergence) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Key < ds[j].Key })
}

func brl(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d,%02d", sign, cents/100, cents%100)
}

// Pending filters out divergences already settled by a recorded resolution.
func Pending(ds []Divergence, resolutions map[string]store.Resolution) []Divergence {
	var out []Divergence
	for _, d := range ds {
		if _, done := resolutions[d.Key]; !done {
			out = append(out, d)
		}
	}
	return out
}

// Apply pushes ACCEPT_EXTRACTED resolutions into the workbook. KEEP_SHEET
// resolutions need no write, the record alone silences the divergence.
// Applying twice is a no-op: a cell already holding the extracted value is
// skipped before any guarded write.
func Apply(logger *slog.Logger, wb *sheet.Workbook, snap *sheet.AllocSnapshot,
	ds []Divergence, resolutions map[string]store.Resolution) (applied int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range ds {
		res, ok := resolutions[d.Key]
		if !ok || res.Choice != store.ChoiceAcceptExtracted {
			continue
		}
		if d.Kind != constants.KindPayroll || d.Field != "worker_count" {
			if d.Kind == constants.KindInvoice && d.Status == StatusMissingSheet {
				continue // appended to the register by the session
			}
			// Corrections to existing register lines stay manual:
			// rewriting summed lines cannot be expressed as one cell write.
			logger.Warn("resolution not auto-applicable", "key", d.Key)
			continue
		}
		v, ok := snap.Counts[d.Cell]
		if ok && v.Count == d.ExtractedCount {
			continue // already applied on a previous run
		}
		if err := wb.WriteWorkerCount(snap, d.Cell, d.ExtractedCount); err != nil {
			return applied, fmt.Errorf("apply %s: %w", d.Key, err)
		}
		applied++
		logger.Info("resolution applied", "key", d.Key, "value", d.ExtractedCount)
	}
	return applied, nil
}
