package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/sheet"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

// Session holds an open workbook, its snapshot, and the divergences of the
// ledger against it. Close releases the workbook.
type Session struct {
	Workbook    *sheet.Workbook
	Alloc       *sheet.AllocSnapshot
	Invoices    []sheet.InvoiceRow
	Divergences []Divergence

	proj    *config.Project
	entries map[store.Cell][]store.Entry
	logger  *slog.Logger
}

// Open snapshots the spreadsheet and computes all divergences against the
// store. A missing workbook is not an error: reconciliation just reports
// nothing, projects without a control sheet still get extraction.
func Open(ctx context.Context, proj *config.Project, st *store.Store, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := sheet.Path(proj)
	if _, err := os.Stat(path); err != nil {
		logger.Warn("control spreadsheet not found, skipping reconciliation", "path", path)
		return &Session{proj: proj, logger: logger}, nil
	}

	wb, err := sheet.Open(path, logger)
	if err != nil {
		return nil, err
	}

	s := &Session{Workbook: wb, proj: proj, logger: logger}
	if err := s.compare(ctx, proj, st); err != nil {
		wb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) compare(ctx context.Context, proj *config.Project, st *store.Store) error {
	alloc, err := s.Workbook.ReadAllocation(proj)
	if err != nil {
		return fmt.Errorf("allocation snapshot: %w", err)
	}
	s.Alloc = alloc

	invoices, err := s.Workbook.ReadInvoices(proj)
	if err != nil {
		return fmt.Errorf("invoice snapshot: %w", err)
	}
	s.Invoices = invoices

	counts, err := st.WorkerCounts(ctx, proj.From, proj.To)
	if err != nil {
		return err
	}
	sums, err := st.InvoiceSums(ctx, proj.From, proj.To)
	if err != nil {
		return err
	}

	// Active invoice entries per cell, for appending missing register lines.
	active, err := st.Query(ctx, store.Filter{
		Kind: constants.KindInvoice, From: proj.From, To: proj.To,
	})
	if err != nil {
		return err
	}
	s.entries = make(map[store.Cell][]store.Entry)
	for _, e := range active {
		cell := store.Cell{Provider: e.Provider, Competence: e.Competence}
		s.entries[cell] = append(s.entries[cell], e)
	}

	s.Divergences = append(
		CompareWorkers(proj, counts, alloc),
		CompareInvoices(proj, sums, invoices)...)
	return nil
}

func (s *Session) Close() {
	if s.Workbook != nil {
		s.Workbook.Close()
	}
}

// ApplyResolutions writes accepted values into the workbook and saves it
// when anything changed. Invoices missing from the register are appended as
// new lines; existing lines are never rewritten.
func (s *Session) ApplyResolutions(resolutions map[string]store.Resolution) (int, error) {
	if s.Workbook == nil {
		return 0, nil
	}
	applied, err := Apply(s.logger, s.Workbook, s.Alloc, s.Divergences, resolutions)
	if err != nil {
		return applied, err
	}
	appended, err := s.appendMissingInvoices(resolutions)
	applied += appended
	if err != nil {
		return applied, err
	}
	if applied > 0 {
		if err := s.Workbook.Save(); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func (s *Session) appendMissingInvoices(resolutions map[string]store.Resolution) (int, error) {
	appended := 0
	for _, d := range s.Divergences {
		res, ok := resolutions[d.Key]
		if !ok || res.Choice != store.ChoiceAcceptExtracted {
			continue
		}
		if d.Kind != constants.KindInvoice || d.Status != StatusMissingSheet {
			continue
		}
		prov, ok := s.proj.Provider(d.Cell.Provider)
		if !ok {
			continue
		}
		for _, e := range s.entries[d.Cell] {
			if s.hasRegisterRow(e) {
				continue // appended on a previous run
			}
			if e.DocNumber == "" {
				s.logger.Warn("unnumbered invoice cannot go on the register",
					"key", d.Key, "file", e.SourcePath)
				continue
			}
			row := sheet.InvoiceRow{
				Competence: e.Competence,
				DocNumber:  e.DocNumber,
				TotalCents: e.TotalCents,
				INSSCents:  e.INSSCents,
				ISSCents:   e.ISSCents,
			}
			if err := s.Workbook.AppendInvoice(s.proj, prov, row); err != nil {
				return appended, fmt.Errorf("append %s: %w", d.Key, err)
			}
			s.Invoices = append(s.Invoices, sheet.InvoiceRow{
				Provider: e.Provider, Competence: e.Competence, DocNumber: e.DocNumber,
			})
			appended++
			s.logger.Info("register line appended", "key", d.Key, "doc", e.DocNumber)
		}
	}
	return appended, nil
}

func (s *Session) hasRegisterRow(e store.Entry) bool {
	for _, r := range s.Invoices {
		if r.Provider == e.Provider && r.Competence == e.Competence && r.DocNumber == e.DocNumber {
			return true
		}
	}
	return false
}
