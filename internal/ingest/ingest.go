// Package ingest walks the project folder tree and decides which PDFs a
// batch should process. Provider folders hold kind subfolders which hold one
// competence folder per month; folder names are messy, so matching is
// tolerant about separators and ordering.
package ingest

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
)

// Document is one PDF selected for extraction.
type Document struct {
	Path       string
	Provider   config.Provider
	Kind       constants.DocumentKind
	Competence config.Competence // zero when no folder or filename names one
}

type Scanner struct {
	proj   *config.Project
	logger *slog.Logger
}

func NewScanner(proj *config.Project, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{proj: proj, logger: logger}
}

// Discover walks every provider folder and returns the selected documents
// in deterministic order: provider, kind, competence, path. Providers whose
// folder is missing are logged and skipped; kind narrows to one document
// family when non-empty.
func (s *Scanner) Discover(kind constants.DocumentKind) ([]Document, error) {
	var out []Document
	for _, prov := range s.proj.Providers {
		dir := filepath.Join(s.proj.BaseDir, prov.Folder)
		if _, err := os.Stat(dir); err != nil {
			s.logger.Warn("provider folder missing", "provider", prov.Num, "dir", prov.Folder)
			continue
		}
		if prov.Payroll && (kind == "" || kind == constants.KindPayroll) {
			out = append(out, s.discoverKind(prov, dir, constants.KindPayroll, s.proj.PayrollSubfolders)...)
		}
		if prov.Invoices && (kind == "" || kind == constants.KindInvoice) {
			out = append(out, s.discoverKind(prov, dir, constants.KindInvoice, s.proj.InvoiceSubfolders)...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider.Num != out[j].Provider.Num {
			return out[i].Provider.Num < out[j].Provider.Num
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Competence != out[j].Competence {
			return out[i].Competence.Before(out[j].Competence)
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

func (s *Scanner) discoverKind(prov config.Provider, providerDir string, kind constants.DocumentKind, subfolders []string) []Document {
	var out []Document
	found := false
	for _, sub := range subfolders {
		dir := findFolder(providerDir, sub)
		if dir == "" {
			continue
		}
		found = true
		out = append(out, s.walkKindFolder(prov, dir, kind, false)...)
	}
	// Some providers keep their invoices directly in the provider folder.
	// Kind folders of other families fail the month-dir parse and are left
	// alone; loose files are only taken when named like an invoice.
	if !found && kind == constants.KindInvoice {
		out = append(out, s.walkKindFolder(prov, providerDir, kind, true)...)
	}
	return out
}

// walkKindFolder descends into competence folders and picks candidates. A
// PDF sitting directly in the kind folder is accepted too, with the
// competence read from its filename later; in a provider root those loose
// files must pass the invoice name filter.
func (s *Scanner) walkKindFolder(prov config.Provider, dir string, kind constants.DocumentKind, providerRoot bool) []Document {
	var out []Document
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("unreadable folder", "dir", dir, "error", err)
		return nil
	}

	var loose []string
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if !e.IsDir() {
			if isPDF(e.Name()) {
				loose = append(loose, full)
			}
			continue
		}
		comp, ok := parseMonthDir(e.Name())
		if !ok {
			// year folder wrapping month folders: "2023/08 2023" or "2023/08"
			if year, yok := parseYearDir(e.Name()); yok {
				out = append(out, s.walkYearFolder(prov, full, kind, year)...)
			}
			continue
		}
		if !s.proj.Covers(comp) {
			continue
		}
		out = append(out, s.selectFromMonth(prov, full, kind, comp)...)
	}

	for _, p := range loose {
		if providerRoot && !constants.IsInvoiceName(filepath.Base(p)) {
			s.logger.Debug("loose non-invoice file skipped", "file", filepath.Base(p))
			continue
		}
		if d, ok := s.accept(prov, p, kind, config.Competence{}); ok {
			out = append(out, d)
		}
	}
	return out
}

func (s *Scanner) walkYearFolder(prov config.Provider, dir string, kind constants.DocumentKind, year int) []Document {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Document
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		comp, ok := parseMonthDir(e.Name())
		if !ok {
			if m, merr := strconv.Atoi(strings.TrimSpace(e.Name())); merr == nil && m >= 1 && m <= 12 {
				comp, ok = config.Competence{Year: year, Month: m}, true
			}
		}
		if !ok || !s.proj.Covers(comp) {
			continue
		}
		out = append(out, s.selectFromMonth(prov, filepath.Join(dir, e.Name()), kind, comp)...)
	}
	return out
}

// selectFromMonth picks documents inside one competence folder. Invoices
// are taken all (one NF per PDF); payroll folders mix reports with slips
// and payment receipts, so the best single report is chosen by the keyword
// priority list.
func (s *Scanner) selectFromMonth(prov config.Provider, dir string, kind constants.DocumentKind, comp config.Competence) []Document {
	var pdfs []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if isPDF(d.Name()) {
			pdfs = append(pdfs, path)
		}
		return nil
	})
	sort.Strings(pdfs)

	if kind == constants.KindInvoice {
		var out []Document
		for _, p := range pdfs {
			if d, ok := s.accept(prov, p, kind, comp); ok {
				out = append(out, d)
			}
		}
		return out
	}

	best := BestPayrollPDF(pdfs)
	if best == "" {
		return nil
	}
	d, ok := s.accept(prov, best, kind, comp)
	if !ok {
		return nil
	}
	return []Document{d}
}

func (s *Scanner) accept(prov config.Provider, path string, kind constants.DocumentKind, comp config.Competence) (Document, bool) {
	name := filepath.Base(path)
	if kind == constants.KindPayroll && constants.IsNonPayroll(name) {
		s.logger.Debug("non-payroll file skipped", "file", name)
		return Document{}, false
	}
	if comp == (config.Competence{}) {
		if c, ok := CompetenceFromName(name); ok && s.proj.Covers(c) {
			comp = c
		}
	}
	return Document{Path: path, Provider: prov, Kind: kind, Competence: comp}, true
}

// BestPayrollPDF ranks candidate filenames by the priority keyword list and
// returns the best match, or the first candidate when no keyword hits.
func BestPayrollPDF(pdfs []string) string {
	var eligible []string
	for _, p := range pdfs {
		if !constants.IsNonPayroll(filepath.Base(p)) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return ""
	}
	for _, kw := range constants.PayrollPriorityKeywords {
		for _, p := range eligible {
			if strings.Contains(strings.ToLower(filepath.Base(p)), kw) {
				return p
			}
		}
	}
	for _, p := range eligible {
		lower := strings.ToLower(filepath.Base(p))
		for _, kw := range constants.PayrollNameKeywords {
			if strings.Contains(lower, kw) {
				return p
			}
		}
	}
	return eligible[0]
}

var (
	reMonthYearDir = regexp.MustCompile(`^(\d{1,2})[ \-._/]+(\d{4})$`)
	reYearMonthDir = regexp.MustCompile(`^(\d{4})[ \-._/]+(\d{1,2})$`)
	reNameComp     = regexp.MustCompile(`(\d{1,2})[ \-._/](\d{4})`)
)

// parseMonthDir reads a competence from a folder name: "08 2023",
// "08-2023", "2023-08".
func parseMonthDir(name string) (config.Competence, bool) {
	name = strings.TrimSpace(name)
	if m := reMonthYearDir.FindStringSubmatch(name); m != nil {
		return makeComp(m[2], m[1])
	}
	if m := reYearMonthDir.FindStringSubmatch(name); m != nil {
		return makeComp(m[1], m[2])
	}
	return config.Competence{}, false
}

func parseYearDir(name string) (int, bool) {
	y, err := strconv.Atoi(strings.TrimSpace(name))
	if err != nil || y < 2000 || y > 2100 {
		return 0, false
	}
	return y, true
}

// CompetenceFromName reads a competence token out of a filename, e.g.
// "SEFIP 08-2023.pdf".
func CompetenceFromName(name string) (config.Competence, bool) {
	if m := reNameComp.FindStringSubmatch(name); m != nil {
		if c, ok := makeComp(m[2], m[1]); ok {
			return c, true
		}
	}
	return config.Competence{}, false
}

func makeComp(year, month string) (config.Competence, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	if m < 1 || m > 12 || y < 2000 || y > 2100 {
		return config.Competence{}, false
	}
	return config.Competence{Year: y, Month: m}, true
}

// findFolder locates a child directory by case-insensitive name.
func findFolder(parent, name string) string {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(strings.TrimSpace(e.Name()), name) {
			return filepath.Join(parent, e.Name())
		}
	}
	return ""
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
