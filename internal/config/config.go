// Package config holds the per-project configuration: the construction-site
// registration (CNO), the provider roster with per-provider overrides, and
// the covered competence range. A Project is built once at run start and
// passed down; nothing in the engine mutates it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/common"
)

// DefaultPayrollSubfolders are the folder names, under each provider folder,
// that may hold payroll reports. Projects can override them in the config
// file; the spelling variants come from real provider folders.
var DefaultPayrollSubfolders = []string{
	"SEFIP", "DOCUMENTOS MENSAIS", "DOCUMENTAÇÕES MENSAIS",
	"ENTREGA DE DOCUMENTOS MENSAIS", "DOMENTAÇÃO MENSAL",
}

// DefaultInvoiceSubfolders hold service invoices.
var DefaultInvoiceSubfolders = []string{"NOTA FISCAL"}

// StateDirName is the per-project directory holding the engine state.
const StateDirName = ".fiscal-state"

// ConfigFileName is the project configuration file, looked up first in the
// state dir then in the project root.
const ConfigFileName = "project.json"

// Overrides are per-provider extraction rules that replace or suppress
// field extraction.
type Overrides struct {
	// FixedINSSCents forces the INSS withholding instead of extracting it.
	// Used for layouts where the field is structurally absent (surveillance
	// invoices from owner-operated providers).
	FixedINSSCents *int64 `json:"fixed_inss_cents,omitempty"`
	// NoWorkerCount marks providers whose payroll documents legitimately
	// carry no worker-count field.
	NoWorkerCount bool `json:"no_worker_count,omitempty"`
	// FixedISSRate forces the ISS rate (percent) when known a priori.
	FixedISSRate *float64 `json:"fixed_iss_rate,omitempty"`
}

// Provider is one subcontractor on the project.
type Provider struct {
	Num       int       `json:"num"`
	Folder    string    `json:"folder"`
	ShortName string    `json:"short_name"`
	FullName  string    `json:"full_name"`
	Invoices  bool      `json:"invoices"`
	Payroll   bool      `json:"payroll"`
	Overrides Overrides `json:"overrides,omitempty"`
}

// Kinds returns the document kinds this provider is expected to file.
func (p Provider) Kinds() []constants.DocumentKind {
	var kinds []constants.DocumentKind
	if p.Invoices {
		kinds = append(kinds, constants.KindInvoice)
	}
	if p.Payroll {
		kinds = append(kinds, constants.KindPayroll)
	}
	return kinds
}

// Competence identifies the calendar month a document's figures apply to.
type Competence struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (c Competence) String() string { return fmt.Sprintf("%04d-%02d", c.Year, c.Month) }

// Before reports whether c precedes ochronologically.
func (c Competence) Before(o Competence) bool {
	return c.Year < o.Year || (c.Year == o.Year && c.Month < o.Month)
}

// Project is the complete project-scoped configuration.
type Project struct {
	CNO  string `json:"cno"`
	Name string `json:"name"`

	BaseDir  string `json:"-"` // folder holding the provider folders
	StateDir string `json:"-"`

	SpreadsheetFile string `json:"spreadsheet,omitempty"`
	AllocationSheet string `json:"allocation_sheet,omitempty"`
	InvoiceSheet    string `json:"invoice_sheet,omitempty"`
	ProviderRowFrom int    `json:"provider_row_from,omitempty"`

	PayrollSubfolders []string `json:"payroll_subfolders,omitempty"`
	InvoiceSubfolders []string `json:"invoice_subfolders,omitempty"`

	From Competence `json:"from"`
	To   Competence `json:"to"`

	Providers []Provider `json:"providers"`
}

var reCNO = regexp.MustCompile(`^\d{12}$`)

// Load reads, validates, and completes the project configuration for the
// given project directory. The config file is searched in
// <dir>/.fiscal-state/project.json then <dir>/project.json.
func Load(dir string) (*Project, error) {
	dir = filepath.Clean(dir)
	stateDir := filepath.Join(dir, StateDirName)

	var raw []byte
	var err error
	for _, p := range []string{filepath.Join(stateDir, ConfigFileName), filepath.Join(dir, ConfigFileName)} {
		raw, err = os.ReadFile(p)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("no %s found under %s", ConfigFileName, dir), common.ErrConfig)
	}

	if err := validateSchema(raw); err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", err.Error(), common.ErrConfig)
	}

	var proj Project
	if err := json.Unmarshal(raw, &proj); err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "parse project file", err)
	}
	proj.BaseDir = dir
	proj.StateDir = stateDir
	proj.applyDefaults()

	if err := proj.Validate(); err != nil {
		return nil, err
	}
	return &proj, nil
}

func (p *Project) applyDefaults() {
	if p.SpreadsheetFile == "" {
		p.SpreadsheetFile = "Controle de Alocação e ISS mensal de empreiteiros.xlsx"
	}
	if p.AllocationSheet == "" {
		p.AllocationSheet = "Alocação de colaboradores"
	}
	if p.InvoiceSheet == "" {
		p.InvoiceSheet = "NOTAS FISCAIS (NOVO)"
	}
	if p.ProviderRowFrom == 0 {
		p.ProviderRowFrom = 5
	}
	if len(p.PayrollSubfolders) == 0 {
		p.PayrollSubfolders = DefaultPayrollSubfolders
	}
	if len(p.InvoiceSubfolders) == 0 {
		p.InvoiceSubfolders = DefaultInvoiceSubfolders
	}
	sort.Slice(p.Providers, func(i, j int) bool { return p.Providers[i].Num < p.Providers[j].Num })
}

// Validate enforces the fatal configuration invariants. Everything else in
// the engine degrades per document; a broken config aborts the run.
func (p *Project) Validate() error {
	if !reCNO.MatchString(p.CNO) {
		return common.NewAppError("CONFIG_ERROR", fmt.Sprintf("cno %q: want 12 digits", p.CNO), common.ErrConfig)
	}
	if len(p.Providers) == 0 {
		return common.NewAppError("CONFIG_ERROR", "empty provider roster", common.ErrConfig)
	}
	if p.From.Month < 1 || p.From.Month > 12 || p.To.Month < 1 || p.To.Month > 12 {
		return common.NewAppError("CONFIG_ERROR", "competence month out of range", common.ErrConfig)
	}
	if p.To.Before(p.From) {
		return common.NewAppError("CONFIG_ERROR", "competence range ends before it starts", common.ErrConfig)
	}
	seen := make(map[int]struct{}, len(p.Providers))
	for _, pr := range p.Providers {
		if pr.Num <= 0 {
			return common.NewAppError("CONFIG_ERROR", fmt.Sprintf("provider %q: num must be positive", pr.Folder), common.ErrConfig)
		}
		if _, dup := seen[pr.Num]; dup {
			return common.NewAppError("CONFIG_ERROR", fmt.Sprintf("duplicate provider num %d", pr.Num), common.ErrConfig)
		}
		seen[pr.Num] = struct{}{}
	}
	return nil
}

// Months expands the covered competence range, inclusive, in order.
func (p *Project) Months() []Competence {
	var out []Competence
	y, m := p.From.Year, p.From.Month
	for {
		c := Competence{Year: y, Month: m}
		out = append(out, c)
		if c == p.To {
			return out
		}
		m++
		if m > 12 {
			m = 1
			y++
		}
	}
}

// Provider looks up a roster entry by number.
func (p *Project) Provider(num int) (Provider, bool) {
	for _, pr := range p.Providers {
		if pr.Num == num {
			return pr, true
		}
	}
	return Provider{}, false
}

// ProviderNums returns the roster numbers in ascending order.
func (p *Project) ProviderNums() []int {
	nums := make([]int, len(p.Providers))
	for i, pr := range p.Providers {
		nums[i] = pr.Num
	}
	return nums
}

// Covers reports whether the competence falls inside the configured range.
func (p *Project) Covers(c Competence) bool {
	return !c.Before(p.From) && !p.To.Before(c)
}
