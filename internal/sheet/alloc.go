package sheet

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

// AllocValue is one worker-count cell as captured at snapshot time.
type AllocValue struct {
	Count int
	Raw   string // original cell text, for the conflict guard
	Col   int
	Row   int
}

// AllocSnapshot is the allocation grid at one point in time: provider rows
// by roster number, competence columns by header month.
type AllocSnapshot struct {
	SheetName string
	Cols      map[config.Competence]int
	Rows      map[int]int
	Counts    map[store.Cell]AllocValue
}

// Path returns the workbook path for a project.
func Path(proj *config.Project) string {
	return filepath.Join(proj.BaseDir, proj.SpreadsheetFile)
}

// ReadAllocation snapshots the allocation sheet. Competence columns are
// discovered from the header rows above the first provider row; provider
// rows are matched by roster number or name in the first two columns.
func (w *Workbook) ReadAllocation(proj *config.Project) (*AllocSnapshot, error) {
	snap := &AllocSnapshot{
		SheetName: proj.AllocationSheet,
		Cols:      make(map[config.Competence]int),
		Rows:      make(map[int]int),
		Counts:    make(map[store.Cell]AllocValue),
	}

	rows, err := w.f.GetRows(proj.AllocationSheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", proj.AllocationSheet, err)
	}

	// Header scan: any cell above the provider rows that parses as a
	// competence token names that column.
	for r := 0; r < proj.ProviderRowFrom-1 && r < len(rows); r++ {
		for c, raw := range rows[r] {
			if comp, err := normalize.ParseCompetence(strings.TrimSpace(raw)); err == nil {
				if _, dup := snap.Cols[comp]; !dup {
					snap.Cols[comp] = c + 1
				}
			}
		}
	}
	if len(snap.Cols) == 0 {
		return nil, fmt.Errorf("sheet %q: no competence columns found above row %d",
			proj.AllocationSheet, proj.ProviderRowFrom)
	}

	for r := proj.ProviderRowFrom - 1; r < len(rows); r++ {
		num := matchProvider(rows[r], proj.Providers)
		if num == 0 {
			continue
		}
		snap.Rows[num] = r + 1
		for comp, col := range snap.Cols {
			raw := ""
			if col-1 < len(rows[r]) {
				raw = strings.TrimSpace(rows[r][col-1])
			}
			count, _ := strconv.Atoi(raw)
			snap.Counts[store.Cell{Provider: num, Competence: comp}] = AllocValue{
				Count: count, Raw: raw, Col: col, Row: r + 1,
			}
		}
	}
	return snap, nil
}

// matchProvider identifies which roster entry a sheet row belongs to, by
// roster number or by name prefix in the first two columns.
func matchProvider(row []string, providers []config.Provider) int {
	for c := 0; c < 2 && c < len(row); c++ {
		cell := strings.TrimSpace(row[c])
		if cell == "" {
			continue
		}
		if n, err := strconv.Atoi(cell); err == nil {
			for _, p := range providers {
				if p.Num == n {
					return n
				}
			}
			continue
		}
		upper := strings.ToUpper(cell)
		for _, p := range providers {
			if p.ShortName != "" && strings.HasPrefix(upper, strings.ToUpper(p.ShortName)) {
				return p.Num
			}
			if p.FullName != "" && strings.HasPrefix(upper, strings.ToUpper(p.FullName)) {
				return p.Num
			}
		}
	}
	return 0
}

// WriteWorkerCount updates one allocation cell, guarded against the cell
// having changed since the snapshot was taken.
func (w *Workbook) WriteWorkerCount(snap *AllocSnapshot, cell store.Cell, count int) error {
	v, ok := snap.Counts[cell]
	if !ok {
		return fmt.Errorf("no sheet cell for provider %d competence %s",
			cell.Provider, cell.Competence)
	}
	return w.setGuarded(snap.SheetName, v.Col, v.Row, v.Raw, count)
}
