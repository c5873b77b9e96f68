// Package sheet reads and writes the project control spreadsheet. All writes
// are guarded: a cell is only written if it still holds the value captured in
// the snapshot the batch reconciled against, otherwise the write fails with
// ErrWriteConflict and the operator re-runs against the fresh sheet.
package sheet

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/EloiBiesek/fiscal-tracker/internal/common"
)

type Workbook struct {
	f      *excelize.File
	path   string
	logger *slog.Logger
}

func Open(path string, logger *slog.Logger) (*Workbook, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Workbook{f: f, path: path, logger: logger}, nil
}

func (w *Workbook) Close() error { return w.f.Close() }

// Save writes the workbook back to its original path.
func (w *Workbook) Save() error {
	if err := w.f.Save(); err != nil {
		return fmt.Errorf("save workbook %s: %w", w.path, err)
	}
	return nil
}

// cell returns the trimmed string value at (col, row), 1-based.
func (w *Workbook) cell(sheetName string, col, row int) (string, error) {
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	v, err := w.f.GetCellValue(sheetName, ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// setGuarded writes value at (col, row) only if the cell still holds want.
func (w *Workbook) setGuarded(sheetName string, col, row int, want string, value any) error {
	got, err := w.cell(sheetName, col, row)
	if err != nil {
		return err
	}
	if got != want {
		ref, _ := excelize.CoordinatesToCellName(col, row)
		return fmt.Errorf("%s!%s holds %q, snapshot had %q: %w",
			sheetName, ref, got, want, common.ErrWriteConflict)
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := w.f.SetCellValue(sheetName, ref, value); err != nil {
		return fmt.Errorf("set %s!%s: %w", sheetName, ref, err)
	}
	w.logger.Debug("cell written", "sheet", sheetName, "cell", ref, "value", value)
	return nil
}
