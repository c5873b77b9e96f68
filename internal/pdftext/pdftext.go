// Package pdftext pulls the embedded text layer out of a PDF via pdftotext.
// Scanned documents come back empty; callers route those to OCR.
package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/EloiBiesek/fiscal-tracker/internal/common"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Text runs pdftotext in layout mode and returns the text with form-feed
// page separators. A PDF whose text layer is blank returns ErrNoTextLayer
// so the caller can queue the file for OCR.
func (e *Extractor) Text(ctx context.Context, path string) (text string, pages int, err error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, common.WrapError(err, fmt.Sprintf("pdftotext: %s", strings.TrimSpace(string(errb))))
	}
	text = string(out)
	pages = 1 + strings.Count(text, "\f")
	if strings.TrimSpace(strings.ReplaceAll(text, "\f", "")) == "" {
		return text, pages, common.ErrNoTextLayer
	}
	return text, pages, nil
}

// PageCount probes the PDF structure directly, without the poppler tools.
// Used to reject zero-page or corrupt files before any extraction work.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", path, err)
	}
	return n, nil
}
