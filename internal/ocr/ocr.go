// Package ocr rasterizes scanned PDFs with pdftoppm and reads them with
// tesseract. Pages scanned upside down are retried on a 180-degree rotated
// copy; whichever orientation reads better wins.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/pdftext"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Lang     string // default "por"
	DPI      int    // rasterization DPI, default 300
	MaxPages int    // 0 = no limit

	PSM int // tesseract page segmentation mode, 0 = tool default
}

type Result struct {
	Text       string
	Pages      int
	Confidence float32 // blended TSV and keyword confidence, 0..1
	Rotated    bool    // text came from the 180-degree retry
	Duration   time.Duration
}

type Engine struct {
	cfg    Config
	runner pdftext.Runner
	rotate func(in, out string) error
	logger *slog.Logger
}

func NewEngine(cfg Config, runner pdftext.Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = pdftext.ExecRunner{}
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "por"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Engine{
		cfg:    cfg,
		runner: runner,
		rotate: func(in, out string) error { return api.RotateFile(in, out, 180, nil, nil) },
		logger: logger,
	}
}

// Extract OCRs the file upright first. If the upright pass reads few of the
// keywords expected for the document kind, a 180-degree rotated copy is
// tried and the better-scoring pass wins. Ties keep the upright pass.
func (e *Engine) Extract(ctx context.Context, path string, kind constants.DocumentKind) (Result, error) {
	start := time.Now()

	upright, err := e.ocrPass(ctx, path)
	if err != nil {
		return Result{}, err
	}
	uprightScore := keywordScore(upright.Text, kind)

	res := upright
	if uprightScore < rotationRetryThreshold {
		rotated, rerr := e.rotatedPass(ctx, path)
		if rerr != nil {
			e.logger.Warn("rotation retry failed", "path", path, "error", rerr)
		} else if keywordScore(rotated.Text, kind) > uprightScore {
			rotated.Rotated = true
			res = rotated
		}
	}

	res.Duration = time.Since(start)
	e.logger.Info("ocr extraction done",
		"path", filepath.Base(path),
		"pages", res.Pages,
		"confidence", res.Confidence,
		"rotated", res.Rotated,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// rotatedPass rotates a temp copy with pdfcpu and OCRs that. The original
// file is never touched.
func (e *Engine) rotatedPass(ctx context.Context, path string) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "ft-rot-*")
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	rotatedPath := filepath.Join(tmpDir, "rotated.pdf")
	if err := e.rotate(path, rotatedPath); err != nil {
		return Result{}, fmt.Errorf("rotate %s: %w", path, err)
	}
	return e.ocrPass(ctx, rotatedPath)
}

// ocrPass renders every page to PNG and feeds each to tesseract, joining the
// page texts with form feeds to match the pdftotext page convention.
func (e *Engine) ocrPass(ctx context.Context, path string) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "ft-pp-*")
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return Result{}, fmt.Errorf("pdftoppm: %s: %w", strings.TrimSpace(string(errb)), err)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return Result{}, fmt.Errorf("pdftoppm rendered no pages for %s", path)
	}

	var b strings.Builder
	var confSum float64
	var confN int
	for _, img := range matches {
		txt, err := e.tesseract(ctx, img)
		if err != nil {
			e.logger.Warn("tesseract page failed", "image", filepath.Base(img), "error", err)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\f")
		}
		b.WriteString(txt)
		if c, err := e.tesseractTSVConfidence(ctx, img); err == nil && c > 0 {
			confSum += float64(c)
			confN++
		}
	}

	text := Normalize(b.String())
	var tsvConf float32
	if confN > 0 {
		tsvConf = float32(confSum / float64(confN))
	}
	return Result{
		Text:       text,
		Pages:      len(matches),
		Confidence: blendConfidence(tsvConf, heuristicConfidence(text)),
	}, nil
}

func (e *Engine) tesseract(ctx context.Context, img string) (string, error) {
	args := []string{img, "stdout", "-l", e.cfg.Lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %s: %w", strings.TrimSpace(string(errb)), err)
	}
	return string(out), nil
}
