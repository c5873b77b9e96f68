package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/classify"
	"github.com/EloiBiesek/fiscal-tracker/internal/common"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/extract"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

// Anything OCR'd below this confidence is kept but flagged for review.
const ocrReviewConfidence = 0.5

// DrainOCR works through the pending OCR queue. Items run serially,
// tesseract already saturates the machine on its own. Every failure bumps
// the item's attempt counter; items hitting the cap go to exhausted and
// surface in the status report instead of being retried forever.
func (r *Runner) DrainOCR(ctx context.Context) (Stats, error) {
	stats := Stats{BatchID: uuid.NewString()}
	r.store.SetBatchScope(r.proj.ProviderNums())

	items, err := r.store.PendingOCR(ctx, r.cfg.OCRLimit)
	if err != nil {
		return stats, err
	}
	r.logger.Info("ocr drain started", "batch_id", stats.BatchID, "pending", len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := r.ocrOne(ctx, item, &stats); err != nil {
			if errors.Is(err, common.ErrFilteredOut) {
				if derr := r.store.MarkOCRDone(ctx, item.Path); derr != nil {
					r.logger.Error("queue update failed", "file", filepath.Base(item.Path), "error", derr)
				}
				continue
			}
			stats.Errors++
			r.logger.Error("ocr item failed",
				"file", filepath.Base(item.Path), "error", err)
			ferr := r.store.MarkOCRFailed(ctx, item.Path, err.Error(), r.cfg.MaxOCRAttempts)
			switch {
			case errors.Is(ferr, common.ErrOCRExhausted):
				r.logger.Warn("ocr attempts exhausted, read the document manually",
					"file", filepath.Base(item.Path))
			case ferr != nil:
				r.logger.Error("queue update failed", "file", filepath.Base(item.Path), "error", ferr)
			}
		}
	}

	r.logger.Info("ocr drain finished",
		"batch_id", stats.BatchID,
		"inserted", stats.Inserted, "replaced", stats.Replaced,
		"unrecognized", stats.Unrecognized, "errors", stats.Errors)
	return stats, nil
}

func (r *Runner) ocrOne(ctx context.Context, item store.QueueItem, stats *Stats) error {
	prov, ok := r.proj.Provider(item.Provider)
	if !ok {
		return fmt.Errorf("provider %d no longer on the roster: %w", item.Provider, common.ErrOutOfScope)
	}

	res, err := r.engine.Extract(ctx, item.Path, item.Kind)
	if err != nil {
		return err
	}

	layout, text := classify.Classify(item.Kind, res.Text)
	switch layout {
	case constants.LayoutOCRRequired, constants.LayoutUnrecognized:
		stats.Unrecognized++
		return fmt.Errorf("ocr text still unrecognized (confidence %.2f): %w",
			res.Confidence, common.ErrUnrecognized)
	case constants.LayoutFilteredOut:
		stats.FilteredOut++
		return fmt.Errorf("ocr text is a known non-target document: %w", common.ErrFilteredOut)
	}

	strategy, ok := extract.For(layout)
	if !ok {
		stats.Unrecognized++
		return fmt.Errorf("no strategy for layout %s: %w", layout, common.ErrUnrecognized)
	}
	raw := strategy(text, extract.Context{
		CNO:      r.proj.CNO,
		Provider: prov,
		Filename: filepath.Base(item.Path),
	})

	var folderComp config.Competence
	if c, perr := normalize.ParseCompetence(item.Competence); perr == nil {
		folderComp = c
	}
	rec := normalize.Build(normalize.Input{
		Provider:   prov,
		Kind:       item.Kind,
		Source:     constants.SourceOCR,
		Raw:        raw,
		FolderComp: folderComp,
		Text:       text,
	})
	if res.Confidence < ocrReviewConfidence {
		rec.Flags.NeedsManualReview = true
	}

	// A retry queued over a partial text extraction keeps the text-layer
	// hash on the row, so the next incremental run still skips the file.
	hash := normalize.ContentHash(text)
	if item.TextHash != "" {
		hash = item.TextHash
	}
	out, err := r.store.Upsert(ctx, rec, store.Meta{
		SourcePath:  item.Path,
		ContentHash: hash,
		BatchID:     stats.BatchID,
		Force:       r.cfg.Force,
	})
	if err != nil {
		if errors.Is(err, common.ErrMergeConflict) {
			stats.Conflicts++
			r.logger.Warn("ocr merge conflict", "identity", rec.IdentityKey)
			return r.store.MarkOCRDone(ctx, item.Path)
		}
		return err
	}
	count(stats, out)
	return r.store.MarkOCRDone(ctx, item.Path)
}
