// Package pipeline drives a batch: discover PDFs, pull their text in
// parallel, extract and normalize, and land every record in the project
// store. Extraction runs concurrently but upserts happen serially in
// discovery order, so repeated runs replay identically.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/classify"
	"github.com/EloiBiesek/fiscal-tracker/internal/common"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/extract"
	"github.com/EloiBiesek/fiscal-tracker/internal/ingest"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
	"github.com/EloiBiesek/fiscal-tracker/internal/ocr"
	"github.com/EloiBiesek/fiscal-tracker/internal/pdftext"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

type Config struct {
	Workers        int // parallel text extractions, default 4
	Limit          int // 0 = no cap on documents per batch
	OCRLimit       int // 0 = drain the whole queue
	Force          bool
	MaxOCRAttempts int // default 3
}

// Stats summarizes one batch run.
type Stats struct {
	BatchID      string
	Discovered   int
	Skipped      int // already known, incremental no-op
	FilteredOut  int
	Unrecognized int
	QueuedOCR    int
	Conflicts    int
	Inserted     int
	Replaced     int
	Superseded   int
	Unchanged    int
	Errors       int
}

type Runner struct {
	cfg    Config
	proj   *config.Project
	store  *store.Store
	texts  *pdftext.Extractor
	engine *ocr.Engine
	logger *slog.Logger
}

func NewRunner(cfg Config, proj *config.Project, st *store.Store, texts *pdftext.Extractor, engine *ocr.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxOCRAttempts <= 0 {
		cfg.MaxOCRAttempts = 3
	}
	return &Runner{cfg: cfg, proj: proj, store: st, texts: texts, engine: engine, logger: logger}
}

// outcome is the per-document result of the parallel phase, consumed
// serially afterwards.
type outcome struct {
	doc      ingest.Document
	layout   constants.Layout
	rec      normalize.Record
	hash     string
	queue    bool // no usable text, OCR is the only path
	retryOCR bool // partial text extraction, landed but worth an OCR pass
	skip     bool
	err      error
}

// Run executes one batch over the given document kind ("" = both).
func (r *Runner) Run(ctx context.Context, kind constants.DocumentKind) (Stats, error) {
	stats := Stats{BatchID: uuid.NewString()}
	r.store.SetBatchScope(r.proj.ProviderNums())

	docs, err := ingest.NewScanner(r.proj, r.logger).Discover(kind)
	if err != nil {
		return stats, err
	}
	if r.cfg.Limit > 0 && len(docs) > r.cfg.Limit {
		docs = docs[:r.cfg.Limit]
	}
	stats.Discovered = len(docs)
	r.logger.Info("batch started", "batch_id", stats.BatchID, "documents", len(docs))

	results := make([]outcome, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			results[i] = r.processOne(gctx, doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	resolutions, err := r.store.Resolutions(ctx)
	if err != nil {
		return stats, err
	}
	for _, res := range results {
		r.land(ctx, res, resolutions, &stats)
	}

	r.logger.Info("batch finished",
		"batch_id", stats.BatchID,
		"inserted", stats.Inserted, "replaced", stats.Replaced,
		"unchanged", stats.Unchanged, "superseded", stats.Superseded,
		"skipped", stats.Skipped, "queued_ocr", stats.QueuedOCR,
		"conflicts", stats.Conflicts, "errors", stats.Errors)
	return stats, nil
}

// processOne runs the parallel-safe part: text pull, classification,
// extraction, normalization. No store writes happen here.
func (r *Runner) processOne(ctx context.Context, doc ingest.Document) outcome {
	res := outcome{doc: doc}

	text, _, err := r.texts.Text(ctx, doc.Path)
	if errors.Is(err, common.ErrNoTextLayer) {
		res.queue = true
		return res
	}
	if err != nil {
		res.err = err
		return res
	}

	res.hash = normalize.ContentHash(text)
	if !r.cfg.Force {
		known, err := r.store.Known(ctx, res.hash)
		if err != nil {
			res.err = err
			return res
		}
		if known {
			res.skip = true
			return res
		}
	}

	layout, text := classify.Classify(doc.Kind, text)
	res.layout = layout
	switch layout {
	case constants.LayoutOCRRequired:
		res.queue = true
		return res
	case constants.LayoutFilteredOut, constants.LayoutUnrecognized:
		return res
	}

	strategy, ok := extract.For(layout)
	if !ok {
		res.layout = constants.LayoutUnrecognized
		return res
	}
	raw := strategy(text, extract.Context{
		CNO:      r.proj.CNO,
		Provider: doc.Provider,
		Filename: filepath.Base(doc.Path),
	})
	res.rec = normalize.Build(normalize.Input{
		Provider:   doc.Provider,
		Kind:       doc.Kind,
		Source:     constants.SourceText,
		Raw:        raw,
		FolderComp: doc.Competence,
		Text:       text,
	})
	// A garbled text layer can hide fields a clean OCR pass still finds.
	res.retryOCR = len(res.rec.Flags.MissingFields) > 0
	return res
}

// land serializes the store effects of one outcome.
func (r *Runner) land(ctx context.Context, res outcome, resolutions map[string]store.Resolution, stats *Stats) {
	log := r.logger.With("file", filepath.Base(res.doc.Path), "provider", res.doc.Provider.Num)
	switch {
	case res.err != nil:
		stats.Errors++
		log.Error("document failed", "error", res.err)
		return
	case res.skip:
		stats.Skipped++
		return
	case res.queue:
		stats.QueuedOCR++
		if err := r.store.EnqueueOCR(ctx, store.QueueItem{
			Path:       res.doc.Path,
			Provider:   res.doc.Provider.Num,
			Kind:       res.doc.Kind,
			Competence: res.doc.Competence.String(),
		}); err != nil {
			stats.Errors++
			log.Error("enqueue failed", "error", err)
		}
		return
	case res.layout == constants.LayoutFilteredOut:
		stats.FilteredOut++
		return
	case res.layout == constants.LayoutUnrecognized:
		stats.Unrecognized++
		log.Warn("unrecognized layout")
		return
	}

	out, err := r.store.Upsert(ctx, res.rec, store.Meta{
		SourcePath:  res.doc.Path,
		ContentHash: res.hash,
		BatchID:     stats.BatchID,
		Force:       r.cfg.Force,
	})
	if err != nil {
		if errors.Is(err, common.ErrMergeConflict) {
			// An operator may have already picked the winning document
			// for this identity.
			if pick, ok := resolutions[res.rec.IdentityKey]; ok &&
				pick.Choice == store.ChoiceAcceptDocument && pick.Note == res.doc.Path {
				r.acceptDocument(ctx, res, stats, log)
				return
			}
			stats.Conflicts++
			log.Warn("merge conflict", "identity", res.rec.IdentityKey,
				"hint", "resolve with -accept-document <key>=<path>")
			return
		}
		stats.Errors++
		log.Error("upsert failed", "error", err)
		return
	}
	count(stats, out)
	if res.rec.Flags.NeedsManualReview {
		log.Warn("record flagged for review",
			"identity", res.rec.IdentityKey, "missing", res.rec.Flags.MissingFields)
	}
	if res.retryOCR {
		stats.QueuedOCR++
		if err := r.store.EnqueueOCR(ctx, store.QueueItem{
			Path:       res.doc.Path,
			Provider:   res.doc.Provider.Num,
			Kind:       res.doc.Kind,
			Competence: res.doc.Competence.String(),
			TextHash:   res.hash,
		}); err != nil {
			stats.Errors++
			log.Error("enqueue failed", "error", err)
		}
	}
}

// acceptDocument replays a conflicting upsert with the operator's pick and
// pins the result so later candidates cannot reopen it.
func (r *Runner) acceptDocument(ctx context.Context, res outcome, stats *Stats, log *slog.Logger) {
	out, err := r.store.Upsert(ctx, res.rec, store.Meta{
		SourcePath:  res.doc.Path,
		ContentHash: res.hash,
		BatchID:     stats.BatchID,
		Force:       true,
	})
	if err != nil {
		stats.Errors++
		log.Error("accept-document upsert failed", "error", err)
		return
	}
	if err := r.store.MarkResolved(ctx, res.rec.IdentityKey); err != nil {
		stats.Errors++
		log.Error("accept-document pin failed", "error", err)
		return
	}
	count(stats, out)
	log.Info("merge conflict settled by resolution", "identity", res.rec.IdentityKey)
}

func count(stats *Stats, out store.Outcome) {
	switch out {
	case store.OutcomeInserted:
		stats.Inserted++
	case store.OutcomeReplaced:
		stats.Replaced++
	case store.OutcomeSuperseded:
		stats.Superseded++
	case store.OutcomeUnchanged:
		stats.Unchanged++
	}
}
