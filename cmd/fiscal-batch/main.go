// fiscal-batch runs an extraction batch over a project directory, drains
// the OCR queue, and manages divergence resolutions against the control
// spreadsheet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/ocr"
	"github.com/EloiBiesek/fiscal-tracker/internal/pdftext"
	"github.com/EloiBiesek/fiscal-tracker/internal/pipeline"
	"github.com/EloiBiesek/fiscal-tracker/internal/reconcile"
	"github.com/EloiBiesek/fiscal-tracker/internal/report"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir      = flag.String("project-dir", "", "project directory holding the provider folders (required)")
		kindStr  = flag.String("kind", "", "restrict to one document kind: NFSE or SEFIP")
		provs    = flag.String("providers", "", "restrict to these roster numbers, comma-separated")
		limit    = flag.Int("limit", 0, "max documents per batch, 0 = all")
		workers  = flag.Int("workers", 4, "parallel text extractions")
		force    = flag.Bool("force", false, "reprocess documents already in the ledger")
		runOCR   = flag.Bool("ocr", false, "drain the OCR queue after the text batch")
		ocrLimit = flag.Int("ocr-limit", 0, "max OCR queue items to process, 0 = all")
		lang     = flag.String("ocr-lang", "por", "tesseract language")

		listDiv   = flag.Bool("list-divergences", false, "list pending divergences and exit")
		accept    = flag.String("accept-extracted", "", "record a resolution: extracted value wins for this divergence key")
		keep      = flag.String("keep-sheet", "", "record a resolution: spreadsheet value wins for this divergence key")
		acceptDoc = flag.String("accept-document", "", "record a resolution: <identity-key>=<pdf-path>, this document wins a merge conflict")
		apply     = flag.Bool("apply", false, "write accepted resolutions into the spreadsheet")

		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: -project-dir is required\n")
		os.Exit(1)
	}
	var kind constants.DocumentKind
	switch *kindStr {
	case "":
	case string(constants.KindInvoice), string(constants.KindPayroll):
		kind = constants.DocumentKind(*kindStr)
	default:
		printError("Error: -kind must be NFSE or SEFIP\n")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		dir: *dir, kind: kind, providers: *provs, limit: *limit, workers: *workers,
		force: *force, runOCR: *runOCR, ocrLimit: *ocrLimit, lang: *lang,
		listDiv: *listDiv, accept: *accept, keep: *keep, acceptDoc: *acceptDoc, apply: *apply,
	}); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	dir       string
	kind      constants.DocumentKind
	providers string
	limit     int
	workers   int
	force     bool

	runOCR   bool
	ocrLimit int
	lang     string

	listDiv   bool
	accept    string
	keep      string
	acceptDoc string
	apply     bool
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	proj, err := config.Load(opts.dir)
	if err != nil {
		return err
	}
	if opts.providers != "" {
		if err := scopeProviders(proj, opts.providers); err != nil {
			return err
		}
	}
	st, err := store.Open(proj.StateDir)
	if err != nil {
		return err
	}
	defer st.Close()

	// Resolution bookkeeping modes short-circuit the batch.
	if opts.accept != "" {
		return st.SaveResolution(ctx, opts.accept, store.ChoiceAcceptExtracted, "")
	}
	if opts.keep != "" {
		return st.SaveResolution(ctx, opts.keep, store.ChoiceKeepSheet, "")
	}
	if opts.acceptDoc != "" {
		key, path, ok := strings.Cut(opts.acceptDoc, "=")
		if !ok || key == "" || path == "" {
			return fmt.Errorf("-accept-document: want <identity-key>=<pdf-path>, got %q", opts.acceptDoc)
		}
		return st.SaveResolution(ctx, key, store.ChoiceAcceptDocument, path)
	}
	if opts.listDiv || opts.apply {
		return reconcileOnly(ctx, logger, proj, st, opts)
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Workers:  opts.workers,
		Limit:    opts.limit,
		OCRLimit: opts.ocrLimit,
		Force:    opts.force,
	}, proj, st,
		pdftext.NewExtractor(pdftext.Config{}, nil, logger),
		ocr.NewEngine(ocr.Config{Lang: opts.lang}, nil, logger),
		logger)

	stats, err := runner.Run(ctx, opts.kind)
	if err != nil {
		return err
	}
	fmt.Printf("batch %s: %d discovered, %d inserted, %d replaced, %d unchanged, %d queued for ocr\n",
		stats.BatchID, stats.Discovered, stats.Inserted, stats.Replaced, stats.Unchanged, stats.QueuedOCR)

	if opts.runOCR {
		ocrStats, err := runner.DrainOCR(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("ocr: %d inserted, %d replaced, %d unrecognized, %d errors\n",
			ocrStats.Inserted, ocrStats.Replaced, ocrStats.Unrecognized, ocrStats.Errors)
	}

	session, err := reconcile.Open(ctx, proj, st, logger)
	if err != nil {
		return err
	}
	defer session.Close()
	resolutions, err := st.Resolutions(ctx)
	if err != nil {
		return err
	}
	verdict, err := report.Build(ctx, st, reconcile.Pending(session.Divergences, resolutions))
	if err != nil {
		return err
	}
	fmt.Println()
	report.Write(os.Stdout, verdict)
	return nil
}

// scopeProviders narrows the roster to the comma-separated numbers given
// on the command line.
func scopeProviders(proj *config.Project, list string) error {
	want := make(map[int]bool)
	for _, tok := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return fmt.Errorf("-providers: %q is not a roster number", tok)
		}
		want[n] = true
	}
	var kept []config.Provider
	for _, p := range proj.Providers {
		if want[p.Num] {
			kept = append(kept, p)
			delete(want, p.Num)
		}
	}
	if len(want) > 0 {
		for n := range want {
			return fmt.Errorf("-providers: %d is not in the project roster", n)
		}
	}
	proj.Providers = kept
	return nil
}

func reconcileOnly(ctx context.Context, logger *slog.Logger, proj *config.Project, st *store.Store, opts options) error {
	session, err := reconcile.Open(ctx, proj, st, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	resolutions, err := st.Resolutions(ctx)
	if err != nil {
		return err
	}

	if opts.apply {
		applied, err := session.ApplyResolutions(resolutions)
		if err != nil {
			return err
		}
		fmt.Printf("%d resolution(s) written to the spreadsheet\n", applied)
		return nil
	}

	pending := reconcile.Pending(session.Divergences, resolutions)
	if len(pending) == 0 {
		fmt.Println("no pending divergences")
		return nil
	}
	for _, d := range pending {
		fmt.Printf("%-40s %-22s extracted=%-12s sheet=%s\n", d.Key, d.Status, d.Extracted, d.SheetValue)
	}
	fmt.Printf("\n%d pending divergence(s); resolve with -accept-extracted <key> or -keep-sheet <key>\n", len(pending))
	return nil
}
