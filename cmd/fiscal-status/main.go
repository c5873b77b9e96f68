// fiscal-status prints the reconciliation verdict for a project: either
// everything is up to date or a concrete list of operator actions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/reconcile"
	"github.com/EloiBiesek/fiscal-tracker/internal/report"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

func main() {
	var (
		dir     = flag.String("project-dir", "", "project directory holding the provider folders (required)")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Error: -project-dir is required")
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	upToDate, err := run(context.Background(), logger, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !upToDate {
		os.Exit(2)
	}
}

func run(ctx context.Context, logger *slog.Logger, dir string) (bool, error) {
	proj, err := config.Load(dir)
	if err != nil {
		return false, err
	}
	st, err := store.Open(proj.StateDir)
	if err != nil {
		return false, err
	}
	defer st.Close()

	session, err := reconcile.Open(ctx, proj, st, logger)
	if err != nil {
		return false, err
	}
	defer session.Close()

	resolutions, err := st.Resolutions(ctx)
	if err != nil {
		return false, err
	}
	pending := reconcile.Pending(session.Divergences, resolutions)

	verdict, err := report.Build(ctx, st, pending)
	if err != nil {
		return false, err
	}
	report.Write(os.Stdout, verdict)
	return verdict.UpToDate, nil
}
