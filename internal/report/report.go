// Package report renders the reconciliation verdict: either the project is
// up to date or there is a concrete list of actions for the operator.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/reconcile"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

// Action is one operator task standing between the project and a clean
// verdict.
type Action struct {
	Kind   string // review | divergence | ocr
	Detail string
}

// Verdict is the end state of a status check. Informational notes never
// flip UpToDate; only Actions do.
type Verdict struct {
	UpToDate bool
	Actions  []Action
	Info     []string

	ActiveEntries int
	PendingOCR    int
	ExhaustedOCR  int
	ReviewCount   int
}

// Build derives the verdict from the ledger, queue, and the pending
// divergences. Missing-in-extraction divergences are informational: a
// document not filed yet is not an inconsistency.
func Build(ctx context.Context, st *store.Store, divergences []reconcile.Divergence) (Verdict, error) {
	var v Verdict

	entries, err := st.Query(ctx, store.Filter{})
	if err != nil {
		return v, err
	}
	v.ActiveEntries = len(entries)

	v.ReviewCount, err = st.ReviewCount(ctx)
	if err != nil {
		return v, err
	}
	if v.ReviewCount > 0 {
		v.Actions = append(v.Actions, Action{
			Kind:   "review",
			Detail: fmt.Sprintf("%d extracted record(s) flagged for manual review", v.ReviewCount),
		})
	}

	stats, err := st.QueueStats(ctx)
	if err != nil {
		return v, err
	}
	v.PendingOCR = stats[constants.QueuePending]
	v.ExhaustedOCR = stats[constants.QueueExhausted]
	if v.PendingOCR > 0 {
		v.Actions = append(v.Actions, Action{
			Kind:   "ocr",
			Detail: fmt.Sprintf("%d scanned document(s) awaiting OCR, run with -ocr", v.PendingOCR),
		})
	}
	if v.ExhaustedOCR > 0 {
		v.Actions = append(v.Actions, Action{
			Kind:   "ocr",
			Detail: fmt.Sprintf("%d document(s) exhausted OCR retries, read them manually", v.ExhaustedOCR),
		})
	}

	for _, d := range divergences {
		if d.Status == reconcile.StatusMissingExtraction {
			v.Info = append(v.Info, fmt.Sprintf("%s: sheet has %q, no document extracted", d.Key, d.SheetValue))
			continue
		}
		v.Actions = append(v.Actions, Action{
			Kind:   "divergence",
			Detail: describeDivergence(d),
		})
	}

	v.UpToDate = len(v.Actions) == 0
	return v, nil
}

func describeDivergence(d reconcile.Divergence) string {
	switch d.Status {
	case reconcile.StatusMissingSheet:
		return fmt.Sprintf("%s: extracted %s, sheet cell empty", d.Key, d.Extracted)
	case reconcile.StatusValueMismatch:
		return fmt.Sprintf("%s: extracted %s, sheet has %s", d.Key, d.Extracted, d.SheetValue)
	default:
		return fmt.Sprintf("%s: %s", d.Key, d.Status)
	}
}

// Write renders the verdict as plain text for the CLI.
func Write(w io.Writer, v Verdict) {
	if v.UpToDate {
		fmt.Fprintf(w, "up to date: %d ledger entries, nothing to do\n", v.ActiveEntries)
	} else {
		fmt.Fprintf(w, "action needed (%d item(s)):\n", len(v.Actions))
		for _, a := range v.Actions {
			fmt.Fprintf(w, "  [%s] %s\n", a.Kind, a.Detail)
		}
	}
	for _, info := range v.Info {
		fmt.Fprintf(w, "  note: %s\n", info)
	}
}
