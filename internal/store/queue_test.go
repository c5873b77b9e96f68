package store

import (
	"context"
	"errors"
	"testing"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/common"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
)

func TestQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	st := OpenMemory(t)

	item := QueueItem{Path: "/p/scan.pdf", Provider: 3, Kind: constants.KindPayroll, Competence: "2023-08", TextHash: "abc123"}
	if err := st.EnqueueOCR(ctx, item); err != nil {
		t.Fatal(err)
	}
	// Re-enqueue is a no-op.
	if err := st.EnqueueOCR(ctx, item); err != nil {
		t.Fatal(err)
	}

	pending, err := st.PendingOCR(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].TextHash != "abc123" {
		t.Errorf("text hash = %q, want abc123", pending[0].TextHash)
	}

	if err := st.MarkOCRDone(ctx, item.Path); err != nil {
		t.Fatal(err)
	}
	pending, err = st.PendingOCR(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after done = %d, want 0", len(pending))
	}
}

func TestQueueExhaustion(t *testing.T) {
	ctx := context.Background()
	st := OpenMemory(t)

	item := QueueItem{Path: "/p/bad.pdf", Provider: 3, Kind: constants.KindPayroll}
	if err := st.EnqueueOCR(ctx, item); err != nil {
		t.Fatal(err)
	}

	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		err := st.MarkOCRFailed(ctx, item.Path, "tesseract failed", maxAttempts)
		if i < maxAttempts-1 && err != nil {
			t.Fatal(err)
		}
		if i == maxAttempts-1 && !errors.Is(err, common.ErrOCRExhausted) {
			t.Fatalf("final attempt err = %v, want ErrOCRExhausted", err)
		}
	}

	pending, err := st.PendingOCR(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("exhausted item still pending: %+v", pending)
	}
	stats, err := st.QueueStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[constants.QueueExhausted] != 1 {
		t.Fatalf("stats = %v, want 1 exhausted", stats)
	}

	// Re-enqueue after exhaustion resets for another round.
	if err := st.EnqueueOCR(ctx, item); err != nil {
		t.Fatal(err)
	}
	pending, err = st.PendingOCR(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Attempts != 0 {
		t.Fatalf("re-enqueued item = %+v, want pending with attempts reset", pending)
	}
}

func TestPendingOCRRespectsBatchScope(t *testing.T) {
	ctx := context.Background()
	st := OpenMemory(t)
	for _, it := range []QueueItem{
		{Path: "/in/scan.pdf", Provider: 3, Kind: constants.KindPayroll},
		{Path: "/out/scan.pdf", Provider: 9, Kind: constants.KindPayroll},
	} {
		if err := st.EnqueueOCR(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	st.SetBatchScope([]int{3})
	pending, err := st.PendingOCR(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Provider != 3 {
		t.Fatalf("scoped pending = %+v, want only provider 3", pending)
	}
}

func TestPendingOCRLimit(t *testing.T) {
	ctx := context.Background()
	st := OpenMemory(t)
	for _, p := range []string{"/a.pdf", "/b.pdf", "/c.pdf"} {
		if err := st.EnqueueOCR(ctx, QueueItem{Path: p, Provider: 1, Kind: constants.KindInvoice}); err != nil {
			t.Fatal(err)
		}
	}
	pending, err := st.PendingOCR(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("limited pending = %d, want 2", len(pending))
	}
}

func TestWorkerCounts(t *testing.T) {
	ctx := context.Background()
	st := OpenMemory(t)
	comp := config.Competence{Year: 2023, Month: 8}

	rec := normalize.Record{
		IdentityKey: normalize.IdentityKey(3, constants.KindPayroll, "", comp, "sefip body"),
		Provider:    3,
		Kind:        constants.KindPayroll,
		Competence:  comp,
		WorkerCount: 12,
		Source:      constants.SourceText,
	}
	if _, err := st.Upsert(ctx, rec, Meta{}); err != nil {
		t.Fatal(err)
	}

	counts, err := st.WorkerCounts(ctx, comp, comp)
	if err != nil {
		t.Fatal(err)
	}
	if got := counts[Cell{Provider: 3, Competence: comp}]; got != 12 {
		t.Fatalf("worker count = %d, want 12", got)
	}
}

func TestResolutions(t *testing.T) {
	ctx := context.Background()
	st := OpenMemory(t)

	if err := st.SaveResolution(ctx, "3|SEFIP|2023-08|worker_count", ChoiceAcceptExtracted, ""); err != nil {
		t.Fatal(err)
	}
	// Overwrite with the opposite choice.
	if err := st.SaveResolution(ctx, "3|SEFIP|2023-08|worker_count", ChoiceKeepSheet, "checked by hand"); err != nil {
		t.Fatal(err)
	}

	res, err := st.Resolutions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := res["3|SEFIP|2023-08|worker_count"]
	if !ok {
		t.Fatalf("resolution missing, have %v", res)
	}
	if got.Choice != ChoiceKeepSheet || got.Note != "checked by hand" {
		t.Fatalf("resolution = %+v, want KEEP_SHEET with note", got)
	}
}
