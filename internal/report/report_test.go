package report

import (
	"context"
	"strings"
	"testing"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
	"github.com/EloiBiesek/fiscal-tracker/internal/reconcile"
	"github.com/EloiBiesek/fiscal-tracker/internal/store"
)

func cleanRecord(provider int, doc string) normalize.Record {
	comp := config.Competence{Year: 2023, Month: 8}
	return normalize.Record{
		IdentityKey: normalize.IdentityKey(provider, constants.KindInvoice, doc, comp, ""),
		Provider:    provider,
		Kind:        constants.KindInvoice,
		Competence:  comp,
		DocNumber:   doc,
		TotalCents:  100000,
		Source:      constants.SourceText,
	}
}

func TestVerdictUpToDate(t *testing.T) {
	ctx := context.Background()
	st := store.OpenMemory(t)
	if _, err := st.Upsert(ctx, cleanRecord(3, "345"), store.Meta{}); err != nil {
		t.Fatal(err)
	}

	v, err := Build(ctx, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !v.UpToDate {
		t.Fatalf("clean project reported actions: %+v", v.Actions)
	}
	if v.ActiveEntries != 1 {
		t.Errorf("ActiveEntries = %d, want 1", v.ActiveEntries)
	}
}

func TestVerdictMissingExtractionIsInformational(t *testing.T) {
	ctx := context.Background()
	st := store.OpenMemory(t)

	v, err := Build(ctx, st, []reconcile.Divergence{{
		Key:        "3|SEFIP|2023-08|worker_count",
		Status:     reconcile.StatusMissingExtraction,
		SheetValue: "9",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !v.UpToDate {
		t.Fatalf("missing-in-extraction must not flip the verdict: %+v", v.Actions)
	}
	if len(v.Info) != 1 {
		t.Errorf("Info = %v, want one note", v.Info)
	}
}

func TestVerdictActionable(t *testing.T) {
	ctx := context.Background()
	st := store.OpenMemory(t)

	// Flagged record.
	rec := cleanRecord(3, "400")
	rec.Flags.NeedsManualReview = true
	if _, err := st.Upsert(ctx, rec, store.Meta{}); err != nil {
		t.Fatal(err)
	}
	// Pending OCR item.
	if err := st.EnqueueOCR(ctx, store.QueueItem{Path: "/scan.pdf", Provider: 3, Kind: constants.KindPayroll}); err != nil {
		t.Fatal(err)
	}

	v, err := Build(ctx, st, []reconcile.Divergence{{
		Key:       "3|NFSE|2023-08|total",
		Status:    reconcile.StatusValueMismatch,
		Extracted: "1.000,00", SheetValue: "900,00",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if v.UpToDate {
		t.Fatal("verdict must be action-needed")
	}
	kinds := make(map[string]int)
	for _, a := range v.Actions {
		kinds[a.Kind]++
	}
	if kinds["review"] != 1 || kinds["ocr"] != 1 || kinds["divergence"] != 1 {
		t.Errorf("action kinds = %v, want one each of review/ocr/divergence", kinds)
	}
}

func TestWrite(t *testing.T) {
	var b strings.Builder
	Write(&b, Verdict{UpToDate: true, ActiveEntries: 4})
	if !strings.Contains(b.String(), "up to date") {
		t.Errorf("output = %q", b.String())
	}

	b.Reset()
	Write(&b, Verdict{Actions: []Action{{Kind: "ocr", Detail: "2 pending"}}})
	out := b.String()
	if !strings.Contains(out, "action needed") || !strings.Contains(out, "[ocr] 2 pending") {
		t.Errorf("output = %q", out)
	}
}
