package normalize

import (
	"strconv"
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/extract"
)

// Input bundles everything Build needs to turn raw extractor strings into a
// Record: the raw fields, where they came from, and the folder-derived
// competence used when the document itself carries none.
type Input struct {
	Provider   config.Provider
	Kind       constants.DocumentKind
	Source     constants.Source
	Raw        extract.RawFields
	FolderComp config.Competence
	Text       string
}

// Build normalizes the raw fields, applies per-provider overrides, and
// derives the identity key. Parse failures and missing fields flag the
// record for manual review instead of failing the batch.
func Build(in Input) Record {
	rec := Record{
		Provider: in.Provider.Num,
		Kind:     in.Kind,
		Source:   in.Source,
		Method:   in.Raw.Method,
	}
	rec.Flags.MissingFields = append(rec.Flags.MissingFields, in.Raw.Missing...)

	rec.Competence = in.FolderComp
	if in.Raw.Competence != "" {
		if c, err := ParseCompetence(in.Raw.Competence); err == nil {
			rec.Competence = c
		}
	}
	if rec.Competence == (config.Competence{}) {
		addMissing(&rec, "competence")
	}

	if in.Kind == constants.KindInvoice {
		buildInvoice(&rec, in)
	} else {
		buildPayroll(&rec, in)
	}

	rec.IdentityKey = IdentityKey(in.Provider.Num, in.Kind, rec.DocNumber, rec.Competence, in.Text)
	if len(rec.Flags.MissingFields) > 0 {
		rec.Flags.NeedsManualReview = true
	}
	return rec
}

func buildInvoice(rec *Record, in Input) {
	ov := in.Provider.Overrides

	rec.DocNumber = NormalizeDocNumber(in.Raw.DocNumber)
	rec.SupersedesDoc = NormalizeDocNumber(in.Raw.SupersedesDoc)
	if rec.DocNumber == "" {
		addMissing(rec, "doc_number")
	}

	rec.TotalCents = money(rec, "total", in.Raw.Total)

	if ov.FixedINSSCents != nil {
		rec.INSSCents = *ov.FixedINSSCents
	} else if in.Raw.INSS != "" {
		rec.INSSCents = money(rec, "inss", in.Raw.INSS)
	}

	if in.Raw.ISS != "" {
		rec.ISSCents = money(rec, "iss", in.Raw.ISS)
	}

	if ov.FixedISSRate != nil {
		rec.ISSRate = *ov.FixedISSRate
	} else if in.Raw.ISSRate != "" {
		rate, ok, err := ParseRate(in.Raw.ISSRate)
		if err != nil || !ok {
			rec.Flags.NeedsManualReview = true
		}
		if err == nil {
			rec.ISSRate = rate
		}
	}
}

func buildPayroll(rec *Record, in Input) {
	if in.Provider.Overrides.NoWorkerCount {
		return
	}
	n, ok := atoi(in.Raw.WorkerCount)
	if !ok {
		addMissing(rec, "worker_count")
		return
	}
	rec.WorkerCount = n
	// OCR reading zero workers usually means tesseract dropped the digit.
	if n == 0 && in.Source == constants.SourceOCR {
		rec.Flags.SuspiciousZero = true
		rec.Flags.NeedsManualReview = true
	}
}

func money(rec *Record, field, s string) int64 {
	if s == "" {
		return 0
	}
	v, err := ParseBRMoney(s)
	if err != nil {
		addMissing(rec, field)
		return 0
	}
	return v
}

// addMissing records a missing field once; the extractor may already have
// reported it.
func addMissing(rec *Record, field string) {
	for _, f := range rec.Flags.MissingFields {
		if f == field {
			return
		}
	}
	rec.Flags.MissingFields = append(rec.Flags.MissingFields, field)
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil && s != ""
}
