// Package normalize converts the raw string fields pulled by the extractor
// into canonical typed values and computes the stable identity key that the
// state store dedups on.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
)

// Flags mark a record for human attention without failing the batch.
type Flags struct {
	NeedsManualReview bool
	MissingFields     []string
	SuspiciousZero    bool // OCR-sourced worker count of zero
}

// Record is the normalized output of one document.
type Record struct {
	IdentityKey string
	Provider    int
	Kind        constants.DocumentKind
	Competence  config.Competence

	DocNumber   string // normalized invoice number, empty for payroll
	TotalCents  int64
	INSSCents   int64
	ISSCents    int64
	ISSRate     float64
	WorkerCount int

	Source constants.Source
	Method string // which extraction rule matched, for audit
	Flags  Flags

	// SupersedesDoc carries the "substitui NF nnn" marker: the normalized
	// number of the invoice this document replaces.
	SupersedesDoc string
}

// reBRNumber matches Brazilian-formatted numbers: 1.234.567,89
var reBRNumber = regexp.MustCompile(`^\d{1,3}(\.\d{3})*(,\d+)?$|^\d+(,\d+)?$`)

// ParseBRMoney parses a Brazilian-formatted monetary amount into cents.
// "130.398,00" -> 13039800. More than two decimal digits are truncated.
func ParseBRMoney(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" || !reBRNumber.MatchString(s) {
		return 0, fmt.Errorf("not a monetary amount: %q", s)
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, ','); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	intPart = strings.ReplaceAll(intPart, ".", "")
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if len(fracPart) > 2 {
		fracPart = fracPart[:2]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return whole*100 + frac, nil
}

// ParseRate parses a percentage token ("2,00" or "11") and reports whether it
// falls inside the valid 0-100 range. Out-of-range values are returned as-is
// with ok=false so the caller can flag the record instead of rejecting it.
func ParseRate(s string) (rate float64, ok bool, err error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
	v, perr := strconv.ParseFloat(s, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("not a rate: %q", s)
	}
	return v, v >= 0 && v <= 100, nil
}

var (
	reCompSlash = regexp.MustCompile(`^(\d{1,2})\s*[/\-.]\s*(\d{4})$`)
	reCompISO   = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
)

// ParseCompetence parses a competence token: "08/2023", "8-2023", "08.2023",
// or the canonical "2023-08".
func ParseCompetence(s string) (config.Competence, error) {
	s = strings.TrimSpace(s)
	if m := reCompSlash.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		return checkCompetence(year, month)
	}
	if m := reCompISO.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		return checkCompetence(year, month)
	}
	return config.Competence{}, fmt.Errorf("not a competence token: %q", s)
}

func checkCompetence(year, month int) (config.Competence, error) {
	if month < 1 || month > 12 {
		return config.Competence{}, fmt.Errorf("competence month %d out of range", month)
	}
	if year < 2000 || year > 2100 {
		return config.Competence{}, fmt.Errorf("competence year %d out of range", year)
	}
	return config.Competence{Year: year, Month: month}, nil
}

var reDocSep = regexp.MustCompile(`[.\-/\s]`)

// NormalizeDocNumber strips leading zeros, formatting separators, and a
// trailing check-digit segment ("1234-5" -> "1234").
func NormalizeDocNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Drop a short trailing segment after the last dash: check digits.
	if i := strings.LastIndexByte(s, '-'); i > 0 && len(s)-i-1 <= 2 {
		s = s[:i]
	}
	s = reDocSep.ReplaceAllString(s, "")
	s = strings.TrimLeft(s, "0")
	return s
}

// IdentityKey derives the stable per-document key, a pure function of its
// inputs so reprocessing order cannot change it. Payroll reports carry no
// number and hold one fact per provider and month, so a corrected re-filing
// collides with the entry it replaces. Unnumbered documents of other kinds
// key on content.
func IdentityKey(provider int, kind constants.DocumentKind, docNumber string, comp config.Competence, text string) string {
	discriminator := docNumber
	if discriminator == "" {
		if kind == constants.KindPayroll {
			discriminator = "folha"
		} else {
			sum := sha256.Sum256([]byte(text))
			discriminator = hex.EncodeToString(sum[:])[:16]
		}
	}
	return fmt.Sprintf("%d|%s|%s|%s", provider, kind, discriminator, comp)
}

// ContentHash fingerprints raw document text for change detection.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two records carry the same normalized facts. The
// store's upsert treats equal records as a no-op re-run.
func (r Record) Equal(o Record) bool {
	return r.IdentityKey == o.IdentityKey &&
		r.DocNumber == o.DocNumber &&
		r.TotalCents == o.TotalCents &&
		r.INSSCents == o.INSSCents &&
		r.ISSCents == o.ISSCents &&
		r.ISSRate == o.ISSRate &&
		r.WorkerCount == o.WorkerCount &&
		r.Competence == o.Competence
}
