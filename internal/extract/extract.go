// Package extract pulls raw field values out of classified document text.
// One strategy per layout; every strategy is a pure function from text to
// raw string fields, so the normalizer owns all type conversion.
package extract

import (
	"regexp"
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
)

// Context carries the project facts a strategy may need: the registration
// number used to pick our tenant row out of multi-tenant tables, and the
// provider's override rules.
type Context struct {
	CNO      string // 12 digits
	Provider config.Provider
	Filename string
}

// RawFields is a strategy's output: untyped tokens exactly as printed, plus
// the names of required fields that could not be located.
type RawFields struct {
	DocNumber     string
	Competence    string // e.g. "08/2023"
	Total         string // BR-formatted amount
	INSS          string
	ISS           string
	ISSRate       string
	WorkerCount   string
	SupersedesDoc string
	Method        string // which rule produced the values, kept for audit
	Missing       []string
}

// Strategy extracts raw fields from one document's text.
type Strategy func(text string, ctx Context) RawFields

// For returns the extraction strategy for a layout. Layouts without a
// strategy (ocr-required, filtered-out, unrecognized) return false.
func For(layout constants.Layout) (Strategy, bool) {
	s, ok := strategies[layout]
	return s, ok
}

var strategies = map[constants.Layout]Strategy{
	constants.LayoutStandardInvoice: extractStandardInvoice,
	constants.LayoutInlineInvoice:   extractInlineInvoice,
	constants.LayoutSecurityInvoice: extractSecurityInvoice,
	constants.LayoutClassicPayroll:  extractClassicPayroll,
	constants.LayoutFGTSGuide:       extractFGTSGuide,
	constants.LayoutFGTSDigital:     extractFGTSDigital,
}

var reNonDigit = regexp.MustCompile(`[^0-9]`)

// cleanDigits strips everything but digits, used to match the CNO against
// text where it appears formatted ("90.015.22526/72").
func cleanDigits(s string) string {
	return reNonDigit.ReplaceAllString(s, "")
}

// brNumbers finds all BR-formatted numeric tokens in a line.
var brNumbers = regexp.MustCompile(`[\d]+(?:\.[\d]{3})*(?:,[\d]+)?`)

func findNumbers(line string) []string {
	return brNumbers.FindAllString(line, -1)
}

var reSupersede = regexp.MustCompile(`(?i)substitui.*?N[Fº°]\s*[ºª]?\s*0*(\d+)`)

// supersedeMarker finds the "substitui NF nnn" note some corrected invoices
// carry in their description.
func supersedeMarker(text string) string {
	if m := reSupersede.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func hasLine(text string, f func(line string) bool) (string, int, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if f(line) {
			return line, i, true
		}
	}
	return "", 0, false
}
