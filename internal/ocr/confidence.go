package ocr

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/constants"
)

// An upright pass scoring below this many kind keywords triggers the
// 180-degree rotation retry.
const rotationRetryThreshold = 2

var payrollKeywords = []string{
	"TRABALHADORES", "FGTS", "COMPET", "RESUMO", "FECHAMENTO", "GUIA", "TOMADOR",
}

var invoiceKeywords = []string{
	"NOTA", "FISCAL", "SERVI", "ISS", "VALOR", "CNPJ", "PRESTADOR",
}

// keywordScore counts how many of the kind's anchor keywords appear in the
// text. Upside-down scans read as gibberish and score near zero.
func keywordScore(text string, kind constants.DocumentKind) int {
	upper := strings.ToUpper(text)
	keywords := invoiceKeywords
	if kind == constants.KindPayroll {
		keywords = payrollKeywords
	}
	score := 0
	for _, kw := range keywords {
		if strings.Contains(upper, kw) {
			score++
		}
	}
	return score
}

// heuristicConfidence estimates text quality from character composition:
// mostly letters, digits and punctuation reads as a clean scan.
func heuristicConfidence(text string) float32 {
	if text == "" {
		return 0
	}
	var clean, total int
	for _, r := range text {
		total++
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			clean++
		case r == ' ' || r == '\n' || r == '\f' || r == '.' || r == ',' ||
			r == '/' || r == '-' || r == ':' || r == '$' || r == '%' || r == '(' || r == ')':
			clean++
		case r > 127: // accented Portuguese letters
			clean++
		}
	}
	return float32(clean) / float32(total)
}

// blendConfidence weights the tesseract TSV mean higher when it is present.
func blendConfidence(tsv, heuristic float32) float32 {
	var conf float32
	if tsv > 0 {
		conf = 0.7*tsv + 0.3*heuristic
	} else {
		conf = heuristic
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns the mean
// word confidence scaled to 0..1.
func (e *Engine) tesseractTSVConfidence(ctx context.Context, img string) (float32, error) {
	args := []string{img, "stdout", "-l", e.cfg.Lang, "tsv"}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract tsv: %s: %w", strings.TrimSpace(string(errb)), err)
	}
	lines := strings.Split(string(out), "\n")
	var sum, n float64
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue // header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[len(cols)-1]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float32(sum / n / 100.0), nil
}

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reBoxNoise   = regexp.MustCompile(`(?m)^\s*[_\-]{3,}\s*$`)
)

// Normalize collapses noisy whitespace and strips box-drawing noise lines.
// Conservative: keeps line breaks, the extractors key on line structure.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reBoxNoise.ReplaceAllString(s, "")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
