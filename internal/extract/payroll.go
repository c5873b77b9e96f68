package extract

import (
	"regexp"
	"strings"
)

var (
	reCat01Row     = regexp.MustCompile(`\b01\s+(\d+)\s+[\d.,]+`)
	reTotaisRow    = regexp.MustCompile(`TOTAIS:?\s*(\d+)`)
	reQtdTrab      = regexp.MustCompile(`Qtd\.?\s*Trabalhadores(?:\s+FGTS)?:?\s*(\d+)`)
	reGFDTableRow  = regexp.MustCompile(`(\d{2}/\d{4})\s+(\d+)\s+[\d.,]+\s`)
	reGFDLabelRow  = regexp.MustCompile(`(?s)Trabalhadores.*?\n.*?(\d{2}/\d{4})\s+(\d+)`)
	reTomadorSplit = regexp.MustCompile(`(?i)Tomador`)
)

// extractClassicPayroll reads the CAT 01 row of a SEFIP "RESUMO DO
// FECHAMENTO" block. The block of interest is the one attributed to our
// construction site: the page must contain the project CNO, never the
// employer-wide totals page.
func extractClassicPayroll(text string, ctx Context) RawFields {
	r := RawFields{Method: "sefip_classico"}
	r.Competence = payrollCompetence(text, ctx.Filename)

	for _, page := range strings.Split(text, "\f") {
		if !strings.Contains(cleanDigits(page), ctx.CNO) {
			continue
		}
		if !strings.Contains(page, "RESUMO DO FECHAMENTO") {
			continue
		}
		if m := reCat01Row.FindStringSubmatch(page); m != nil {
			r.WorkerCount = m[1]
			return r
		}
		if m := reTotaisRow.FindStringSubmatch(page); m != nil {
			r.WorkerCount = m[1]
			r.Method = "sefip_totais"
			return r
		}
	}

	// Wider pass: any page mentioning our CNO, CAT 01 row possibly on a
	// neighbouring page of a split table.
	pages := strings.Split(text, "\f")
	for i, page := range pages {
		if !strings.Contains(cleanDigits(page), ctx.CNO) {
			continue
		}
		lo, hi := i-1, i+2
		if lo < 0 {
			lo = 0
		}
		if hi > len(pages) {
			hi = len(pages)
		}
		combined := strings.Join(pages[lo:hi], "\n")
		if m := reCat01Row.FindStringSubmatch(combined); m != nil {
			r.WorkerCount = m[1]
			r.Method = "sefip_nearby"
			return r
		}
	}

	if !ctx.Provider.Overrides.NoWorkerCount {
		r.Missing = append(r.Missing, "worker_count")
	}
	return r
}

// extractFGTSGuide reads "Qtd. Trabalhadores" from a Detalhe/Relatório da
// Guia report. Guides aggregate several tenants; the count must come from
// the tomador section carrying our CNO, falling back to the global figure
// only when no section matches.
func extractFGTSGuide(text string, ctx Context) RawFields {
	r := RawFields{Method: "fgts_detalhe_tomador"}
	r.Competence = payrollCompetence(text, ctx.Filename)

	for _, section := range tomadorSections(text) {
		if !strings.Contains(cleanDigits(section), ctx.CNO) {
			continue
		}
		if m := reQtdTrab.FindStringSubmatch(section); m != nil {
			r.WorkerCount = m[1]
			return r
		}
	}

	if m := reQtdTrab.FindStringSubmatch(text); m != nil {
		r.WorkerCount = m[1]
		r.Method = "fgts_extrato"
		return r
	}

	if !ctx.Provider.Overrides.NoWorkerCount {
		r.Missing = append(r.Missing, "worker_count")
	}
	return r
}

// tomadorSections splits guide text into per-tenant chunks. The leading
// chunk (employer header) is kept too: single-tenant guides have no
// "Tomador" marker at all.
func tomadorSections(text string) []string {
	idx := reTomadorSplit.FindAllStringIndex(text, -1)
	if len(idx) == 0 {
		return []string{text}
	}
	var sections []string
	prev := 0
	for _, loc := range idx {
		if loc[0] > prev {
			sections = append(sections, text[prev:loc[0]])
		}
		prev = loc[0]
	}
	sections = append(sections, text[prev:])
	return sections
}

// extractFGTSDigital reads the competence table of a GFD guide:
// "MM/YYYY <workers> <amount>".
func extractFGTSDigital(text string, ctx Context) RawFields {
	r := RawFields{Method: "fgts_digital"}
	r.Competence = payrollCompetence(text, ctx.Filename)

	if m := reGFDTableRow.FindStringSubmatch(text); m != nil {
		if r.Competence == "" {
			r.Competence = m[1]
		}
		r.WorkerCount = m[2]
		return r
	}
	if m := reGFDLabelRow.FindStringSubmatch(text); m != nil {
		if r.Competence == "" {
			r.Competence = m[1]
		}
		r.WorkerCount = m[2]
		return r
	}

	if !ctx.Provider.Overrides.NoWorkerCount {
		r.Missing = append(r.Missing, "worker_count")
	}
	return r
}

// payrollCompetence: payroll reports print the competence as MM/YYYY; the
// folder-derived competence from ingest usually wins, this is the in-text
// fallback.
func payrollCompetence(text, filename string) string {
	if m := reCompetencia.FindStringSubmatch(text); m != nil {
		return m[1] + "/" + m[2]
	}
	if m := reGFDTableRow.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reFileComp.FindStringSubmatch(filename); m != nil {
		return m[1] + "/" + m[2]
	}
	return ""
}
