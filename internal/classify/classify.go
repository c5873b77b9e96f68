// Package classify decides which known layout a document's text belongs to.
// Detection is an ordered table of (predicate, layout) rules evaluated
// first-match-wins, so supporting a new layout is one more table entry.
package classify

import (
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/constants"
)

// minTextLen is the threshold below which a text layer is considered absent.
// Scanned PDFs often carry a few stray watermark characters.
const minTextLen = 50

type rule struct {
	kind   constants.DocumentKind
	match  func(text, upper string) bool
	layout constants.Layout
}

func contains(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// rules are ordered: filtered-out anchors first (they short-circuit), then
// the mutually exclusive layout anchors per kind.
var rules = []rule{
	// Documents that share folders with payroll reports but are not reports:
	// payment slips, payslips, declarations. Matching any anchor excludes the
	// file from extraction entirely.
	{constants.KindPayroll, func(_, upper string) bool {
		return contains(upper,
			"HOLERITE", "BOLETO FGTS", "BOLETO DE FGTS", "DCTFWEB",
			"FOLHA DE PAGAMENTO", "FOLHA DE PONTO",
			"COMPROVANTE DE DECLARA", "PROTOCOLO DE ENVIO",
			"COMPENSAÇÃO INSS", "COMPENSACAO INSS",
			"RELATÓRIO ANALÍTICO DA GPS", "RELATORIO ANALITICO DA GPS")
	}, constants.LayoutFilteredOut},

	// Payroll layouts. The digital guide must win over the guide-detail
	// anchors: GFD pages also mention "Guia".
	{constants.KindPayroll, func(text, _ string) bool {
		return contains(text, "Guia do FGTS Digital", "GFD")
	}, constants.LayoutFGTSDigital},
	{constants.KindPayroll, func(text, _ string) bool {
		return contains(text, "Detalhe da Guia", "Relatório da Guia")
	}, constants.LayoutFGTSGuide},
	{constants.KindPayroll, func(text, _ string) bool {
		return strings.Contains(text, "RESUMO DO FECHAMENTO")
	}, constants.LayoutClassicPayroll},

	// Invoice layouts. "Data Fato Gerador" only appears on the surveillance
	// municipality template; the inline total marks the legacy template.
	{constants.KindInvoice, func(text, _ string) bool {
		return strings.Contains(text, "Data Fato Gerador")
	}, constants.LayoutSecurityInvoice},
	{constants.KindInvoice, func(_, upper string) bool {
		return contains(upper, "VALOR TOTAL DO SERVIÇO R$", "VALOR TOTAL DO SERVICO R$")
	}, constants.LayoutInlineInvoice},
	{constants.KindInvoice, func(_, upper string) bool {
		for _, line := range strings.Split(upper, "\n") {
			if strings.Contains(line, "VALOR SERVI") && strings.Contains(line, "ISS") {
				return true
			}
		}
		return false
	}, constants.LayoutStandardInvoice},
}

// Classify maps a document's text layer to a layout tag. The empty (or
// near-empty) text layer always classifies as OCR-required regardless of the
// rule table; a text layer printed upside-down is un-reversed first.
func Classify(kind constants.DocumentKind, text string) (constants.Layout, string) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minTextLen {
		return constants.LayoutOCRRequired, text
	}
	if looksReversed(text) {
		text = unreverse(text)
	}
	upper := strings.ToUpper(text)
	for _, r := range rules {
		if r.kind == kind && r.match(text, upper) {
			return r.layout, text
		}
	}
	return constants.LayoutUnrecognized, text
}
