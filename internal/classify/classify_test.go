package classify

import (
	"strings"
	"testing"

	"github.com/EloiBiesek/fiscal-tracker/constants"
)

const padding = "relatório emitido pelo sistema em conformidade com a legislação vigente\n"

func TestClassifyPayroll(t *testing.T) {
	tests := []struct {
		name string
		text string
		want constants.Layout
	}{
		{"classic sefip", padding + "RESUMO DO FECHAMENTO - EMPRESA\nMODALIDADE", constants.LayoutClassicPayroll},
		{"fgts guide detail", padding + "Detalhe da Guia\nEmpregador: ACME LTDA", constants.LayoutFGTSGuide},
		{"fgts guide report", padding + "Relatório da Guia\nEmpregador: ACME", constants.LayoutFGTSGuide},
		{"fgts digital", padding + "Guia do FGTS Digital\nCompetência 08/2023", constants.LayoutFGTSDigital},
		{"digital wins over guide", padding + "Detalhe da Guia\nGuia do FGTS Digital", constants.LayoutFGTSDigital},
		{"payslip filtered", padding + "HOLERITE MENSAL\nFuncionário: José", constants.LayoutFilteredOut},
		{"dctfweb filtered", padding + "DCTFWEB - RECIBO DE ENTREGA", constants.LayoutFilteredOut},
		{"unknown", padding + "qualquer outro documento sem âncoras", constants.LayoutUnrecognized},
		{"empty is ocr", "", constants.LayoutOCRRequired},
		{"near empty is ocr", "  x  ", constants.LayoutOCRRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(constants.KindPayroll, tt.text)
			if got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyInvoice(t *testing.T) {
	tests := []struct {
		name string
		text string
		want constants.Layout
	}{
		{"standard", padding + "VALOR SERVIÇO (R$)   ISS (R$)\n1.000,00   50,00", constants.LayoutStandardInvoice},
		{"inline", padding + "VALOR TOTAL DO SERVIÇO R$ 2.500,00", constants.LayoutInlineInvoice},
		{"security", padding + "Data Fato Gerador: 15/08/2023", constants.LayoutSecurityInvoice},
		{"unknown", padding + "documento de texto sem os cabeçalhos esperados", constants.LayoutUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(constants.KindInvoice, tt.text)
			if got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyKindsDoNotCross(t *testing.T) {
	// A payroll anchor inside an invoice batch must not classify.
	got, _ := Classify(constants.KindInvoice, padding+"RESUMO DO FECHAMENTO")
	if got != constants.LayoutUnrecognized {
		t.Errorf("payroll anchor under invoice kind = %s, want UNRECOGNIZED", got)
	}
}

func reverseForTest(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		runes := []rune(line)
		for a, b := 0, len(runes)-1; a < b; a, b = a+1, b-1 {
			runes[a], runes[b] = runes[b], runes[a]
		}
		out[len(lines)-1-i] = string(runes)
	}
	return strings.Join(out, "\n")
}

func TestClassifyReversedText(t *testing.T) {
	original := "Detalhe da Guia\n" +
		"Empregador: ACME CONSTRUÇÕES LTDA E SERVIÇOS GERAIS\n" +
		"Qtd. Trabalhadores: 14 conforme o resumo geral da guia emitida"
	reversed := reverseForTest(original)
	if !looksReversed(reversed) {
		t.Fatal("reversed sample not detected")
	}

	got, text := Classify(constants.KindPayroll, reversed)
	if got != constants.LayoutFGTSGuide {
		t.Fatalf("Classify(reversed) = %s, want FGTS_GUIDE", got)
	}
	if !strings.Contains(text, "Trabalhadores: 14") {
		t.Errorf("returned text not unreversed:\n%s", text)
	}
}

func TestLooksReversedNeedsTwoHits(t *testing.T) {
	if looksReversed("aiuG only one reversed keyword in otherwise normal text") {
		t.Error("a single reversed keyword must not trigger unreversal")
	}
	if looksReversed("Detalhe da Guia do Empregador") {
		t.Error("normal text misdetected as reversed")
	}
}
