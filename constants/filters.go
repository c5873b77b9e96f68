package constants

import "strings"

// NonPayrollKeywords mark files that live in the payroll folders but are not
// SEFIP/FGTS reports (payment slips, payslips, tax notices). Matching is
// against the uppercased filename.
var NonPayrollKeywords = []string{
	"BOLETO FGTS", "BOLETO DE FGTS",
	"CRÉDITO INSS", "CREDITO INSS",
	"COMPENSAÇÃO INSS", "COMPENSACAO INSS",
	"DCTFWEB",
	"FOLHA DE PAGAMENTO", "FOLHA PAGAMENTO",
	"FOLHA DE PONTO",
	"GUIA DO FGTS",
	"HOLERITE",
	"COMPROVANTE DE DECLARAÇÃO", "COMPROVANTE DE DECLARACAO",
	"COMPROVANTE DE PIX", "PIX REALIZADO",
	"PROTOCOLO DE ENVIO",
	"PARCELAMENTO",
	"RELATÓRIO ANALÍTICO DA GPS", "RELATORIO ANALITICO DA GPS",
}

// PayrollPriorityKeywords order candidate payroll PDFs within a competence
// folder, best first.
var PayrollPriorityKeywords = []string{
	"relatorio re", "relatório re",
	"re.pdf",
	"sefip completa extrato fgts", "sefip completa relatorio fgts",
	"relatorio fgts",
	"sefip completa", "sefip comp",
	"sefip", "sefipe",
	"fgts",
}

// PayrollNameKeywords accept a filename as a payroll-report candidate at all.
var PayrollNameKeywords = []string{
	"sefip", "sefipe", "re.pdf", "relatorio re", "relatório re",
	"fgts", "relatorio fgts",
}

// InvoiceNameKeywords accept loose files in a provider root as invoices.
var InvoiceNameKeywords = []string{"nf", "nfse", "nota fiscal"}

// IsInvoiceName reports whether the filename looks like an invoice. Loose
// PDFs in a provider root are only taken when they match, contracts and
// receipts live there too.
func IsInvoiceName(filename string) bool {
	lower := strings.ToLower(filename)
	for _, kw := range InvoiceNameKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsNonPayroll reports whether the filename identifies a known non-payroll
// document that must be excluded from extraction.
func IsNonPayroll(filename string) bool {
	upper := strings.ToUpper(filename)
	for _, kw := range NonPayrollKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}
