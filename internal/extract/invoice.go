package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// maxNFNumber rejects stray long digit runs (CNPJ fragments, barcode digits)
// picked up while hunting for the invoice number.
const maxNFNumber = 100000

var (
	reLineTailNumber = regexp.MustCompile(`(\d+)\s*$`)
	reNotaNumber     = regexp.MustCompile(`(?i)N[úu]mero\s+da\s+Nota\s*\n\s*0*(\d+)`)
	reFileNF         = regexp.MustCompile(`(?i)(?:NFSE?|NF)\s*(\d+)`)
	reCompetencia    = regexp.MustCompile(`(?i)Compet[êe]ncia[:\s]*(\d{1,2})[/\-](\d{4})`)
	rePeriodo        = regexp.MustCompile(`(?i)Per[íi]odo[:\s]*(\d{1,2})[/\-](\d{4})`)
	reMesComp        = regexp.MustCompile(`(?i)(?:MES|MÊS|COMP|COMPETENCIA)\s*(\d{1,2})\s*[-/]\s*(\d{4})`)
	reReferente      = regexp.MustCompile(`(?i)referente.*?(\d{1,2})\s*[-/]\s*(\d{4})`)
	reFileComp       = regexp.MustCompile(`(?i)(?:COMP\s*)?(\d{1,2})\s*-\s*(\d{4})`)
	reInlineTotal    = regexp.MustCompile(`(?i)VALOR\s+TOTAL\s+(?:DO\s+)?SERVI[CÇ]O\s+R\$\s*([\d]+(?:\.[\d]{3})*(?:,[\d]+)?)`)
	reInlineINSS     = regexp.MustCompile(`INSS\s*\(R\$\)\s*\n\s*([\d]+(?:\.[\d]{3})*(?:,[\d]+)?)`)
	reDateDMY        = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	reAliquotaISS    = regexp.MustCompile(`(?i)AL[ÍI]QUOTA.*?ISS`)
	reDecimalToken   = regexp.MustCompile(`[\d]+(?:\.[\d]{3})*,\d{2}`)
)

// docNumber hunts for the invoice number across the known templates, then
// falls back to the filename.
func docNumber(text, filename string) (string, string) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.Contains(line, "Tipo de Recolhimento") || strings.Contains(line, "Local de Recolhimento") {
			if n, ok := tailNumber(line); ok {
				return n, "recolhimento_line"
			}
		}
		if strings.Contains(line, "Nº da Nota Fiscal") || strings.Contains(line, "N° da Nota Fiscal") {
			if n, ok := tailNumber(line); ok {
				return n, "nf_label_line"
			}
			for j := i + 1; j < len(lines) && j <= i+2; j++ {
				if n, ok := tailNumber(lines[j]); ok {
					return n, "nf_label_next"
				}
			}
		}
	}
	if m := reNotaNumber.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n < maxNFNumber {
			return m[1], "numero_da_nota"
		}
	}
	if m := reFileNF.FindStringSubmatch(filename); m != nil {
		return m[1], "filename"
	}
	return "", ""
}

func tailNumber(line string) (string, bool) {
	m := reLineTailNumber.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n >= maxNFNumber {
		return "", false
	}
	return m[1], true
}

// competence resolves the competence token in priority order: explicit
// Competência field, Período, MES/COMP in the description, "referente",
// then the filename.
func competence(text, filename string) string {
	for _, re := range []*regexp.Regexp{reCompetencia, rePeriodo, reMesComp, reReferente} {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1] + "/" + m[2]
		}
	}
	if m := reFileComp.FindStringSubmatch(filename); m != nil {
		return m[1] + "/" + m[2]
	}
	return ""
}

func (r *RawFields) require(name, value string) {
	if value == "" {
		r.Missing = append(r.Missing, name)
	}
}

// extractStandardInvoice handles the common municipal template: a
// "VALOR SERVIÇO ... ISS" header line with the amounts on the next line, and
// a "PIS COFINS INSS IR" column run where INSS is the third value.
func extractStandardInvoice(text string, ctx Context) RawFields {
	r := RawFields{Method: "standard_invoice"}
	r.DocNumber, _ = docNumber(text, ctx.Filename)
	r.Competence = competence(text, ctx.Filename)
	r.SupersedesDoc = supersedeMarker(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "VALOR SERVI") && strings.Contains(upper, "ISS") && i+1 < len(lines) {
			numbers := findNumbers(lines[i+1])
			if len(numbers) > 0 {
				r.Total = numbers[0]
			}
			if len(numbers) >= 2 {
				r.ISS = numbers[len(numbers)-1]
			}
			break
		}
	}

	r.INSS = invoiceINSS(text, ctx)
	r.require("doc_number", r.DocNumber)
	r.require("competence", r.Competence)
	r.require("total", r.Total)
	return r
}

// extractInlineInvoice handles the legacy template where the total is
// printed inline and the ISS sits in a Deduções/Base/Alíquota/ISSQN column
// run (4th value).
func extractInlineInvoice(text string, ctx Context) RawFields {
	r := RawFields{Method: "inline_invoice"}
	r.DocNumber, _ = docNumber(text, ctx.Filename)
	r.Competence = competence(text, ctx.Filename)
	r.SupersedesDoc = supersedeMarker(text)

	if m := reInlineTotal.FindStringSubmatch(text); m != nil {
		r.Total = m[1]
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "Valor do ISS") && !strings.Contains(line, "Valor do ISSQN") {
			continue
		}
		multiCol := strings.Contains(line, "Dedu") || strings.Contains(line, "Base de")
		if i+1 < len(lines) {
			numbers := findNumbers(lines[i+1])
			if multiCol && len(numbers) >= 4 {
				r.ISS = numbers[3]
				if len(numbers) >= 3 {
					r.ISSRate = numbers[2]
				}
				break
			}
			if len(numbers) > 0 {
				r.ISS = numbers[0]
				break
			}
		}
		if !multiCol {
			if numbers := reDecimalToken.FindAllString(line, -1); len(numbers) > 0 {
				r.ISS = numbers[len(numbers)-1]
				break
			}
		}
	}

	if r.INSS = invoiceINSS(text, ctx); r.INSS == "" {
		if m := reInlineINSS.FindStringSubmatch(text); m != nil {
			r.INSS = m[1]
		}
	}

	r.require("doc_number", r.DocNumber)
	r.require("competence", r.Competence)
	r.require("total", r.Total)
	return r
}

// extractSecurityInvoice handles surveillance-service notes: competence from
// "Data Fato Gerador" (same or next line), ISS from the value run after the
// alíquota header. INSS is structurally absent; the provider override fixes
// it rather than extraction.
func extractSecurityInvoice(text string, ctx Context) RawFields {
	r := RawFields{Method: "security_invoice"}
	r.DocNumber, _ = docNumber(text, ctx.Filename)
	r.SupersedesDoc = supersedeMarker(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "Data Fato Gerador") {
			continue
		}
		m := reDateDMY.FindStringSubmatch(line)
		if m == nil && i+1 < len(lines) {
			m = reDateDMY.FindStringSubmatch(lines[i+1])
		}
		if m != nil {
			r.Competence = m[2] + "/" + m[3]
		}
		break
	}
	if r.Competence == "" {
		r.Competence = competence(text, ctx.Filename)
	}

	if m := reInlineTotal.FindStringSubmatch(text); m != nil {
		r.Total = m[1]
	} else {
		for i, line := range lines {
			upper := strings.ToUpper(line)
			if strings.Contains(upper, "VALOR SERVI") && strings.Contains(upper, "ISS") && i+1 < len(lines) {
				if numbers := findNumbers(lines[i+1]); len(numbers) > 0 {
					r.Total = numbers[0]
				}
				break
			}
		}
	}

	if loc := reAliquotaISS.FindStringIndex(text); loc != nil {
		after := text[loc[1]:]
		if len(after) > 200 {
			after = after[:200]
		}
		if numbers := reDecimalToken.FindAllString(after, -1); len(numbers) > 0 {
			r.ISS = numbers[len(numbers)-1]
		}
	}

	r.require("doc_number", r.DocNumber)
	r.require("competence", r.Competence)
	r.require("total", r.Total)
	return r
}

// invoiceINSS reads the INSS withholding from a "PIS COFINS INSS IR" column
// run (3rd value) or a single-column INSS line. Provider overrides replace
// it downstream in the normalizer.
func invoiceINSS(text string, _ Context) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "INSS (R$)") || !strings.Contains(line, "IR (R$)") {
			continue
		}
		multiCol := strings.Contains(line, "PIS") || strings.Contains(line, "COFINS")
		if i+1 < len(lines) {
			numbers := findNumbers(lines[i+1])
			if multiCol && len(numbers) >= 3 {
				return numbers[2]
			}
			if len(numbers) > 0 {
				return numbers[0]
			}
		}
		return ""
	}
	return ""
}
