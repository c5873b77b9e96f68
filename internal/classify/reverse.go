package classify

import "strings"

// A 180°-rotated scan sometimes still carries a text layer, extracted
// back-to-front: lines bottom-up and characters right-to-left. Known header
// words read reversed give it away.
var reversedKeywords = []string{
	"serodahlabarT", // Trabalhadores
	"ehlateD",       // Detalhe
	"aiuG",          // Guia
	"rodagerpmE",    // Empregador
	"OTNEMAHCEF",    // FECHAMENTO
	"OMUSER",        // RESUMO
}

var normalKeywords = []string{
	"Trabalhadores", "Detalhe", "Guia", "Empregador", "FECHAMENTO", "RESUMO",
}

func looksReversed(text string) bool {
	var reversed, normal int
	for _, kw := range reversedKeywords {
		if strings.Contains(text, kw) {
			reversed++
		}
	}
	for _, kw := range normalKeywords {
		if strings.Contains(text, kw) {
			normal++
		}
	}
	return reversed > normal && reversed >= 2
}

// unreverse undoes the 180° extraction: reverses each line's runes and the
// line order, then collapses consecutive short fragments back into full
// lines so downstream anchors match again.
func unreverse(text string) string {
	lines := strings.Split(text, "\n")
	flipped := make([]string, len(lines))
	for i, line := range lines {
		runes := []rune(line)
		for a, b := 0, len(runes)-1; a < b; a, b = a+1, b-1 {
			runes[a], runes[b] = runes[b], runes[a]
		}
		flipped[len(lines)-1-i] = string(runes)
	}

	var collapsed []string
	current := ""
	for _, line := range flipped {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			if current != "" {
				collapsed = append(collapsed, current)
				current = ""
			}
			continue
		}
		if len(stripped) < 30 {
			if current != "" {
				current += " " + stripped
			} else {
				current = stripped
			}
		} else {
			if current != "" {
				collapsed = append(collapsed, current)
				current = ""
			}
			collapsed = append(collapsed, stripped)
		}
	}
	if current != "" {
		collapsed = append(collapsed, current)
	}
	return strings.Join(collapsed, "\n")
}
