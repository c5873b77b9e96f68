package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EloiBiesek/fiscal-tracker/constants"
)

// stubRunner fakes pdftoppm and tesseract: pdftoppm "renders" by writing
// empty PNG files next to the requested prefix, tesseract returns canned
// text per page.
type stubRunner struct {
	pages    int
	pageText string
	tsv      string
}

func (s stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= s.pages; i++ {
			if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), []byte("png"), 0o644); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		if args[len(args)-1] == "tsv" {
			return []byte(s.tsv), nil, nil
		}
		return []byte(s.pageText), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %q", name)
}

func TestExtractJoinsPagesWithFormFeed(t *testing.T) {
	engine := NewEngine(Config{}, stubRunner{
		pages:    2,
		pageText: "RESUMO DO FECHAMENTO\nFGTS Competência Trabalhadores Guia",
	}, nil)

	res, err := engine.Extract(context.Background(), "in.pdf", constants.KindPayroll)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pages != 2 {
		t.Errorf("pages = %d, want 2", res.Pages)
	}
	if strings.Count(res.Text, "\f") != 1 {
		t.Errorf("want one form feed between 2 pages, got %q", res.Text)
	}
	if res.Rotated {
		t.Error("keyword-rich upright pass must not trigger the rotation retry")
	}
}

func TestExtractConfidenceFromTSV(t *testing.T) {
	tsv := "level\tpage\tblock\tpar\tline\tword\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tFGTS\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t70\tGuia\n"
	engine := NewEngine(Config{}, stubRunner{
		pages:    1,
		pageText: "FGTS Guia Competência Trabalhadores Resumo Fechamento",
		tsv:      tsv,
	}, nil)

	res, err := engine.Extract(context.Background(), "in.pdf", constants.KindPayroll)
	if err != nil {
		t.Fatal(err)
	}
	// TSV mean is 0.8; the blend weights it at 0.7 plus heuristic at 0.3.
	if res.Confidence < 0.7 || res.Confidence > 1.0 {
		t.Errorf("confidence = %v, want blended around 0.8", res.Confidence)
	}
}

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		text string
		kind constants.DocumentKind
		min  int
	}{
		{"RESUMO DO FECHAMENTO FGTS Trabalhadores", constants.KindPayroll, 3},
		{"NOTA FISCAL DE SERVIÇO VALOR ISS", constants.KindInvoice, 4},
		{"zzqx wvut gibberish", constants.KindPayroll, 0},
	}
	for _, tt := range tests {
		got := keywordScore(tt.text, tt.kind)
		if got < tt.min {
			t.Errorf("keywordScore(%q) = %d, want >= %d", tt.text, got, tt.min)
		}
	}
	if keywordScore("zzqx wvut", constants.KindPayroll) != 0 {
		t.Error("gibberish must score zero")
	}
}

func TestHeuristicConfidence(t *testing.T) {
	clean := heuristicConfidence("Detalhe da Guia Competência 08/2023")
	noisy := heuristicConfidence("@#¬|&*@#~^ ]][[ çç@#&*")
	if clean <= noisy {
		t.Errorf("clean %v must beat noisy %v", clean, noisy)
	}
	if heuristicConfidence("") != 0 {
		t.Error("empty text must have zero confidence")
	}
}

func TestNormalizeKeepsLineStructure(t *testing.T) {
	in := "linha um\r\n\r\n\r\n\r\nlinha dois\t\ttabulada   \n____\nfim"
	out := Normalize(in)
	if strings.Contains(out, "\r") || strings.Contains(out, "\t") {
		t.Errorf("CR/tab survived: %q", out)
	}
	if strings.Contains(out, "____") {
		t.Errorf("box noise survived: %q", out)
	}
	if !strings.Contains(out, "linha um") || !strings.Contains(out, "linha dois") {
		t.Errorf("content lost: %q", out)
	}
}

// orientationStub serves different tesseract text depending on which PDF was
// last rasterized, so the rotation retry can be exercised without pdfcpu.
type orientationStub struct {
	uprightText string
	rotatedText string
	current     string
}

func (s *orientationStub) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdftoppm":
		s.current = filepath.Base(args[len(args)-2])
		prefix := args[len(args)-1]
		return nil, nil, os.WriteFile(prefix+"-1.png", []byte("png"), 0o644)
	case "tesseract":
		if args[len(args)-1] == "tsv" {
			return nil, nil, nil
		}
		if s.current == "rotated.pdf" {
			return []byte(s.rotatedText), nil, nil
		}
		return []byte(s.uprightText), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %q", name)
}

func stubRotation(e *Engine) {
	e.rotate = func(in, out string) error {
		return os.WriteFile(out, []byte("%PDF"), 0o644)
	}
}

func TestExtractRetriesUpsideDownScan(t *testing.T) {
	stub := &orientationStub{
		uprightText: "svm ldjs oa]p sowz qrtk",
		rotatedText: "RESUMO DO FECHAMENTO\nFGTS Competência Trabalhadores Guia Tomador",
	}
	engine := NewEngine(Config{}, stub, nil)
	stubRotation(engine)

	res, err := engine.Extract(context.Background(), "in.pdf", constants.KindPayroll)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rotated {
		t.Fatal("gibberish upright pass must fall back to the rotated copy")
	}
	if !strings.Contains(res.Text, "FECHAMENTO") {
		t.Errorf("text = %q, want the rotated pass output", res.Text)
	}
}

func TestExtractTieKeepsUpright(t *testing.T) {
	// One keyword each: both passes score below the retry threshold and
	// equal to each other.
	stub := &orientationStub{
		uprightText: "GUIA xxANORt uprgt",
		rotatedText: "GUIA zzvwq rotd",
	}
	engine := NewEngine(Config{}, stub, nil)
	stubRotation(engine)

	res, err := engine.Extract(context.Background(), "in.pdf", constants.KindPayroll)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rotated {
		t.Fatal("equal scores must keep the upright pass")
	}
	if !strings.Contains(res.Text, "uprgt") {
		t.Errorf("text = %q, want the upright pass output", res.Text)
	}
}
