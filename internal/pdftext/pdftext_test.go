package pdftext

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/EloiBiesek/fiscal-tracker/internal/common"
)

type stubRunner struct {
	out []byte
	err error
}

func (s stubRunner) Run(context.Context, string, ...string) ([]byte, []byte, error) {
	return s.out, nil, s.err
}

func TestText(t *testing.T) {
	e := NewExtractor(Config{}, stubRunner{out: []byte("página um\fpágina dois")}, nil)
	text, pages, err := e.Text(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if pages != 2 {
		t.Errorf("pages = %d, want 2", pages)
	}
	if text != "página um\fpágina dois" {
		t.Errorf("text = %q", text)
	}
}

func TestTextNoLayer(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"empty", ""},
		{"whitespace only", "  \n\n  "},
		{"form feeds only", "\f\f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(Config{}, stubRunner{out: []byte(tt.out)}, nil)
			_, _, err := e.Text(context.Background(), "scan.pdf")
			if !errors.Is(err, common.ErrNoTextLayer) {
				t.Errorf("err = %v, want ErrNoTextLayer", err)
			}
		})
	}
}

func TestTextCommandFailure(t *testing.T) {
	e := NewExtractor(Config{}, stubRunner{err: fmt.Errorf("exit status 1")}, nil)
	_, _, err := e.Text(context.Background(), "doc.pdf")
	if err == nil {
		t.Fatal("want error when pdftotext fails")
	}
	if errors.Is(err, common.ErrNoTextLayer) {
		t.Error("tool failure must not be reported as a missing text layer")
	}
}
