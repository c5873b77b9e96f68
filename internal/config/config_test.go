package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/EloiBiesek/fiscal-tracker/internal/common"
)

const validConfig = `{
	"cno": "900152252672",
	"name": "Obra Norte",
	"from": {"year": 2023, "month": 8},
	"to": {"year": 2024, "month": 2},
	"providers": [
		{"num": 3, "folder": "ACME", "short_name": "ACME", "invoices": true, "payroll": true},
		{"num": 7, "folder": "BETA", "short_name": "BETA", "payroll": true,
		 "overrides": {"no_worker_count": true}}
	]
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfig(t, validConfig)
	proj, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if proj.CNO != "900152252672" {
		t.Errorf("CNO = %q", proj.CNO)
	}
	if proj.StateDir != filepath.Join(dir, StateDirName) {
		t.Errorf("StateDir = %q", proj.StateDir)
	}
	// Defaults applied.
	if proj.AllocationSheet == "" || proj.ProviderRowFrom == 0 || len(proj.PayrollSubfolders) == 0 {
		t.Errorf("defaults not applied: %+v", proj)
	}
	p, ok := proj.Provider(7)
	if !ok || !p.Overrides.NoWorkerCount {
		t.Errorf("provider 7 overrides lost: %+v", p)
	}
}

func TestLoadStateDirWins(t *testing.T) {
	dir := writeConfig(t, `{"cno":"000000000000"}`) // root copy would fail validation
	stateDir := filepath.Join(dir, StateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, ConfigFileName), []byte(validConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	proj, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if proj.Name != "Obra Norte" {
		t.Errorf("state-dir config not preferred, got %q", proj.Name)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing file entirely", ""},
		{"bad cno", `{"cno":"123","name":"x","from":{"year":2023,"month":1},"to":{"year":2023,"month":2},"providers":[{"num":1,"folder":"A"}]}`},
		{"empty roster", `{"cno":"900152252672","name":"x","from":{"year":2023,"month":1},"to":{"year":2023,"month":2},"providers":[]}`},
		{"range reversed", `{"cno":"900152252672","name":"x","from":{"year":2024,"month":1},"to":{"year":2023,"month":2},"providers":[{"num":1,"folder":"A"}]}`},
		{"month out of range", `{"cno":"900152252672","name":"x","from":{"year":2023,"month":13},"to":{"year":2023,"month":2},"providers":[{"num":1,"folder":"A"}]}`},
		{"duplicate nums", `{"cno":"900152252672","name":"x","from":{"year":2023,"month":1},"to":{"year":2023,"month":2},"providers":[{"num":1,"folder":"A"},{"num":1,"folder":"B"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dir string
			if tt.body == "" {
				dir = t.TempDir()
			} else {
				dir = writeConfig(t, tt.body)
			}
			_, err := Load(dir)
			if !errors.Is(err, common.ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestMonths(t *testing.T) {
	p := Project{
		From: Competence{Year: 2023, Month: 11},
		To:   Competence{Year: 2024, Month: 2},
	}
	months := p.Months()
	want := []Competence{
		{2023, 11}, {2023, 12}, {2024, 1}, {2024, 2},
	}
	if len(months) != len(want) {
		t.Fatalf("Months = %v, want %v", months, want)
	}
	for i := range want {
		if months[i] != want[i] {
			t.Errorf("Months[%d] = %v, want %v", i, months[i], want[i])
		}
	}
}

func TestCovers(t *testing.T) {
	p := Project{
		From: Competence{Year: 2023, Month: 8},
		To:   Competence{Year: 2023, Month: 10},
	}
	tests := []struct {
		c    Competence
		want bool
	}{
		{Competence{2023, 7}, false},
		{Competence{2023, 8}, true},
		{Competence{2023, 10}, true},
		{Competence{2023, 11}, false},
	}
	for _, tt := range tests {
		if got := p.Covers(tt.c); got != tt.want {
			t.Errorf("Covers(%v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestCompetenceString(t *testing.T) {
	c := Competence{Year: 2023, Month: 8}
	if c.String() != "2023-08" {
		t.Errorf("String = %q, want 2023-08", c.String())
	}
}
