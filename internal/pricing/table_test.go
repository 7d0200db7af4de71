package pricing

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestPrice_ExactMatch(t *testing.T) {
	tbl := Default(slog.Default())

	p, ok := tbl.Price("claude-3-haiku", TokenKindInput)
	if !ok {
		t.Fatal("expected a price for a built-in model")
	}
	if want := 0.00025 / 1000; p != want {
		t.Errorf("input price = %v, want %v", p, want)
	}
	p, ok = tbl.Price("claude-3-haiku", TokenKindOutput)
	if !ok || p != 0.00125/1000 {
		t.Errorf("output price = %v ok=%v", p, ok)
	}
}

func TestPrice_SubstringMatch(t *testing.T) {
	tbl := Default(slog.Default())

	// Versioned model names match their family entry.
	p, ok := tbl.Price("claude-3-haiku-20240307", TokenKindInput)
	if !ok || p != 0.00025/1000 {
		t.Errorf("versioned name price = %v ok=%v", p, ok)
	}
	// "gpt-4o-mini-2024" must prefer the longer "gpt-4o" key over "gpt-4".
	p, ok = tbl.Price("gpt-4o-mini-2024", TokenKindInput)
	if !ok || p != 0.005/1000 {
		t.Errorf("longest-key match price = %v ok=%v", p, ok)
	}
}

func TestPrice_Unknown(t *testing.T) {
	tbl := Default(slog.Default())

	if _, ok := tbl.Price("mystery-model", TokenKindInput); ok {
		t.Error("expected no price for unknown model")
	}
	if _, ok := tbl.Price("", TokenKindInput); ok {
		t.Error("expected no price for empty model name")
	}
	if _, ok := tbl.Price("claude-3-haiku", "cached"); ok {
		t.Error("expected no price for unknown token kind")
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `
models:
  claude-3-haiku:
    input: 0.5
    output: 1.0
  in-house-model:
    input: 0.1
    output: 0.2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}

	tbl, err := Load(path, slog.Default())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// File entries override built-ins.
	if p, ok := tbl.Price("claude-3-haiku", TokenKindInput); !ok || p != 0.5/1000 {
		t.Errorf("overridden price = %v ok=%v", p, ok)
	}
	// New entries are added.
	if p, ok := tbl.Price("in-house-model", TokenKindOutput); !ok || p != 0.2/1000 {
		t.Errorf("new model price = %v ok=%v", p, ok)
	}
	// Untouched built-ins survive the overlay.
	if _, ok := tbl.Price("gpt-4", TokenKindInput); !ok {
		t.Error("built-in model lost after overlay")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), slog.Default()); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("models: ["), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	if _, err := Load(path, slog.Default()); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
