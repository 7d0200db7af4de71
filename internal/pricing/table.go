// Package pricing resolves per-token unit prices for cost estimation. Rates
// come from a built-in default table, optionally overlaid by a YAML file
// that can be hot-reloaded while the server runs. Unknown models resolve to
// no price, never to a guessed one.
package pricing

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Token kinds accepted by Price.
const (
	TokenKindInput  = "input"
	TokenKindOutput = "output"
)

// modelRate holds USD prices per 1K tokens.
type modelRate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type tableFile struct {
	Models map[string]modelRate `yaml:"models"`
}

// defaultRates are USD per 1K tokens for commonly seen models. A YAML table
// overlays these; it never has to restate them.
var defaultRates = map[string]modelRate{
	"gpt-4":           {Input: 0.03, Output: 0.06},
	"gpt-4o":          {Input: 0.005, Output: 0.015},
	"gpt-3.5-turbo":   {Input: 0.0005, Output: 0.0015},
	"claude-3-opus":   {Input: 0.015, Output: 0.075},
	"claude-3-sonnet": {Input: 0.003, Output: 0.015},
	"claude-3-haiku":  {Input: 0.00025, Output: 0.00125},
}

// Table is a concurrency-safe pricing lookup.
type Table struct {
	mu     sync.RWMutex
	rates  map[string]modelRate
	path   string
	logger *slog.Logger
}

// Default returns a table holding only the built-in rates.
func Default(logger *slog.Logger) *Table {
	rates := make(map[string]modelRate, len(defaultRates))
	for k, v := range defaultRates {
		rates[k] = v
	}
	return &Table{rates: rates, logger: logger}
}

// Load returns the built-in rates overlaid with the YAML table at path.
func Load(path string, logger *slog.Logger) (*Table, error) {
	t := Default(logger)
	t.path = path
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read pricing table: %w", err)
	}
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse pricing table: %w", err)
	}

	rates := make(map[string]modelRate, len(defaultRates)+len(file.Models))
	for k, v := range defaultRates {
		rates[k] = v
	}
	for k, v := range file.Models {
		rates[k] = v
	}

	t.mu.Lock()
	t.rates = rates
	t.mu.Unlock()
	return nil
}

// Price returns the per-token unit price for a model. Matching is exact
// first, then the longest table key that is a substring of the model name
// (versioned names like "claude-3-haiku-20240307" match their family). The
// boolean is false for unknown models and token kinds.
func (t *Table) Price(modelName, tokenKind string) (float64, bool) {
	if modelName == "" {
		return 0, false
	}

	t.mu.RLock()
	rate, ok := t.rates[modelName]
	if !ok {
		best := ""
		for key := range t.rates {
			if strings.Contains(modelName, key) && len(key) > len(best) {
				best = key
			}
		}
		if best != "" {
			rate, ok = t.rates[best], true
		}
	}
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}

	switch tokenKind {
	case TokenKindInput:
		return rate.Input / 1000, true
	case TokenKindOutput:
		return rate.Output / 1000, true
	}
	return 0, false
}
