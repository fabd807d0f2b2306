// Package pricing resolves per-image generation prices used for budget
// admission estimates and post-completion spend accounting.
package pricing

import (
	"fmt"
	"os"

	"github.com/cockroachdb/apd/v3"
	"gopkg.in/yaml.v3"

	"scenebatch/internal/domain"
	"scenebatch/internal/money"
)

// DefaultPerImageUSD applies when a model has no entry in the table.
const DefaultPerImageUSD = "0.04"

type tableFile struct {
	Default string            `yaml:"default"`
	Models  map[string]string `yaml:"models"`
}

// Book holds resolved per-model prices.
type Book struct {
	defaultPrice *apd.Decimal
	models       map[string]*apd.Decimal
}

// Load reads a YAML price table from path. An empty path yields the built-in
// defaults.
func Load(path string) (*Book, error) {
	book := &Book{
		defaultPrice: money.MustParse(DefaultPerImageUSD),
		models:       map[string]*apd.Decimal{},
	}
	if path == "" {
		return book, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read table: %w", err)
	}
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("pricing: parse table: %w", err)
	}
	if file.Default != "" {
		price, err := money.Parse(file.Default)
		if err != nil {
			return nil, fmt.Errorf("pricing: default price: %w", err)
		}
		book.defaultPrice = price
	}
	for model, raw := range file.Models {
		price, err := money.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("pricing: model %q: %w", model, err)
		}
		book.models[model] = price
	}
	return book, nil
}

// PerImage returns the price of a single generated image for the given model.
func (b *Book) PerImage(model string) *apd.Decimal {
	if price, ok := b.models[model]; ok {
		return price
	}
	return b.defaultPrice
}

// EstimateBatch prices a batch pre-flight: every requested variant is assumed
// to be billed. The actual post-completion cost only counts images produced.
func (b *Book) EstimateBatch(model string, items []domain.BatchItem) *apd.Decimal {
	variants := 0
	for _, item := range items {
		if item.Variants > 0 {
			variants += item.Variants
		}
	}
	return money.MulInt(b.PerImage(model), variants)
}
