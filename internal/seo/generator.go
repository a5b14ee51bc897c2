// Package seo generates product enrichment content through the completion
// provider: feature/use-case/FAQ metadata, image alt text and related
// product suggestions.
package seo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/llm"
)

const maxAltTextLen = 125

// completer is the slice of the provider client the generator needs.
type completer interface {
	ChatCompletion(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.Completion, error)
}

// Suggestion is one related-product recommendation.
type Suggestion struct {
	Category     string  `json:"category"`
	Reason       string  `json:"reason"`
	OverlapScore float64 `json:"overlap_score"`
}

// Generator produces SEO content for catalog entities.
type Generator struct {
	provider completer
	logger   *slog.Logger
}

func NewGenerator(provider completer, logger *slog.Logger) *Generator {
	return &Generator{provider: provider, logger: logger}
}

// ProductContent generates metadata for a product. A malformed provider
// response is an error; callers skip the metadata write and keep whatever
// was stored before.
func (g *Generator) ProductContent(ctx context.Context, product catalog.Product) (catalog.Metadata, error) {
	description := product.Description
	if description == "" {
		description = "No description provided"
	}
	productType := product.ProductType
	if productType == "" {
		productType = "General"
	}
	vendor := product.Vendor
	if vendor == "" {
		vendor = "Unknown"
	}

	prompt := fmt.Sprintf(`Generate SEO content for this product:

Product: %s
Description: %s
Type: %s
Vendor: %s

Generate the following in JSON format:
1. features: Array of 3-5 key product features
2. use_cases: Array of 3-5 use cases or scenarios
3. faqs: Array of 5-8 FAQ objects with "q" (question) and "a" (answer) fields

Focus on being helpful, accurate, and avoiding medical/financial claims.`,
		product.Title, description, productType, vendor)

	completion, err := g.provider.ChatCompletion(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{Temperature: 0.7, MaxTokens: 2000})
	if err != nil {
		return catalog.Metadata{}, fmt.Errorf("generating product content: %w", err)
	}

	var parsed struct {
		Features []string      `json:"features"`
		UseCases []string      `json:"use_cases"`
		FAQs     []catalog.FAQ `json:"faqs"`
	}
	if err := json.Unmarshal([]byte(completion.Content), &parsed); err != nil {
		g.logger.Error("unparseable product content response",
			"product", product.ID, "response", completion.Content)
		return catalog.Metadata{}, fmt.Errorf("parsing product content: %w", err)
	}
	return catalog.Metadata{
		Features: parsed.Features,
		UseCases: parsed.UseCases,
		FAQs:     parsed.FAQs,
	}, nil
}

// AltText generates image alt text for a product, truncated to stay under
// the accessibility length ceiling.
func (g *Generator) AltText(ctx context.Context, productTitle string) (string, error) {
	prompt := fmt.Sprintf(`Generate a concise, descriptive alt text for this product image.
Product: %s
Focus on key visual elements, colors, and product features. Keep it under 125 characters.`, productTitle)

	completion, err := g.provider.ChatCompletion(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{Temperature: 0.3, MaxTokens: 100})
	if err != nil {
		return "", fmt.Errorf("generating alt text: %w", err)
	}

	text := strings.TrimSpace(completion.Content)
	if utf8.RuneCountInString(text) >= maxAltTextLen {
		// Truncate on a rune boundary so multi-byte text stays valid.
		text = strings.TrimSpace(string([]rune(text)[:maxAltTextLen-1]))
	}
	return text, nil
}

// RelatedProducts suggests complementary product types from a product's
// features and use cases. Overlap scores are clamped to [0, 1]; a
// malformed response yields an empty list rather than an error.
func (g *Generator) RelatedProducts(ctx context.Context, features, useCases []string) ([]Suggestion, error) {
	prompt := fmt.Sprintf(`Given these product features and use cases, suggest 3-5 related product types that would complement this product:

Features: %s
Use Cases: %s

Return as JSON array of product suggestions with:
- category: Product category
- reason: Why it's related
- overlap_score: 0-1 score of feature/use-case overlap`,
		strings.Join(features, ", "), strings.Join(useCases, ", "))

	completion, err := g.provider.ChatCompletion(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{Temperature: 0.5, MaxTokens: 500})
	if err != nil {
		return nil, fmt.Errorf("generating related products: %w", err)
	}

	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(completion.Content), &suggestions); err != nil {
		g.logger.Error("unparseable related products response", "response", completion.Content)
		return []Suggestion{}, nil
	}
	for i := range suggestions {
		if suggestions[i].OverlapScore < 0 {
			suggestions[i].OverlapScore = 0
		}
		if suggestions[i].OverlapScore > 1 {
			suggestions[i].OverlapScore = 1
		}
	}
	return suggestions, nil
}
