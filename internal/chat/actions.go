// Package chat orchestrates the conversational shopping assistant: it
// builds provider context from indexed product data, executes at most one
// assistant-requested function per turn, and turns the result into a
// structured action the storefront widget can render.
package chat

import (
	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/seo"
)

// Action types emitted alongside an assistant reply.
const (
	ActionProductInfo        = "product_info"
	ActionRelatedProducts    = "related_products"
	ActionPolicyInfo         = "policy_info"
	ActionAddToCart          = "add_to_cart"
	ActionSizeRecommendation = "size_recommendation"
)

// Action is the structured side effect of a chat turn. Type selects which
// of the optional fields are populated.
type Action struct {
	Type string `json:"type"`

	// product_info
	Product *ProductInfo `json:"product,omitempty"`

	// related_products
	Suggestions []seo.Suggestion `json:"suggestions,omitempty"`

	// policy_info
	Policy *PolicyInfo `json:"policy,omitempty"`

	// add_to_cart
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`

	// size_recommendation
	ProductID      string             `json:"productId,omitempty"`
	Measurements   map[string]float64 `json:"measurements,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
}

// ProductInfo is the widget-facing product summary.
type ProductInfo struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Handle      string        `json:"handle"`
	Images      []ImageInfo   `json:"images"`
	Variants    []VariantInfo `json:"variants"`
}

type ImageInfo struct {
	URL     string `json:"url"`
	AltText string `json:"altText"`
}

type VariantInfo struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Price            string `json:"price"`
	AvailableForSale bool   `json:"availableForSale"`
}

// PolicyInfo is the widget-facing policy summary.
type PolicyInfo struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Handle  string `json:"handle"`
}

func productInfo(p catalog.Product) *ProductInfo {
	info := &ProductInfo{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Handle:      p.Handle,
		Images:      []ImageInfo{},
		Variants:    []VariantInfo{},
	}
	for _, img := range p.Images {
		info.Images = append(info.Images, ImageInfo{URL: img.URL, AltText: img.AltText})
	}
	for _, v := range p.Variants {
		info.Variants = append(info.Variants, VariantInfo{
			ID: v.ID, Title: v.Title, Price: v.Price, AvailableForSale: v.AvailableForSale,
		})
	}
	return info
}
