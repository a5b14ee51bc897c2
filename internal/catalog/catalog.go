// Package catalog defines the data contract with the storefront platform.
// Only the shape of the data is owned here; authentication and the
// platform's query language are external concerns.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a product or policy does not exist.
var ErrNotFound = errors.New("catalog: not found")

// FAQ is a generated question/answer pair stored on product metadata.
type FAQ struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// Image is a product image. AltText is empty until generated.
type Image struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	AltText string `json:"altText"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// Variant is a purchasable product variant.
type Variant struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Price            string `json:"price"`
	CompareAtPrice   string `json:"compareAtPrice,omitempty"`
	SKU              string `json:"sku,omitempty"`
	AvailableForSale bool   `json:"availableForSale"`
}

// Metadata holds the generated SEO content attached to a product.
// A product with all three fields non-empty is considered complete and
// is not re-generated by the sync pipeline.
type Metadata struct {
	Features []string `json:"features"`
	UseCases []string `json:"useCases"`
	FAQs     []FAQ    `json:"faqs"`
}

// Complete reports whether every metadata section has content.
func (m Metadata) Complete() bool {
	return len(m.Features) > 0 && len(m.UseCases) > 0 && len(m.FAQs) > 0
}

// Product is the platform's product snapshot.
type Product struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Handle      string    `json:"handle"`
	ProductType string    `json:"productType"`
	Vendor      string    `json:"vendor"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Images      []Image   `json:"images"`
	Variants    []Variant `json:"variants"`
	Metadata    Metadata  `json:"metadata"`
}

// Policy is a store policy document (shipping, returns, warranty, privacy).
type Policy struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Handle  string `json:"handle"`
}

// Client is the storefront platform collaborator used by the orchestrator
// and the catalog-sync pipeline.
type Client interface {
	GetProduct(ctx context.Context, shop, productID string) (*Product, error)
	SearchProducts(ctx context.Context, shop, query string, limit int) ([]Product, error)
	GetPolicies(ctx context.Context, shop string) ([]Policy, error)
	UpdateProductMetadata(ctx context.Context, shop, productID string, m Metadata) error
	UpdateImageAltText(ctx context.Context, shop, imageID, altText string) error
}
