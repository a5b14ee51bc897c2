// Package feed builds the machine-readable product feed: indexed products
// enriched with generated metadata and JSON-LD structured data, paginated
// for crawlers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/embedding"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Item is one feed entry: the catalog snapshot plus generated metadata and
// structured data.
type Item struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Handle      string            `json:"handle"`
	ProductType string            `json:"productType"`
	Vendor      string            `json:"vendor"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Features    []string          `json:"features"`
	UseCases    []string          `json:"useCases"`
	FAQs        []catalog.FAQ     `json:"faqs"`
	JSONLD      JSONLD            `json:"jsonLd"`
	Images      []catalog.Image   `json:"images"`
	Variants    []catalog.Variant `json:"variants"`
}

// Pagination is the feed envelope's paging block.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Meta describes the feed generation itself.
type Meta struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Shop        string    `json:"shop"`
	Format      string    `json:"format"`
}

// Page is one page of the feed.
type Page struct {
	Products   []Item     `json:"products"`
	Pagination Pagination `json:"pagination"`
	Meta       Meta       `json:"meta"`
}

type indexLister interface {
	ListAll(ctx context.Context, shop string) ([]embedding.Record, error)
}

// Builder assembles feed pages from the embedding index and the catalog.
type Builder struct {
	index   indexLister
	catalog catalog.Client
	logger  *slog.Logger
	now     func() time.Time
}

func NewBuilder(index indexLister, cat catalog.Client, logger *slog.Logger) *Builder {
	return &Builder{index: index, catalog: cat, logger: logger, now: time.Now}
}

// BuildPage returns one page of the feed. Out-of-range pages yield an empty
// product list with correct pagination. Products that have vanished from
// the catalog since indexing are skipped.
func (b *Builder) BuildPage(ctx context.Context, shop string, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	records, err := b.index.ListAll(ctx, shop)
	if err != nil {
		return Page{}, fmt.Errorf("listing indexed products: %w", err)
	}

	// Policies live in the same index but do not belong in the feed.
	products := records[:0:0]
	for _, rec := range records {
		if rec.Fields.Kind == "product" {
			products = append(products, rec)
		}
	}

	total := len(products)
	offset := (page - 1) * limit
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}

	items := make([]Item, 0, end-offset)
	for _, rec := range products[offset:end] {
		item, err := b.buildItem(ctx, shop, rec)
		if errors.Is(err, catalog.ErrNotFound) {
			b.logger.Warn("indexed product missing from catalog, skipping",
				"shop", shop, "product", rec.EntityID)
			continue
		}
		if err != nil {
			return Page{}, err
		}
		items = append(items, item)
	}

	return Page{
		Products: items,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
			HasNext:    page*limit < total,
			HasPrev:    page > 1,
		},
		Meta: Meta{
			GeneratedAt: b.now().UTC(),
			Shop:        shop,
			Format:      "json",
		},
	}, nil
}

func (b *Builder) buildItem(ctx context.Context, shop string, rec embedding.Record) (Item, error) {
	product, err := b.catalog.GetProduct(ctx, shop, rec.EntityID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Item{}, err
		}
		return Item{}, fmt.Errorf("fetching product %s: %w", rec.EntityID, err)
	}

	// Catalog metadata wins over the indexed copy when present.
	features := product.Metadata.Features
	if len(features) == 0 {
		features = rec.Fields.Features
	}
	useCases := product.Metadata.UseCases
	if len(useCases) == 0 {
		useCases = rec.Fields.UseCases
	}
	faqs := product.Metadata.FAQs
	if len(faqs) == 0 {
		faqs = rec.Fields.FAQs
	}

	images := product.Images
	if images == nil {
		images = []catalog.Image{}
	}
	variants := product.Variants
	if variants == nil {
		variants = []catalog.Variant{}
	}

	return Item{
		ID:          product.ID,
		Title:       product.Title,
		Description: product.Description,
		Handle:      product.Handle,
		ProductType: product.ProductType,
		Vendor:      product.Vendor,
		Status:      product.Status,
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
		Features:    emptyIfNil(features),
		UseCases:    emptyIfNil(useCases),
		FAQs:        faqsOrEmpty(faqs),
		JSONLD:      BuildJSONLD(*product, faqs),
		Images:      images,
		Variants:    variants,
	}, nil
}

// Stream writes the page's items as NDJSON, one item per line.
func (b *Builder) Stream(ctx context.Context, w io.Writer, shop string, page, limit int) (Pagination, error) {
	p, err := b.BuildPage(ctx, shop, page, limit)
	if err != nil {
		return Pagination{}, err
	}
	enc := json.NewEncoder(w)
	for _, item := range p.Products {
		if err := enc.Encode(item); err != nil {
			return Pagination{}, fmt.Errorf("writing feed item: %w", err)
		}
	}
	return p.Pagination, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func faqsOrEmpty(f []catalog.FAQ) []catalog.FAQ {
	if f == nil {
		return []catalog.FAQ{}
	}
	return f
}
