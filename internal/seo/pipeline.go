package seo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/embedding"
	"github.com/merchly/shopassist/internal/storage"
)

// Catalog event actions accepted by the pipeline.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// ErrUnknownAction is returned for catalog events the pipeline does not
// handle.
var ErrUnknownAction = errors.New("unknown catalog action")

// altTextConcurrency bounds parallel alt-text generations per product.
const altTextConcurrency = 3

const jobTypeGenerate = "seo_generate"

type embeddingStore interface {
	Upsert(ctx context.Context, shop, entityID string, fields embedding.Fields) error
	Delete(ctx context.Context, shop, entityID string) error
}

type ledger interface {
	EnqueueJob(job storage.Job) error
	StartJob(id string) error
	CompleteJob(id, resultJSON string) error
	FailJob(id, errMsg string) error
	RecordMetric(shop, metric string, delta int64, metadata map[string]any) error
}

// Pipeline reacts to catalog change events: it generates missing SEO
// metadata, fills in image alt text, and keeps the embedding index in step
// with the catalog. Duplicate events for the same entity are coalesced.
type Pipeline struct {
	catalog    catalog.Client
	generator  *Generator
	embeddings embeddingStore
	store      ledger
	logger     *slog.Logger
	group      singleflight.Group
}

func NewPipeline(cat catalog.Client, gen *Generator, emb embeddingStore, store ledger, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		catalog:    cat,
		generator:  gen,
		embeddings: emb,
		store:      store,
		logger:     logger,
	}
}

// HandleEvent processes one catalog change event. Concurrent events for the
// same (shop, product) pair collapse into a single execution.
func (p *Pipeline) HandleEvent(ctx context.Context, shop, action, productID string) error {
	switch action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	_, err, _ := p.group.Do(shop+"/"+productID, func() (any, error) {
		if action == ActionDelete {
			return nil, p.handleDelete(ctx, shop, productID)
		}
		return nil, p.handleUpsert(ctx, shop, productID)
	})
	return err
}

func (p *Pipeline) handleDelete(ctx context.Context, shop, productID string) error {
	err := p.embeddings.Delete(ctx, shop, productID)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("removing product %s from index: %w", productID, err)
	}
	p.logger.Info("product removed from index", "shop", shop, "product", productID)
	return nil
}

func (p *Pipeline) handleUpsert(ctx context.Context, shop, productID string) error {
	product, err := p.catalog.GetProduct(ctx, shop, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		// Product vanished between the event and the fetch.
		return p.handleDelete(ctx, shop, productID)
	}
	if err != nil {
		return fmt.Errorf("fetching product %s: %w", productID, err)
	}

	metadata := product.Metadata
	if metadata.Complete() {
		p.logger.Info("metadata complete, refreshing embedding only",
			"shop", shop, "product", productID)
	} else {
		if generated, ok := p.generateMetadata(ctx, shop, *product); ok {
			metadata = generated
		}
	}

	if err := p.embeddings.Upsert(ctx, shop, productID, embedding.Fields{
		Kind:        "product",
		Title:       product.Title,
		Description: product.Description,
		Features:    metadata.Features,
		UseCases:    metadata.UseCases,
		FAQs:        metadata.FAQs,
	}); err != nil {
		return fmt.Errorf("indexing product %s: %w", productID, err)
	}

	p.fillAltText(ctx, shop, *product)

	if err := p.store.RecordMetric(shop, "products_processed", 1, map[string]any{
		"productId": productID,
	}); err != nil {
		p.logger.Error("recording metric", "shop", shop, "error", err)
	}
	return nil
}

// generateMetadata runs one ledgered generation attempt. A generation or
// write failure is logged and the event continues with the product's
// existing metadata.
func (p *Pipeline) generateMetadata(ctx context.Context, shop string, product catalog.Product) (catalog.Metadata, bool) {
	payload, _ := json.Marshal(map[string]string{"productId": product.ID})
	job := storage.Job{
		ID:          uuid.New().String(),
		Shop:        shop,
		Type:        jobTypeGenerate,
		PayloadJSON: string(payload),
	}
	if err := p.store.EnqueueJob(job); err != nil {
		p.logger.Error("enqueueing generation job", "shop", shop, "product", product.ID, "error", err)
	} else if err := p.store.StartJob(job.ID); err != nil {
		p.logger.Error("starting generation job", "shop", shop, "product", product.ID, "error", err)
	}

	metadata, err := p.generator.ProductContent(ctx, product)
	if err == nil {
		err = p.catalog.UpdateProductMetadata(ctx, shop, product.ID, metadata)
		if err != nil {
			err = fmt.Errorf("writing metadata: %w", err)
		}
	}
	if err != nil {
		p.logger.Error("metadata generation failed, keeping existing metadata",
			"shop", shop, "product", product.ID, "error", err)
		if ferr := p.store.FailJob(job.ID, err.Error()); ferr != nil {
			p.logger.Error("marking job failed", "job", job.ID, "error", ferr)
		}
		return catalog.Metadata{}, false
	}

	result, _ := json.Marshal(map[string]any{
		"features": len(metadata.Features),
		"useCases": len(metadata.UseCases),
		"faqs":     len(metadata.FAQs),
	})
	if err := p.store.CompleteJob(job.ID, string(result)); err != nil {
		p.logger.Error("marking job completed", "job", job.ID, "error", err)
	}
	return metadata, true
}

// fillAltText generates alt text for images that lack it. Failures are
// per-image: one bad generation never blocks the rest of the event.
func (p *Pipeline) fillAltText(ctx context.Context, shop string, product catalog.Product) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(altTextConcurrency)

	for _, img := range product.Images {
		if img.AltText != "" {
			continue
		}
		g.Go(func() error {
			text, err := p.generator.AltText(ctx, product.Title)
			if err == nil && text != "" {
				err = p.catalog.UpdateImageAltText(ctx, shop, img.ID, text)
			}
			if err != nil {
				p.logger.Error("alt text generation failed, skipping image",
					"shop", shop, "product", product.ID, "image", img.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors
}
