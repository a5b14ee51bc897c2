package seo

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/embedding"
	"github.com/merchly/shopassist/internal/storage"
)

type fakeCatalog struct {
	mu        sync.Mutex
	products  map[string]*catalog.Product
	metadata  map[string]catalog.Metadata
	altTexts  map[string]string
	altWrites int
	metaErr   error
}

func newFakeCatalog(products ...*catalog.Product) *fakeCatalog {
	f := &fakeCatalog{
		products: map[string]*catalog.Product{},
		metadata: map[string]catalog.Metadata{},
		altTexts: map[string]string{},
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeCatalog) GetProduct(_ context.Context, _, productID string) (*catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCatalog) SearchProducts(context.Context, string, string, int) ([]catalog.Product, error) {
	return nil, nil
}

func (f *fakeCatalog) GetPolicies(context.Context, string) ([]catalog.Policy, error) {
	return nil, nil
}

func (f *fakeCatalog) UpdateProductMetadata(_ context.Context, _, productID string, m catalog.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return f.metaErr
	}
	f.metadata[productID] = m
	if p, ok := f.products[productID]; ok {
		p.Metadata = m
	}
	return nil
}

func (f *fakeCatalog) UpdateImageAltText(_ context.Context, _, imageID, altText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.altTexts[imageID] = altText
	f.altWrites++
	for _, p := range f.products {
		for i := range p.Images {
			if p.Images[i].ID == imageID {
				p.Images[i].AltText = altText
			}
		}
	}
	return nil
}

type fakeEmbeddings struct {
	mu      sync.Mutex
	upserts map[string]embedding.Fields
	deleted []string
}

func newFakeEmbeddings() *fakeEmbeddings {
	return &fakeEmbeddings{upserts: map[string]embedding.Fields{}}
}

func (f *fakeEmbeddings) Upsert(_ context.Context, _, entityID string, fields embedding.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts[entityID] = fields
	return nil
}

func (f *fakeEmbeddings) Delete(_ context.Context, _, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.upserts[entityID]; !ok {
		return catalog.ErrNotFound
	}
	delete(f.upserts, entityID)
	f.deleted = append(f.deleted, entityID)
	return nil
}

func newTestPipeline(t *testing.T, cat *fakeCatalog, provider *fakeCompleter) (*Pipeline, *fakeEmbeddings, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	emb := newFakeEmbeddings()
	gen := NewGenerator(provider, testLogger())
	return NewPipeline(cat, gen, emb, store, testLogger()), emb, store
}

const contentResponse = `{
	"features": ["feature one", "feature two", "feature three"],
	"use_cases": ["case one", "case two", "case three"],
	"faqs": [{"q": "Q1?", "a": "A1."}]
}`

func TestHandleEvent_CreateGeneratesAndIndexes(t *testing.T) {
	cat := newFakeCatalog(&catalog.Product{
		ID: "p1", Title: "Rain Jacket", Description: "Stays dry",
		Images: []catalog.Image{{ID: "img-1"}, {ID: "img-2", AltText: "already set"}},
	})
	provider := &fakeCompleter{responses: map[string]string{
		"Generate SEO content": contentResponse,
		"alt text":             "A yellow rain jacket on a white background",
	}}
	p, emb, store := newTestPipeline(t, cat, provider)

	if err := p.HandleEvent(context.Background(), "shop-a", ActionCreate, "p1"); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// Metadata written back to the catalog.
	if got := cat.metadata["p1"]; len(got.Features) != 3 || len(got.FAQs) != 1 {
		t.Errorf("metadata = %+v", got)
	}

	// Product indexed with the generated fields.
	fields, ok := emb.upserts["p1"]
	if !ok {
		t.Fatal("product not indexed")
	}
	if fields.Kind != "product" || len(fields.Features) != 3 {
		t.Errorf("indexed fields = %+v", fields)
	}

	// Only the image without alt text was filled.
	if cat.altTexts["img-1"] == "" {
		t.Error("img-1 alt text not generated")
	}
	if _, ok := cat.altTexts["img-2"]; ok {
		t.Error("img-2 already had alt text, should not be rewritten")
	}

	// Job ledger shows a completed generation.
	var status string
	if err := store.DB().QueryRow("SELECT status FROM jobs WHERE shop = 'shop-a'").Scan(&status); err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if status != storage.JobCompleted {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestHandleEvent_OwnJobOnlyNeverOthers(t *testing.T) {
	cat := newFakeCatalog(&catalog.Product{ID: "p1", Title: "Mug", Description: "A mug"})
	provider := &fakeCompleter{responses: map[string]string{"Generate SEO content": contentResponse}}
	p, _, store := newTestPipeline(t, cat, provider)

	// A pending job already sitting in the queue for another shop.
	stale := storage.Job{ID: "job-stale", Shop: "shop-b", Type: "seo_generate"}
	if err := store.EnqueueJob(stale); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if err := p.HandleEvent(context.Background(), "shop-a", ActionCreate, "p1"); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// The queued job is untouched; someone else will run it.
	var staleStatus string
	if err := store.DB().QueryRow("SELECT status FROM jobs WHERE id = 'job-stale'").Scan(&staleStatus); err != nil {
		t.Fatalf("querying stale job: %v", err)
	}
	if staleStatus != storage.JobPending {
		t.Errorf("pre-existing job status = %q, want pending", staleStatus)
	}

	// The event's own job passed through running on its way to completed.
	var status string
	var startedAt sql.NullString
	err := store.DB().QueryRow(
		"SELECT status, started_at FROM jobs WHERE shop = 'shop-a'").Scan(&status, &startedAt)
	if err != nil {
		t.Fatalf("querying event job: %v", err)
	}
	if status != storage.JobCompleted {
		t.Errorf("event job status = %q, want completed", status)
	}
	if !startedAt.Valid || startedAt.String == "" {
		t.Error("event job has no started_at; it never ran")
	}
}

func TestHandleEvent_ReplayConverges(t *testing.T) {
	cat := newFakeCatalog(&catalog.Product{
		ID: "p1", Title: "Rain Jacket", Description: "Stays dry",
		Images: []catalog.Image{{ID: "img-1"}, {ID: "img-2", AltText: "already set"}},
	})
	provider := &fakeCompleter{responses: map[string]string{
		"Generate SEO content": contentResponse,
		"alt text":             "A yellow rain jacket on a white background",
	}}
	p, emb, store := newTestPipeline(t, cat, provider)

	if err := p.HandleEvent(context.Background(), "shop-a", ActionUpdate, "p1"); err != nil {
		t.Fatalf("first event: %v", err)
	}
	promptsAfterFirst := len(provider.prompts)
	writesAfterFirst := cat.altWrites

	// The identical event delivered again finds the catalog already
	// enriched and must not generate or write anything new.
	if err := p.HandleEvent(context.Background(), "shop-a", ActionUpdate, "p1"); err != nil {
		t.Fatalf("second event: %v", err)
	}

	if len(provider.prompts) != promptsAfterFirst {
		t.Errorf("replay made %d extra provider calls", len(provider.prompts)-promptsAfterFirst)
	}
	if cat.altWrites != writesAfterFirst {
		t.Errorf("replay made %d extra alt-text writes", cat.altWrites-writesAfterFirst)
	}
	if len(emb.upserts) != 1 {
		t.Errorf("index has %d entries for one product", len(emb.upserts))
	}
	var jobs int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM jobs").Scan(&jobs); err != nil {
		t.Fatalf("querying jobs: %v", err)
	}
	if jobs != 1 {
		t.Errorf("jobs = %d, want 1 (replay enqueues nothing)", jobs)
	}
}

func TestHandleEvent_CompleteMetadataSkipsGeneration(t *testing.T) {
	cat := newFakeCatalog(&catalog.Product{
		ID: "p1", Title: "Mug",
		Metadata: catalog.Metadata{
			Features: []string{"ceramic"},
			UseCases: []string{"coffee"},
			FAQs:     []catalog.FAQ{{Q: "Q?", A: "A."}},
		},
	})
	provider := &fakeCompleter{responses: map[string]string{}}
	p, emb, store := newTestPipeline(t, cat, provider)

	if err := p.HandleEvent(context.Background(), "shop-a", ActionUpdate, "p1"); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(provider.prompts) != 0 {
		t.Errorf("provider called %d times for complete metadata", len(provider.prompts))
	}
	if _, ok := cat.metadata["p1"]; ok {
		t.Error("metadata should not be rewritten")
	}
	// Embedding still refreshed from existing metadata.
	if fields := emb.upserts["p1"]; len(fields.Features) != 1 || fields.Features[0] != "ceramic" {
		t.Errorf("indexed fields = %+v", fields)
	}
	// No generation job in the ledger.
	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM jobs").Scan(&count); err != nil {
		t.Fatalf("querying jobs: %v", err)
	}
	if count != 0 {
		t.Errorf("jobs = %d, want 0", count)
	}
}

func TestHandleEvent_GenerationFailureKeepsExistingMetadata(t *testing.T) {
	cat := newFakeCatalog(&catalog.Product{
		ID: "p1", Title: "Mug", Description: "A mug",
		Metadata: catalog.Metadata{Features: []string{"old feature"}},
	})
	provider := &fakeCompleter{err: errors.New("provider down")}
	p, emb, store := newTestPipeline(t, cat, provider)

	if err := p.HandleEvent(context.Background(), "shop-a", ActionUpdate, "p1"); err != nil {
		t.Fatalf("HandleEvent should not fail on generation error: %v", err)
	}

	if _, ok := cat.metadata["p1"]; ok {
		t.Error("failed generation should not write metadata")
	}
	// Indexed from the metadata it already had.
	if fields := emb.upserts["p1"]; len(fields.Features) != 1 || fields.Features[0] != "old feature" {
		t.Errorf("indexed fields = %+v", fields)
	}
	var status, errMsg string
	if err := store.DB().QueryRow("SELECT status, error FROM jobs").Scan(&status, &errMsg); err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if status != storage.JobFailed || errMsg == "" {
		t.Errorf("job status = %q, error = %q", status, errMsg)
	}
}

func TestHandleEvent_Delete(t *testing.T) {
	cat := newFakeCatalog()
	provider := &fakeCompleter{}
	p, emb, _ := newTestPipeline(t, cat, provider)

	emb.upserts["p1"] = embedding.Fields{Kind: "product", Title: "Mug"}
	if err := p.HandleEvent(context.Background(), "shop-a", ActionDelete, "p1"); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if _, ok := emb.upserts["p1"]; ok {
		t.Error("product still indexed after delete")
	}

	// Deleting an unindexed product is a no-op, not an error.
	if err := p.HandleEvent(context.Background(), "shop-a", ActionDelete, "p2"); err != nil {
		t.Errorf("delete of unknown product: %v", err)
	}
}

func TestHandleEvent_MissingProductTreatedAsDelete(t *testing.T) {
	cat := newFakeCatalog()
	provider := &fakeCompleter{}
	p, emb, _ := newTestPipeline(t, cat, provider)

	emb.upserts["gone"] = embedding.Fields{Kind: "product", Title: "Gone"}
	if err := p.HandleEvent(context.Background(), "shop-a", ActionUpdate, "gone"); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if _, ok := emb.upserts["gone"]; ok {
		t.Error("vanished product should be removed from index")
	}
}

func TestHandleEvent_UnknownAction(t *testing.T) {
	p, _, _ := newTestPipeline(t, newFakeCatalog(), &fakeCompleter{})
	err := p.HandleEvent(context.Background(), "shop-a", "archive", "p1")
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}
}

func TestHandleEvent_RecordsMetric(t *testing.T) {
	cat := newFakeCatalog(&catalog.Product{ID: "p1", Title: "Mug", Description: "A mug"})
	provider := &fakeCompleter{responses: map[string]string{"Generate SEO content": contentResponse}}
	p, _, store := newTestPipeline(t, cat, provider)

	if err := p.HandleEvent(context.Background(), "shop-a", ActionCreate, "p1"); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	var value int64
	err := store.DB().QueryRow(
		"SELECT value FROM metric_samples WHERE shop = 'shop-a' AND metric = 'products_processed'").Scan(&value)
	if err != nil {
		t.Fatalf("querying metric: %v", err)
	}
	if value != 1 {
		t.Errorf("products_processed = %d, want 1", value)
	}
}
