package embedding

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"both empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSearch_RanksByScore(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"running shoes": {1, 0, 0},
		"Trail Runner":  {0.9, 0.1, 0},
		"Beach Towel":   {0, 0, 1},
		"Road Racer":    {0.8, 0.2, 0},
	}}
	store := newTestStore(t, emb)
	ctx := context.Background()

	for _, title := range []string{"Trail Runner", "Beach Towel", "Road Racer"} {
		if err := store.Upsert(ctx, "shop-a", title, Fields{Kind: "product", Title: title}); err != nil {
			t.Fatalf("Upsert %q: %v", title, err)
		}
	}

	searcher := NewSearcher(store, emb)
	results, err := searcher.Search(ctx, "shop-a", "running shoes", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Record.EntityID != "Trail Runner" {
		t.Errorf("top result = %q, want Trail Runner", results[0].Record.EntityID)
	}
	if results[1].Record.EntityID != "Road Racer" {
		t.Errorf("second result = %q, want Road Racer", results[1].Record.EntityID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not descending: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestSearch_EmptyCorpus(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newTestStore(t, emb)
	searcher := NewSearcher(store, emb)

	results, err := searcher.Search(context.Background(), "shop-empty", "anything", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty corpus", len(results))
	}
}

func TestSearch_ZeroTopK(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newTestStore(t, emb)
	searcher := NewSearcher(store, emb)

	results, err := searcher.Search(context.Background(), "shop-a", "q", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
	if len(emb.calls) != 0 {
		t.Error("provider should not be called for topK=0")
	}
}
