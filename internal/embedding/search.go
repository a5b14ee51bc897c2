package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Result pairs a stored record with its similarity to a query vector.
type Result struct {
	Record Record
	Score  float64
}

// Searcher ranks a shop's entities against a free-text query.
type Searcher struct {
	store    *Store
	embedder Embedder
}

func NewSearcher(store *Store, embedder Embedder) *Searcher {
	return &Searcher{store: store, embedder: embedder}
}

// Search embeds the query and returns up to topK records ordered by
// descending cosine similarity. Ties keep insertion order, so repeated
// queries over the same corpus rank deterministically.
func (s *Searcher) Search(ctx context.Context, shop, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	records, err := s.store.ListAll(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}

	results := make([]Result, 0, len(records))
	for _, rec := range records {
		results = append(results, Result{
			Record: rec,
			Score:  CosineSimilarity(queryVec, rec.Vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched lengths and zero vectors score 0 rather than erroring, so a
// corpus re-embedded with a different model degrades instead of failing.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
