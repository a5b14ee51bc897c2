package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// embedConcurrency bounds parallel provider calls during bulk indexing.
const embedConcurrency = 4

// Entity is one unit of a bulk upsert.
type Entity struct {
	ID     string
	Fields Fields
}

// UpsertBatch indexes a set of entities concurrently. Provider calls run in
// parallel; the database's single writer connection serializes the inserts.
// The first error cancels remaining work.
func (s *Store) UpsertBatch(ctx context.Context, shop string, entities []Entity) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for _, e := range entities {
		g.Go(func() error {
			if err := s.Upsert(ctx, shop, e.ID, e.Fields); err != nil {
				return fmt.Errorf("indexing %s: %w", e.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
