package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/config"
	"github.com/merchly/shopassist/internal/embedding"
	"github.com/merchly/shopassist/internal/llm"
	"github.com/merchly/shopassist/internal/seo"
	"github.com/merchly/shopassist/internal/storage"
)

const syncBatchSize = 250

var (
	syncShop        string
	syncReindexOnly bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a shop's catalog into the index",
	Long: `Sync a shop's catalog into the index.

Walks every product in the catalog. By default each product runs through
the full enrichment pipeline (metadata generation, alt text, embedding).
With --reindex-only the products are re-embedded from their existing
metadata without any generation calls.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncShop == "" {
			return fmt.Errorf("--shop is required")
		}
		return runSync()
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncShop, "shop", "", "shop to sync")
	syncCmd.Flags().BoolVar(&syncReindexOnly, "reindex-only", false, "re-embed without regenerating metadata")
}

func runSync() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	provider := llm.New(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.ChatModel, cfg.Provider.EmbedModel)
	catalogClient := catalog.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.AccessToken)
	index := embedding.NewStore(store.DB(), provider)

	products, err := catalogClient.SearchProducts(ctx, syncShop, "", syncBatchSize)
	if err != nil {
		return fmt.Errorf("listing catalog: %w", err)
	}
	if len(products) == 0 {
		printWarning("no products found for %s", syncShop)
		return nil
	}

	if syncReindexOnly {
		entities := make([]embedding.Entity, 0, len(products))
		for _, p := range products {
			entities = append(entities, embedding.Entity{
				ID: p.ID,
				Fields: embedding.Fields{
					Kind:        "product",
					Title:       p.Title,
					Description: p.Description,
					Features:    p.Metadata.Features,
					UseCases:    p.Metadata.UseCases,
					FAQs:        p.Metadata.FAQs,
				},
			})
		}
		if err := index.UpsertBatch(ctx, syncShop, entities); err != nil {
			return fmt.Errorf("reindexing: %w", err)
		}
		printSuccess("Reindexed %d products for %s", len(entities), syncShop)
		return nil
	}

	generator := seo.NewGenerator(provider, logger)
	pipeline := seo.NewPipeline(catalogClient, generator, index, store, logger)

	failed := 0
	for _, p := range products {
		if err := pipeline.HandleEvent(ctx, syncShop, seo.ActionUpdate, p.ID); err != nil {
			printError("syncing %s: %v", p.ID, err)
			failed++
			continue
		}
		fmt.Fprintf(os.Stderr, "  synced %s (%s)\n", p.ID, p.Title)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d products failed", failed, len(products))
	}
	printSuccess("Synced %d products for %s", len(products), syncShop)
	return nil
}
