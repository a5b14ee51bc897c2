package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/merchly/shopassist/internal/cache"
	"github.com/merchly/shopassist/internal/config"
	"github.com/merchly/shopassist/internal/storage"
)

var cleanupShop string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired cache entries and transcripts past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupShop == "" {
			return fmt.Errorf("--shop is required")
		}
		return runCleanup()
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupShop, "shop", "", "shop to clean up")
}

func runCleanup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	purged, err := cache.NewSQLiteCache(store.DB()).PurgeExpired(context.Background())
	if err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	printStatus("cache entries purged", "%d", purged)

	settings, err := store.GetSettings(cleanupShop)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	removed, err := store.CleanupOldTranscripts(cleanupShop, settings.RetentionDays)
	if err != nil {
		return fmt.Errorf("cleaning transcripts: %w", err)
	}
	printStatus("transcripts removed", "%d (older than %d days)", removed, settings.RetentionDays)

	printSuccess("Cleanup complete for %s", cleanupShop)
	return nil
}
