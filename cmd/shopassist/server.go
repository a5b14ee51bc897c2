package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/merchly/shopassist/internal/api"
	"github.com/merchly/shopassist/internal/cache"
	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/chat"
	"github.com/merchly/shopassist/internal/config"
	"github.com/merchly/shopassist/internal/embedding"
	"github.com/merchly/shopassist/internal/feed"
	"github.com/merchly/shopassist/internal/llm"
	"github.com/merchly/shopassist/internal/seo"
	"github.com/merchly/shopassist/internal/storage"
)

var mcpShop string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shopassist server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&mcpShop, "mcp-shop", "", "shop to scope the MCP stdio tools to (disabled when empty)")
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "shopassist version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	provider := llm.New(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.ChatModel, cfg.Provider.EmbedModel)
	catalogClient := catalog.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.AccessToken)

	index := embedding.NewStore(store.DB(), provider)
	searcher := embedding.NewSearcher(index, provider)

	var responseCache cache.ResponseCache
	if cfg.Cache.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisCache.Close()
		responseCache = redisCache
		slog.Info("response cache backend: redis", "addr", cfg.Cache.RedisAddr)
	} else {
		responseCache = cache.NewSQLiteCache(store.DB())
		slog.Info("response cache backend: sqlite")
	}

	generator := seo.NewGenerator(provider, logger)
	pipeline := seo.NewPipeline(catalogClient, generator, index, store, logger)
	orchestrator := chat.NewOrchestrator(
		store,
		responseCache,
		provider,
		catalogClient,
		index,
		generator,
		store,
		cfg.Cache.TTL,
		logger,
	)
	feedBuilder := feed.NewBuilder(index, catalogClient, logger)

	handler := api.NewHandler(api.Deps{
		Store:         store,
		Chat:          orchestrator,
		Pipeline:      pipeline,
		Feed:          feedBuilder,
		WebhookSecret: cfg.Webhook.Secret,
	})
	if cfg.Webhook.Secret == "" {
		printWarning("SHOPASSIST_WEBHOOK_SECRET not set; webhook receiver disabled")
	}

	// MCP stdio server is single-tenant; only start it when a shop scope
	// was given.
	if mcpShop != "" {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Catalog:  catalogClient,
			Searcher: searcher,
			Shop:     mcpShop,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "shop", mcpShop)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "shopassist listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
