// Package api exposes the HTTP surface: the chat endpoint, the AI product
// feed, settings, metrics, and the catalog webhook receiver.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merchly/shopassist/internal/chat"
	"github.com/merchly/shopassist/internal/feed"
	"github.com/merchly/shopassist/internal/seo"
	"github.com/merchly/shopassist/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the collaborators the HTTP layer dispatches into.
type Deps struct {
	Store    *storage.Store
	Chat     *chat.Orchestrator
	Pipeline *seo.Pipeline
	Feed     *feed.Builder

	// WebhookSecret guards the webhook receiver. Empty disables the
	// receiver entirely rather than leaving it open.
	WebhookSecret string
}

// NewHandler builds the full route table.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Post("/chat", handleChat(deps))
	r.Get("/feed.json", handleFeedJSON(deps))
	r.Get("/feed.ndjson", handleFeedNDJSON(deps))
	r.Get("/settings", handleGetSettings(deps))
	r.Put("/settings", handlePutSettings(deps))
	r.Get("/metrics", handleGetMetrics(deps))

	if deps.WebhookSecret != "" {
		r.With(BearerAuth(deps.WebhookSecret)).Post("/webhooks/products", handleProductWebhook(deps))
	}

	return r
}

// shopParam extracts the required shop identifier from the query string.
func shopParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	shop := r.URL.Query().Get("shop")
	if shop == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "shop parameter is required")
		return "", false
	}
	return shop, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
