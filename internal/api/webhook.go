package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/merchly/shopassist/internal/seo"
)

const topicPrefix = "product/"

type webhookPayload struct {
	ID string `json:"id"`
}

// handleProductWebhook receives catalog change notifications. The topic and
// shop travel in headers, the entity in the body, matching the platform's
// delivery format.
func handleProductWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := r.Header.Get("X-Webhook-Topic")
		shop := r.Header.Get("X-Webhook-Shop")
		if shop == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "X-Webhook-Shop header is required")
			return
		}
		if !strings.HasPrefix(topic, topicPrefix) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid topic %q", topic)
			return
		}
		action := strings.TrimPrefix(topic, topicPrefix)

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid payload: %v", err)
			return
		}
		if payload.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "payload id is required")
			return
		}

		if err := deps.Pipeline.HandleEvent(r.Context(), shop, action, payload.ID); err != nil {
			if errors.Is(err, seo.ErrUnknownAction) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid topic %q", topic)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "processing event: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "processed"})
	}
}
