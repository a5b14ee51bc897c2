package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/merchly/shopassist/internal/storage"
)

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop, ok := shopParam(w, r)
		if !ok {
			return
		}

		settings, err := deps.Store.GetSettings(shop)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, settings)
	}
}

func handlePutSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop, ok := shopParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// Load first so a partial body only changes the fields it names.
		settings, err := deps.Store.GetSettings(shop)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		settings.Shop = shop

		if settings.MaxTokens < 1 || settings.MaxTokens > 4000 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "maxTokens must be between 1 and 4000")
			return
		}
		if settings.Temperature < 0 || settings.Temperature > 2 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "temperature must be between 0 and 2")
			return
		}
		if settings.RetentionDays < 1 || settings.RetentionDays > 365 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "retentionDays must be between 1 and 365")
			return
		}

		if err := deps.Store.UpdateSettings(settings); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "invalid_request_error", "unknown shop")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save settings: %v", err)
			return
		}

		updated, err := deps.Store.GetSettings(shop)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload settings: %v", err)
			return
		}
		writeJSON(w, updated)
	}
}

func handleGetMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop, ok := shopParam(w, r)
		if !ok {
			return
		}

		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		if v := r.URL.Query().Get("from"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid from date: %v", err)
				return
			}
			from = t
		}
		if v := r.URL.Query().Get("to"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid to date: %v", err)
				return
			}
			to = t
		}

		samples, err := deps.Store.GetMetrics(shop, from, to)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load metrics: %v", err)
			return
		}
		if samples == nil {
			samples = []storage.MetricSample{}
		}
		writeJSON(w, map[string]any{"metrics": samples})
	}
}
