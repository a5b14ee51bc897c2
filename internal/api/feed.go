package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/merchly/shopassist/internal/feed"
)

func pagingParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = feed.DefaultLimit
	}
	return page, limit
}

func feedHeaders(w http.ResponseWriter, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
}

func handleFeedJSON(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop, ok := shopParam(w, r)
		if !ok {
			return
		}
		page, limit := pagingParams(r)

		feedPage, err := deps.Feed.BuildPage(r.Context(), shop, page, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to generate feed: %v", err)
			return
		}

		recordFeedHit(deps, shop, "json", feedPage.Pagination, len(feedPage.Products))
		feedHeaders(w, "application/json")
		writeJSON(w, feedPage)
	}
}

func handleFeedNDJSON(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop, ok := shopParam(w, r)
		if !ok {
			return
		}
		page, limit := pagingParams(r)

		// Buffer so a mid-stream failure can still become a clean error
		// response.
		var buf bytes.Buffer
		pagination, err := deps.Feed.Stream(r.Context(), &buf, shop, page, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to generate feed: %v", err)
			return
		}

		recordFeedHit(deps, shop, "ndjson", pagination, bytes.Count(buf.Bytes(), []byte("\n")))
		feedHeaders(w, "application/x-ndjson")
		w.Write(buf.Bytes())
	}
}

func recordFeedHit(deps Deps, shop, format string, p feed.Pagination, returned int) {
	// Metric failures never block feed delivery.
	_ = deps.Store.RecordMetric(shop, "feed_hits", 1, map[string]any{
		"format":           format,
		"page":             p.Page,
		"limit":            p.Limit,
		"productsReturned": returned,
	})
}
