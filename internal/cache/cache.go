// Package cache stores chat responses keyed by normalized query and product
// context, so repeated questions skip the provider entirely. Two backends
// implement the same contract: an embedded SQLite table and Redis.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Entry is one cached chat response. Actions carry the assistant's
// structured side effects verbatim as JSON.
type Entry struct {
	Answer    string          `json:"answer"`
	Actions   json.RawMessage `json:"actions,omitempty"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// ResponseCache is the lookup contract used by the chat orchestrator.
// Get returns ok=false on a miss or an expired entry.
type ResponseCache interface {
	Get(ctx context.Context, shop, key string) (Entry, bool, error)
	Set(ctx context.Context, shop, key string, entry Entry) error
}

// Key derives the cache key for a message. The message is lowercased and
// trimmed so trivially different phrasings of the same question collide;
// the product scope is appended so product-specific answers never leak into
// general conversation.
func Key(message, productID string) string {
	scope := productID
	if scope == "" {
		scope = "general"
	}
	return strings.ToLower(strings.TrimSpace(message)) + "_" + scope
}
