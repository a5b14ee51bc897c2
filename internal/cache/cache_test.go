package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/merchly/shopassist/internal/storage"
)

func TestKey(t *testing.T) {
	tests := []struct {
		message, productID, want string
	}{
		{"What is your return policy?", "", "what is your return policy?_general"},
		{"  Does it run small?  ", "prod-9", "does it run small?_prod-9"},
		{"HELLO", "", "hello_general"},
	}
	for _, tt := range tests {
		if got := Key(tt.message, tt.productID); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.message, tt.productID, got, tt.want)
		}
	}
}

func newSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteCache(s.DB())
}

func TestSQLiteCache_SetGet(t *testing.T) {
	c := newSQLiteCache(t)
	ctx := context.Background()

	entry := Entry{
		Answer:    "Returns are accepted within 30 days.",
		Actions:   json.RawMessage(`[{"type":"policy_info"}]`),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := c.Set(ctx, "shop-a", "return policy_general", entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "shop-a", "return policy_general")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Answer != entry.Answer {
		t.Errorf("Answer = %q", got.Answer)
	}
	if string(got.Actions) != string(entry.Actions) {
		t.Errorf("Actions = %s", got.Actions)
	}
}

func TestSQLiteCache_Miss(t *testing.T) {
	c := newSQLiteCache(t)
	_, ok, err := c.Get(context.Background(), "shop-a", "nope_general")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestSQLiteCache_ShopIsolation(t *testing.T) {
	c := newSQLiteCache(t)
	ctx := context.Background()

	entry := Entry{Answer: "shop-a answer", ExpiresAt: time.Now().UTC().Add(time.Hour)}
	if err := c.Set(ctx, "shop-a", "sizing_general", entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	_, ok, err := c.Get(ctx, "shop-b", "sizing_general")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("entry from shop-a visible to shop-b")
	}
}

func TestSQLiteCache_ExpiredEntryIsMiss(t *testing.T) {
	c := newSQLiteCache(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	entry := Entry{Answer: "stale", ExpiresAt: now.Add(time.Minute)}
	if err := c.Set(ctx, "shop-a", "q_general", entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Still fresh.
	if _, ok, _ := c.Get(ctx, "shop-a", "q_general"); !ok {
		t.Fatal("expected hit before expiry")
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok, _ := c.Get(ctx, "shop-a", "q_general"); ok {
		t.Error("expected miss after expiry")
	}
}

func TestSQLiteCache_OverwriteRefreshes(t *testing.T) {
	c := newSQLiteCache(t)
	ctx := context.Background()

	first := Entry{Answer: "first", ExpiresAt: time.Now().UTC().Add(time.Hour)}
	second := Entry{Answer: "second", ExpiresAt: time.Now().UTC().Add(2 * time.Hour)}
	if err := c.Set(ctx, "shop-a", "k", first); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, "shop-a", "k", second); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}

	got, ok, err := c.Get(ctx, "shop-a", "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Answer != "second" {
		t.Errorf("Answer = %q, want second", got.Answer)
	}
}

func TestSQLiteCache_PurgeExpired(t *testing.T) {
	c := newSQLiteCache(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "shop-a", "old", Entry{Answer: "x", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, "shop-a", "fresh", Entry{Answer: "y", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n, err := c.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	if _, ok, _ := c.Get(ctx, "shop-a", "fresh"); !ok {
		t.Error("fresh entry should survive purge")
	}
}
