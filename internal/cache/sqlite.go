package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteCache stores entries in the chat_cache table. Expiry is passive:
// stale rows are treated as misses on read and reaped by PurgeExpired.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db, now: time.Now}
}

func (c *SQLiteCache) Get(ctx context.Context, shop, key string) (Entry, bool, error) {
	var entry Entry
	var actions sql.NullString
	var expiresAt string
	err := c.db.QueryRowContext(ctx,
		"SELECT answer, actions, expires_at FROM chat_cache WHERE shop = ? AND query_key = ?",
		shop, key).Scan(&entry.Answer, &actions, &expiresAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}

	entry.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parsing cache expiry: %w", err)
	}
	if !c.now().UTC().Before(entry.ExpiresAt) {
		return Entry{}, false, nil
	}
	if actions.Valid && actions.String != "" {
		entry.Actions = []byte(actions.String)
	}
	return entry, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, shop, key string, entry Entry) error {
	var actions any
	if len(entry.Actions) > 0 {
		actions = string(entry.Actions)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO chat_cache (shop, query_key, answer, actions, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shop, query_key) DO UPDATE SET
			answer = excluded.answer,
			actions = excluded.actions,
			expires_at = excluded.expires_at`,
		shop, key, entry.Answer, actions, entry.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// PurgeExpired removes entries past their expiry and reports how many rows
// were deleted.
func (c *SQLiteCache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM chat_cache WHERE expires_at <= ?", c.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	return res.RowsAffected()
}
