package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for shop settings, transcripts,
// metrics, and the job ledger. The embedding and cache packages share the
// same database via DB().
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "shopassist.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying connection for packages that manage their own
// tables (embedding store, sqlite response cache).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Shop settings ---

// GetSettings returns the settings row for shop, inserting defaults if the
// shop has never been seen. The insert uses ON CONFLICT DO NOTHING so two
// concurrent first reads converge on one row.
func (s *Store) GetSettings(shop string) (ShopSettings, error) {
	settings, err := s.readSettings(shop)
	if err == nil {
		return settings, nil
	}
	if err != ErrNotFound {
		return ShopSettings{}, err
	}

	def := DefaultSettings(shop)
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO shop_settings (shop, chat_enabled, restrict_to_qa, allow_add_to_cart, tone_preset,
			brand_words, blocklist, max_tokens, temperature, transcript_retention, retention_days,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shop) DO NOTHING`,
		def.Shop, def.ChatEnabled, def.RestrictToQA, def.AllowAddToCart, def.TonePreset,
		"[]", "[]", def.MaxTokens, def.Temperature, def.TranscriptRetention, def.RetentionDays,
		now, now,
	)
	if err != nil {
		return ShopSettings{}, fmt.Errorf("inserting default settings: %w", err)
	}
	return s.readSettings(shop)
}

func (s *Store) readSettings(shop string) (ShopSettings, error) {
	var st ShopSettings
	var brandWords, blocklist, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT shop, chat_enabled, restrict_to_qa, allow_add_to_cart, tone_preset,
			brand_words, blocklist, max_tokens, temperature, transcript_retention, retention_days,
			created_at, updated_at
		FROM shop_settings WHERE shop = ?`, shop,
	).Scan(&st.Shop, &st.ChatEnabled, &st.RestrictToQA, &st.AllowAddToCart, &st.TonePreset,
		&brandWords, &blocklist, &st.MaxTokens, &st.Temperature, &st.TranscriptRetention, &st.RetentionDays,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ShopSettings{}, ErrNotFound
	}
	if err != nil {
		return ShopSettings{}, err
	}
	if err := json.Unmarshal([]byte(brandWords), &st.BrandWords); err != nil {
		return ShopSettings{}, fmt.Errorf("parsing brand_words: %w", err)
	}
	if err := json.Unmarshal([]byte(blocklist), &st.Blocklist); err != nil {
		return ShopSettings{}, fmt.Errorf("parsing blocklist: %w", err)
	}
	if st.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ShopSettings{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return ShopSettings{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return st, nil
}

// UpdateSettings overwrites the mutable settings fields for shop.
func (s *Store) UpdateSettings(st ShopSettings) error {
	brandWords, err := json.Marshal(st.BrandWords)
	if err != nil {
		return err
	}
	blocklist, err := json.Marshal(st.Blocklist)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE shop_settings SET chat_enabled = ?, restrict_to_qa = ?, allow_add_to_cart = ?,
			tone_preset = ?, brand_words = ?, blocklist = ?, max_tokens = ?, temperature = ?,
			transcript_retention = ?, retention_days = ?, updated_at = ?
		WHERE shop = ?`,
		st.ChatEnabled, st.RestrictToQA, st.AllowAddToCart,
		st.TonePreset, string(brandWords), string(blocklist), st.MaxTokens, st.Temperature,
		st.TranscriptRetention, st.RetentionDays, time.Now().UTC().Format(time.RFC3339),
		st.Shop,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Transcripts ---

// AppendTranscript stores one chat turn. Turns for the same session share a
// session_id and are ordered by created_at.
func (s *Store) AppendTranscript(t Transcript) error {
	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("marshalling messages: %w", err)
	}
	var metadata any
	if t.Metadata != nil {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata: %w", err)
		}
		metadata = string(b)
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO chat_transcripts (id, shop, session_id, messages, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Shop, t.SessionID, string(messages), metadata, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListTranscripts returns the turns for a session in chronological order.
func (s *Store) ListTranscripts(shop, sessionID string) ([]Transcript, error) {
	rows, err := s.db.Query(`
		SELECT id, shop, session_id, messages, metadata, created_at
		FROM chat_transcripts WHERE shop = ? AND session_id = ?
		ORDER BY created_at ASC`, shop, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Transcript
	for rows.Next() {
		var t Transcript
		var messages, createdAt string
		var metadata sql.NullString
		if err := rows.Scan(&t.ID, &t.Shop, &t.SessionID, &messages, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(messages), &t.Messages); err != nil {
			return nil, fmt.Errorf("parsing messages for %s: %w", t.ID, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("parsing metadata for %s: %w", t.ID, err)
			}
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", t.ID, err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// CleanupOldTranscripts deletes turns older than retentionDays for shop.
// Returns the number of rows removed.
func (s *Store) CleanupOldTranscripts(shop string, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.Exec(`DELETE FROM chat_transcripts WHERE shop = ? AND created_at < ?`,
		shop, cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Metrics ---

const metricDateFormat = "2006-01-02"

// RecordMetric accumulates delta into the shop's daily counter for metric,
// creating the row on first observation. Metadata replaces any previous
// metadata for the day.
func (s *Store) RecordMetric(shop, metric string, delta int64, metadata map[string]any) error {
	var meta any
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata: %w", err)
		}
		meta = string(b)
	}
	day := time.Now().UTC().Format(metricDateFormat)
	_, err := s.db.Exec(`
		INSERT INTO metric_samples (shop, date, metric, value, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shop, date, metric) DO UPDATE SET
			value = value + excluded.value,
			metadata = excluded.metadata`,
		shop, day, metric, delta, meta,
	)
	return err
}

// GetMetrics returns samples for shop between from and to inclusive,
// ordered by date.
func (s *Store) GetMetrics(shop string, from, to time.Time) ([]MetricSample, error) {
	rows, err := s.db.Query(`
		SELECT shop, date, metric, value, metadata
		FROM metric_samples
		WHERE shop = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, metric ASC`,
		shop, from.UTC().Format(metricDateFormat), to.UTC().Format(metricDateFormat),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MetricSample
	for rows.Next() {
		var m MetricSample
		var date string
		var metadata sql.NullString
		if err := rows.Scan(&m.Shop, &date, &m.Metric, &m.Value, &metadata); err != nil {
			return nil, err
		}
		if m.Date, err = time.Parse(metricDateFormat, date); err != nil {
			return nil, fmt.Errorf("parsing metric date: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("parsing metric metadata: %w", err)
			}
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// --- Job ledger ---

// EnqueueJob inserts a pending job. The queue has no in-process consumer;
// ClaimNextJob/CompleteJob/FailJob define the transition contract for the
// generation paths that record their work here and for a future worker.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	payload := job.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, shop, type, payload_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		job.ID, job.Shop, job.Type, payload, now, now,
	)
	return err
}

// StartJob moves a specific pending job to running. Returns ErrNotFound when
// the job does not exist or is no longer pending.
func (s *Store) StartJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'running', started_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		now, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNextJob atomically moves the oldest pending job of one of the given
// types to running and returns it. Returns nil when the queue is empty.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, shop, type, payload_json, status, result_json, error, created_at, updated_at
		FROM jobs
		WHERE status = 'pending' AND type IN (?` + placeholders + `)
		ORDER BY created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types))
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var createdAt, updatedAt string
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Shop, &j.Type, &j.PayloadJSON, &j.Status, &j.ResultJSON, &j.Error,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(`UPDATE jobs SET status = 'running', started_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		now, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobRunning
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	j.UpdatedAt, _ = time.Parse(time.RFC3339, now)
	j.StartedAt = j.UpdatedAt
	return &j, nil
}

// CompleteJob marks a running job completed, optionally recording a result.
func (s *Store) CompleteJob(id, resultJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', result_json = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		resultJSON, now, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a job failed with the given error message.
func (s *Store) FailJob(id, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		errMsg, now, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingJobs returns pending jobs for a shop, oldest first. Type filter is
// optional.
func (s *Store) PendingJobs(shop, jobType string) ([]Job, error) {
	query := `SELECT id, shop, type, payload_json, status, result_json, error, created_at, updated_at
		FROM jobs WHERE shop = ? AND status = 'pending'`
	args := []any{shop}
	if jobType != "" {
		query += ` AND type = ?`
		args = append(args, jobType)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Job
	for rows.Next() {
		var j Job
		var createdAt, updatedAt string
		if err := rows.Scan(&j.ID, &j.Shop, &j.Type, &j.PayloadJSON, &j.Status, &j.ResultJSON, &j.Error, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
		}
		if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
		}
		results = append(results, j)
	}
	return results, rows.Err()
}
