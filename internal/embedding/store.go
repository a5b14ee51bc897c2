// Package embedding persists entity vectors and metadata for semantic
// retrieval. Vectors are produced by a provider embedder and stored as
// little-endian float32 blobs alongside the text they were derived from.
package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/merchly/shopassist/internal/catalog"
)

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fields is the indexed metadata for an entity. For products the SEO fields
// are populated; for policies only Title, Description and PolicyType are set.
type Fields struct {
	Kind        string
	Title       string
	Description string
	Features    []string
	UseCases    []string
	FAQs        []catalog.FAQ
	PolicyType  string
}

// Record is a stored entity with its vector.
type Record struct {
	Shop      string
	EntityID  string
	Fields    Fields
	Vector    []float32
	UpdatedAt time.Time
}

// Store reads and writes entity embeddings.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

func NewStore(db *sql.DB, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

// canonicalText is the text an entity is embedded from. Descriptive fields
// are concatenated in a fixed order so re-embedding identical content
// produces an identical input.
func canonicalText(f Fields) string {
	parts := []string{f.Title, f.Description}
	parts = append(parts, f.Features...)
	parts = append(parts, f.UseCases...)
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// Upsert embeds the entity's canonical text and replaces any existing row
// for (shop, entityID). On embedding failure nothing is written and the
// previous row, if any, is left intact.
func (s *Store) Upsert(ctx context.Context, shop, entityID string, fields Fields) error {
	text := canonicalText(fields)
	if text == "" {
		return fmt.Errorf("entity %s has no embeddable text", entityID)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding entity %s: %w", entityID, err)
	}

	features, err := json.Marshal(emptyIfNil(fields.Features))
	if err != nil {
		return fmt.Errorf("encoding features: %w", err)
	}
	useCases, err := json.Marshal(emptyIfNil(fields.UseCases))
	if err != nil {
		return fmt.Errorf("encoding use cases: %w", err)
	}
	faqList := fields.FAQs
	if faqList == nil {
		faqList = []catalog.FAQ{}
	}
	faqs, err := json.Marshal(faqList)
	if err != nil {
		return fmt.Errorf("encoding faqs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_embeddings (shop, entity_id, kind, title, description, features, use_cases, faqs, policy_type, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shop, entity_id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			description = excluded.description,
			features = excluded.features,
			use_cases = excluded.use_cases,
			faqs = excluded.faqs,
			policy_type = excluded.policy_type,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		shop, entityID, fields.Kind, fields.Title, fields.Description,
		string(features), string(useCases), string(faqs), fields.PolicyType,
		encodeVector(vec), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting embedding for %s: %w", entityID, err)
	}
	return nil
}

// Get returns the stored record for an entity, or catalog.ErrNotFound.
func (s *Store) Get(ctx context.Context, shop, entityID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT shop, entity_id, kind, title, description, features, use_cases, faqs, policy_type, embedding, updated_at
		FROM entity_embeddings WHERE shop = ? AND entity_id = ?`, shop, entityID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading embedding for %s: %w", entityID, err)
	}
	return rec, nil
}

// ListAll returns every record for a shop.
func (s *Store) ListAll(ctx context.Context, shop string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shop, entity_id, kind, title, description, features, use_cases, faqs, policy_type, embedding, updated_at
		FROM entity_embeddings WHERE shop = ?`, shop)
	if err != nil {
		return nil, fmt.Errorf("listing embeddings: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes an entity's record. Returns catalog.ErrNotFound if no row
// existed.
func (s *Store) Delete(ctx context.Context, shop, entityID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entity_embeddings WHERE shop = ? AND entity_id = ?", shop, entityID)
	if err != nil {
		return fmt.Errorf("deleting embedding for %s: %w", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting embedding for %s: %w", entityID, err)
	}
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var features, useCases, faqs, updatedAt string
	var blob []byte
	err := row.Scan(&rec.Shop, &rec.EntityID, &rec.Fields.Kind, &rec.Fields.Title,
		&rec.Fields.Description, &features, &useCases, &faqs,
		&rec.Fields.PolicyType, &blob, &updatedAt)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(features), &rec.Fields.Features); err != nil {
		return Record{}, fmt.Errorf("decoding features: %w", err)
	}
	if err := json.Unmarshal([]byte(useCases), &rec.Fields.UseCases); err != nil {
		return Record{}, fmt.Errorf("decoding use cases: %w", err)
	}
	if err := json.Unmarshal([]byte(faqs), &rec.Fields.FAQs); err != nil {
		return Record{}, fmt.Errorf("decoding faqs: %w", err)
	}
	rec.Vector = decodeVector(blob)
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
