package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ShopSettings is the per-shop assistant configuration. One row per shop,
// created with defaults the first time the shop is seen.
type ShopSettings struct {
	Shop                string    `json:"shop"`
	ChatEnabled         bool      `json:"chatEnabled"`
	RestrictToQA        bool      `json:"restrictToQA"`
	AllowAddToCart      bool      `json:"allowAddToCart"`
	TonePreset          string    `json:"tonePreset"`
	BrandWords          []string  `json:"brandWords"`
	Blocklist           []string  `json:"blocklist"`
	MaxTokens           int       `json:"maxTokens"`
	Temperature         float64   `json:"temperature"`
	TranscriptRetention bool      `json:"transcriptRetention"`
	RetentionDays       int       `json:"retentionDays"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// DefaultSettings returns the settings written on first read for a shop.
func DefaultSettings(shop string) ShopSettings {
	return ShopSettings{
		Shop:                shop,
		ChatEnabled:         true,
		RestrictToQA:        false,
		AllowAddToCart:      false,
		TonePreset:          "professional",
		BrandWords:          []string{},
		Blocklist:           []string{},
		MaxTokens:           1000,
		Temperature:         0.7,
		TranscriptRetention: false,
		RetentionDays:       30,
	}
}

// TranscriptMessage is one message within a stored chat turn.
type TranscriptMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Transcript is one recorded chat turn: the context messages that went into
// the completion call plus the assistant reply. Append-only per session.
type Transcript struct {
	ID        string              `json:"id"`
	Shop      string              `json:"shop"`
	SessionID string              `json:"sessionId"`
	Messages  []TranscriptMessage `json:"messages"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}

// MetricSample is a per-shop daily counter. Unique per (shop, date, metric);
// repeated observations on the same day accumulate into value.
type MetricSample struct {
	Shop     string         `json:"shop"`
	Date     time.Time      `json:"date"`
	Metric   string         `json:"metric"`
	Value    int64          `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Job statuses. Transitions: pending -> running -> completed | failed.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is a queued unit of background work. The ledger records state
// transitions for generation work performed by the sync pipeline; no worker
// drains the queue in this process.
type Job struct {
	ID          string
	Shop        string
	Type        string
	PayloadJSON string
	Status      string
	ResultJSON  string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}
