package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/merchly/shopassist/internal/cache"
	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/embedding"
	"github.com/merchly/shopassist/internal/llm"
	"github.com/merchly/shopassist/internal/seo"
	"github.com/merchly/shopassist/internal/storage"
)

const maxMessageLen = 1000

// ErrChatDisabled is returned when the shop has turned the assistant off.
var ErrChatDisabled = errors.New("chat is disabled for this shop")

// ErrInvalidMessage is returned for empty or over-length messages.
var ErrInvalidMessage = errors.New("message must be between 1 and 1000 characters")

// Request is one chat turn from the storefront widget.
type Request struct {
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	ProductID string         `json:"productId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Response is the assistant's reply for one turn. Error carries a generic
// diagnostic marker when the reply is a provider-failure fallback; the raw
// provider error never reaches the caller.
type Response struct {
	Message   string  `json:"message"`
	Actions   *Action `json:"actions"`
	SessionID string  `json:"sessionId"`
	Cached    bool    `json:"cached,omitempty"`
	Error     string  `json:"error,omitempty"`
}

const errProviderUnavailable = "provider_unavailable"

type completer interface {
	ChatCompletion(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.Completion, error)
}

type settingsReader interface {
	GetSettings(shop string) (storage.ShopSettings, error)
}

type embeddingReader interface {
	Get(ctx context.Context, shop, entityID string) (embedding.Record, error)
}

type relatedSuggester interface {
	RelatedProducts(ctx context.Context, features, useCases []string) ([]seo.Suggestion, error)
}

type recorder interface {
	RecordMetric(shop, metric string, delta int64, metadata map[string]any) error
	AppendTranscript(t storage.Transcript) error
}

// Orchestrator runs the chat turn state machine: settings gate, cache
// lookup, context assembly, completion, function dispatch, then the
// bookkeeping writes.
type Orchestrator struct {
	settings   settingsReader
	cache      cache.ResponseCache
	provider   completer
	catalog    catalog.Client
	embeddings embeddingReader
	related    relatedSuggester
	store      recorder
	logger     *slog.Logger
	cacheTTL   time.Duration

	now  func() time.Time
	pick func(n int) int
}

func NewOrchestrator(
	settings settingsReader,
	responseCache cache.ResponseCache,
	provider completer,
	cat catalog.Client,
	embeddings embeddingReader,
	related relatedSuggester,
	store recorder,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		settings:   settings,
		cache:      responseCache,
		provider:   provider,
		catalog:    cat,
		embeddings: embeddings,
		related:    related,
		store:      store,
		logger:     logger,
		cacheTTL:   cacheTTL,
		now:        time.Now,
		pick:       rand.IntN,
	}
}

// Handle processes one chat turn for a shop.
func (o *Orchestrator) Handle(ctx context.Context, shop string, req Request) (Response, error) {
	if n := utf8.RuneCountInString(req.Message); n == 0 || n > maxMessageLen {
		return Response{}, ErrInvalidMessage
	}

	settings, err := o.settings.GetSettings(shop)
	if err != nil {
		return Response{}, fmt.Errorf("loading settings: %w", err)
	}
	if !settings.ChatEnabled {
		return Response{}, ErrChatDisabled
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	key := cache.Key(req.Message, req.ProductID)
	if entry, ok, err := o.cache.Get(ctx, shop, key); err != nil {
		o.logger.Error("cache lookup failed", "shop", shop, "error", err)
	} else if ok {
		resp := Response{Message: entry.Answer, SessionID: sessionID, Cached: true}
		if len(entry.Actions) > 0 {
			if err := json.Unmarshal(entry.Actions, &resp.Actions); err != nil {
				o.logger.Error("corrupt cached actions", "shop", shop, "error", err)
				resp.Actions = nil
			}
		}
		return resp, nil
	}

	messages := o.buildContext(ctx, shop, req)
	functions := FunctionCatalog(settings)

	completion, err := o.provider.ChatCompletion(ctx, o.withSystemPrompt(settings, functions, messages), llm.ChatOptions{
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
		Functions:   functions,
	})
	if err != nil {
		o.logger.Error("completion failed, serving fallback", "shop", shop, "error", err)
		return Response{
			Message:   fallbackResponses[o.pick(len(fallbackResponses))],
			SessionID: sessionID,
			Error:     errProviderUnavailable,
		}, nil
	}

	message := completion.Content
	if message == "" && completion.FunctionCall == nil {
		message = apologyEmpty
	}

	var action *Action
	if completion.FunctionCall != nil {
		action, err = o.dispatch(ctx, shop, settings, *completion.FunctionCall)
		if err != nil {
			o.logger.Error("function call failed", "shop", shop,
				"function", completion.FunctionCall.Name, "error", err)
			action = nil
			message = apologyFunction
		} else if message == "" {
			message = apologyEmpty
		}
	}

	o.finish(ctx, shop, key, settings, req, sessionID, messages, message, action)
	return Response{Message: message, Actions: action, SessionID: sessionID}, nil
}

// buildContext assembles the per-turn conversation. When the turn is scoped
// to a product that has been indexed, its generated metadata is injected as
// a system message so the assistant can answer without a function call.
func (o *Orchestrator) buildContext(ctx context.Context, shop string, req Request) []llm.Message {
	var messages []llm.Message
	if req.ProductID != "" {
		rec, err := o.embeddings.Get(ctx, shop, req.ProductID)
		if err == nil {
			messages = append(messages, llm.Message{Role: "system", Content: productContext(rec)})
		} else if !errors.Is(err, catalog.ErrNotFound) {
			o.logger.Error("loading product context", "shop", shop, "product", req.ProductID, "error", err)
		}
	}
	return append(messages, llm.Message{Role: "user", Content: req.Message})
}

func productContext(rec embedding.Record) string {
	var faqs []string
	for _, f := range rec.Fields.FAQs {
		faqs = append(faqs, f.Q+": "+f.A)
	}
	return fmt.Sprintf("Current product: %s\nFeatures: %s\nUse cases: %s\nFAQs: %s",
		rec.Fields.Title,
		strings.Join(rec.Fields.Features, ", "),
		strings.Join(rec.Fields.UseCases, ", "),
		strings.Join(faqs, "\n"))
}

// withSystemPrompt prepends the brand-voice instructions.
func (o *Orchestrator) withSystemPrompt(settings storage.ShopSettings, functions []llm.FunctionDef, messages []llm.Message) []llm.Message {
	names := make([]string, len(functions))
	for i, f := range functions {
		names[i] = f.Name
	}
	prompt := fmt.Sprintf(`You are a helpful AI assistant for an e-commerce store.

Guidelines:
- Be helpful, accurate, and conversational
- Focus on product information, sizing, materials, compatibility, shipping, and returns
- Avoid medical, financial, or legal advice
- Use the brand tone: %s
- Incorporate brand words: %s
- Avoid blocked words: %s

Available actions: %s`,
		settings.TonePreset,
		strings.Join(settings.BrandWords, ", "),
		strings.Join(settings.Blocklist, ", "),
		strings.Join(names, ", "))
	return append([]llm.Message{{Role: "system", Content: prompt}}, messages...)
}

// finish performs the post-reply writes: cache, transcript, metric. None of
// them can fail the turn; errors are logged and the reply goes out anyway.
func (o *Orchestrator) finish(ctx context.Context, shop, key string, settings storage.ShopSettings, req Request, sessionID string, contextMessages []llm.Message, message string, action *Action) {
	entry := cache.Entry{Answer: message, ExpiresAt: o.now().UTC().Add(o.cacheTTL)}
	if action != nil {
		raw, err := json.Marshal(action)
		if err != nil {
			o.logger.Error("encoding action for cache", "shop", shop, "error", err)
		} else {
			entry.Actions = raw
		}
	}
	if err := o.cache.Set(ctx, shop, key, entry); err != nil {
		o.logger.Error("cache write failed", "shop", shop, "error", err)
	}

	if settings.TranscriptRetention && req.SessionID != "" {
		transcript := storage.Transcript{
			ID:        uuid.New().String(),
			Shop:      shop,
			SessionID: req.SessionID,
			CreatedAt: o.now().UTC(),
			Metadata: map[string]any{
				"productId": req.ProductID,
				"context":   req.Context,
			},
		}
		for _, m := range contextMessages {
			transcript.Messages = append(transcript.Messages, storage.TranscriptMessage{
				Role: m.Role, Content: m.Content,
			})
		}
		transcript.Messages = append(transcript.Messages, storage.TranscriptMessage{
			Role: "assistant", Content: message, Timestamp: o.now().UTC(),
		})
		if action != nil {
			transcript.Metadata["actionType"] = action.Type
		}
		if err := o.store.AppendTranscript(transcript); err != nil {
			o.logger.Error("transcript write failed", "shop", shop, "error", err)
		}
	}

	if err := o.store.RecordMetric(shop, "chat_messages", 1, map[string]any{
		"hasActions": action != nil,
		"productId":  req.ProductID,
	}); err != nil {
		o.logger.Error("metric write failed", "shop", shop, "error", err)
	}
}
