// Package llm is a minimal client for an OpenAI-compatible completion and
// embedding API, covering only what the assistant needs: non-streaming chat
// completions with optional function definitions, and single-text embeddings.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Message represents a chat message in the provider API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes a function's parameters in JSON-schema form.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single parameter within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// FunctionDef is a callable function offered to the model.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// FunctionCall is the model's request to invoke a named function.
// Arguments is raw JSON and must be treated as untrusted input.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Completion is the assistant's reply: either plain content or a
// function-call intent.
type Completion struct {
	Content      string
	FunctionCall *FunctionCall
}

// ChatOptions tunes a single completion call.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	Functions   []FunctionDef
}

// Client communicates with an OpenAI-compatible API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	httpClient *http.Client
	sleep      func(time.Duration) // injectable for tests
}

// New creates a Client for the given base URL (e.g. https://api.openai.com/v1).
func New(baseURL, apiKey, chatModel, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		sleep: time.Sleep,
	}
}

type chatRequest struct {
	Model        string        `json:"model"`
	Messages     []Message     `json:"messages"`
	Functions    []FunctionDef `json:"functions,omitempty"`
	FunctionCall string        `json:"function_call,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content      string        `json:"content"`
			FunctionCall *FunctionCall `json:"function_call"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion sends messages (plus any offered functions) and returns the
// model's reply. Transport errors are retried once with jitter; HTTP-level
// errors are not.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts ChatOptions) (Completion, error) {
	cr := chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if len(opts.Functions) > 0 {
		cr.Functions = opts.Functions
		cr.FunctionCall = "auto"
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return Completion{}, err
	}

	respBody, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return Completion{}, err
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Completion{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return Completion{}, fmt.Errorf("chat: empty choices")
	}

	msg := result.Choices[0].Message
	return Completion{Content: msg.Content, FunctionCall: msg.FunctionCall}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text. All callers share
// one embedding model, so vector dimensions are consistent per deployment.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Input: text})
	if err != nil {
		return nil, err
	}

	respBody, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}

	var result embedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embed: empty data array")
	}
	return result.Data[0].Embedding, nil
}

// post issues the request, retrying once on transport failure with a short
// jittered backoff. HTTP-level errors (non-200) are not retried. Context
// cancellation aborts both attempts.
func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	respBody, retryable, err := c.postOnce(ctx, path, body)
	if err == nil || !retryable || ctx.Err() != nil {
		return respBody, err
	}

	backoff := time.Duration(100+rand.Intn(200)) * time.Millisecond
	c.sleep(backoff)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	respBody, _, err = c.postOnce(ctx, path, body)
	return respBody, err
}

func (c *Client) postOnce(ctx context.Context, path string, body []byte) (respBody []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("provider %s: unexpected status %d", path, resp.StatusCode)
	}
	return respBody, false, nil
}
