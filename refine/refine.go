// Package refine implements chunking.Refiner over any OpenAI-compatible
// chat completions API.
package refine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// Client asks an OpenAI-compatible endpoint for one refinement verdict per
// chunk. Works with OpenAI, OpenRouter, Groq, Together, Fireworks, DeepSeek,
// Mistral, Ollama, vLLM, LM Studio, and any other provider that implements
// the chat completions API.
//
// A Client is safe for concurrent use. It performs exactly one HTTP call per
// Refine and does no retrying of its own — compose it with
// chunking.NewRefinementClient for retries, rate limiting, and circuit
// breaking.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
	name        string
	temperature float64
	maxTokens   int
	seed        *int
}

// New creates a refinement client for an OpenAI-compatible API.
//
// baseURL is the provider's API root, such as "https://api.openai.com/v1"
// or "http://localhost:11434/v1" for Ollama; the /chat/completions path is
// appended automatically.
func New(apiKey, model, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       model,
		baseURL:     baseURL,
		client:      &http.Client{},
		name:        "openai",
		temperature: 0.1,
		maxTokens:   256,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend name (default "openai", configurable via WithName).
func (c *Client) Name() string { return c.name }

// Refine sends one chunk for review and returns the validated verdict.
// Transport failures come back as *chunking.ErrHTTP so the resilience layer
// can classify them; malformed or out-of-range verdicts come back as
// *chunking.ErrInvalidResult and are never retried.
func (c *Client) Refine(ctx context.Context, req chunking.RefineRequest) (*chunking.RefinementResult, error) {
	resp, err := c.sendHTTP(ctx, c.buildBody(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.httpErr(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("refine: decode response: %w", err)
	}

	return parseVerdict(chatResp)
}

// sendHTTP marshals the request body and posts it to the chat completions endpoint.
func (c *Client) sendHTTP(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("refine: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("refine: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.client.Do(httpReq)
}

// httpErr drains the response body into an ErrHTTP for the retry layer,
// including any Retry-After value the endpoint sent with a 429 or 503.
func (c *Client) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &chunking.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: chunking.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ chunking.Refiner = (*Client)(nil)
