package refine

import "net/http"

// Option configures a Client instance.
type Option func(*Client)

// WithName sets the backend name returned by Name() (default "openai").
// Use this to distinguish backends in logs and observability.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithHTTPClient replaces the default HTTP client, for callers that need
// custom timeouts, proxies, or transport middleware.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTemperature sets the sampling temperature (default 0.1 — verdicts
// should be near-deterministic).
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps the completion length (default 256; a verdict is one
// small JSON object).
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithSeed sets a deterministic seed for reproducible verdicts on endpoints
// that support it.
func WithSeed(s int) Option {
	return func(c *Client) { c.seed = &s }
}
