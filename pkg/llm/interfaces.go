package llm

import (
	"context"
)

// LLMClient is the provider surface the join suggestion path depends on.
// Callers inject it so tests can substitute the mock client.
type LLMClient interface {
	// GenerateResponse generates a chat completion response. The context
	// bounds the call; suggestion analysis passes a deadline and falls back
	// to rule-based scoring when it expires.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

var _ LLMClient = (*Client)(nil)
