package unifiedllm

import "context"

// ProviderAdapter translates Requests into one provider's wire format.
type ProviderAdapter interface {
	// Name returns the provider identifier, such as "anthropic" or "ollama".
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}
