// Package unifiedllm provides a provider-agnostic chat completion client.
//
// # Architecture
//
// The package is layered:
//
//   - Provider adapters: AnthropicAdapter (anthropic-sdk-go), OpenAIAdapter
//     (go-openai) and GollmAdapter (gollm) implement ProviderAdapter.
//   - Utilities: Retry with exponential backoff and a typed error hierarchy.
//   - Client: sends requests to one adapter through middleware such as
//     RetryMiddleware and LoggingMiddleware.
//   - Catalog: known models with context windows, used for defaults and
//     token limits.
//
// # Quick Start
//
//	adapter := unifiedllm.NewAnthropicAdapter(apiKey, "https://api.minimax.io/anthropic", "MiniMax-M2.5")
//	client := unifiedllm.NewClient(adapter,
//	    unifiedllm.RetryMiddleware(unifiedllm.DefaultRetryPolicy()),
//	    unifiedllm.LoggingMiddleware(logger),
//	)
//
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
//
// # Messages
//
// A Message holds ordered ContentParts. Assistant messages may mix thinking,
// text and tool call parts; tool messages carry a single tool result part and
// record the originating call in ToolCallID.
//
// # Errors
//
// Provider failures are mapped onto ProviderError subtypes by status code.
// When RetryMiddleware gives up, callers receive a *RetryExhaustedError whose
// Attempts field counts every call made.
package unifiedllm
