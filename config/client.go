package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// RetryPolicy converts the retry section into a unifiedllm policy. A
// disabled section yields a policy with no retries.
func (c *Config) RetryPolicy() unifiedllm.RetryPolicy {
	if !c.Retry.Enabled {
		return unifiedllm.RetryPolicy{}
	}
	return unifiedllm.RetryPolicy{
		MaxRetries:        c.Retry.MaxRetries,
		BaseDelay:         c.Retry.InitialDelay,
		MaxDelay:          c.Retry.MaxDelay,
		BackoffMultiplier: c.Retry.ExponentialBase,
	}
}

// NewAdapter builds the provider adapter named by Provider. "anthropic" and
// "openai" talk to the configured api_base; any other name is handed to
// gollm.
func (c *Config) NewAdapter() (unifiedllm.ProviderAdapter, error) {
	switch strings.ToLower(c.Provider) {
	case "anthropic":
		return unifiedllm.NewAnthropicAdapter(c.APIKey, anthropicBaseURL(c.APIBase), c.Model), nil
	case "openai":
		return unifiedllm.NewOpenAIAdapter(c.APIKey, openAIBaseURL(c.APIBase), c.Model), nil
	default:
		return unifiedllm.NewGollmAdapter(c.Provider, c.APIKey, unifiedllm.WithModel(c.Model))
	}
}

// NewClient builds a client for the configured provider with retry
// handling and request logging.
func (c *Config) NewClient(logger *slog.Logger) (*unifiedllm.Client, error) {
	adapter, err := c.NewAdapter()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	policy := c.RetryPolicy()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model call", "attempt", attempt, "delay", delay, "error", err)
	}

	// Retry is outermost so every attempt is logged.
	var mws []unifiedllm.Middleware
	if policy.MaxRetries > 0 {
		mws = append(mws, unifiedllm.RetryMiddleware(policy))
	}
	mws = append(mws, unifiedllm.LoggingMiddleware(logger))
	client := unifiedllm.NewClient(adapter, mws...)
	logger.Debug("model client ready", "provider", client.Provider(), "model", c.Model, "max_retries", policy.MaxRetries)
	return client, nil
}

// anthropicBaseURL maps a MiniMax-style host to its Anthropic-compatible
// endpoint. Other URLs are used as given.
func anthropicBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return ""
	}
	if strings.Contains(base, "minimax") && !strings.HasSuffix(base, "/anthropic") {
		return base + "/anthropic/"
	}
	return base + "/"
}

// openAIBaseURL appends /v1 to MiniMax-style hosts.
func openAIBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.Contains(base, "minimax") && !strings.HasSuffix(base, "/v1") {
		return base + "/v1"
	}
	return base
}
