package unifiedllm

import (
	"context"
	"log/slog"
	"time"
)

// RetryMiddleware retries the downstream call according to policy. Once the
// budget is spent the caller receives a *RetryExhaustedError.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}

// LoggingMiddleware records one structured line per provider call.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if err != nil {
			logger.Warn("llm call failed",
				"provider", req.Provider,
				"model", req.Model,
				"messages", len(req.Messages),
				"duration", time.Since(start),
				"error", err,
			)
			return nil, err
		}
		logger.Debug("llm call completed",
			"provider", req.Provider,
			"model", resp.Model,
			"messages", len(req.Messages),
			"tool_calls", len(resp.Message.ToolCalls()),
			"finish_reason", resp.FinishReason.Reason,
			"total_tokens", resp.Usage.TotalTokens,
			"duration", time.Since(start),
		)
		return resp, nil
	}
}
