package unifiedllm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// scriptedAdapter answers from a fixed response or error and records calls.
type scriptedAdapter struct {
	name string
	resp *Response
	err  error
	reqs []Request
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) Complete(_ context.Context, req Request) (*Response, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func answering(name, text string) *scriptedAdapter {
	return &scriptedAdapter{name: name, resp: &Response{Provider: name, Message: AssistantMessage(text)}}
}

func TestClientStampsProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		wantErr   bool
		wantStamp string
	}{
		{"empty is filled in", "", false, "anthropic"},
		{"matching", "anthropic", false, "anthropic"},
		{"case differs", "Anthropic", false, "Anthropic"},
		{"other provider", "openai", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := answering("anthropic", "hi")
			client := NewClient(adapter)
			if client.Provider() != "anthropic" {
				t.Fatalf("Provider() = %q", client.Provider())
			}

			resp, err := client.Complete(context.Background(), Request{Provider: tt.provider, Messages: []Message{UserMessage("hello")}})
			if tt.wantErr {
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected ConfigurationError, got %v", err)
				}
				if len(adapter.reqs) != 0 {
					t.Error("adapter must not be called for a foreign provider")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Text() != "hi" {
				t.Errorf("text = %q", resp.Text())
			}
			if got := adapter.reqs[0].Provider; got != tt.wantStamp {
				t.Errorf("adapter saw provider %q, want %q", got, tt.wantStamp)
			}
		})
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	var trail []string
	tag := func(name string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			trail = append(trail, name+">")
			resp, err := next(ctx, req)
			trail = append(trail, "<"+name)
			return resp, err
		}
	}
	client := NewClient(answering("p", "ok"), tag("outer"), tag("inner"))

	for i := 0; i < 2; i++ {
		trail = nil
		if _, err := client.Complete(context.Background(), Request{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.Join(trail, " "); got != "outer> inner> <inner <outer" {
			t.Errorf("call %d: trail = %q", i, got)
		}
	}
}

func TestClientMiddlewareCanRewrite(t *testing.T) {
	adapter := answering("p", "ok")
	pin := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		req.Model = "pinned"
		return next(ctx, req)
	}
	if _, err := NewClient(adapter, pin).Complete(context.Background(), Request{Model: "asked"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.reqs[0].Model != "pinned" {
		t.Errorf("adapter saw model %q", adapter.reqs[0].Model)
	}
}

func TestRetryMiddleware(t *testing.T) {
	fast := RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}

	t.Run("retryable exhausts", func(t *testing.T) {
		adapter := &scriptedAdapter{name: "p", err: &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "busy"}, Retryable: true}}}
		_, err := NewClient(adapter, RetryMiddleware(fast)).Complete(context.Background(), Request{})

		var exhausted *RetryExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("expected RetryExhaustedError, got %T (%v)", err, err)
		}
		if len(adapter.reqs) != 3 {
			t.Errorf("expected 3 attempts, got %d", len(adapter.reqs))
		}
	})

	t.Run("auth fails once", func(t *testing.T) {
		adapter := &scriptedAdapter{name: "p", err: &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key"}}}}
		_, err := NewClient(adapter, RetryMiddleware(fast)).Complete(context.Background(), Request{})

		var auth *AuthenticationError
		if !errors.As(err, &auth) {
			t.Fatalf("expected AuthenticationError, got %T (%v)", err, err)
		}
		if len(adapter.reqs) != 1 {
			t.Errorf("expected a single attempt, got %d", len(adapter.reqs))
		}
	})
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	adapter := answering("test", "ok")
	client := NewClient(adapter, LoggingMiddleware(logger))
	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "llm call completed") {
		t.Errorf("expected completion log line, got %q", buf.String())
	}

	buf.Reset()
	adapter.err = errors.New("connection reset")
	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), "llm call failed") {
		t.Errorf("expected failure log line, got %q", buf.String())
	}
}
