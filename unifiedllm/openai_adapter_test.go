package unifiedllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIAdapterComplete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "checking",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "read_file", "arguments": "{\"path\":\"a.txt\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`))
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter("test-key", srv.URL+"/v1", "gpt-4o")
	resp, err := adapter.Complete(context.Background(), Request{
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("read a.txt"),
		},
		Tools: []ToolDefinition{{
			Name:        "read_file",
			Description: "Read a file",
			Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}}},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["model"] != "gpt-4o" {
		t.Errorf("expected adapter default model in request, got %v", got["model"])
	}
	if msgs, _ := got["messages"].([]interface{}); len(msgs) != 2 {
		t.Errorf("expected 2 wire messages, got %d", len(msgs))
	}
	if tools, _ := got["tools"].([]interface{}); len(tools) != 1 {
		t.Errorf("expected 1 wire tool, got %d", len(tools))
	}

	if resp.Text() != "checking" {
		t.Errorf("expected text %q, got %q", "checking", resp.Text())
	}
	calls := resp.ToolCallsFromResponse()
	if len(calls) != 1 || calls[0].Name != "read_file" || string(calls[0].Arguments) != `{"path":"a.txt"}` {
		t.Errorf("unexpected tool calls: %+v", calls)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason.Reason)
	}
	if resp.Usage.TotalTokens != 20 {
		t.Errorf("expected total tokens 20, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIAdapterErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		want   string
	}{
		{http.StatusUnauthorized, isType[*AuthenticationError], "AuthenticationError"},
		{http.StatusTooManyRequests, isType[*RateLimitError], "RateLimitError"},
		{http.StatusInternalServerError, isType[*ServerError], "ServerError"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "test_error"}}`))
			}))
			defer srv.Close()

			adapter := NewOpenAIAdapter("test-key", srv.URL+"/v1", "gpt-4o")
			_, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("expected %s, got %T (%v)", tt.want, err, err)
			}
		})
	}
}

func TestToOpenAIMessages(t *testing.T) {
	assistant := Message{Role: RoleAssistant, Content: []ContentPart{
		ThinkingPart("hmm", ""),
		TextPart("running"),
		ToolCallPart("call_9", "bash", []byte(`{"command":"ls"}`)),
	}}
	out := toOpenAIMessages([]Message{
		UserMessage("list files"),
		assistant,
		ToolResultMessage("call_9", "bash", "a.txt", false),
	})
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[1].ReasoningContent != "hmm" {
		t.Errorf("expected reasoning content to carry thinking, got %q", out[1].ReasoningContent)
	}
	if len(out[1].ToolCalls) != 1 || out[1].ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Errorf("unexpected tool calls: %+v", out[1].ToolCalls)
	}
	if out[2].ToolCallID != "call_9" || out[2].Content != "a.txt" {
		t.Errorf("unexpected tool message: %+v", out[2])
	}
}
