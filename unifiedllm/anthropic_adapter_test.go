package unifiedllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestAnthropicAdapterComplete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "MiniMax-M2.5",
			"content": [
				{"type": "thinking", "thinking": "need the file", "signature": "sig"},
				{"type": "text", "text": "reading"},
				{"type": "tool_use", "id": "toolu_1", "name": "read_file", "input": {"path": "a.txt"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 30, "output_tokens": 12}
		}`))
	}))
	defer srv.Close()

	adapter := NewAnthropicAdapter("test-key", srv.URL+"/", "MiniMax-M2.5")
	resp, err := adapter.Complete(context.Background(), Request{
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("read a.txt"),
		},
		Tools: []ToolDefinition{{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"path"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if system, _ := got["system"].([]interface{}); len(system) != 1 {
		t.Errorf("expected system prompt to be sent separately, got %v", got["system"])
	}
	if msgs, _ := got["messages"].([]interface{}); len(msgs) != 1 {
		t.Errorf("expected 1 wire message, got %d", len(msgs))
	}

	if resp.Reasoning() != "need the file" {
		t.Errorf("expected thinking to be preserved, got %q", resp.Reasoning())
	}
	if resp.Text() != "reading" {
		t.Errorf("expected text %q, got %q", "reading", resp.Text())
	}
	calls := resp.ToolCallsFromResponse()
	if len(calls) != 1 || calls[0].ID != "toolu_1" || calls[0].Name != "read_file" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
	var args map[string]string
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil || args["path"] != "a.txt" {
		t.Errorf("unexpected arguments %s (%v)", calls[0].Arguments, err)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason.Reason)
	}
	if resp.Usage.TotalTokens != 42 {
		t.Errorf("expected total tokens 42, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicAdapterRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("retry-after", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer srv.Close()

	adapter := NewAnthropicAdapter("test-key", srv.URL+"/", "MiniMax-M2.5")
	_, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	rl, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T (%v)", err, err)
	}
	if rl.RetryAfter == nil || *rl.RetryAfter != 7 {
		t.Errorf("expected retry-after 7, got %v", rl.RetryAfter)
	}
}

func TestToAnthropicMessagesMergesToolResults(t *testing.T) {
	assistant := Message{Role: RoleAssistant, Content: []ContentPart{
		ToolCallPart("t1", "read_file", []byte(`{"path":"a"}`)),
		ToolCallPart("t2", "read_file", []byte(`{"path":"b"}`)),
	}}
	out := toAnthropicMessages([]Message{
		SystemMessage("ignored here"),
		UserMessage("read both"),
		assistant,
		ToolResultMessage("t1", "read_file", "A", false),
		ToolResultMessage("t2", "read_file", "not found", true),
		UserMessage("thanks"),
	})

	if len(out) != 3 {
		t.Fatalf("expected user/assistant/user turns, got %d", len(out))
	}
	if out[0].Role != anthropic.MessageParamRoleUser || out[1].Role != anthropic.MessageParamRoleAssistant || out[2].Role != anthropic.MessageParamRoleUser {
		t.Errorf("unexpected role sequence: %s %s %s", out[0].Role, out[1].Role, out[2].Role)
	}
	if len(out[1].Content) != 2 {
		t.Errorf("expected 2 tool_use blocks, got %d", len(out[1].Content))
	}
	// Two tool results plus the follow-up text share one user turn.
	if len(out[2].Content) != 3 {
		t.Fatalf("expected 3 blocks in final user turn, got %d", len(out[2].Content))
	}
	if out[2].Content[1].OfToolResult == nil || out[2].Content[1].OfToolResult.ToolUseID != "t2" {
		t.Errorf("expected second block to be tool result for t2")
	}
}

func TestToAnthropicSchema(t *testing.T) {
	schema := toAnthropicSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"q": map[string]interface{}{"type": "string"}},
		"required":   []string{"q"},
	})
	if len(schema.Required) != 1 || schema.Required[0] != "q" {
		t.Errorf("unexpected required list: %v", schema.Required)
	}
	if schema.Properties == nil {
		t.Error("expected properties to be set")
	}
}
