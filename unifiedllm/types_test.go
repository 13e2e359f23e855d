package unifiedllm

import (
	"encoding/json"
	"testing"
)

// agentTurn is the shape of one tool-using step as the agent records it.
func agentTurn() []Message {
	assistant := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			ThinkingPart("list first, ", "sig-1"),
			ThinkingPart("then read", ""),
			TextPart("Looking around. "),
			ToolCallPart("call_a", "bash", json.RawMessage(`{"command":"ls"}`)),
			TextPart("Then reading."),
			ToolCallPart("call_b", "read_file", nil),
		},
	}
	return []Message{
		SystemMessage("sys"),
		UserMessage("inspect the repo"),
		assistant,
		ToolResultMessage("call_a", "bash", "main.go", false),
		ToolResultMessage("call_b", "read_file", "File not found", true),
	}
}

func TestMessageText(t *testing.T) {
	turn := agentTurn()
	tests := []struct {
		name     string
		msg      Message
		role     Role
		text     string
		thinking string
	}{
		{"system", turn[0], RoleSystem, "sys", ""},
		{"user", turn[1], RoleUser, "inspect the repo", ""},
		{"assistant", turn[2], RoleAssistant, "Looking around. Then reading.", "list first, then read"},
		{"tool result", turn[3], RoleTool, "main.go", ""},
		{"tool error", turn[4], RoleTool, "File not found", ""},
		{"plain assistant", AssistantMessage("done"), RoleAssistant, "done", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Role != tt.role {
				t.Errorf("role = %q, want %q", tt.msg.Role, tt.role)
			}
			if got := tt.msg.TextContent(); got != tt.text {
				t.Errorf("text = %q, want %q", got, tt.text)
			}
			if got := tt.msg.Thinking(); got != tt.thinking {
				t.Errorf("thinking = %q, want %q", got, tt.thinking)
			}
		})
	}
}

func TestToolResultMessageCorrelation(t *testing.T) {
	msg := agentTurn()[4]
	if msg.ToolCallID != "call_b" || msg.Name != "read_file" {
		t.Fatalf("unexpected correlation: id=%q name=%q", msg.ToolCallID, msg.Name)
	}
	if len(msg.Content) != 1 || msg.Content[0].ToolResult == nil {
		t.Fatalf("expected a single tool result part, got %+v", msg.Content)
	}
	if r := msg.Content[0].ToolResult; r.ToolCallID != "call_b" || !r.IsError {
		t.Errorf("unexpected result part %+v", r)
	}
}

func TestResponseToolCalls(t *testing.T) {
	resp := Response{Message: agentTurn()[2]}

	calls := resp.ToolCallsFromResponse()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call_a" || calls[1].ID != "call_b" {
		t.Errorf("calls out of order: %+v", calls)
	}
	if string(calls[0].Arguments) != `{"command":"ls"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
	if string(calls[1].Arguments) != "{}" {
		t.Errorf("missing arguments should become {}, got %s", calls[1].Arguments)
	}
	if resp.Reasoning() != "list first, then read" {
		t.Errorf("reasoning = %q", resp.Reasoning())
	}

	if got := (Response{Message: AssistantMessage("done")}).ToolCallsFromResponse(); got != nil {
		t.Errorf("expected no calls for a final answer, got %+v", got)
	}
}

func TestUsageIsZero(t *testing.T) {
	for _, u := range []Usage{{InputTokens: 1}, {OutputTokens: 1}, {TotalTokens: 1}} {
		if u.IsZero() {
			t.Errorf("%+v reported as zero", u)
		}
	}
	if !(Usage{}).IsZero() {
		t.Error("empty usage should be zero")
	}
}
