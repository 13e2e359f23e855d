package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xyl2024/Mini-Agent-Web/agentloop"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

func TestRenderEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   agentloop.Event
		want []string
	}{
		{
			name: "step",
			ev:   agentloop.Event{Kind: agentloop.EventStepStart, Step: 2, Data: map[string]interface{}{"max_steps": 50}},
			want: []string{"Step 2/50"},
		},
		{
			name: "assistant text",
			ev:   agentloop.Event{Kind: agentloop.EventAssistantText, Data: map[string]interface{}{"content": "All done"}},
			want: []string{"All done"},
		},
		{
			name: "tool call",
			ev: agentloop.Event{Kind: agentloop.EventToolCallStart, Data: map[string]interface{}{
				"tool_name": "bash",
				"arguments": `{"command":  "ls"}`,
			}},
			want: []string{"bash", `{"command": "ls"}`},
		},
		{
			name: "tool success",
			ev: agentloop.Event{Kind: agentloop.EventToolCallEnd, Data: map[string]interface{}{
				"success": true, "content": "file.txt",
			}},
			want: []string{"ok", "file.txt"},
		},
		{
			name: "tool failure",
			ev: agentloop.Event{Kind: agentloop.EventToolCallEnd, Data: map[string]interface{}{
				"success": false, "error": "File not found: x",
			}},
			want: []string{"error", "File not found: x"},
		},
		{
			name: "cancelled",
			ev:   agentloop.Event{Kind: agentloop.EventCancelled},
			want: []string{agentloop.CancelledMessage},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newEventRenderer(&buf).Render(tt.ev)
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("expected %q in output %q", want, buf.String())
				}
			}
		})
	}
}

func TestRenderSkipsSilentEvents(t *testing.T) {
	var buf bytes.Buffer
	r := newEventRenderer(&buf)
	r.Render(agentloop.Event{Kind: agentloop.EventRunStart})
	r.Render(agentloop.Event{Kind: agentloop.EventUserInput, Data: map[string]interface{}{"content": "hi"}})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestPreview(t *testing.T) {
	if got := preview("a\n  b\tc"); got != "a b c" {
		t.Errorf("expected flattened text, got %q", got)
	}
	long := strings.Repeat("x", previewLimit+10)
	if got := preview(long); len(got) != previewLimit+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated preview, got %d chars", len(got))
	}
}

func TestHandleChatCommand(t *testing.T) {
	cfg := testConfig(t)
	agent, err := buildAgent(cfg, &recordingModel{}, cfg.WorkspaceDir, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer agent.Close()
	agent.RestoreHistory([]unifiedllm.Message{
		unifiedllm.UserMessage("one"),
		unifiedllm.AssistantMessage("two"),
	})

	var out bytes.Buffer
	if handled, quit := handleChatCommand(&out, agent, "/history"); !handled || quit {
		t.Fatalf("expected /history to be handled")
	}
	if !strings.Contains(out.String(), "3 messages (user 1, assistant 1, tool 0)") {
		t.Errorf("unexpected history output %q", out.String())
	}

	if handled, _ := handleChatCommand(&out, agent, "/clear"); !handled {
		t.Fatalf("expected /clear to be handled")
	}
	if n := len(agent.History()); n != 1 {
		t.Errorf("expected only the system message after /clear, got %d", n)
	}

	if _, quit := handleChatCommand(&out, agent, "/EXIT"); !quit {
		t.Error("expected /exit to quit")
	}
	if handled, _ := handleChatCommand(&out, agent, "hello"); handled {
		t.Error("expected plain text not to be handled")
	}
}

func TestRunTurnRendersUntilDone(t *testing.T) {
	cfg := testConfig(t)
	agent, err := buildAgent(cfg, &recordingModel{}, cfg.WorkspaceDir, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer agent.Close()

	var out bytes.Buffer
	agent.AddUserMessage("hi")
	res := runTurn(t.Context(), agent, newEventRenderer(&out))
	if res.State != agentloop.RunDone || res.Content != "done" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(out.String(), "done") {
		t.Errorf("expected rendered assistant text, got %q", out.String())
	}
}
