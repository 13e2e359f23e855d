package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

func sampleHistory() []unifiedllm.Message {
	return []unifiedllm.Message{
		unifiedllm.SystemMessage("sys"),
		unifiedllm.UserMessage("list files"),
		{Role: unifiedllm.RoleAssistant, Content: []unifiedllm.ContentPart{
			unifiedllm.ThinkingPart("need ls", "sig-1"),
			unifiedllm.TextPart("checking"),
			unifiedllm.ToolCallPart("call_1", "bash", []byte(`{"command":"ls"}`)),
		}},
		unifiedllm.ToolResultMessage("call_1", "bash", "a.txt", false),
		unifiedllm.ToolResultMessage("call_2", "read_file", "Error: File not found", true),
		unifiedllm.AssistantMessage("done"),
	}
}

// exerciseHistoryStore runs the behavior every HistoryStore must share.
func exerciseHistoryStore(t *testing.T, s HistoryStore) {
	ctx := context.Background()

	if _, err := s.LoadHistory(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := s.SaveHistory(ctx, "nope", sampleHistory()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on save, got %v", err)
	}

	sess, err := s.CreateSession(ctx, "s1", "/tmp/ws")
	if err != nil || sess.ID != "s1" || sess.WorkspaceDir != "/tmp/ws" {
		t.Fatalf("unexpected session %+v (%v)", sess, err)
	}
	if again, err := s.CreateSession(ctx, "s1", "/other"); err != nil || again.WorkspaceDir != "/tmp/ws" {
		t.Errorf("creating an existing session should return it unchanged, got %+v (%v)", again, err)
	}

	if err := s.SaveHistory(ctx, "s1", sampleHistory()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := s.LoadHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 5 || got[0].Role != unifiedllm.RoleUser {
		t.Fatalf("expected 5 messages without the system prompt, got %d", len(got))
	}
	if calls := got[1].ToolCalls(); len(calls) != 1 || calls[0].ID != "call_1" {
		t.Errorf("tool calls should survive, got %+v", calls)
	}
	if got[3].Content[0].ToolResult == nil || !got[3].Content[0].ToolResult.IsError {
		t.Error("tool error flag should survive")
	}

	// Saving again replaces the history.
	if err := s.SaveHistory(ctx, "s1", sampleHistory()[:2]); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if got, _ := s.LoadHistory(ctx, "s1"); len(got) != 1 {
		t.Errorf("expected history to be replaced, got %d messages", len(got))
	}

	if _, err := s.CreateSession(ctx, "s2", "/tmp/ws2"); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListSessions(ctx)
	if err != nil || len(list) != 2 {
		t.Errorf("expected 2 sessions, got %d (%v)", len(list), err)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected deleted session to be gone, got %v", err)
	}
	if err := s.DeleteSession(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseHistoryStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("MINI_AGENT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MINI_AGENT_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, id := range []string{"s1", "s2"} {
		_ = s.DeleteSession(ctx, id)
	}
	exerciseHistoryStore(t, s)
	_ = s.DeleteSession(ctx, "s2")
}

func TestRowKeepsAssistantParts(t *testing.T) {
	row, err := toRow(sampleHistory()[2])
	if err != nil {
		t.Fatal(err)
	}
	back, err := fromRow(row)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Content) != 3 {
		t.Fatalf("expected thinking, text and tool call parts, got %+v", back.Content)
	}
	if back.Content[0].Thinking == nil || back.Content[0].Thinking.Signature != "sig-1" {
		t.Error("thinking signature should survive")
	}
	if back.TextContent() != "checking" {
		t.Errorf("unexpected text %q", back.TextContent())
	}

	if _, err := fromRow(messageRow{Role: "robot"}); err == nil {
		t.Error("unknown roles should be rejected")
	}
}
