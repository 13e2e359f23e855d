package agentloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

func newTestManager(t *testing.T, model Completer) *SessionManager {
	t.Helper()
	workspace := t.TempDir()
	m := NewSessionManager(func(id string) (*Agent, error) {
		cfg := DefaultAgentConfig()
		cfg.SystemPrompt = "test"
		cfg.WorkspaceDir = workspace + "/" + id
		agent := NewAgent(model, nil, &cfg)
		agent.SetEstimator(NewFallbackEstimator())
		return agent, nil
	}, time.Hour)
	t.Cleanup(m.Close)
	return m
}

func TestSessionManagerChat(t *testing.T) {
	model := &sequenceModel{steps: []func(unifiedllm.Request) (*unifiedllm.Response, error){textReply("hi back", 3)}}
	m := newTestManager(t, model)

	id, err := m.Create()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := m.Chat(context.Background(), id, "hi")
	if err != nil || res.State != RunDone || res.Content != "hi back" {
		t.Fatalf("unexpected chat result %+v (%v)", res, err)
	}

	infos := m.Sessions()
	if len(infos) != 1 || infos[0].ID != id || infos[0].MessageCount != 3 || infos[0].Busy {
		t.Errorf("unexpected session info %+v", infos)
	}

	if _, err := m.Chat(context.Background(), "unknown", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionManagerRejectsConcurrentRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	model := &sequenceModel{steps: []func(unifiedllm.Request) (*unifiedllm.Response, error){
		func(req unifiedllm.Request) (*unifiedllm.Response, error) {
			close(started)
			<-release
			return textReply("first", 1)(req)
		},
		textReply("third", 1),
	}}
	m := newTestManager(t, model)
	id, _ := m.Create()

	done := make(chan RunResult)
	go func() {
		res, _ := m.Chat(context.Background(), id, "first")
		done <- res
	}()
	<-started

	if _, err := m.Chat(context.Background(), id, "second"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}
	if infos := m.Sessions(); !infos[0].Busy {
		t.Error("session should report busy during a run")
	}
	close(release)
	<-done

	agent, _ := m.Get(id)
	for _, msg := range agent.History() {
		if msg.TextContent() == "second" {
			t.Error("a rejected message must not reach the history")
		}
	}
	if _, err := m.Chat(context.Background(), id, "third"); err != nil {
		t.Errorf("expected session to accept work again, got %v", err)
	}
}

func TestSessionManagerCancel(t *testing.T) {
	var m *SessionManager
	var id string
	model := &sequenceModel{steps: []func(unifiedllm.Request) (*unifiedllm.Response, error){
		func(req unifiedllm.Request) (*unifiedllm.Response, error) {
			if err := m.Cancel(id); err != nil {
				t.Errorf("cancel failed: %v", err)
			}
			return toolReply("", 1, call("a", "echo", `{}`))(req)
		},
	}}
	m = newTestManager(t, model)
	id, _ = m.Create()

	res, err := m.Chat(context.Background(), id, "work")
	if err != nil || res.State != RunCancelled {
		t.Fatalf("expected cancelled run, got %+v (%v)", res, err)
	}
	if err := m.Cancel("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionManagerCancelBeforeRunStarts(t *testing.T) {
	model := &sequenceModel{steps: []func(unifiedllm.Request) (*unifiedllm.Response, error){textReply("answer", 1)}}
	m := newTestManager(t, model)
	id, _ := m.Create()
	agent, _ := m.Get(id)

	// Holding the run lock parks Chat after the session is marked busy
	// and before the agent loop starts.
	agent.runMu.Lock()
	done := make(chan RunResult, 1)
	go func() {
		res, _ := m.Chat(context.Background(), id, "work")
		done <- res
	}()
	for !m.Sessions()[0].Busy {
		time.Sleep(time.Millisecond)
	}
	if err := m.Cancel(id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	agent.runMu.Unlock()

	res := <-done
	if res.State != RunCancelled {
		t.Fatalf("expected the early cancel to apply, got %+v", res)
	}
	if model.calls() != 0 {
		t.Errorf("model must not be called, got %d calls", model.calls())
	}

	res, err := m.Chat(context.Background(), id, "again")
	if err != nil || res.State != RunDone {
		t.Errorf("expected the next run to start clean, got %+v (%v)", res, err)
	}
}

func TestSessionManagerCleanupIdle(t *testing.T) {
	m := newTestManager(t, &sequenceModel{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale, _ := m.Create()
	now = now.Add(50 * time.Minute)
	fresh, _ := m.Create()
	now = now.Add(20 * time.Minute)

	removed := m.CleanupIdle()
	if len(removed) != 1 || removed[0] != stale {
		t.Fatalf("expected only the stale session to be removed, got %v", removed)
	}
	if _, err := m.Get(stale); !errors.Is(err, ErrSessionNotFound) {
		t.Error("stale session should be gone")
	}
	if _, err := m.Get(fresh); err != nil {
		t.Errorf("fresh session should remain: %v", err)
	}
}

func TestSessionManagerRemoveClosesAgent(t *testing.T) {
	m := newTestManager(t, &sequenceModel{})
	agent, err := m.GetOrCreate("fixed-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closed := false
	agent.OnClose(func() { closed = true })

	if again, _ := m.GetOrCreate("fixed-id"); again != agent {
		t.Error("GetOrCreate should return the existing agent")
	}
	if err := m.Remove("fixed-id"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed {
		t.Error("removing a session should close its agent")
	}
	if err := m.Remove("fixed-id"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
