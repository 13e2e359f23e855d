package agentloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

type summaryModel struct {
	mu       sync.Mutex
	prompts  []string
	reply    func(prompt string) (*unifiedllm.Response, error)
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (m *summaryModel) Complete(_ context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	prompt := req.Messages[len(req.Messages)-1].TextContent()
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.reply != nil {
		return m.reply(prompt)
	}
	return &unifiedllm.Response{Message: unifiedllm.AssistantMessage("summary")}, nil
}

func roundsHistory(rounds int) []unifiedllm.Message {
	msgs := []unifiedllm.Message{unifiedllm.SystemMessage("sys")}
	for i := 0; i < rounds; i++ {
		id := string(rune('a' + i))
		msgs = append(msgs, unifiedllm.UserMessage("task "+id))
		msgs = append(msgs, toolTurn(id)...)
		msgs = append(msgs, unifiedllm.AssistantMessage("finished "+id))
	}
	return msgs
}

func TestSummarizerTrigger(t *testing.T) {
	s := NewSummarizer(nil, NewFallbackEstimator(), 100, nil)
	tests := []struct {
		name      string
		estimated int
		api       int
		want      bool
	}{
		{"below both", 50, 50, false},
		{"at limit", 100, 100, false},
		{"estimate above", 101, 0, true},
		{"api above", 10, 101, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ShouldSummarize(tt.estimated, tt.api); got != tt.want {
				t.Errorf("ShouldSummarize(%d, %d) = %v, want %v", tt.estimated, tt.api, got, tt.want)
			}
		})
	}
}

func TestSummarizerBelowLimitUnchanged(t *testing.T) {
	model := &summaryModel{}
	s := NewSummarizer(model, NewFallbackEstimator(), 100000, nil)
	msgs := roundsHistory(2)
	got, ok := s.MaybeSummarize(context.Background(), msgs, 0)
	if ok || len(got) != len(msgs) {
		t.Fatalf("expected history to be unchanged, got ok=%v len=%d", ok, len(got))
	}
	if len(model.prompts) != 0 {
		t.Error("model must not be called below the limit")
	}
}

func TestSummarizerRebuildsRounds(t *testing.T) {
	model := &summaryModel{reply: func(prompt string) (*unifiedllm.Response, error) {
		switch {
		case strings.Contains(prompt, "Round 1 execution"):
			return &unifiedllm.Response{Message: unifiedllm.AssistantMessage("round one")}, nil
		case strings.Contains(prompt, "Round 2 execution"):
			return &unifiedllm.Response{Message: unifiedllm.AssistantMessage("round two")}, nil
		}
		return nil, errors.New("unexpected prompt")
	}}
	s := NewSummarizer(model, NewFallbackEstimator(), 10, nil)

	got, ok := s.MaybeSummarize(context.Background(), roundsHistory(2), 0)
	if !ok {
		t.Fatal("expected summarization")
	}
	want := []struct {
		role unifiedllm.Role
		text string
	}{
		{unifiedllm.RoleSystem, "sys"},
		{unifiedllm.RoleUser, "task a"},
		{unifiedllm.RoleUser, summaryPrefix + "round one"},
		{unifiedllm.RoleUser, "task b"},
		{unifiedllm.RoleUser, summaryPrefix + "round two"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d: %s", len(want), len(got), roles(got))
	}
	for i, w := range want {
		if got[i].Role != w.role || got[i].TextContent() != w.text {
			t.Errorf("message %d: expected %s %q, got %s %q", i, w.role, w.text, got[i].Role, got[i].TextContent())
		}
	}

	for _, prompt := range model.prompts {
		if !strings.Contains(prompt, "→ Called tools: bash") || !strings.Contains(prompt, "← Tool returned: ok") {
			t.Errorf("summary prompt should describe tool activity: %q", prompt)
		}
	}
}

func TestSummarizerSkipsNextCheck(t *testing.T) {
	model := &summaryModel{}
	s := NewSummarizer(model, NewFallbackEstimator(), 10, nil)
	msgs := roundsHistory(1)

	if _, ok := s.MaybeSummarize(context.Background(), msgs, 0); !ok {
		t.Fatal("expected first check to summarize")
	}
	if _, ok := s.MaybeSummarize(context.Background(), msgs, 1000); ok {
		t.Fatal("the check right after a summary must be skipped")
	}
	if _, ok := s.MaybeSummarize(context.Background(), msgs, 1000); !ok {
		t.Fatal("expected the following check to run again")
	}
}

func TestSummarizerNeedsUserMessages(t *testing.T) {
	s := NewSummarizer(&summaryModel{}, NewFallbackEstimator(), 1, nil)
	msgs := []unifiedllm.Message{unifiedllm.SystemMessage(strings.Repeat("long system prompt ", 20))}
	got, ok := s.MaybeSummarize(context.Background(), msgs, 0)
	if ok || len(got) != 1 {
		t.Fatalf("expected no-op without user messages, got ok=%v len=%d", ok, len(got))
	}
}

func TestSummarizerFallsBackToTranscript(t *testing.T) {
	tests := []struct {
		name  string
		reply func(string) (*unifiedllm.Response, error)
	}{
		{"error", func(string) (*unifiedllm.Response, error) { return nil, errors.New("boom") }},
		{"empty", func(string) (*unifiedllm.Response, error) {
			return &unifiedllm.Response{Message: unifiedllm.AssistantMessage("  ")}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSummarizer(&summaryModel{reply: tt.reply}, NewFallbackEstimator(), 10, nil)
			got, ok := s.MaybeSummarize(context.Background(), roundsHistory(1), 0)
			if !ok || len(got) != 3 {
				t.Fatalf("expected system, user and summary, got ok=%v %s", ok, roles(got))
			}
			text := got[2].TextContent()
			if !strings.HasPrefix(text, summaryPrefix+"Round 1 execution:") {
				t.Errorf("expected transcript fallback, got %q", text)
			}
		})
	}
}

func TestSummarizerKeepsTrailingUserMessage(t *testing.T) {
	msgs := append(roundsHistory(1), unifiedllm.UserMessage("next question"))
	s := NewSummarizer(&summaryModel{}, NewFallbackEstimator(), 10, nil)
	got, ok := s.MaybeSummarize(context.Background(), msgs, 0)
	if !ok {
		t.Fatal("expected summarization")
	}
	if got[len(got)-1].TextContent() != "next question" {
		t.Errorf("a user message with no following work must be kept as-is, got %s", roles(got))
	}
}

func TestSummarizerMinSpanMessages(t *testing.T) {
	msgs := []unifiedllm.Message{
		unifiedllm.SystemMessage("sys"),
		unifiedllm.UserMessage("short"),
		unifiedllm.AssistantMessage("one reply"),
		unifiedllm.UserMessage("long"),
	}
	msgs = append(msgs, toolTurn("x")...)
	msgs = append(msgs, unifiedllm.AssistantMessage("done"))

	model := &summaryModel{}
	s := NewSummarizer(model, NewFallbackEstimator(), 5, nil, WithMinSpanMessages(2))
	got, ok := s.MaybeSummarize(context.Background(), msgs, 0)
	if !ok {
		t.Fatal("expected summarization")
	}
	if len(model.prompts) != 1 {
		t.Errorf("expected only the long span to be summarized, got %d calls", len(model.prompts))
	}
	if got[2].TextContent() != "one reply" {
		t.Errorf("short span should be kept verbatim, got %q", got[2].TextContent())
	}
}

func TestSummarizerBoundsConcurrency(t *testing.T) {
	model := &summaryModel{delay: 20 * time.Millisecond}
	s := NewSummarizer(model, NewFallbackEstimator(), 10, nil, WithSummaryConcurrency(2))
	if _, ok := s.MaybeSummarize(context.Background(), roundsHistory(6), 0); !ok {
		t.Fatal("expected summarization")
	}
	if len(model.prompts) != 6 {
		t.Fatalf("expected 6 summary calls, got %d", len(model.prompts))
	}
	if peak := model.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent calls, saw %d", peak)
	}
}
