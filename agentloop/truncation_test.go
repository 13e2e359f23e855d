package agentloop

import (
	"strings"
	"testing"
)

func TestTruncateOutput(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		max       int
		mode      TruncationMode
		contains  []string
		unchanged bool
	}{
		{"under limit", "short", 10, TruncateHeadTail, nil, true},
		{"head tail", strings.Repeat("a", 50) + strings.Repeat("b", 50), 20, TruncateHeadTail,
			[]string{"aaaaaaaaaa", "bbbbbbbbbb", "80 characters were removed from the middle"}, false},
		{"tail", strings.Repeat("a", 50) + strings.Repeat("b", 10), 10, TruncateTail,
			[]string{"First 50 characters were removed", "bbbbbbbbbb"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateOutput(tt.input, tt.max, tt.mode)
			if tt.unchanged && got != tt.input {
				t.Fatalf("expected output unchanged, got %q", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected %q in output %q", want, got)
				}
			}
		})
	}
}

func TestTruncateLines(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = string(rune('a' + i))
	}
	got := TruncateLines(strings.Join(lines, "\n"), 4)
	if !strings.HasPrefix(got, "a\nb\n") || !strings.HasSuffix(got, "i\nj") {
		t.Errorf("unexpected head/tail: %q", got)
	}
	if !strings.Contains(got, "6 lines omitted") {
		t.Errorf("expected omitted marker, got %q", got)
	}
}

func TestTruncateToolOutputUsesOverrides(t *testing.T) {
	out := strings.Repeat("x", 200)
	got := TruncateToolOutput(out, "write_file", map[string]int{"write_file": 50}, nil)
	if !strings.Contains(got, "150 characters were removed") {
		t.Errorf("expected override limit to apply, got %q", got)
	}

	if TruncateToolOutput("ok", "unknown_tool", nil, nil) != "ok" {
		t.Error("small output of an unknown tool should pass through")
	}
}

func TestTruncateToolOutputBashLineLimit(t *testing.T) {
	out := strings.TrimSuffix(strings.Repeat("line\n", 400), "\n")
	got := TruncateToolOutput(out, "bash", nil, nil)
	if !strings.Contains(got, "144 lines omitted") {
		t.Errorf("expected bash output to be line limited, got %d lines", strings.Count(got, "\n")+1)
	}
}

func TestTruncateByTokens(t *testing.T) {
	est := NewFallbackEstimator()
	short := "one\ntwo"
	if TruncateByTokens(short, 100, est) != short {
		t.Error("short text should not be truncated")
	}

	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString("line of text number\n")
	}
	long := sb.String()
	got := TruncateByTokens(long, 200, est)
	if len(got) >= len(long) {
		t.Fatalf("expected truncation, got %d bytes from %d", len(got), len(long))
	}
	if !strings.Contains(got, "[Content truncated:") {
		t.Errorf("expected truncation note in %q", got[:80])
	}
	if !strings.HasPrefix(got, "line of text number") {
		t.Error("expected head to start at the original beginning")
	}
}
