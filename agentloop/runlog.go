package agentloop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// RunLogger writes a transcript of each agent run to its own file. All
// writes are best effort; a logging failure never affects the run.
type RunLogger struct {
	dir   string
	path  string
	index int
	now   func() time.Time
	mu    sync.Mutex
}

// DefaultRunLogDir returns ~/.mini-agent/log.
func DefaultRunLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mini-agent", "log")
	}
	return filepath.Join(home, ".mini-agent", "log")
}

// NewRunLogger creates a logger writing into dir. An empty dir selects
// DefaultRunLogDir.
func NewRunLogger(dir string) *RunLogger {
	if dir == "" {
		dir = DefaultRunLogDir()
	}
	return &RunLogger{dir: dir, now: time.Now}
}

// StartRun opens a new agent_run_YYYYMMDD_HHMMSS.log file and writes its
// header.
func (l *RunLogger) StartRun() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	now := l.now()
	l.path = filepath.Join(l.dir, fmt.Sprintf("agent_run_%s.log", now.Format("20060102_150405")))
	l.index = 0

	rule := strings.Repeat("=", 80)
	header := fmt.Sprintf("%s\nAgent Run Log - %s\n%s\n\n", rule, now.Format("2006-01-02 15:04:05"), rule)
	if err := os.WriteFile(l.path, []byte(header), 0o644); err != nil {
		l.path = ""
		return fmt.Errorf("create run log: %w", err)
	}
	return nil
}

// Path returns the current log file, or "" before StartRun.
func (l *RunLogger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

type loggedMessage struct {
	Role       string                    `json:"role"`
	Content    string                    `json:"content"`
	Thinking   string                    `json:"thinking,omitempty"`
	ToolCalls  []unifiedllm.ToolCallData `json:"tool_calls,omitempty"`
	ToolCallID string                    `json:"tool_call_id,omitempty"`
	Name       string                    `json:"name,omitempty"`
}

// LogRequest records the messages and tool names of a model call.
func (l *RunLogger) LogRequest(msgs []unifiedllm.Message, toolNames []string) {
	entry := struct {
		Messages []loggedMessage `json:"messages"`
		Tools    []string        `json:"tools"`
	}{Tools: toolNames}
	if entry.Tools == nil {
		entry.Tools = []string{}
	}
	for _, m := range msgs {
		entry.Messages = append(entry.Messages, loggedMessage{
			Role:       string(m.Role),
			Content:    m.TextContent(),
			Thinking:   m.Thinking(),
			ToolCalls:  m.ToolCalls(),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	l.write("REQUEST", "LLM Request:", entry)
}

// LogResponse records a model response.
func (l *RunLogger) LogResponse(resp *unifiedllm.Response) {
	entry := struct {
		Content      string                    `json:"content"`
		Thinking     string                    `json:"thinking,omitempty"`
		ToolCalls    []unifiedllm.ToolCallData `json:"tool_calls,omitempty"`
		FinishReason string                    `json:"finish_reason,omitempty"`
	}{
		Content:      resp.Text(),
		Thinking:     resp.Reasoning(),
		ToolCalls:    resp.Message.ToolCalls(),
		FinishReason: resp.FinishReason.Reason,
	}
	l.write("RESPONSE", "LLM Response:", entry)
}

// LogToolResult records one tool execution.
func (l *RunLogger) LogToolResult(name string, arguments json.RawMessage, result ToolResult) {
	entry := struct {
		ToolName  string          `json:"tool_name"`
		Arguments json.RawMessage `json:"arguments"`
		Success   bool            `json:"success"`
		Result    string          `json:"result,omitempty"`
		Error     string          `json:"error,omitempty"`
	}{
		ToolName:  name,
		Arguments: arguments,
		Success:   result.Success,
	}
	if !json.Valid(entry.Arguments) {
		entry.Arguments = json.RawMessage("{}")
	}
	if result.Success {
		entry.Result = result.Content
	} else {
		entry.Error = result.Error
	}
	l.write("TOOL_RESULT", "Tool Execution:", entry)
}

func (l *RunLogger) write(kind, title string, payload interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return
	}
	l.index++

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		body = []byte(fmt.Sprintf("%q", err.Error()))
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	rule := strings.Repeat("-", 80)
	fmt.Fprintf(f, "\n%s\n[%d] %s\nTimestamp: %s\n%s\n%s\n\n%s\n",
		rule, l.index, kind, l.now().Format("2006-01-02 15:04:05.000"), rule, title, body)
}
