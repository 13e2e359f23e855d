package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/xyl2024/Mini-Agent-Web/agentloop"
)

const previewLimit = 300

// eventRenderer prints agent events to a terminal.
type eventRenderer struct {
	out io.Writer

	step      lipgloss.Style
	thinking  lipgloss.Style
	assistant lipgloss.Style
	tool      lipgloss.Style
	success   lipgloss.Style
	failure   lipgloss.Style
	notice    lipgloss.Style
}

func newEventRenderer(out io.Writer) *eventRenderer {
	r := lipgloss.NewRenderer(out)
	return &eventRenderer{
		out:  out,
		step: r.NewStyle().Foreground(lipgloss.Color("241")),
		thinking: r.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("245")).
			PaddingLeft(1),
		assistant: r.NewStyle().
			Foreground(lipgloss.Color("214")).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("214")).
			PaddingLeft(1),
		tool:    r.NewStyle().Foreground(lipgloss.Color("141")).Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("42")),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")),
		notice:  r.NewStyle().Foreground(lipgloss.Color("220")),
	}
}

// Render prints one event. Events without a visible form are ignored.
func (r *eventRenderer) Render(ev agentloop.Event) {
	if line := r.format(ev); line != "" {
		fmt.Fprintln(r.out, line)
	}
}

func (r *eventRenderer) format(ev agentloop.Event) string {
	switch ev.Kind {
	case agentloop.EventStepStart:
		return r.step.Render(fmt.Sprintf("Step %d/%v", ev.Step, ev.Data["max_steps"]))
	case agentloop.EventThinking:
		return r.thinking.Render(dataString(ev, "content"))
	case agentloop.EventAssistantText:
		return r.assistant.Render(dataString(ev, "content"))
	case agentloop.EventToolCallStart:
		return r.tool.Render(fmt.Sprintf("> %s", dataString(ev, "tool_name"))) + " " + preview(dataString(ev, "arguments"))
	case agentloop.EventToolCallEnd:
		if ok, _ := ev.Data["success"].(bool); ok {
			return r.success.Render("  ok ") + preview(dataString(ev, "content"))
		}
		return r.failure.Render("  error ") + preview(dataString(ev, "error"))
	case agentloop.EventSummarized:
		return r.notice.Render(fmt.Sprintf("History summarized (%v messages)", ev.Data["messages"]))
	case agentloop.EventLoopDetection:
		return r.notice.Render("Warning: the agent is repeating the same tool calls")
	case agentloop.EventCancelled:
		return r.notice.Render(agentloop.CancelledMessage)
	case agentloop.EventStepLimit:
		return r.notice.Render(dataString(ev, "message"))
	case agentloop.EventError:
		return r.failure.Render(dataString(ev, "error"))
	}
	return ""
}

func dataString(ev agentloop.Event, key string) string {
	s, _ := ev.Data[key].(string)
	return s
}

// preview flattens s onto one line and caps its length.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewLimit {
		return string(r[:previewLimit]) + "..."
	}
	return s
}
