package agentloop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// Dispatcher resolves tool calls against a registry and turns every outcome,
// including panics, into a ToolResult. It holds no per-call state and does
// not impose a timeout.
type Dispatcher struct {
	registry   *ToolRegistry
	charLimits map[string]int
	lineLimits map[string]int
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *ToolRegistry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// SetOutputLimits overrides the per-tool truncation limits.
func (d *Dispatcher) SetOutputLimits(charLimits, lineLimits map[string]int) {
	d.charLimits = charLimits
	d.lineLimits = lineLimits
}

// Dispatch executes call and always returns a result.
func (d *Dispatcher) Dispatch(ctx context.Context, call unifiedllm.ToolCall) ToolResult {
	tool := d.registry.Get(call.Name)
	if tool == nil {
		msg := fmt.Sprintf("Unknown tool: %s", call.Name)
		if suggestion := d.suggest(call.Name); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}
		return ToolResult{Success: false, Error: msg}
	}

	result := d.execute(ctx, tool, call)
	if result.Success {
		result.Content = TruncateToolOutput(result.Content, call.Name, d.charLimits, d.lineLimits)
	}
	return result
}

func (d *Dispatcher) execute(ctx context.Context, tool Tool, call unifiedllm.ToolCall) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ToolResult{
				Success: false,
				Error: fmt.Sprintf("Tool execution failed: panic %T: %v\n\nTraceback:\n%s",
					r, r, debug.Stack()),
			}
		}
	}()

	res, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		// The stack is captured at the dispatch site; returned errors carry
		// no trace of their own.
		return ToolResult{
			Success: false,
			Error: fmt.Sprintf("Tool execution failed: %T: %v\n\nTraceback:\n%s",
				err, err, debug.Stack()),
		}
	}
	if !res.Success && res.Error == "" {
		res.Error = "tool reported failure without a message"
	}
	return res
}

// suggest returns the registered name closest to name, if any is close.
func (d *Dispatcher) suggest(name string) string {
	if name == "" {
		return ""
	}
	names := d.registry.Names()
	ranks := fuzzy.RankFindFold(name, names)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}
	best, bestDist := "", 3
	for _, candidate := range names {
		if dist := fuzzy.LevenshteinDistance(name, candidate); dist <= bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best
}
