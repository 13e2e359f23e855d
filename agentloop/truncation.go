package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Default character limits per tool.
var DefaultToolCharLimits = map[string]int{
	"read_file":    50000,
	"bash":         30000,
	"bash_output":  30000,
	"edit_file":    10000,
	"write_file":   1000,
	"bash_kill":    2000,
	"record_note":  1000,
	"recall_notes": 20000,
}

// Default truncation modes per tool.
var DefaultTruncationModes = map[string]TruncationMode{
	"read_file":    TruncateHeadTail,
	"bash":         TruncateHeadTail,
	"bash_output":  TruncateTail,
	"edit_file":    TruncateTail,
	"write_file":   TruncateTail,
	"bash_kill":    TruncateTail,
	"record_note":  TruncateTail,
	"recall_notes": TruncateTail,
}

// Default line limits per tool (applied after character truncation).
var DefaultToolLineLimits = map[string]int{
	"bash":        256,
	"bash_output": 256,
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}

	switch mode {
	case TruncateTail:
		removed := len(output) - maxChars
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]

	default:
		half := maxChars / 2
		removed := len(output) - maxChars
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n",
				removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies character truncation and then line truncation
// for a tool. Per-call limits override the defaults.
func TruncateToolOutput(output string, toolName string, charLimits map[string]int, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[toolName]
		if !ok {
			maxChars = 30000
		}
	}

	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := TruncateOutput(output, maxChars, mode)

	maxLines := lineLimits[toolName]
	if maxLines == 0 {
		maxLines = DefaultToolLineLimits[toolName]
	}
	if maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}

	return result
}

// TruncateByTokens keeps the head and tail of text when it exceeds
// maxTokens, cutting at line boundaries where possible.
func TruncateByTokens(text string, maxTokens int, est *TokenEstimator) string {
	tokens := est.Count(text)
	if tokens <= maxTokens || len(text) == 0 {
		return text
	}

	ratio := float64(tokens) / float64(len(text))
	half := int(float64(maxTokens) / 2 / ratio * 0.95)
	if half <= 0 || half*2 >= len(text) {
		return text
	}

	head := text[:half]
	if i := strings.LastIndexByte(head, '\n'); i > 0 {
		head = head[:i]
	}
	tail := text[len(text)-half:]
	if i := strings.IndexByte(tail, '\n'); i > 0 {
		tail = tail[i+1:]
	}

	note := fmt.Sprintf("\n\n... [Content truncated: %d tokens -> ~%d tokens limit] ...\n\n", tokens, maxTokens)
	return strings.ToValidUTF8(head, "") + note + strings.ToValidUTF8(tail, "")
}
