package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// messageRow is the flattened form of a message stored in the messages
// table.
type messageRow struct {
	Role              string
	Content           string
	Thinking          sql.NullString
	ThinkingSignature sql.NullString
	ToolCalls         []byte
	ToolCallID        sql.NullString
	Name              sql.NullString
	IsError           bool
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toRow(msg unifiedllm.Message) (messageRow, error) {
	row := messageRow{
		Role:       string(msg.Role),
		Content:    msg.TextContent(),
		ToolCallID: nullString(msg.ToolCallID),
		Name:       nullString(msg.Name),
	}
	for _, part := range msg.Content {
		switch {
		case part.Kind == unifiedllm.ContentThinking && part.Thinking != nil:
			row.Thinking = nullString(row.Thinking.String + part.Thinking.Text)
			if part.Thinking.Signature != "" {
				row.ThinkingSignature = nullString(part.Thinking.Signature)
			}
		case part.Kind == unifiedllm.ContentToolResult && part.ToolResult != nil:
			row.IsError = part.ToolResult.IsError
		}
	}
	if calls := msg.ToolCalls(); len(calls) > 0 {
		data, err := json.Marshal(calls)
		if err != nil {
			return messageRow{}, fmt.Errorf("encode tool calls: %w", err)
		}
		row.ToolCalls = data
	}
	return row, nil
}

func fromRow(row messageRow) (unifiedllm.Message, error) {
	role := unifiedllm.Role(row.Role)
	switch role {
	case unifiedllm.RoleSystem:
		return unifiedllm.SystemMessage(row.Content), nil
	case unifiedllm.RoleUser:
		return unifiedllm.UserMessage(row.Content), nil
	case unifiedllm.RoleTool:
		return unifiedllm.ToolResultMessage(row.ToolCallID.String, row.Name.String, row.Content, row.IsError), nil
	case unifiedllm.RoleAssistant:
		var parts []unifiedllm.ContentPart
		if row.Thinking.Valid {
			parts = append(parts, unifiedllm.ThinkingPart(row.Thinking.String, row.ThinkingSignature.String))
		}
		if row.Content != "" {
			parts = append(parts, unifiedllm.TextPart(row.Content))
		}
		if len(row.ToolCalls) > 0 {
			var calls []unifiedllm.ToolCallData
			if err := json.Unmarshal(row.ToolCalls, &calls); err != nil {
				return unifiedllm.Message{}, fmt.Errorf("decode tool calls: %w", err)
			}
			for _, c := range calls {
				parts = append(parts, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
			}
		}
		return unifiedllm.Message{Role: role, Content: parts, Name: row.Name.String}, nil
	default:
		return unifiedllm.Message{}, fmt.Errorf("unknown message role %q", row.Role)
	}
}
