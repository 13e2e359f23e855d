package agentloop

import (
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// Conversation is the ordered message history of one agent. Index 0 holds
// the system message. It is not safe for concurrent use; the owning Agent
// serializes access.
type Conversation struct {
	messages []unifiedllm.Message
}

// NewConversation creates a conversation seeded with a system message.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{
		messages: []unifiedllm.Message{unifiedllm.SystemMessage(systemPrompt)},
	}
}

// Append adds a message to the end of the history.
func (c *Conversation) Append(msg unifiedllm.Message) {
	c.messages = append(c.messages, msg)
}

// Len returns the number of messages, including the system message.
func (c *Conversation) Len() int { return len(c.messages) }

// Messages returns a copy of the history.
func (c *Conversation) Messages() []unifiedllm.Message {
	out := make([]unifiedllm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// At returns the message at index i.
func (c *Conversation) At(i int) unifiedllm.Message { return c.messages[i] }

// ReplaceAll swaps the whole history. When msgs does not start with a system
// message the current one is kept at index 0.
func (c *Conversation) ReplaceAll(msgs []unifiedllm.Message) {
	next := make([]unifiedllm.Message, 0, len(msgs)+1)
	if (len(msgs) == 0 || msgs[0].Role != unifiedllm.RoleSystem) && len(c.messages) > 0 {
		next = append(next, c.messages[0])
	}
	next = append(next, msgs...)
	c.messages = next
}

// TruncateTo drops the message at index and everything after it. The system
// message is never dropped.
func (c *Conversation) TruncateTo(index int) {
	if index < 1 {
		index = 1
	}
	if index >= len(c.messages) {
		return
	}
	c.messages = c.messages[:index]
}

// LastIndexOf returns the index of the last message with role, or -1.
func (c *Conversation) LastIndexOf(role unifiedllm.Role) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			return i
		}
	}
	return -1
}

// RollbackIncompleteTurn removes the last assistant message and everything
// after it, so that no tool call is left without its result. It reports
// whether anything was removed.
func (c *Conversation) RollbackIncompleteTurn() bool {
	idx := c.LastIndexOf(unifiedllm.RoleAssistant)
	if idx < 1 {
		return false
	}
	c.TruncateTo(idx)
	return true
}

// Reset drops everything except the system message.
func (c *Conversation) Reset() {
	c.TruncateTo(1)
}
