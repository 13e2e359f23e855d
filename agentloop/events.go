package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of agent event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventRunEnd        EventKind = "run_end"
	EventUserInput     EventKind = "user_input"
	EventStepStart     EventKind = "step_start"
	EventThinking      EventKind = "thinking"
	EventAssistantText EventKind = "assistant_text"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventSummarized    EventKind = "summarized"
	EventLoopDetection EventKind = "loop_detection"
	EventCancelled     EventKind = "cancelled"
	EventStepLimit     EventKind = "step_limit"
	EventError         EventKind = "error"
)

// Event is a typed notification emitted by the agent loop.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agent_id"`
	Step      int                    `json:"step,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel.
type EventEmitter struct {
	agentID string
	ch      chan Event
	closed  bool
	mu      sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(agentID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		agentID: agentID,
		ch:      make(chan Event, bufferSize),
	}
}

// Emit sends an event without blocking. Events are dropped when the buffer
// is full or the emitter is closed.
func (e *EventEmitter) Emit(kind EventKind, step int, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		AgentID:   e.agentID,
		Step:      step,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
