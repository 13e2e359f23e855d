package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// Completer is the model surface the agent needs. *unifiedllm.Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// RunState is the terminal state of a Run.
type RunState string

const (
	RunDone              RunState = "done"
	RunCancelled         RunState = "cancelled"
	RunModelError        RunState = "model_error"
	RunStepLimitExceeded RunState = "step_limit_exceeded"
)

// Messages returned to the caller for non-successful runs.
const (
	CancelledMessage = "Task cancelled by user."
	stepLimitFormat  = "Task couldn't be completed after %d steps."
)

// RunResult is what Run hands back. Content is the text shown to the user:
// the final assistant text on success, otherwise a status sentence.
type RunResult struct {
	State   RunState `json:"state"`
	Content string   `json:"content"`
	Steps   int      `json:"steps"`
	Err     error    `json:"-"`
}

// AgentConfig holds configuration for an agent.
type AgentConfig struct {
	Model               string         `json:"model,omitempty"`
	Provider            string         `json:"provider,omitempty"`
	SystemPrompt        string         `json:"system_prompt"`
	WorkspaceDir        string         `json:"workspace_dir"`
	MaxSteps            int            `json:"max_steps"`
	TokenLimit          int            `json:"token_limit"`
	SummaryConcurrency  int            `json:"summary_concurrency"`
	ToolOutputLimits    map[string]int `json:"tool_output_limits,omitempty"`
	ToolLineLimits      map[string]int `json:"tool_line_limits,omitempty"`
	EnableLoopDetection bool           `json:"enable_loop_detection"`
	LoopDetectionWindow int            `json:"loop_detection_window"`
}

// DefaultAgentConfig returns the default configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		SystemPrompt:        DefaultSystemPrompt,
		WorkspaceDir:        "./workspace",
		MaxSteps:            50,
		TokenLimit:          80000,
		SummaryConcurrency:  4,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

// Agent drives the model/tool loop over one conversation. Run calls are
// serialized; History may be read while a run is in progress.
type Agent struct {
	id         string
	client     Completer
	registry   *ToolRegistry
	dispatcher *Dispatcher
	summarizer *Summarizer
	estimator  *TokenEstimator
	config     AgentConfig
	logger     *slog.Logger
	runLog     *RunLogger
	emitter    *EventEmitter
	cancel     *CancelSignal
	onClose    []func()
	closeOnce  sync.Once

	conv           *Conversation
	apiTotalTokens int
	mu             sync.Mutex // guards conv and apiTotalTokens
	runMu          sync.Mutex // held for the duration of Run
}

// NewAgent creates an agent. A nil config selects DefaultAgentConfig. The
// workspace directory is created and described in the system prompt unless
// the prompt already has a "Current Workspace" section.
func NewAgent(client Completer, tools *ToolRegistry, config *AgentConfig) *Agent {
	cfg := DefaultAgentConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 50
	}
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = 80000
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = "./workspace"
	}
	if tools == nil {
		tools = NewToolRegistry()
	}

	id := uuid.New().String()
	logger := slog.Default().With("agent_id", id)

	workspace := cfg.WorkspaceDir
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		logger.Warn("failed to create workspace", "workspace", workspace, "error", err)
	}
	cfg.WorkspaceDir = workspace
	cfg.SystemPrompt = WithWorkspaceSection(cfg.SystemPrompt, workspace)

	estimator := NewTokenEstimator()
	dispatcher := NewDispatcher(tools)
	dispatcher.SetOutputLimits(cfg.ToolOutputLimits, cfg.ToolLineLimits)

	return &Agent{
		id:         id,
		client:     client,
		registry:   tools,
		dispatcher: dispatcher,
		summarizer: NewSummarizer(client, estimator, cfg.TokenLimit, logger,
			WithSummaryConcurrency(cfg.SummaryConcurrency),
			WithSummaryModel(cfg.Model)),
		estimator: estimator,
		config:    cfg,
		logger:    logger,
		emitter:   NewEventEmitter(id, 256),
		cancel:    NewCancelSignal(),
		conv:      NewConversation(cfg.SystemPrompt),
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Config returns the effective configuration.
func (a *Agent) Config() AgentConfig { return a.config }

// SetLogger replaces the structured logger.
func (a *Agent) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	a.logger = logger.With("agent_id", a.id)
	a.summarizer.logger = a.logger
}

// SetEstimator replaces the token estimator.
func (a *Agent) SetEstimator(est *TokenEstimator) {
	if est == nil {
		return
	}
	a.estimator = est
	a.summarizer.SetEstimator(est)
}

// SetRunLogger enables per-run transcript files.
func (a *Agent) SetRunLogger(l *RunLogger) { a.runLog = l }

// OnClose registers fn to run when the agent is closed.
func (a *Agent) OnClose(fn func()) { a.onClose = append(a.onClose, fn) }

// Events returns the event channel for the host application.
func (a *Agent) Events() <-chan Event { return a.emitter.Events() }

// Cancel requests cancellation of the current run through the agent's own
// signal.
func (a *Agent) Cancel() { a.cancel.Cancel() }

// AddUserMessage appends a user message. It must not race with Run.
func (a *Agent) AddUserMessage(text string) {
	a.mu.Lock()
	a.conv.Append(unifiedllm.UserMessage(text))
	a.mu.Unlock()
	a.emitter.Emit(EventUserInput, 0, map[string]interface{}{"content": text})
}

// History returns a copy of the conversation.
func (a *Agent) History() []unifiedllm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.Messages()
}

// APITotalTokens returns the total token count reported by the last model
// call that reported usage.
func (a *Agent) APITotalTokens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiTotalTokens
}

// RestoreHistory replaces the conversation with msgs. The current system
// message is kept unless msgs starts with one.
func (a *Agent) RestoreHistory(msgs []unifiedllm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conv.ReplaceAll(msgs)
}

// Reset drops everything but the system message.
func (a *Agent) Reset() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conv.Reset()
	a.apiTotalTokens = 0
	a.summarizer.skipNext = false
}

// Close cancels any run in progress, runs the registered close hooks and
// closes the event channel. Safe to call multiple times.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.cancel.Cancel()
		for _, fn := range a.onClose {
			fn()
		}
		a.emitter.Close()
	})
}

// Run executes the agent loop until the model stops calling tools, the step
// limit is reached, the model fails, or cancellation is requested. A nil
// cancel uses the agent's own signal, which is cleared when the run starts.
// A signal passed by the caller is taken as is, so a cancel requested
// before the run starts still applies. Every signal is cleared when the run
// ends. Cancellation of ctx counts as a cancel request. Run never panics and
// reports every outcome in RunResult.
func (a *Agent) Run(ctx context.Context, cancel *CancelSignal) RunResult {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if cancel == nil {
		cancel = a.cancel
		cancel.Reset()
	}
	defer cancel.Reset()

	if a.runLog != nil {
		if err := a.runLog.StartRun(); err != nil {
			a.logger.Warn("failed to start run log", "error", err)
		} else {
			a.logger.Debug("run log opened", "path", a.runLog.Path())
		}
	}
	a.emitter.Emit(EventRunStart, 0, nil)

	result := a.loop(ctx, cancel)
	a.logger.Info("run finished", "state", result.State, "steps", result.Steps)
	a.emitter.Emit(EventRunEnd, result.Steps, map[string]interface{}{
		"state":   string(result.State),
		"content": result.Content,
	})
	return result
}

func (a *Agent) cancelled(ctx context.Context, cancel *CancelSignal) bool {
	if ctx.Err() != nil {
		cancel.Cancel()
	}
	return cancel.Cancelled()
}

func (a *Agent) rollback(step int) RunResult {
	a.mu.Lock()
	before := a.conv.Len()
	a.conv.RollbackIncompleteTurn()
	removed := before - a.conv.Len()
	a.mu.Unlock()

	a.logger.Info("run cancelled", "step", step, "removed_messages", removed)
	a.emitter.Emit(EventCancelled, step, map[string]interface{}{"removed_messages": removed})
	return RunResult{State: RunCancelled, Content: CancelledMessage, Steps: step}
}

func (a *Agent) cancelledAfterFailedCall(step int, err error) RunResult {
	a.logger.Info("run cancelled during model call", "step", step, "error", err)
	a.emitter.Emit(EventCancelled, step, map[string]interface{}{"removed_messages": 0})
	return RunResult{State: RunCancelled, Content: CancelledMessage, Steps: step}
}

func (a *Agent) loop(ctx context.Context, cancel *CancelSignal) RunResult {
	maxSteps := a.config.MaxSteps
	for step := 0; step < maxSteps; step++ {
		if a.cancelled(ctx, cancel) {
			return a.rollback(step)
		}

		a.mu.Lock()
		msgs := a.conv.Messages()
		apiTotal := a.apiTotalTokens
		a.mu.Unlock()
		if rebuilt, ok := a.summarizer.MaybeSummarize(ctx, msgs, apiTotal); ok {
			a.mu.Lock()
			a.conv.ReplaceAll(rebuilt)
			a.mu.Unlock()
			msgs = rebuilt
			a.emitter.Emit(EventSummarized, step+1, map[string]interface{}{"messages": len(rebuilt)})
		}

		a.emitter.Emit(EventStepStart, step+1, map[string]interface{}{"max_steps": maxSteps})
		a.logger.Debug("step started", "step", step+1, "max_steps", maxSteps, "messages", len(msgs))

		req := unifiedllm.Request{
			Model:    a.config.Model,
			Provider: a.config.Provider,
			Messages: msgs,
			Tools:    a.registry.Definitions(),
		}
		if a.runLog != nil {
			a.runLog.LogRequest(msgs, a.registry.Names())
		}

		resp, err := a.client.Complete(ctx, req)
		if err != nil {
			// Nothing was appended for the failed call, so the history
			// already ends on a resolved turn and is kept as it is.
			if a.cancelled(ctx, cancel) {
				return a.cancelledAfterFailedCall(step, err)
			}
			return a.modelError(step, err)
		}
		if a.runLog != nil {
			a.runLog.LogResponse(resp)
		}

		assistant := resp.Message
		assistant.Role = unifiedllm.RoleAssistant
		a.mu.Lock()
		if !resp.Usage.IsZero() {
			a.apiTotalTokens = resp.Usage.TotalTokens
		}
		a.conv.Append(assistant)
		a.mu.Unlock()

		if thinking := resp.Reasoning(); thinking != "" {
			a.emitter.Emit(EventThinking, step+1, map[string]interface{}{"content": thinking})
		}
		if text := resp.Text(); text != "" {
			a.emitter.Emit(EventAssistantText, step+1, map[string]interface{}{"content": text})
		}

		calls := resp.ToolCallsFromResponse()
		if len(calls) == 0 {
			return RunResult{State: RunDone, Content: resp.Text(), Steps: step + 1}
		}

		if a.cancelled(ctx, cancel) {
			return a.rollback(step + 1)
		}

		for _, call := range calls {
			a.emitter.Emit(EventToolCallStart, step+1, map[string]interface{}{
				"call_id":   call.ID,
				"tool_name": call.Name,
				"arguments": string(call.Arguments),
			})

			res := a.dispatcher.Dispatch(ctx, call)
			if a.runLog != nil {
				a.runLog.LogToolResult(call.Name, call.Arguments, res)
			}

			content := res.Content
			if !res.Success {
				content = "Error: " + res.Error
				a.logger.Debug("tool failed", "tool", call.Name, "error", res.Error)
			}
			a.mu.Lock()
			a.conv.Append(unifiedllm.ToolResultMessage(call.ID, call.Name, content, !res.Success))
			a.mu.Unlock()

			a.emitter.Emit(EventToolCallEnd, step+1, map[string]interface{}{
				"call_id":   call.ID,
				"tool_name": call.Name,
				"success":   res.Success,
				"content":   res.Content,
				"error":     res.Error,
			})

			if a.cancelled(ctx, cancel) {
				return a.rollback(step + 1)
			}
		}

		if a.config.EnableLoopDetection {
			if DetectLoop(a.History(), a.config.LoopDetectionWindow) {
				a.logger.Warn("repeating tool call pattern detected", "window", a.config.LoopDetectionWindow)
				a.emitter.Emit(EventLoopDetection, step+1, map[string]interface{}{
					"window": a.config.LoopDetectionWindow,
				})
			}
		}
	}

	msg := fmt.Sprintf(stepLimitFormat, maxSteps)
	a.emitter.Emit(EventStepLimit, maxSteps, map[string]interface{}{"message": msg})
	return RunResult{State: RunStepLimitExceeded, Content: msg, Steps: maxSteps}
}

func (a *Agent) modelError(step int, err error) RunResult {
	var exhausted *unifiedllm.RetryExhaustedError
	var msg string
	if errors.As(err, &exhausted) {
		msg = fmt.Sprintf("LLM call failed after %d retries\nLast error: %v", exhausted.Attempts, exhausted.LastErr)
	} else {
		msg = fmt.Sprintf("LLM call failed: %v", err)
	}
	a.logger.Error("model call failed", "step", step+1, "error", err)
	a.emitter.Emit(EventError, step+1, map[string]interface{}{"error": msg})
	return RunResult{State: RunModelError, Content: msg, Steps: step + 1, Err: err}
}
