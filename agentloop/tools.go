package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// ToolResult is the outcome of one tool execution. On success Content holds
// the payload; on failure Error does.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK builds a successful result.
func OK(content string) ToolResult {
	return ToolResult{Success: true, Content: content}
}

// Fail builds a failed result.
func Fail(format string, args ...interface{}) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool is a capability the model can invoke by name.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON Schema object describing the arguments.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, arguments json.RawMessage) (ToolResult, error)
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]interface{}
	Fn              func(ctx context.Context, arguments json.RawMessage) (ToolResult, error)
}

func (t *FuncTool) Name() string                       { return t.ToolName }
func (t *FuncTool) Description() string                { return t.ToolDescription }
func (t *FuncTool) Parameters() map[string]interface{} { return t.Schema }

func (t *FuncTool) Execute(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
	return t.Fn(ctx, arguments)
}

// NewTypedTool builds a FuncTool whose schema is reflected from T and whose
// arguments are decoded and validated into T before fn runs.
func NewTypedTool[T any](name, description string, fn func(ctx context.Context, args T) (ToolResult, error)) *FuncTool {
	return &FuncTool{
		ToolName:        name,
		ToolDescription: description,
		Schema:          SchemaFor[T](),
		Fn: func(ctx context.Context, raw json.RawMessage) (ToolResult, error) {
			args, err := DecodeArguments[T](raw)
			if err != nil {
				return Fail("%v", err), nil
			}
			return fn(ctx, args)
		},
	}
}

// SchemaFor reflects a JSON Schema object from the struct type T.
func SchemaFor[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]interface{}{}
	}
	return out
}

var argValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodeArguments unmarshals raw tool arguments into T and validates the
// struct tags.
func DecodeArguments[T any](raw json.RawMessage) (T, error) {
	var args T
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if err := argValidator.Struct(args); err != nil {
		return args, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewToolRegistry creates a registry holding tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the tool schemas sent to the model, sorted by name so
// requests are stable across calls.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]unifiedllm.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, unifiedllm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Clone returns a registry with the same tools.
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewToolRegistry()
	for name, tool := range r.tools {
		clone.tools[name] = tool
	}
	return clone
}

// MergeFrom copies all tools from other into this registry.
// Existing tools with the same name are overwritten (latest-wins).
func (r *ToolRegistry) MergeFrom(other *ToolRegistry) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, tool := range other.tools {
		r.tools[name] = tool
	}
}
