package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter talks to the Anthropic Messages API or a compatible
// endpoint such as MiniMax.
type AnthropicAdapter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicAdapter creates an adapter. The SDK's own retries are
// disabled; retries are applied by RetryMiddleware.
func NewAnthropicAdapter(apiKey, baseURL, model string) *AnthropicAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 16384,
	}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete sends one Messages API request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params := a.translateRequest(req)

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	return a.buildResponse(msg), nil
}

func (a *AnthropicAdapter) translateRequest(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: a.maxTokens,
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	var system []anthropic.TextBlockParam
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			if text := msg.TextContent(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		}
	}
	params.System = system
	params.Messages = toAnthropicMessages(req.Messages)

	if len(req.Tools) > 0 {
		params.Tools = make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: toAnthropicSchema(t.Parameters),
				},
			})
		}
	}
	return params
}

// toAnthropicMessages converts history into alternating user and assistant
// turns. Tool results travel as tool_result blocks inside user turns, and
// consecutive turns with the same role are merged.
func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	push := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case RoleUser:
			if text := msg.TextContent(); text != "" {
				push(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)})
			}
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range msg.Content {
				switch {
				case part.Kind == ContentThinking && part.Thinking != nil:
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfThinking: &anthropic.ThinkingBlockParam{
							Thinking:  part.Thinking.Text,
							Signature: part.Thinking.Signature,
						},
					})
				case part.Kind == ContentText && part.Text != "":
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				case part.Kind == ContentToolCall && part.ToolCall != nil:
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    part.ToolCall.ID,
							Name:  part.ToolCall.Name,
							Input: part.ToolCall.Arguments,
						},
					})
				}
			}
			push(anthropic.MessageParamRoleAssistant, blocks)
		case RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: part.ToolResult.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: part.ToolResult.Content}},
						},
						IsError: anthropic.Bool(part.ToolResult.IsError),
					},
				})
			}
			push(anthropic.MessageParamRoleUser, blocks)
		}
	}
	return out
}

func toAnthropicSchema(params map[string]interface{}) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if params == nil {
		return schema
	}
	if props, ok := params["properties"]; ok {
		schema.Properties = props
	}
	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []interface{}:
		for _, r := range req {
			if name, ok := r.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	return schema
}

func (a *AnthropicAdapter) buildResponse(msg *anthropic.Message) *Response {
	var parts []ContentPart
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			parts = append(parts, ThinkingPart(b.Thinking, b.Signature))
		case anthropic.TextBlock:
			parts = append(parts, TextPart(b.Text))
		case anthropic.ToolUseBlock:
			args, err := json.Marshal(b.Input)
			if err != nil {
				args = []byte("{}")
			}
			parts = append(parts, ToolCallPart(b.ID, b.Name, args))
		}
	}

	input := int(msg.Usage.InputTokens)
	output := int(msg.Usage.OutputTokens)
	return &Response{
		ID:       msg.ID,
		Model:    string(msg.Model),
		Provider: a.Name(),
		Message:  Message{Role: RoleAssistant, Content: parts},
		FinishReason: FinishReason{
			Reason: normalizeAnthropicStop(string(msg.StopReason)),
			Raw:    string(msg.StopReason),
		},
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "refusal":
		return "content_filter"
	default:
		return "other"
	}
}

func (a *AnthropicAdapter) translateError(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var retryAfter *float64
		if apiErr.Response != nil {
			if v, perr := strconv.ParseFloat(apiErr.Response.Header.Get("retry-after"), 64); perr == nil {
				retryAfter = &v
			}
		}
		classified := ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), a.Name(), "", retryAfter)
		attachCause(classified, err)
		return classified
	}
	return transportError(ctx, err)
}
