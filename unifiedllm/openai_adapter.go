package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter talks to any OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIAdapter creates an adapter for apiKey. An empty baseURL keeps the
// library default.
func NewOpenAIAdapter(apiKey, baseURL, model string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: 16384,
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Complete sends one chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq := a.translateRequest(req)

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			SDKError:  SDKError{Message: "response contained no choices"},
			Provider:  a.Name(),
			Retryable: true,
		}
	}
	return a.buildResponse(resp), nil
}

func (a *OpenAIAdapter) translateRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = a.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: a.maxTokens,
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = make([]openai.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			chatReq.Tools = append(chatReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "named":
			chatReq.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice.ToolName},
			}
		case "auto", "none", "required":
			chatReq.ToolChoice = req.ToolChoice.Mode
		}
	}
	return chatReq
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.TextContent(),
			})
		case RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.TextContent(),
			})
		case RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:             openai.ChatMessageRoleAssistant,
				Content:          msg.TextContent(),
				ReasoningContent: msg.Thinking(),
			}
			for _, tc := range msg.ToolCalls() {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, m)
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.TextContent(),
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return out
}

func (a *OpenAIAdapter) buildResponse(resp openai.ChatCompletionResponse) *Response {
	choice := resp.Choices[0]

	var parts []ContentPart
	if choice.Message.ReasoningContent != "" {
		parts = append(parts, ThinkingPart(choice.Message.ReasoningContent, ""))
	}
	if choice.Message.Content != "" {
		parts = append(parts, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			// Keep the call so the tool reports the decode failure to the model.
			quoted, _ := json.Marshal(tc.Function.Arguments)
			args = quoted
		}
		parts = append(parts, ToolCallPart(tc.ID, tc.Function.Name, args))
	}

	return &Response{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.Name(),
		Message:  Message{Role: RoleAssistant, Content: parts},
		FinishReason: FinishReason{
			Reason: normalizeOpenAIFinish(choice.FinishReason),
			Raw:    string(choice.FinishReason),
		},
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

func normalizeOpenAIFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return "stop"
	case openai.FinishReasonLength:
		return "length"
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_calls"
	case openai.FinishReasonContentFilter:
		return "content_filter"
	default:
		return "other"
	}
}

func (a *OpenAIAdapter) translateError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			switch c := apiErr.Code.(type) {
			case string:
				code = c
			case float64:
				code = strconv.Itoa(int(c))
			}
		}
		classified := ErrorFromStatusCode(apiErr.HTTPStatusCode, apiErr.Message, a.Name(), code, nil)
		attachCause(classified, err)
		return classified
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		classified := ErrorFromStatusCode(reqErr.HTTPStatusCode, reqErr.Error(), a.Name(), "", nil)
		attachCause(classified, err)
		return classified
	}
	return transportError(ctx, err)
}
