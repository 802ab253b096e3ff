// Package httpapi implements the thin request surface (component F):
// JSON parsing/validation, delegation to the orchestrator, and OpenAI-shaped
// response serialization for both the synchronous and streaming cases.
package httpapi

import (
	"github.com/llmgate/toolgate/internal/backend"
	"github.com/llmgate/toolgate/internal/orchestrator"
)

// wireMessage is the OpenAI chat-completions wire shape for one message.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// chatCompletionRequest is the inbound request body for POST /v1/chat/completions.
type chatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type chatCompletionResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []wireChoice   `json:"choices"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []wireChunkChoice `json:"choices"`
}

type wireChunkChoice struct {
	Index        int            `json:"index"`
	Delta        wireChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type wireChunkDelta struct {
	Content string `json:"content,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func toBackendMessages(in []wireMessage) []backend.Message {
	out := make([]backend.Message, 0, len(in))
	for _, m := range in {
		bm := backend.Message{Role: backend.Role(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			bm.ToolCalls = append(bm.ToolCalls, backend.ToolCall{CallID: tc.ID, ToolName: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		out = append(out, bm)
	}
	return out
}

func fromBackendMessage(m backend.Message) wireMessage {
	wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:   tc.CallID,
			Type: "function",
			Function: wireToolCallFunc{
				Name:      tc.ToolName,
				Arguments: tc.Arguments,
			},
		})
	}
	return wm
}

func toolChoiceFromWire(v any) backend.ToolChoice {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	switch s {
	case "auto", "required", "none":
		return backend.ToolChoice(s)
	default:
		return ""
	}
}

func buildOrchestratorRequest(req chatCompletionRequest) orchestrator.Request {
	temp := 0.7
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	return orchestrator.Request{
		Messages:      toBackendMessages(req.Messages),
		ModelOverride: req.Model,
		Temperature:   temp,
		Stream:        req.Stream,
		ToolChoice:    toolChoiceFromWire(req.ToolChoice),
	}
}
