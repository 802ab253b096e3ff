package backend

import (
	"encoding/json"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// toOpenAIMessages maps internal messages onto the openai-compatible dialect's
// assistant/tool-result shapes in one direction-agnostic pass.
func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.ToolName,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  flattenSchema(t.Schema),
			},
		})
	}
	return out
}

// flattenSchema normalizes a tool's parameter schema for the wire dialects: a
// nil schema becomes an empty object schema, and a schema with no "type" key
// is wrapped as the properties of a plain object. Any other schema is passed
// through unchanged; no schema features are removed or rewritten.
func flattenSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := schema["type"]; !ok {
		schema = map[string]any{"type": "object", "properties": schema}
	}
	return schema
}

func toOpenAIToolChoice(tc ToolChoice, hasTools bool) any {
	if !hasTools {
		return "none"
	}
	switch tc {
	case ToolChoiceRequired:
		return "required"
	case ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}

// fromOpenAIMessage normalizes an OpenAI-dialect assistant message back into
// the gateway's shape, synthesizing a call id when the backend omitted one.
func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	out := Message{
		Role:    RoleAssistant,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			CallID:    id,
			ToolName:  tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// nativeToolCallEnvelope is the wire shape of one tool call in the native
// dialect's tool_use content block — structurally distinct from the OpenAI
// dialect's nested function{name,arguments}.
type nativeToolCallEnvelope struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func nativeToolCallsToEnvelopes(calls []ToolCall) []nativeToolCallEnvelope {
	out := make([]nativeToolCallEnvelope, 0, len(calls))
	for _, c := range calls {
		out = append(out, nativeToolCallEnvelope{ID: c.CallID, Name: c.ToolName, Input: json.RawMessage(c.Arguments)})
	}
	return out
}

func envelopesToToolCalls(envs []nativeToolCallEnvelope) []ToolCall {
	out := make([]ToolCall, 0, len(envs))
	for _, e := range envs {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		args := string(e.Input)
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{CallID: id, ToolName: e.Name, Arguments: args})
	}
	return out
}
