package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/llmgate/toolgate/internal/backend"
)

const truncationNotice = "\n...[truncated: tool result exceeded maximum length]"

// Dispatch looks up a tool call by name and invokes it, returning a tool-role
// message whose content is always a result string — never an error type — per
// the registry's "tool-error is a message, not a protocol error" contract.
// maxResultChars bounds each individual result; truncation never applies
// across results.
func Dispatch(ctx context.Context, registry *Registry, call backend.ToolCall, maxResultChars int) backend.Message {
	content := invoke(ctx, registry, call)
	if maxResultChars > 0 && len(content) > maxResultChars {
		keep := maxResultChars - len(truncationNotice)
		if keep < 0 {
			keep = 0
		}
		content = content[:keep] + truncationNotice
		if len(content) > maxResultChars {
			content = content[:maxResultChars]
		}
	}
	return backend.Message{
		Role:       backend.RoleTool,
		Content:    content,
		ToolCallID: call.CallID,
	}
}

func invoke(ctx context.Context, registry *Registry, call backend.ToolCall) (result string) {
	t, ok := registry.tools[call.ToolName]
	if !ok {
		return fmt.Sprintf("Error: tool %s not registered", call.ToolName)
	}

	if t.validator != nil {
		var decoded any
		if err := json.Unmarshal([]byte(call.Arguments), &decoded); err == nil {
			if err := t.validator.Validate(decoded); err != nil {
				return fmt.Sprintf("Error: invalid arguments for tool %s: %v", call.ToolName, err)
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("Error: %v", r)
		}
	}()

	out, err := t.handler(ctx, call.Arguments)
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error())
	}
	return out
}
