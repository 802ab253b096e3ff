package httpapi

import "fmt"

// validateChatRequest applies the semantic bad-request checks on top of
// already-valid JSON; malformed JSON itself is caught by the decoder before
// this runs.
func validateChatRequest(req chatCompletionRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must be a non-empty list")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant", "tool":
		default:
			return fmt.Errorf("messages[%d].role must be one of system, user, assistant, tool", i)
		}
		if m.Role == "tool" && m.ToolCallID == "" {
			return fmt.Errorf("messages[%d] has role tool but no tool_call_id", i)
		}
	}
	switch req.Messages[0].Role {
	case "user", "system":
	default:
		return fmt.Errorf("the first message's role must be user or system")
	}
	if req.Temperature != nil && *req.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0")
	}
	return nil
}
