package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// EchoArgs is the declared input shape for the echo tool used in the
// end-to-end scenarios: a single required text field.
type EchoArgs struct {
	Text string `json:"text" jsonschema:"required,description=text to echo back"`
}

// RegisterEcho adds a trivial diagnostic tool useful for exercising the
// orchestrator loop without a real backend integration.
func RegisterEcho(r *Registry) error {
	return r.Register("echo", "Echoes the provided text back, prefixed with 'pong: '.", EchoArgs{}, func(_ context.Context, argsJSON string) (string, error) {
		var args EchoArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("decode echo arguments: %w", err)
		}
		return fmt.Sprintf("pong: %s", args.Text), nil
	})
}
