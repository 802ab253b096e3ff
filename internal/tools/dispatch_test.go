package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/toolgate/internal/backend"
)

func TestDispatch_NotRegistered(t *testing.T) {
	r := NewRegistry()
	msg := Dispatch(context.Background(), r, backend.ToolCall{CallID: "c1", ToolName: "missing", Arguments: "{}"}, 0)
	assert.Equal(t, "Error: tool missing not registered", msg.Content)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.Equal(t, backend.RoleTool, msg.Role)
}

func TestDispatch_Success(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterEcho(r))

	msg := Dispatch(context.Background(), r, backend.ToolCall{CallID: "c1", ToolName: "echo", Arguments: `{"text":"ping"}`}, 0)
	assert.Equal(t, "pong: ping", msg.Content)
}

func TestDispatch_HandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("boom", "always fails", EchoArgs{}, func(context.Context, string) (string, error) {
		return "", errors.New("kaboom")
	}))

	msg := Dispatch(context.Background(), r, backend.ToolCall{CallID: "c1", ToolName: "boom", Arguments: `{"text":"x"}`}, 0)
	assert.Equal(t, "Error: kaboom", msg.Content)
}

func TestDispatch_HandlerPanicRecovered(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("panics", "always panics", EchoArgs{}, func(context.Context, string) (string, error) {
		panic("unexpected")
	}))

	msg := Dispatch(context.Background(), r, backend.ToolCall{CallID: "c1", ToolName: "panics", Arguments: `{"text":"x"}`}, 0)
	assert.Equal(t, "Error: unexpected", msg.Content)
}

func TestDispatch_TruncatesPerResultNotAcrossResults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("long", "returns a long string", EchoArgs{}, func(context.Context, string) (string, error) {
		return strings.Repeat("x", 100), nil
	}))

	msg := Dispatch(context.Background(), r, backend.ToolCall{CallID: "c1", ToolName: "long", Arguments: `{"text":"x"}`}, 20)
	assert.LessOrEqual(t, len(msg.Content), 20)
	assert.Contains(t, msg.Content, "truncated")

	msg2 := Dispatch(context.Background(), r, backend.ToolCall{CallID: "c2", ToolName: "long", Arguments: `{"text":"x"}`}, 0)
	assert.Equal(t, 100, len(msg2.Content))
}

func TestRegistry_Descriptors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterEcho(r))

	descs := r.Descriptors()
	require.Len(t, descs, 1)
	assert.Equal(t, "echo", descs[0].Name)
	assert.NotEmpty(t, descs[0].Schema)
}
