package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/toolgate/internal/backend"
	"github.com/llmgate/toolgate/internal/orchestrator"
	"github.com/llmgate/toolgate/internal/tools"
)

type fakeChatBackend struct{}

func (fakeChatBackend) Name() string { return "fake" }
func (fakeChatBackend) Chat(context.Context, backend.ChatParams) (backend.ChatResult, error) {
	return backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, Content: "hello from the fake backend"}}, nil
}
func (fakeChatBackend) ChatStream(context.Context, backend.ChatParams) (<-chan backend.StreamDelta, error) {
	ch := make(chan backend.StreamDelta, 2)
	ch <- backend.StreamDelta{ContentDelta: "hel"}
	ch <- backend.StreamDelta{ContentDelta: "lo", Done: true}
	close(ch)
	return ch, nil
}
func (fakeChatBackend) Health(context.Context) backend.HealthResult {
	return backend.HealthResult{Status: backend.HealthOK}
}

func newTestHandler() *ChatCompletionsHandler {
	reg := tools.NewRegistry()
	o := orchestrator.New(fakeChatBackend{}, reg, orchestrator.Limits{MaxIterations: 3}, nil, nil, nil)
	return NewChatCompletionsHandler(o, "test-model", nil)
}

func TestChatCompletions_RejectsEmptyMessages(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletions_RejectsMalformedJSON(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletions_NonStreamingReturnsAssistantMessage(t *testing.T) {
	h := newTestHandler()
	body := `{"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello from the fake backend", resp.Choices[0].Message.Content)
}

func TestChatCompletions_StreamingEmitsSSEFrames(t *testing.T) {
	h := newTestHandler()
	body := `{"messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "data: ")
	assert.Contains(t, out, "[DONE]")
}

func TestChatCompletions_ToolRoleWithoutCallIDIsRejected(t *testing.T) {
	h := newTestHandler()
	body := `{"messages":[{"role":"tool","content":"result"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
