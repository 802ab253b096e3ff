package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/toolgate/internal/backend"
	"github.com/llmgate/toolgate/internal/tools"
)

// fakeBackend scripts a sequence of responses, one per Chat call, so the loop
// logic can be exercised without a real wire dialect.
type fakeBackend struct {
	responses []backend.ChatResult
	errs      []error
	calls     int
	seenChoice []backend.ToolChoice
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Chat(_ context.Context, params backend.ChatParams) (backend.ChatResult, error) {
	f.seenChoice = append(f.seenChoice, params.ToolChoice)
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return backend.ChatResult{}, f.errs[idx]
	}
	if idx >= len(f.responses) {
		return backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, Content: "done"}}, nil
	}
	return f.responses[idx], nil
}

func (f *fakeBackend) ChatStream(context.Context, backend.ChatParams) (<-chan backend.StreamDelta, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) Health(context.Context) backend.HealthResult {
	return backend.HealthResult{Status: backend.HealthOK}
}

func newTestOrchestrator(be backend.Backend) *Orchestrator {
	reg := tools.NewRegistry()
	_ = tools.RegisterEcho(reg)
	return New(be, reg, Limits{MaxIterations: 5, ToolLoopTimeout: time.Second, FirstIterationToolChoice: backend.ToolChoiceAuto}, nil, nil, nil)
}

func TestOrchestrator_NoToolCallReturnsDirectly(t *testing.T) {
	be := &fakeBackend{responses: []backend.ChatResult{
		{Message: backend.Message{Role: backend.RoleAssistant, Content: "hello there"}},
	}}
	o := newTestOrchestrator(be)

	res, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.FinalMessage.Content)
	assert.Equal(t, 1, res.BackendCalls)
}

func TestOrchestrator_DispatchesToolCallThenSynthesizes(t *testing.T) {
	be := &fakeBackend{responses: []backend.ChatResult{
		{Message: backend.Message{Role: backend.RoleAssistant, ToolCalls: []backend.ToolCall{{CallID: "c1", ToolName: "echo", Arguments: `{"text":"hi"}`}}}},
		{Message: backend.Message{Role: backend.RoleAssistant, Content: "the tool said pong: hi"}},
	}}
	o := newTestOrchestrator(be)

	res, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "echo hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "the tool said pong: hi", res.FinalMessage.Content)
	assert.Equal(t, 2, res.BackendCalls)

	// find the tool message in the running transcript
	var found bool
	for _, m := range res.Messages {
		if m.Role == backend.RoleTool && m.Content == "pong: hi" {
			found = true
		}
	}
	assert.True(t, found, "expected dispatched tool result in transcript")
}

func TestOrchestrator_RequiredToolChoiceNudgesOnce(t *testing.T) {
	be := &fakeBackend{responses: []backend.ChatResult{
		{Message: backend.Message{Role: backend.RoleAssistant, Content: "no tool call"}},
		{Message: backend.Message{Role: backend.RoleAssistant, ToolCalls: []backend.ToolCall{{CallID: "c1", ToolName: "echo", Arguments: `{"text":"hi"}`}}}},
		{Message: backend.Message{Role: backend.RoleAssistant, Content: "final"}},
	}}
	o := newTestOrchestrator(be)

	res, err := o.Run(context.Background(), Request{
		Messages:   []backend.Message{{Role: backend.RoleUser, Content: "echo hi"}},
		ToolChoice: backend.ToolChoiceRequired,
	})
	require.NoError(t, err)
	assert.Equal(t, "final", res.FinalMessage.Content)
	require.Len(t, be.seenChoice, 3)
	assert.Equal(t, backend.ToolChoiceRequired, be.seenChoice[0])
}

func TestOrchestrator_IterationExhaustionSynthesizesFinal(t *testing.T) {
	loopingCall := backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, ToolCalls: []backend.ToolCall{{CallID: "c1", ToolName: "echo", Arguments: `{"text":"hi"}`}}}}
	be := &fakeBackend{responses: []backend.ChatResult{loopingCall, loopingCall, {Message: backend.Message{Role: backend.RoleAssistant, Content: "best effort answer"}}}}
	o := newTestOrchestrator(be)
	o.Limits.MaxIterations = 2

	res, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "loop"}}})
	require.NoError(t, err)
	assert.Equal(t, "best effort answer", res.FinalMessage.Content)
}

func TestOrchestrator_BackendErrorPropagates(t *testing.T) {
	be := &fakeBackend{errs: []error{errors.New("backend down")}}
	o := newTestOrchestrator(be)

	_, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}}})
	require.Error(t, err)
}

func TestOrchestrator_MalformedOutputRetriesThenFallsBack(t *testing.T) {
	malformed := backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, Content: "<|start|>assistant<|channel|>leaked"}}
	be := &fakeBackend{responses: []backend.ChatResult{malformed, malformed}}
	o := newTestOrchestrator(be)

	res, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, malformedFallback, res.FinalMessage.Content)
}

// slowBackend blocks past the caller-supplied context's deadline on every
// call, so tests can exercise the loop's own wall-clock exhaustion path
// (as opposed to iteration-count exhaustion) without a real clock dependency.
type slowBackend struct {
	finalResponse backend.ChatResult
	calls         int
}

func (s *slowBackend) Name() string { return "slow" }

func (s *slowBackend) Chat(ctx context.Context, _ backend.ChatParams) (backend.ChatResult, error) {
	s.calls++
	if s.calls == 1 {
		<-ctx.Done()
		return backend.ChatResult{}, ctx.Err()
	}
	return s.finalResponse, nil
}

func (s *slowBackend) ChatStream(context.Context, backend.ChatParams) (<-chan backend.StreamDelta, error) {
	return nil, errors.New("not implemented")
}

func (s *slowBackend) Health(context.Context) backend.HealthResult {
	return backend.HealthResult{Status: backend.HealthOK}
}

func TestOrchestrator_WallClockExhaustionSynthesizesWithFreshBudget(t *testing.T) {
	be := &slowBackend{finalResponse: backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, Content: "best effort under time pressure"}}}
	reg := tools.NewRegistry()
	o := New(be, reg, Limits{MaxIterations: 5, ToolLoopTimeout: 10 * time.Millisecond, FinalSynthesisTimeout: time.Second}, nil, nil, nil)

	res, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}}})
	require.NoError(t, err, "final synthesis must get its own budget rather than inherit the expired loop deadline")
	assert.Equal(t, "best effort under time pressure", res.FinalMessage.Content)
}

func TestOrchestrator_CallerCancellationPropagatesWithoutSynthesis(t *testing.T) {
	be := &slowBackend{finalResponse: backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, Content: "should not be reached"}}}
	reg := tools.NewRegistry()
	o := New(be, reg, Limits{MaxIterations: 5, ToolLoopTimeout: time.Hour}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}}})
	require.Error(t, err, "a genuinely cancelled caller context should propagate, not trigger final synthesis")
}

func TestOrchestrator_SynthesizeFinalRetriesMalformedOutputThenFallsBack(t *testing.T) {
	loopingCall := backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, ToolCalls: []backend.ToolCall{{CallID: "c1", ToolName: "echo", Arguments: `{"text":"hi"}`}}}}
	malformed := backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, Content: "<|start|>assistant<|channel|>leaked"}}
	be := &fakeBackend{responses: []backend.ChatResult{loopingCall, loopingCall, malformed, malformed}}
	o := newTestOrchestrator(be)
	o.Limits.MaxIterations = 2

	res, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "loop"}}})
	require.NoError(t, err)
	assert.Equal(t, malformedFallback, res.FinalMessage.Content)
	assert.Equal(t, 4, res.BackendCalls)
}

func TestSystemPromptInjectedWhenConfigured(t *testing.T) {
	be := &fakeBackend{responses: []backend.ChatResult{
		{Message: backend.Message{Role: backend.RoleAssistant, Content: "ok"}},
	}}
	reg := tools.NewRegistry()
	prompt := NewSystemPromptSource("", "you are a helpful assistant")
	o := New(be, reg, Limits{MaxIterations: 3, ToolLoopTimeout: time.Second}, prompt, nil, nil)

	_, err := o.Run(context.Background(), Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	primed := o.primeMessages(Request{Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}}})
	require.Len(t, primed, 2)
	assert.Equal(t, backend.RoleSystem, primed[0].Role)
	assert.Equal(t, "you are a helpful assistant", primed[0].Content)
}
