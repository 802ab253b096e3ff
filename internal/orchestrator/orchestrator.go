package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmgate/toolgate/internal/backend"
	"github.com/llmgate/toolgate/internal/gatewayerr"
	"github.com/llmgate/toolgate/internal/tools"
)

// Orchestrator is the tool-calling loop (component E): it drives the backend
// adapter and tool registry through a bounded number of iterations, applying
// the tool-choice policy, final synthesis, and malformed-output retry, and
// signals a RAG updater to pause/resume around each request.
type Orchestrator struct {
	Backend      backend.Backend
	Tools        *tools.Registry
	Limits       Limits
	SystemPrompt *SystemPromptSource
	RAG          RAGPauser
	Logger       *slog.Logger
}

// New builds an Orchestrator. rag may be nil, in which case pause/resume are
// no-ops.
func New(be backend.Backend, toolRegistry *tools.Registry, limits Limits, systemPrompt *SystemPromptSource, rag RAGPauser, logger *slog.Logger) *Orchestrator {
	if rag == nil {
		rag = noopPauser{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Backend:      be,
		Tools:        toolRegistry,
		Limits:       limits,
		SystemPrompt: systemPrompt,
		RAG:          rag,
		Logger:       logger,
	}
}

// Run drives the non-streaming tool-calling loop to completion: bounded
// iterations of backend-call→dispatch-tool-calls, a tool-choice nudge retry,
// final synthesis on exhaustion, and one malformed-output retry.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	o.RAG.Pause()
	defer o.RAG.Resume()

	loopCtx, cancel := context.WithTimeout(ctx, o.effectiveTimeout())
	defer cancel()

	messages := o.primeMessages(req)
	descriptors := o.Tools.Descriptors()
	calls := 0
	usedNudge := false

	for iter := 0; iter < o.maxIterations(); iter++ {
		choice := o.toolChoiceFor(iter, req)

		result, err := o.Backend.Chat(loopCtx, backend.ChatParams{
			Messages:      messages,
			Tools:         descriptors,
			Temperature:   req.Temperature,
			ToolChoice:    choice,
			ModelOverride: req.ModelOverride,
		})
		calls++
		if err != nil {
			if wallClockExhausted(ctx, loopCtx) {
				return o.synthesizeFinal(ctx, messages, calls, req)
			}
			return Result{}, wrapBackendErr(err)
		}

		assistant := result.Message
		messages = append(messages, assistant)

		if len(assistant.ToolCalls) == 0 {
			if choice == backend.ToolChoiceRequired && !usedNudge {
				// Required but the model didn't call anything: nudge once.
				// This does not consume an iteration slot, only the overall
				// timeout budget.
				usedNudge = true
				messages = append(messages, backend.Message{Role: backend.RoleUser, Content: nudgeMessage})
				iter--
				continue
			}
			return o.finalizeContent(loopCtx, assistant, messages, calls, req)
		}

		for _, tc := range assistant.ToolCalls {
			toolMsg := tools.Dispatch(loopCtx, o.Tools, tc, o.Limits.MaxToolResultChars)
			messages = append(messages, toolMsg)
		}

		if wallClockExhausted(ctx, loopCtx) {
			return o.synthesizeFinal(ctx, messages, calls, req)
		}
	}

	return o.synthesizeFinal(ctx, messages, calls, req)
}

// wallClockExhausted reports whether the loop's own bounded timeout fired
// (as opposed to the caller's request context being cancelled for real, in
// which case there is no point attempting a fresh-budget final synthesis —
// the caller is gone). loopCtx is always derived from reqCtx via
// context.WithTimeout, so loopCtx.Err() alone can't tell the two apart.
func wallClockExhausted(reqCtx, loopCtx context.Context) bool {
	return loopCtx.Err() != nil && reqCtx.Err() == nil
}

// finalizeContent applies the malformed-output check to a model's natural
// (non-exhausted) stopping point.
func (o *Orchestrator) finalizeContent(ctx context.Context, assistant backend.Message, messages []backend.Message, calls int, req Request) (Result, error) {
	if !looksMalformed(assistant.Content) {
		return Result{FinalMessage: assistant, Messages: messages, BackendCalls: calls}, nil
	}

	retryMessages := append(append([]backend.Message{}, messages...), backend.Message{
		Role:    backend.RoleUser,
		Content: malformedRetryPrefix + "Please answer the original request again.",
	})

	result, err := o.Backend.Chat(ctx, backend.ChatParams{
		Messages:      retryMessages,
		Temperature:   req.Temperature,
		ToolChoice:    backend.ToolChoiceNone,
		ModelOverride: req.ModelOverride,
	})
	calls++
	if err != nil || looksMalformed(result.Message.Content) {
		fallback := backend.Message{Role: backend.RoleAssistant, Content: malformedFallback}
		return Result{FinalMessage: fallback, Messages: append(retryMessages, fallback), BackendCalls: calls}, nil
	}

	return Result{FinalMessage: result.Message, Messages: append(retryMessages, result.Message), BackendCalls: calls}, nil
}

// synthesizeFinal is invoked when the tool loop's iteration count or
// wall-clock budget is exhausted with tool calls still pending: one last
// no-tools call asking the model to answer with what it has, with the same
// retry-once-then-fallback malformed-output handling as finalizeContent. It
// runs against its own fresh timeout derived from reqCtx (the context Run was
// originally called with), not the loop's already-expired deadline, so an
// exhausted tool loop never also starves the answer the caller is waiting on.
func (o *Orchestrator) synthesizeFinal(reqCtx context.Context, messages []backend.Message, calls int, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(reqCtx, o.finalSynthesisTimeout())
	defer cancel()

	synthMessages := append(append([]backend.Message{}, messages...), backend.Message{
		Role:    backend.RoleUser,
		Content: "You've reached the maximum number of tool calls for this request. Answer now using only the information already gathered.",
	})

	result, err := o.Backend.Chat(ctx, backend.ChatParams{
		Messages:      synthMessages,
		Temperature:   req.Temperature,
		ToolChoice:    backend.ToolChoiceNone,
		ModelOverride: req.ModelOverride,
	})
	calls++
	if err != nil {
		apology := backend.Message{Role: backend.RoleAssistant, Content: finalSynthesisApology}
		return Result{FinalMessage: apology, Messages: append(synthMessages, apology), BackendCalls: calls}, nil
	}

	if !looksMalformed(result.Message.Content) {
		return Result{FinalMessage: result.Message, Messages: append(synthMessages, result.Message), BackendCalls: calls}, nil
	}

	retryMessages := append(append([]backend.Message{}, synthMessages...), backend.Message{
		Role:    backend.RoleUser,
		Content: malformedRetryPrefix + "Please answer the original request again.",
	})

	retried, err := o.Backend.Chat(ctx, backend.ChatParams{
		Messages:      retryMessages,
		Temperature:   req.Temperature,
		ToolChoice:    backend.ToolChoiceNone,
		ModelOverride: req.ModelOverride,
	})
	calls++
	if err != nil || looksMalformed(retried.Message.Content) {
		fallback := backend.Message{Role: backend.RoleAssistant, Content: malformedFallback}
		return Result{FinalMessage: fallback, Messages: append(retryMessages, fallback), BackendCalls: calls}, nil
	}

	return Result{FinalMessage: retried.Message, Messages: append(retryMessages, retried.Message), BackendCalls: calls}, nil
}

func (o *Orchestrator) primeMessages(req Request) []backend.Message {
	msgs := make([]backend.Message, 0, len(req.Messages)+1)
	if o.SystemPrompt != nil {
		if prompt := o.SystemPrompt.Get(); prompt != "" {
			msgs = append(msgs, backend.Message{Role: backend.RoleSystem, Content: prompt})
		}
	}
	return append(msgs, req.Messages...)
}

func (o *Orchestrator) toolChoiceFor(iter int, req Request) backend.ToolChoice {
	if iter == 0 {
		if req.ToolChoice != "" {
			return req.ToolChoice
		}
		if o.Limits.FirstIterationToolChoice != "" {
			return o.Limits.FirstIterationToolChoice
		}
	}
	return backend.ToolChoiceAuto
}

func (o *Orchestrator) maxIterations() int {
	if o.Limits.MaxIterations <= 0 {
		return 1
	}
	return o.Limits.MaxIterations
}

// noToolLoopTimeout stands in for "disabled" (Limits.ToolLoopTimeout == 0
// means no wall-clock budget): context.WithTimeout needs a concrete
// duration, so this is a long-but-finite budget rather than a true no-op.
const noToolLoopTimeout = 24 * time.Hour

func (o *Orchestrator) effectiveTimeout() time.Duration {
	if o.Limits.ToolLoopTimeout == 0 {
		return noToolLoopTimeout
	}
	if o.Limits.ToolLoopTimeout < 0 {
		return 120 * time.Second
	}
	return o.Limits.ToolLoopTimeout
}

// defaultFinalSynthesisTimeout is used when Limits.FinalSynthesisTimeout is
// left unset (the zero value): a short, fixed budget is enough for a single
// no-tools completion and keeps a misconfigured deployment from granting it
// an effectively unbounded window.
const defaultFinalSynthesisTimeout = 30 * time.Second

func (o *Orchestrator) finalSynthesisTimeout() time.Duration {
	if o.Limits.FinalSynthesisTimeout <= 0 {
		return defaultFinalSynthesisTimeout
	}
	return o.Limits.FinalSynthesisTimeout
}

// wrapBackendErr preserves an existing gatewayerr.Error or leaves the error as
// is: the backend adapter already classifies its own errors, so the
// orchestrator mostly just propagates them.
func wrapBackendErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*gatewayerr.Error); ok {
		return err
	}
	return gatewayerr.Wrap(gatewayerr.KindBackendProtocol, "backend call failed", err)
}
