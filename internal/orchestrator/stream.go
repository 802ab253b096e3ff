package orchestrator

import (
	"context"
	"strings"

	"github.com/llmgate/toolgate/internal/backend"
	"github.com/llmgate/toolgate/internal/tools"
)

// RunStream drives the same bounded loop as Run, forwarding the final
// response's content deltas to the caller as they arrive. Iterations that
// reveal themselves as tool calls stop forwarding at the first tool-call
// fragment; required-choice iterations buffer instead of streaming live,
// since plain content there may still be retried via the nudge rather than
// accepted as the answer.
func (o *Orchestrator) RunStream(ctx context.Context, req Request) (<-chan ChunkEvent, error) {
	o.RAG.Pause()

	loopCtx, cancel := context.WithTimeout(ctx, o.effectiveTimeout())

	out := make(chan ChunkEvent, 16)
	go func() {
		defer cancel()
		defer o.RAG.Resume()
		defer close(out)
		o.streamLoop(ctx, loopCtx, req, out)
	}()

	return out, nil
}

// streamSentinels are the substrings the relay must never emit a partial
// prefix of: the thinker marker plus the malformed-output signatures. The
// relay holds back any trailing bytes that could be the start of one split
// across delta frames.
var streamSentinels = append([]string{beginFinalResponseMarker}, malformedSignatures...)

// sentinelHoldback reports how many trailing bytes of s form a proper prefix
// of some sentinel and must therefore stay unforwarded until the next delta
// resolves them one way or the other.
func sentinelHoldback(s string) int {
	hold := 0
	for _, sentinel := range streamSentinels {
		maxLen := len(sentinel) - 1
		if maxLen > len(s) {
			maxLen = len(s)
		}
		for l := maxLen; l > hold; l-- {
			if s[len(s)-l:] == sentinel[:l] {
				hold = l
				break
			}
		}
	}
	return hold
}

// streamRelay reduces one backend stream into caller-facing chunk events,
// emitting each content delta as it arrives. It applies the thinker-marker
// filter (anything still unforwarded when the marker appears is dropped
// through the marker; already-forwarded text cannot be recalled), trips on
// malformed-output signatures before the offending region is forwarded, and
// goes silent the moment tool-call activity is observed. A non-live relay
// withholds everything until finish, for iterations whose plain content the
// loop may still reject.
type streamRelay struct {
	out        chan<- ChunkEvent
	live       bool
	full       strings.Builder
	pending    string
	markerSeen bool
	suppressed bool
	aborted    bool
}

func newStreamRelay(out chan<- ChunkEvent, live bool) *streamRelay {
	return &streamRelay{out: out, live: live}
}

func (r *streamRelay) content() string { return r.full.String() }

func (r *streamRelay) onToolCalls() {
	r.suppressed = true
	r.pending = ""
}

func (r *streamRelay) onContent(delta string) {
	r.full.WriteString(delta)
	if r.suppressed || r.aborted {
		return
	}
	r.pending += delta
	if looksMalformed(r.pending) {
		r.aborted = true
		r.pending = ""
		return
	}
	if !r.live {
		return
	}
	if !r.markerSeen {
		if idx := strings.Index(r.pending, beginFinalResponseMarker); idx >= 0 {
			r.pending = r.pending[idx+len(beginFinalResponseMarker):]
			r.markerSeen = true
		}
	}
	if cut := len(r.pending) - sentinelHoldback(r.pending); cut > 0 {
		r.emit(r.pending[:cut])
		r.pending = r.pending[cut:]
	}
}

// finish flushes whatever the relay still holds: the sentinel-holdback tail
// for a live relay, or the entire marker-filtered content for a buffered one.
// Nothing is flushed after suppression or a malformed abort.
func (r *streamRelay) finish() {
	if r.suppressed || r.aborted {
		return
	}
	content := r.pending
	r.pending = ""
	if !r.markerSeen {
		if idx := strings.Index(content, beginFinalResponseMarker); idx >= 0 {
			content = content[idx+len(beginFinalResponseMarker):]
			r.markerSeen = true
		}
	}
	r.emit(content)
}

func (r *streamRelay) emit(s string) {
	if s == "" {
		return
	}
	r.out <- ChunkEvent{ContentDelta: s}
}

// streamIteration drives one backend streaming call through the relay and
// returns the accumulated assistant message.
func (o *Orchestrator) streamIteration(ctx context.Context, params backend.ChatParams, relay *streamRelay) (backend.Message, error) {
	params.Stream = true
	deltas, err := o.Backend.ChatStream(ctx, params)
	if err != nil {
		return backend.Message{}, err
	}

	var toolCalls []backend.ToolCall
	for d := range deltas {
		if d.ToolCallStarted {
			relay.onToolCalls()
		}
		if d.ContentDelta != "" {
			relay.onContent(d.ContentDelta)
		}
		if d.Done {
			toolCalls = d.ToolCalls
			break
		}
	}
	if len(toolCalls) > 0 {
		relay.onToolCalls()
	}
	return backend.Message{Role: backend.RoleAssistant, Content: relay.content(), ToolCalls: toolCalls}, nil
}

func emitDone(out chan<- ChunkEvent, finishReason string) {
	out <- ChunkEvent{Done: true, FinishReason: finishReason}
}

func (o *Orchestrator) streamLoop(reqCtx, loopCtx context.Context, req Request, out chan<- ChunkEvent) {
	messages := o.primeMessages(req)
	descriptors := o.Tools.Descriptors()
	usedNudge := false

	for iter := 0; iter < o.maxIterations(); iter++ {
		choice := o.toolChoiceFor(iter, req)
		relay := newStreamRelay(out, choice != backend.ToolChoiceRequired)

		assistant, err := o.streamIteration(loopCtx, backend.ChatParams{
			Messages:      messages,
			Tools:         descriptors,
			Temperature:   req.Temperature,
			ToolChoice:    choice,
			ModelOverride: req.ModelOverride,
		}, relay)
		if err != nil {
			if wallClockExhausted(reqCtx, loopCtx) {
				o.streamSynthesizeFinal(reqCtx, messages, req, out)
				return
			}
			out <- ChunkEvent{ContentDelta: finalSynthesisApology, Done: true, FinishReason: "error"}
			return
		}

		messages = append(messages, assistant)

		if len(assistant.ToolCalls) == 0 {
			if choice == backend.ToolChoiceRequired && !usedNudge {
				usedNudge = true
				messages = append(messages, backend.Message{Role: backend.RoleUser, Content: nudgeMessage})
				iter--
				continue
			}
			o.streamFinalize(loopCtx, assistant, relay, messages, req, out)
			return
		}

		for _, tc := range assistant.ToolCalls {
			toolMsg := tools.Dispatch(loopCtx, o.Tools, tc, o.Limits.MaxToolResultChars)
			messages = append(messages, toolMsg)
		}

		if wallClockExhausted(reqCtx, loopCtx) {
			o.streamSynthesizeFinal(reqCtx, messages, req, out)
			return
		}
	}

	o.streamSynthesizeFinal(reqCtx, messages, req, out)
}

// streamFinalize mirrors finalizeContent for the streaming path: a clean
// answer just completes (its deltas were already forwarded by the relay, or
// are flushed now if the relay was buffering); malformed output triggers one
// live-streamed retry with the stern prefix before falling back.
func (o *Orchestrator) streamFinalize(ctx context.Context, assistant backend.Message, relay *streamRelay, messages []backend.Message, req Request, out chan<- ChunkEvent) {
	if !relay.aborted && !looksMalformed(assistant.Content) {
		relay.finish()
		emitDone(out, "stop")
		return
	}

	retryMessages := append(append([]backend.Message{}, messages...), backend.Message{
		Role:    backend.RoleUser,
		Content: malformedRetryPrefix + "Please answer the original request again.",
	})

	retryRelay := newStreamRelay(out, true)
	retried, err := o.streamIteration(ctx, backend.ChatParams{
		Messages:      retryMessages,
		Temperature:   req.Temperature,
		ToolChoice:    backend.ToolChoiceNone,
		ModelOverride: req.ModelOverride,
	}, retryRelay)
	if err != nil || retryRelay.aborted || looksMalformed(retried.Content) {
		out <- ChunkEvent{ContentDelta: malformedFallback}
		emitDone(out, "stop")
		return
	}
	retryRelay.finish()
	emitDone(out, "stop")
}

// streamSynthesizeFinal mirrors synthesizeFinal: it runs against its own
// fresh timeout derived from reqCtx rather than the tool loop's already-
// expired deadline, streams the synthesis live (it is terminal by
// construction), and applies the same retry-once-then-fallback malformed-
// output handling as streamFinalize.
func (o *Orchestrator) streamSynthesizeFinal(reqCtx context.Context, messages []backend.Message, req Request, out chan<- ChunkEvent) {
	ctx, cancel := context.WithTimeout(reqCtx, o.finalSynthesisTimeout())
	defer cancel()

	synthMessages := append(append([]backend.Message{}, messages...), backend.Message{
		Role:    backend.RoleUser,
		Content: "You've reached the maximum number of tool calls for this request. Answer now using only the information already gathered.",
	})

	relay := newStreamRelay(out, true)
	result, err := o.streamIteration(ctx, backend.ChatParams{
		Messages:      synthMessages,
		Temperature:   req.Temperature,
		ToolChoice:    backend.ToolChoiceNone,
		ModelOverride: req.ModelOverride,
	}, relay)
	if err != nil {
		out <- ChunkEvent{ContentDelta: finalSynthesisApology}
		emitDone(out, "length")
		return
	}
	if !relay.aborted && !looksMalformed(result.Content) {
		relay.finish()
		emitDone(out, "length")
		return
	}

	retryMessages := append(append([]backend.Message{}, synthMessages...), backend.Message{
		Role:    backend.RoleUser,
		Content: malformedRetryPrefix + "Please answer the original request again.",
	})

	retryRelay := newStreamRelay(out, true)
	retried, err := o.streamIteration(ctx, backend.ChatParams{
		Messages:      retryMessages,
		Temperature:   req.Temperature,
		ToolChoice:    backend.ToolChoiceNone,
		ModelOverride: req.ModelOverride,
	}, retryRelay)
	if err != nil || retryRelay.aborted || looksMalformed(retried.Content) {
		out <- ChunkEvent{ContentDelta: malformedFallback}
		emitDone(out, "length")
		return
	}
	retryRelay.finish()
	emitDone(out, "length")
}
