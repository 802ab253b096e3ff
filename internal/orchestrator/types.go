// Package orchestrator implements the tool-calling orchestrator (component E):
// the bounded iteration loop, tool-choice policy, final synthesis, malformed-
// output detection, streaming, system-prompt caching, and RAG pause/resume
// coordination.
package orchestrator

import (
	"time"

	"github.com/llmgate/toolgate/internal/backend"
)

// Request is the orchestrator's input: the caller's messages and per-request
// options. It carries no system prompt; the orchestrator injects its own
// configured one when priming the conversation.
type Request struct {
	Messages      []backend.Message
	ModelOverride string
	Temperature   float64
	Stream        bool
	ToolChoice    backend.ToolChoice // empty means "use configured first-iteration policy"
}

// Result is the orchestrator's non-streaming output: the final assistant
// message plus the full running message list (so the request surface can
// report usage-adjacent facts if it wants to).
type Result struct {
	FinalMessage backend.Message
	Messages     []backend.Message
	BackendCalls int
}

// ChunkEvent is one frame of the orchestrator's streaming output: OpenAI-shaped
// delta content, terminated by Done.
type ChunkEvent struct {
	ContentDelta string
	Done         bool
	FinishReason string
}

// Limits carries the bounded-iteration and wall-clock budgets from config.
type Limits struct {
	MaxIterations            int
	ToolLoopTimeout          time.Duration
	FinalSynthesisTimeout    time.Duration
	FirstIterationToolChoice backend.ToolChoice
	MaxToolResultChars       int
}

const nudgeMessage = "You indicated a tool call was required but none was made. You must invoke one of the available tools to proceed."

// Malformed-output signature substrings the orchestrator scans final-synthesis
// output for — internal role/channel markers some models leak as
// literal text.
var malformedSignatures = []string{
	"<|start|>assistant<|channel|>",
	"<|end|>",
	"<|channel|>",
}

const malformedRetryPrefix = "Your previous response contained internal formatting artifacts. Respond again with clean, natural-language text only, with no special markers.\n\n"

const finalSynthesisApology = "I'm sorry, I was unable to produce a complete answer for this request."

const malformedFallback = "I'm sorry, I was unable to produce a clean answer for this request."

// beginFinalResponseMarker is the optional "thinker" marker protocol's
// terminator: tokens preceding it are suppressed, tokens after are forwarded.
const beginFinalResponseMarker = "[BEGIN FINAL RESPONSE]"
