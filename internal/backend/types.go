// Package backend implements the adapter layer (component B): a uniform chat
// surface over the gateway's two wire dialects, with retry, health probing,
// streaming, tool-schema projection, and per-request model override.
package backend

import "context"

// Role mirrors the data model's Message.role domain.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the gateway's normalized representation of a model-issued call.
type ToolCall struct {
	CallID    string `json:"call_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"` // raw JSON object text
}

// Message is the gateway's role-tagged conversation record.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolChoice mirrors the outgoing tool_choice values the adapter must always
// emit explicitly.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ToolDescriptor is the dialect-neutral shape the orchestrator hands to the
// adapter; the adapter projects it into each dialect's wire JSON.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      map[string]any // JSON schema of arguments
}

// ChatParams is everything one backend call needs beyond the message list.
type ChatParams struct {
	Messages      []Message
	Tools         []ToolDescriptor
	Temperature   float64
	ToolChoice    ToolChoice
	ModelOverride string // empty means use the configured default
	Stream        bool
}

// ChatResult is the adapter's normalized synchronous response: an assistant
// message possibly carrying tool calls.
type ChatResult struct {
	Message Message
}

// StreamDelta is one normalized frame of a streaming response: either a
// content fragment or, on the terminal frame, the accumulated tool calls.
// ToolCallStarted is raised once, on the first frame carrying a tool-call
// fragment, so a consumer relaying content to a caller can stop forwarding
// as soon as the response reveals itself to be a tool call rather than an
// answer (the complete calls still only arrive on the Done frame).
type StreamDelta struct {
	ContentDelta    string
	ToolCallStarted bool
	Done            bool
	ToolCalls       []ToolCall // only populated on the terminal Done frame
}

// RequestHook observes the outgoing payload immediately before transmission.
// The adapters call it under a deferred recover: a panic inside the hook is
// logged and swallowed, so it never propagates into the request path.
type RequestHook func(backendName string, outgoingPayload any)

// HealthStatus distinguishes "absent" from "reachable but not ready" per the
// adapter's documented health-probe behavior.
type HealthStatus int

const (
	HealthOK HealthStatus = iota
	HealthAbsent
	HealthNoModelLoaded
)

type HealthResult struct {
	Status  HealthStatus
	Message string
}

// Backend is the adapter's uniform surface: one operation with both a
// synchronous and a streaming shape, plus health.
type Backend interface {
	Name() string
	Chat(ctx context.Context, params ChatParams) (ChatResult, error)
	ChatStream(ctx context.Context, params ChatParams) (<-chan StreamDelta, error)
	Health(ctx context.Context) HealthResult
}
