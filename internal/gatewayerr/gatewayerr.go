// Package gatewayerr models the error taxonomy from the gateway's error-handling
// design: a small set of sentinel-wrapped kinds that downstream code type-switches
// on to decide whether an error is surfaced as an HTTP status, a synthesized chat
// completion, or a tool-result message.
package gatewayerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindBackendUnavailable  Kind = "backend_unavailable"
	KindBackendTimeout      Kind = "backend_timeout"
	KindBackendProtocol     Kind = "backend_protocol_error"
	KindToolNotFound        Kind = "tool_not_found"
	KindToolInvocation      Kind = "tool_invocation_error"
	KindToolLoopExhausted   Kind = "tool_loop_exhausted"
	KindMalformedModelOutput Kind = "malformed_model_output"
	KindIndexCorruption     Kind = "index_corruption"
)

// Error is the gateway's wrapped error type: a Kind plus the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a gatewayerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}
