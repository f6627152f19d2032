// Package errs defines the logical error kinds the orchestrator core
// raises: a small typed error callers can inspect by kind rather than
// by string match.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed set of logical error categories; these are not Go
// type identifiers, only a tag.
type Kind string

const (
	ConfigError      Kind = "config_error"
	LLMUnavailable   Kind = "llm_unavailable"
	LLMParseError    Kind = "llm_parse_error"
	LLMTimeout       Kind = "llm_timeout"
	ServerNotReady   Kind = "server_not_ready"
	ServerDown       Kind = "server_down"
	ToolUnknown      Kind = "tool_unknown"
	ProtocolError    Kind = "protocol_error"
	Timeout          Kind = "timeout"
	GoalNotFound     Kind = "goal_not_found"
	WorkflowNotFound Kind = "workflow_not_found"
	AlreadyRunning   Kind = "already_running"
	PersistenceError Kind = "persistence_error"
)

// Error is the concrete error type carrying a Kind plus a message and
// an optional wrapped cause.
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

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, preserving cause for
// errors.Is/As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
