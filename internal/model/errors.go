package model

import (
	"errors"
	"fmt"
)

// Common errors used across the application
var (
	// Session errors
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomExists          = errors.New("room code already in use")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrNotHost             = errors.New("player is not the host")
	ErrNoActiveSession     = errors.New("no active session")
	ErrInvalidTransition   = errors.New("invalid phase transition")
	ErrInsufficientPlayers = errors.New("insufficient players to start session")
	ErrInvalidWinner       = errors.New("invalid winner")
	ErrInvalidName         = errors.New("player name must not be empty")

	// Connection errors
	ErrNotConfigured  = errors.New("backend not configured")
	ErrChannelClosed  = errors.New("change feed channel closed")
	ErrInvalidJoinURL = errors.New("invalid join link")
)

// ErrorKind classifies an error so callers can react without inspecting messages
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindConfiguration ErrorKind = "configuration" // Fix settings, do not retry
	KindRequest       ErrorKind = "request"       // Write or read rejected by the store
	KindChannel       ErrorKind = "channel"       // Change feed unavailable, reconnect explicitly
	KindValidation    ErrorKind = "validation"    // Action not allowed in the current state
)

// Error is a tagged error carrying a kind, the failing operation and a cause
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and operation name
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns a human-readable message without the operation prefix
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf returns the kind of the first tagged error in the chain
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ConfigurationError tags err as a configuration problem
func ConfigurationError(op string, err error) error {
	return NewError(KindConfiguration, op, err)
}

// RequestError tags err as a rejected request, unless it is already tagged
func RequestError(op string, err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	return NewError(KindRequest, op, err)
}

// ChannelError tags err as a change feed failure
func ChannelError(op string, err error) error {
	return NewError(KindChannel, op, err)
}

// ValidationError tags err as an action not allowed in the current state
func ValidationError(op string, err error) error {
	return NewError(KindValidation, op, err)
}
