package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrUnknownKind  = errors.New("unknown signal kind")
)

// Code is a stable machine-readable error code. Applications branch on
// the code, not the message.
type Code string

const (
	CodeInvalidParam     Code = "invalid_param"
	CodeNotSupported     Code = "not_supported"
	CodeInvalidState     Code = "invalid_state"
	CodeAlreadyInCall    Code = "already_in_call"
	CodeNotInCall        Code = "not_in_call"
	CodeStreamNotFound   Code = "stream_not_found"
	CodeSignalingTimeout Code = "signaling_timeout"
	CodeDestroyed        Code = "destroyed"
	CodeBackpressure     Code = "backpressure"
	CodeEngine           Code = "engine"
	CodeUnknown          Code = "unknown"
)

// Error wraps a cause with a stable code and the failing operation.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err under op with the given code.
func NewError(code Code, op string, err error) error {
	return &Error{Code: code, Op: op, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(code Code, op, format string, args ...any) error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the code from err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
