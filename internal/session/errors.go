package session

import (
	"errors"
	"fmt"
)

// Code classifies every failure the engine can surface. Callers branch on the
// code, never on storage-level error text.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeInvalidState    Code = "invalid_state"
	CodeForbidden       Code = "forbidden"
	CodeInvalidArgument Code = "invalid_argument"
)

// Error is the engine's typed error.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Msg }

func notFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Msg: fmt.Sprintf(format, args...)}
}

func invalidStatef(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Msg: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Msg: fmt.Sprintf(format, args...)}
}

func invalidArgf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the engine code from err, or "" for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
