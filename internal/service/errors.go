package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure for the HTTP layer.
type Kind int

const (
	// KindValidation covers malformed caller input: bad envelope, bad
	// key encoding, missing fields.
	KindValidation Kind = iota
	// KindAuthentication covers signature mismatch, invalid or expired
	// tokens, and inactive devices.
	KindAuthentication
	// KindNotFound covers absent operations or packages, including
	// records owned by a different device.
	KindNotFound
	// KindInvalidTransition marks a programming error: completing or
	// failing an operation twice.
	KindInvalidTransition
	// KindService covers unexpected store or I/O failures.
	KindService
)

// Error is the typed failure every service method returns.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrKind extracts the Kind from any error; non-service errors count
// as KindService.
func ErrKind(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindService
}

func validationErr(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func authErr(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Msg: fmt.Sprintf(format, args...)}
}

func notFoundErr(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func transitionErr(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

func serviceErr(msg string, err error) *Error {
	return &Error{Kind: KindService, Msg: msg, Err: err}
}
