package pgmcp

import (
	"errors"
)

// ErrorKind names a failure class of the gateway. Protocol-level failures
// (parse, invalid params, unknown method) are produced by the dispatcher and
// never appear as an ErrorKind.
type ErrorKind string

const (
	KindPolicyViolation ErrorKind = "POLICY_VIOLATION"
	KindDatabase        ErrorKind = "DATABASE_ERROR"
	KindMarshal         ErrorKind = "MARSHAL_ERROR"
	KindInvalidURI      ErrorKind = "INVALID_URI"
)

// ErrWriteNotAllowed is returned when a WRITE statement reaches a session
// whose write policy is off.
var ErrWriteNotAllowed = errors.New("write operations are not allowed. Set DANGEROUSLY_ALLOW_WRITE_OPS=true to enable")

// Error is returned by Query, ListResources and ReadResource.
// Err holds the underlying cause; for KindDatabase it is the driver error
// with its message untouched.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
