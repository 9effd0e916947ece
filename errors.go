package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies an Error the way go-amqp's LinkError/ConnError
// distinguish failure modes callers may want to branch on.
type ErrorKind int

const (
	// ErrIoError covers a failure reading or writing a Link.
	ErrIoError ErrorKind = iota
	// ErrInvalidLocator covers a malformed endpoint string.
	ErrInvalidLocator
	// ErrInvalidMessage covers a wire message that fails to decode or
	// violates a protocol invariant.
	ErrInvalidMessage
	// ErrInvalidLink covers an operation against a link in the wrong state
	// (already closed, wrong direction, etc).
	ErrInvalidLink
	// ErrInvalidReference covers a ResKey or numeric id that does not name
	// anything the transport knows about.
	ErrInvalidReference
	// ErrOther covers anything not classified above.
	ErrOther
)

func (k ErrorKind) String() string {
	names := [...]string{"IoError", "InvalidLocator", "InvalidMessage", "InvalidLink", "InvalidReference", "Other"}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Error is the typed error every exported transport operation returns on
// failure. It wraps an underlying cause (an I/O error, a decode error, an
// internal package's sentinel) so callers can unwrap to it.
type Error struct {
	Kind  ErrorKind
	cause error
}

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func wrapf(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	if cause == nil {
		return &Error{Kind: kind, cause: errors.Errorf(format, args...)}
	}
	return &Error{Kind: kind, cause: errors.Wrapf(cause, format, args...)}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("transport: %s", e.Kind)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.cause)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }
