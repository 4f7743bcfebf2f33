package volt

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the client can deliver. The core never
// panics and never loses an error: each admitted call is resolved exactly
// once, either with a server response or with one of these.
type Kind int

const (
	// KindUnknown is the zero Kind; it never leaves the package.
	KindUnknown Kind = iota

	// KindInvalidProcedureName reports a name failing validation. Fails
	// surface-side, before any executor is involved.
	KindInvalidProcedureName

	// KindAuthenticationFailed reports a login rejected for credentials.
	KindAuthenticationFailed

	// KindIncompatibleVersion reports a login rejected for protocol
	// version or an otherwise unusable server.
	KindIncompatibleVersion

	// KindBackpressure reports an admission refused because the node was
	// at its in-flight ceiling and the caller chose fail-fast.
	KindBackpressure

	// KindTimeout reports a deadline that fired before the response.
	KindTimeout

	// KindConnectionLost reports a socket or framing failure; every
	// pending call on the affected connection fails with this.
	KindConnectionLost

	// KindMalformedResponse reports server bytes violating the wire
	// format. The only error that takes its connection down.
	KindMalformedResponse

	// KindNoConnection reports a pool with no ready node before the
	// caller's deadline.
	KindNoConnection

	// KindShutDown reports a pool closed while the call was outstanding.
	KindShutDown

	// KindServerError reports a call that reached the server and came
	// back non-success; Status and Message carry the server's verdict.
	KindServerError

	// KindInvalidHandle reports End on an already-consumed handle.
	KindInvalidHandle

	// KindCancelled reports a call resolved by caller-initiated cancel.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidProcedureName:
		return "invalid procedure name"
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindIncompatibleVersion:
		return "incompatible version"
	case KindBackpressure:
		return "backpressure"
	case KindTimeout:
		return "timeout"
	case KindConnectionLost:
		return "connection lost"
	case KindMalformedResponse:
		return "malformed response"
	case KindNoConnection:
		return "no connection"
	case KindShutDown:
		return "shut down"
	case KindServerError:
		return "server error"
	case KindInvalidHandle:
		return "invalid handle"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the client's error type. Status is populated for server-side
// failures; Err carries the underlying cause when one exists.
type Error struct {
	Kind    Kind
	Status  int8
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given Kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func wrapError(k Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Err: err}
}
