package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide how to report them
// without inspecting error strings.
type ErrorKind int

const (
	// KindUnknown is any failure that was not classified at its origin.
	KindUnknown ErrorKind = iota
	// KindConfiguration covers bad or missing policies and invalid option combinations.
	KindConfiguration
	// KindTransport covers connection failures and unexpected HTTP responses from
	// either remote service.
	KindTransport
	// KindAuthentication covers credentials the remote service keeps rejecting.
	KindAuthentication
	// KindRemoteJobFailure means the remote scan ran and ended in a non-success
	// terminal status.
	KindRemoteJobFailure
	// KindNotificationDelivery covers lifecycle notifications that could not be
	// delivered. These are never fatal.
	KindNotificationDelivery
)

// String returns the string representation of the ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindAuthentication:
		return "authentication"
	case KindRemoteJobFailure:
		return "remote_job_failure"
	case KindNotificationDelivery:
		return "notification_delivery"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed and
// Status carries the HTTP status code when a remote service answered.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithStatus records the HTTP status the remote service answered with.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// ConfigurationError classifies err as a configuration error.
func ConfigurationError(op string, err error) *Error {
	return NewError(KindConfiguration, op, err)
}

// TransportError classifies err as a transport error.
func TransportError(op string, err error) *Error {
	return NewError(KindTransport, op, err)
}

// AuthenticationError classifies err as an authentication error.
func AuthenticationError(op string, err error) *Error {
	return NewError(KindAuthentication, op, err)
}

// RemoteJobFailure classifies err as a failed remote job.
func RemoteJobFailure(op string, err error) *Error {
	return NewError(KindRemoteJobFailure, op, err)
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status recorded on the outermost classified error
// in err's chain, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
