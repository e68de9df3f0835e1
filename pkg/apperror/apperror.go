package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindPermissionDenied
	KindInvalidArgument
	KindAlreadyExists
	KindNotFound
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPermissionDenied:
		return "permission-denied"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindAlreadyExists:
		return "already-exists"
	case KindNotFound:
		return "not-found"
	case KindResourceExhausted:
		return "resource-exhausted"
	default:
		return "internal"
	}
}

// Error is an application error carrying a stable machine code and a
// caller-safe message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
	// RetryAfter is set on ResourceExhausted errors when the wait is known.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an Error of the given kind around err.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Unauthenticated(code, message string) *Error {
	return New(KindUnauthenticated, code, message)
}

func PermissionDenied(code, message string) *Error {
	return New(KindPermissionDenied, code, message)
}

func InvalidArgument(code, message string) *Error {
	return New(KindInvalidArgument, code, message)
}

func AlreadyExists(code, message string) *Error {
	return New(KindAlreadyExists, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func ResourceExhausted(code, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindResourceExhausted, Code: code, Message: message, RetryAfter: retryAfter}
}

func Internal(code, message string, err error) *Error {
	return Wrap(err, KindInternal, code, message)
}

// As extracts an *Error from err. Errors that are not application errors
// are reported as internal with a generic message.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal("internal", "internal error", err)
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	return As(err).Kind
}

// HTTPStatus maps an error to a status code. Authentication and
// authorization failures share 403 so clients cannot distinguish a bad
// credential from a missing privilege.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindUnauthenticated, KindPermissionDenied:
		return http.StatusForbidden
	case KindInvalidArgument, KindAlreadyExists:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
