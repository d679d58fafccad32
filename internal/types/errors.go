package types

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation           ErrorKind = "VALIDATION_ERROR"
	KindUnauthorized         ErrorKind = "UNAUTHORIZED"
	KindNotFound             ErrorKind = "NOT_FOUND"
	KindConflict             ErrorKind = "CONFLICT"
	KindUnsupportedOperation ErrorKind = "UNSUPPORTED_OPERATION"
	KindExternalService      ErrorKind = "EXTERNAL_SERVICE_ERROR"
	KindProcessingFailed     ErrorKind = "PROCESSING_FAILED"
)

// Error is the error type surfaced to the routing layer. Message is human
// readable; Err keeps the downstream cause for errors.Is/As.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}

	switch e.Kind {
	case KindValidation, KindUnsupportedOperation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func NewValidationError(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func NewUnauthorizedError(format string, args ...any) *Error {
	return newError(KindUnauthorized, nil, format, args...)
}

func NewNotFoundError(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func NewConflictError(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

func NewUnsupportedOperationError(operation string) *Error {
	return newError(KindUnsupportedOperation, nil, "unsupported operation: %s", operation)
}

// NewExternalServiceError wraps a failure of an AI or storage backend.
// status selects 502 (bad upstream answer), 504 (timeout) or 500.
func NewExternalServiceError(status int, cause error, format string, args ...any) *Error {
	e := newError(KindExternalService, cause, format, args...)
	e.Status = status
	return e
}

func NewProcessingFailedError(cause error, format string, args ...any) *Error {
	return newError(KindProcessingFailed, cause, format, args...)
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}

	return "", false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode()
	}

	return http.StatusInternalServerError
}
