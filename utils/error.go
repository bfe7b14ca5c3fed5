package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrorRecordNotFound = errors.New("record not found")

type ErrorKind string

const (
	ErrKindValidation   ErrorKind = "validation"
	ErrKindUnauthorized ErrorKind = "unauthorized"
	ErrKindForbidden    ErrorKind = "forbidden"
	ErrKindNotFound     ErrorKind = "not_found"
	ErrKindConflict     ErrorKind = "conflict"
	ErrKindUpstream     ErrorKind = "upstream"
	ErrKindRateLimited  ErrorKind = "rate_limited"
	ErrKindInternal     ErrorKind = "internal"
)

// AppError carries the error kind that decides the HTTP status and whether
// a caller may retry.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewValidationError(format string, args ...any) *AppError {
	return &AppError{Kind: ErrKindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewUnauthorizedError(format string, args ...any) *AppError {
	return &AppError{Kind: ErrKindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) *AppError {
	return &AppError{Kind: ErrKindNotFound, Message: fmt.Sprintf(format, args...), Err: ErrorRecordNotFound}
}

func NewConflictError(format string, args ...any) *AppError {
	return &AppError{Kind: ErrKindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewUpstreamError(err error, format string, args ...any) *AppError {
	return &AppError{Kind: ErrKindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewRateLimitedError(format string, args ...any) *AppError {
	return &AppError{Kind: ErrKindRateLimited, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first AppError in err's chain, or internal.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrKindNotFound
	}
	return ErrKindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatusOf(err error) int {
	switch KindOf(err) {
	case ErrKindValidation:
		return http.StatusBadRequest
	case ErrKindUnauthorized:
		return http.StatusUnauthorized
	case ErrKindForbidden:
		return http.StatusForbidden
	case ErrKindNotFound:
		return http.StatusNotFound
	case ErrKindConflict:
		return http.StatusConflict
	case ErrKindUpstream:
		return http.StatusBadGateway
	case ErrKindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
