package oauth

import (
	"fmt"
	"net/http"
)

const (
	ErrCodeInvalidRequest          = "invalid_request"
	ErrCodeUnsupportedResponseType = "unsupported_response_type"
	ErrCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrCodeInvalidClient           = "invalid_client"
	ErrCodeInvalidScope            = "invalid_scope"
	ErrCodeInvalidGrant            = "invalid_grant"
	ErrCodeServerError             = "server_error"
)

// Error is an RFC 6749 error response.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func newError(status int, code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...), Status: status}
}

func invalidRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, ErrCodeInvalidRequest, format, args...)
}

func invalidGrant(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, ErrCodeInvalidGrant, format, args...)
}

func invalidClient(status int, format string, args ...any) *Error {
	return newError(status, ErrCodeInvalidClient, format, args...)
}

func serverError(format string, args ...any) *Error {
	return newError(http.StatusInternalServerError, ErrCodeServerError, format, args...)
}
