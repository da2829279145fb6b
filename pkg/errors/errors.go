package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a gateway-level failure.
type ErrorCode string

const (
	CodeMalformedRequest   ErrorCode = "MALFORMED_REQUEST"
	CodeBackendTransport   ErrorCode = "BACKEND_TRANSPORT"
	CodeParseFailure       ErrorCode = "PARSE_FAILURE"
	CodeCancelled          ErrorCode = "CANCELLED"
	CodeClientDisconnected ErrorCode = "CLIENT_DISCONNECTED"
	CodeConfigError        ErrorCode = "CONFIG_ERROR"
)

// AppError is the gateway's classified error type: a failure wrapped into
// it carries a Code callers can branch on. Errors that are not wrapped
// (plain fmt errors from routing or transport) are treated as internal by
// the dispatcher.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps an error code to the status the FrontendDispatcher writes.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeMalformedRequest:
		return http.StatusBadRequest
	case CodeCancelled, CodeClientDisconnected:
		return http.StatusOK
	case CodeBackendTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NewMalformedRequestError(message string) *AppError {
	return &AppError{Code: CodeMalformedRequest, Message: message}
}

func NewBackendTransportError(message string, cause error) *AppError {
	return &AppError{Code: CodeBackendTransport, Message: message, Err: cause}
}

func NewParseFailureError(message string, cause error) *AppError {
	return &AppError{Code: CodeParseFailure, Message: message, Err: cause}
}

func NewCancelledError(requestID string) *AppError {
	return &AppError{Code: CodeCancelled, Message: "request " + requestID + " cancelled"}
}

func NewClientDisconnectedError(cause error) *AppError {
	return &AppError{Code: CodeClientDisconnected, Message: "client disconnected", Err: cause}
}

func NewConfigError(message string, cause error) *AppError {
	return &AppError{Code: CodeConfigError, Message: message, Err: cause}
}

// IsCancelled reports whether err (or something it wraps) is a Cancelled AppError.
func IsCancelled(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeCancelled
	}
	return false
}

// IsClientDisconnected reports whether err is a ClientDisconnected AppError.
func IsClientDisconnected(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeClientDisconnected
	}
	return false
}
