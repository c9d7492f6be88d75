package protocol

import (
	"fmt"
	"strings"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
)

// Status values carried by StdResponse.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusClarify = "clarify"
)

// Machine-readable response codes.
const (
	CodeOK              = "OK"
	CodeSessionOpened   = "SESSION_OPENED"
	CodeTools           = "TOOLS"
	CodeAudit           = "AUDIT"
	CodeProgress        = "PROGRESS"
	CodeHeartbeat       = "HEARTBEAT"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeAccessDenied    = "ACCESS_DENIED"
	CodeMissingHeaders  = "MISSING_HEADERS"
	CodeInvalidTime     = "INVALID_TIMESTAMP"
	CodeTimestampDrift  = "TIMESTAMP_DRIFT"
	CodeInvalidSig      = "INVALID_SIGNATURE"
	CodeHMACError       = "HMAC_ERROR"
	CodeUnexpectedError = "UNEXPECTED_ERROR"
)

// StdResponse is the uniform result wrapper. A clarify status is not an
// error: it asks the caller for a refined payload.
type StdResponse[T any] struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

func Success[T any](code, message string, data T) StdResponse[T] {
	return StdResponse[T]{Status: StatusSuccess, Code: code, Message: message, Data: data}
}

func Error[T any](code, message string) StdResponse[T] {
	return StdResponse[T]{Status: StatusError, Code: code, Message: message}
}

func Clarify[T any](code, message string, data T) StdResponse[T] {
	return StdResponse[T]{Status: StatusClarify, Code: code, Message: message, Data: data}
}

func (r StdResponse[T]) IsSuccess() bool { return strings.EqualFold(r.Status, StatusSuccess) }
func (r StdResponse[T]) IsError() bool   { return strings.EqualFold(r.Status, StatusError) }
func (r StdResponse[T]) IsClarify() bool { return strings.EqualFold(r.Status, StatusClarify) }

// ConvertResponse re-types the data of a response.
func ConvertResponse[T, U any](r StdResponse[U]) (StdResponse[T], error) {
	out := StdResponse[T]{Status: r.Status, Code: r.Code, Message: r.Message}
	data, err := json.Convert[T](any(r.Data))
	if err != nil {
		return out, fmt.Errorf("convert %s response data: %w", r.Status, err)
	}
	out.Data = data
	return out, nil
}

// ProtocolError reports a StdResponse with status error where the operation
// has no response value to carry it.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return "mcp: " + e.Code
	}
	return fmt.Sprintf("mcp: %s: %s", e.Code, e.Message)
}

// AsError returns a *ProtocolError unless r is a success.
func AsError[T any](r StdResponse[T]) error {
	if r.IsSuccess() {
		return nil
	}
	code := r.Code
	if code == "" {
		code = strings.ToUpper(r.Status)
	}
	return &ProtocolError{Code: code, Message: r.Message}
}
