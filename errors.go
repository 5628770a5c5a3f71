package docchat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error types reported in Error.Type.
const (
	ErrorTypeCanceled    = "CanceledError"
	ErrorTypeTimeout     = "TimeoutError"
	ErrorTypeTransport   = "TransportError"
	ErrorTypeHTTP        = "HTTPError"
	ErrorTypeStream      = "StreamError"
	ErrorTypeApplication = "ApplicationError"
	ErrorTypeRequest     = "RequestError"
	ErrorTypeValidation  = "ValidationError"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCanceled is matched by every cancellation, whether the request was
	// superseded, cancelled by prefix, or cancelled by its caller.
	ErrCanceled = errors.New("docchat: request canceled")

	// ErrNoStreamHandler is returned when a streaming response has no callback.
	ErrNoStreamHandler = errors.New("docchat: no stream handler")

	// ErrNoStreamBody is returned when a streaming response has no body.
	ErrNoStreamBody = errors.New("docchat: no stream body")
)

// Error is the error returned by every failed request. Code is the
// normalized status code produced by the status translator.
type Error struct {
	Type       string
	Code       int
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	StatusCode int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s %d: %s", e.Type, e.Code, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches errors of the same Type, and ErrCanceled for cancellation codes.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == ErrCanceled {
		return e.Type == ErrorTypeCanceled || IsCancelCode(e.Code)
	}
	if t, ok := target.(*Error); ok {
		return e.Type == t.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Code: %d\n", e.Code)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsCanceled reports whether err is a client-side cancellation: a superseded
// request, an explicit cancel, or a cancelled caller context.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// CodeOf returns the normalized code carried by err, or 0 when err is not an
// *Error.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func newError(errorType string, code int, message string, cause error) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// classifyTransportError maps a failed transport call to a typed error.
// Timeouts and cancellations share the token mechanism but keep separate codes.
func classifyTransportError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return newError(ErrorTypeCanceled, CodeAborted, StatusMessage(CodeAborted), err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTypeTimeout, 408, StatusMessage(408), err)
	default:
		return newError(ErrorTypeTransport, 400, StatusMessage(400), err)
	}
}
