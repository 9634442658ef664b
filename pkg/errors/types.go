// Package errors provides the structured error type surfaced by every catalog
// SDK operation. Each failure is classified into a Kind and carries a reason,
// a resolution hint and documentation links so callers can self-correct.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Kind is the failure taxonomy of an APIError
type Kind string

const (
	// KindParameter is bad caller input, detected before any network call
	KindParameter Kind = "parameter"
	// KindToken is a token exchange or validation failure
	KindToken Kind = "token"
	// KindCatalog is a catalog or lineage endpoint failure
	KindCatalog Kind = "catalog"
	// KindTransport is a connect, read or overall timeout, or a dropped connection
	KindTransport Kind = "transport"
	// KindResponseFormat is a non-JSON body where JSON was expected
	KindResponseFormat Kind = "response_format"
)

// Context records where an error was raised
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the single error type returned by the SDK. It is immutable once
// built; the With* methods return modified copies.
type APIError struct {
	kind           Kind
	message        string
	statusCode     int
	reason         string
	resolutionHint string
	helpLinks      []string
	retryable      bool
	responseBody   interface{}
	context        *Context
	cause          error
}

// Error implements the error interface
func (e *APIError) Error() string {
	msg := e.message
	if e.reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.reason)
	}
	if e.statusCode != 0 {
		msg = fmt.Sprintf("%s [status %d]", msg, e.statusCode)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.cause.Error())
	}
	return msg
}

// Kind returns the failure kind
func (e *APIError) Kind() Kind {
	return e.kind
}

// Message returns the human-readable message without reason or cause
func (e *APIError) Message() string {
	return e.message
}

// StatusCode returns the HTTP status and whether one was recorded
func (e *APIError) StatusCode() (int, bool) {
	return e.statusCode, e.statusCode != 0
}

// Reason returns the short classification label, e.g. "Too Many Requests"
func (e *APIError) Reason() string {
	return e.reason
}

// ResolutionHint tells the caller what to do next
func (e *APIError) ResolutionHint() string {
	return e.resolutionHint
}

// HelpLinks returns a copy of the documentation links
func (e *APIError) HelpLinks() []string {
	links := make([]string, len(e.helpLinks))
	copy(links, e.helpLinks)
	return links
}

// IsRetryable reports whether retrying the same call may succeed
func (e *APIError) IsRetryable() bool {
	return e.retryable
}

// ResponseBody returns the decoded (or raw text) body of the failed response
func (e *APIError) ResponseBody() interface{} {
	return e.responseBody
}

// Context returns where the error was raised, or nil
func (e *APIError) Context() *Context {
	return e.context
}

// Unwrap returns the underlying cause
func (e *APIError) Unwrap() error {
	return e.cause
}

// WithContext returns a copy of the error carrying ctx
func (e *APIError) WithContext(ctx *Context) *APIError {
	newErr := *e
	newErr.context = ctx
	return &newErr
}

// WithCause returns a copy of the error wrapping cause
func (e *APIError) WithCause(cause error) *APIError {
	newErr := *e
	newErr.cause = cause
	return &newErr
}

// ToMap renders the error payload surfaced to callers
func (e *APIError) ToMap() map[string]interface{} {
	var status interface{}
	if e.statusCode != 0 {
		status = e.statusCode
	}
	return map[string]interface{}{
		"message":         e.message,
		"status_code":     status,
		"reason":          e.reason,
		"resolution_hint": e.resolutionHint,
		"is_retryable":    e.retryable,
		"response_body":   e.responseBody,
		"help_links":      e.HelpLinks(),
	}
}

// MarshalJSON implements json.Marshaler
func (e *APIError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// newError builds an APIError from a classification
func newError(kind Kind, message string, status int, c Classification, body interface{}, cause error) *APIError {
	return &APIError{
		kind:           kind,
		message:        message,
		statusCode:     status,
		reason:         c.Reason,
		resolutionHint: c.ResolutionHint,
		helpLinks:      append([]string(nil), c.HelpLinks...),
		retryable:      c.IsRetryable,
		responseBody:   body,
		cause:          cause,
		context:        &Context{Timestamp: time.Now()},
	}
}

// As extracts an *APIError from err's chain
func As(err error) (*APIError, bool) {
	if err == nil {
		return nil, false
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind checks if an error is an APIError of the given kind
func IsKind(err error, kind Kind) bool {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind() == kind
	}
	return false
}

// IsRetryable checks if an error is a retryable APIError
func IsRetryable(err error) bool {
	if apiErr, ok := As(err); ok {
		return apiErr.IsRetryable()
	}
	return false
}

// HasStatus checks if an error is an APIError with the given HTTP status
func HasStatus(err error, status int) bool {
	if apiErr, ok := As(err); ok {
		code, present := apiErr.StatusCode()
		return present && code == status
	}
	return false
}
