package errors

import (
	"fmt"
	"net/http"
)

// TimeoutKind distinguishes which duration bound expired
type TimeoutKind string

const (
	// TimeoutConnect is the dial bound
	TimeoutConnect TimeoutKind = "connect"
	// TimeoutRead is the wait for response headers or stream data
	TimeoutRead TimeoutKind = "read"
	// TimeoutRequest is the overall request deadline
	TimeoutRequest TimeoutKind = "request"
)

// CatalogError creates an error for a failed catalog or lineage call.
// body is the decoded error body, or {"error": text} when it was not JSON.
func CatalogError(message string, status int, body map[string]interface{}) *APIError {
	return newError(KindCatalog, message, status, Classify(status, body), bodyOrNil(body), nil)
}

// TokenError creates an error for a failed token exchange or validation
func TokenError(message string, status int, body map[string]interface{}) *APIError {
	return newError(KindToken, message, status, ClassifyToken(status, body), bodyOrNil(body), nil)
}

// Timeout creates a transport error for an expired duration bound
func Timeout(kind TimeoutKind, operation string, cause error) *APIError {
	c := Classification{HelpLinks: []string{LinkAPIOverview}}
	switch kind {
	case TimeoutConnect:
		c.Reason = "Connection Timeout"
		c.ResolutionHint = "Could not connect to the server in time. Check the base URL and network, then retry."
	case TimeoutRead:
		c.Reason = "Read Timeout"
		c.ResolutionHint = "The server took too long to respond. Try again later or raise the read timeout."
	default:
		c.Reason = "Request Timeout"
		c.ResolutionHint = "The request did not complete in time. Try again later."
	}
	return newError(
		KindTransport,
		fmt.Sprintf("Request timed out during %s", operation),
		http.StatusRequestTimeout,
		c,
		nil,
		cause,
	)
}

// ConnectionFailed creates a transport error for a request that never got a response
func ConnectionFailed(operation string, cause error) *APIError {
	return newError(
		KindTransport,
		fmt.Sprintf("Connection failed during %s", operation),
		0,
		Classification{
			Reason:         "Connection Error",
			ResolutionHint: "No response was received from the server. Check the base URL and network.",
			HelpLinks:      []string{LinkAPIOverview},
		},
		nil,
		cause,
	)
}

// MalformedResponse creates an error for a success body that is not valid JSON.
// token selects the token-endpoint wording.
func MalformedResponse(operation string, status int, text string, token bool) *APIError {
	c := Classification{
		Reason:         "Malformed Response",
		ResolutionHint: "The server returned a non-JSON response. Contact support if this persists.",
		HelpLinks:      []string{LinkDeveloperPortal},
	}
	if token {
		c.Reason = "Token Response Error"
		c.ResolutionHint = "The token endpoint returned a non-JSON response. Verify the base URL."
		c.HelpLinks = authLinks
	}
	return newError(
		KindResponseFormat,
		fmt.Sprintf("Invalid JSON in %s response", operation),
		status,
		c,
		text,
		nil,
	)
}

func bodyOrNil(body map[string]interface{}) interface{} {
	if body == nil {
		return nil
	}
	return body
}
