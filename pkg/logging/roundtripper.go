package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request correlation ID to the server
const RequestIDHeader = "X-Request-ID"

// roundTripper logs outgoing catalog calls and stamps them with a request ID
type roundTripper struct {
	logger Logger
	next   http.RoundTripper
}

// NewRoundTripper wraps next so every request gets an X-Request-ID (taken
// from the request context when present, generated otherwise) and a
// debug-level start and completion entry. Headers are never logged.
func NewRoundTripper(logger Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = NewNop()
	}
	return &roundTripper{logger: logger, next: next}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = RequestIDFromContext(req.Context())
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(ContextWithRequestID(req.Context(), requestID))
	req.Header.Set(RequestIDHeader, requestID)

	reqLogger := rt.logger.WithFields(
		String(requestIDKeyName, requestID),
		String("method", req.Method),
		String("path", req.URL.Path),
	)
	reqLogger.Debug("HTTP request started")

	start := time.Now()
	resp, err := rt.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		reqLogger.WithError(err).Debug("HTTP request failed", Duration("duration", duration))
		return nil, err
	}

	reqLogger.Debug("HTTP request completed",
		Int("status", resp.StatusCode),
		Duration("duration", duration),
	)
	return resp, nil
}
