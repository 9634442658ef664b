package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/observability"
)

const component = "RequestExecutor"

// RequestExecutor issues HTTP calls to the catalog and turns every failure
// into a classified *errors.APIError. It never retries primary calls.
type RequestExecutor struct {
	config     Config
	httpClient *http.Client
	userAgent  string
	logger     logging.Logger
	metrics    *observability.Metrics
	tracing    *observability.Tracing
}

// Option configures a RequestExecutor
type Option func(*RequestExecutor)

// WithHTTPClient replaces the HTTP client built from Config
func WithHTTPClient(client *http.Client) Option {
	return func(e *RequestExecutor) {
		e.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(e *RequestExecutor) {
		e.logger = logger
	}
}

// WithMetrics records request counts and latency
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *RequestExecutor) {
		e.metrics = metrics
	}
}

// WithTracing starts a client span per request and propagates it
func WithTracing(tracing *observability.Tracing) Option {
	return func(e *RequestExecutor) {
		e.tracing = tracing
	}
}

// WithUserAgent sets the User-Agent header sent on every call
func WithUserAgent(userAgent string) Option {
	return func(e *RequestExecutor) {
		e.userAgent = userAgent
	}
}

// NewRequestExecutor creates an executor. Unless WithHTTPClient is given,
// the HTTP client uses Config's connect and read timeouts and logs through
// the configured logger.
func NewRequestExecutor(config Config, opts ...Option) *RequestExecutor {
	e := &RequestExecutor{
		config: config.withDefaults(),
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithFields(logging.Component(component))

	if e.httpClient == nil {
		e.httpClient = &http.Client{
			Transport: logging.NewRoundTripper(e.logger, newHTTPTransport(e.config)),
		}
	}
	return e
}

func newHTTPTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAlive,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// Config returns the effective configuration
func (e *RequestExecutor) Config() Config {
	return e.config
}

// Execute performs one call. A non-streaming success returns the validated
// JSON body (nil when the server sent none); a streaming success returns the open body, which is released
// by Close and by the read timeout. Failures are *errors.APIError values:
// TokenError or CatalogError by Scope for statuses >= 400, TransportError
// for timeouts and dropped connections, ResponseFormatError for a success
// body that is not JSON.
func (e *RequestExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, apierrors.MissingParameter("url")
	}
	op := req.operation()

	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = logging.ContextWithRequestID(ctx, requestID)
	}
	errCtx := &apierrors.Context{
		RequestID: requestID,
		Component: component,
		Operation: op,
		Endpoint:  req.URL,
		Timestamp: time.Now(),
	}
	logger := e.logger.WithContext(ctx).WithFields(logging.Operation(op))

	var (
		reqCtx context.Context
		cancel context.CancelFunc
	)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.RequestTimeout
	}
	if req.Stream {
		reqCtx, cancel = context.WithCancel(ctx)
	} else {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	spanCtx, span := e.tracing.StartRequestSpan(reqCtx, op, req.Method, req.URL)

	httpReq, err := e.buildRequest(spanCtx, req)
	if err != nil {
		cancel()
		span.End()
		return nil, err
	}

	start := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		apiErr := classifyTransportError(reqCtx, op, err).WithContext(errCtx)
		cancel()
		e.metrics.RecordRequest(op, 0, time.Since(start))
		observability.RecordError(span, apiErr)
		span.End()
		logger.WithError(apiErr).Warn("Request failed without a response")
		return nil, apiErr
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxErrorBodyBytes))
		resp.Body.Close()
		cancel()
		e.metrics.RecordRequest(op, resp.StatusCode, time.Since(start))

		apiErr := statusError(req, op, resp.StatusCode, data).WithContext(errCtx)
		observability.RecordError(span, apiErr)
		span.End()
		logger.WithError(apiErr).Warn("Request returned an error status")
		return nil, apiErr
	}

	if req.Stream {
		e.metrics.RecordRequest(op, resp.StatusCode, time.Since(start))
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Stream:     newStreamBody(resp.Body, cancel, span, e.config.ReadTimeout, op),
			operation:  op,
			token:      req.Scope == ScopeToken,
		}, nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		apiErr := classifyTransportError(reqCtx, op, err).WithContext(errCtx)
		cancel()
		e.metrics.RecordRequest(op, 0, time.Since(start))
		observability.RecordError(span, apiErr)
		span.End()
		return nil, apiErr
	}
	cancel()
	e.metrics.RecordRequest(op, resp.StatusCode, time.Since(start))
	span.End()

	if len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
		apiErr := apierrors.MalformedResponse(op, resp.StatusCode, string(data), req.Scope == ScopeToken).WithContext(errCtx)
		logger.WithError(apiErr).Warn("Response body is not JSON")
		return nil, apiErr
	}

	logger.Debug("Request completed", logging.Int("status", resp.StatusCode))
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		operation:  op,
		token:      req.Scope == ScopeToken,
	}, nil
}

func (e *RequestExecutor) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.JSON != nil && req.Form != nil:
		return nil, apierrors.ConflictingParameters("json", "form", "a request body is either JSON or form encoded")
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, apierrors.InvalidParameter("json", nil, fmt.Sprintf("body cannot be encoded: %v", err))
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + encodeQuery(req.Query)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apierrors.InvalidParameter("url", req.URL, err.Error())
	}

	httpReq.Header.Set("Accept", "application/json")
	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	e.tracing.Inject(ctx, httpReq.Header)

	return httpReq, nil
}

// encodeQuery percent-encodes spaces as %20 rather than '+', which the
// catalog's question parameter expects
func encodeQuery(q url.Values) string {
	return strings.ReplaceAll(q.Encode(), "+", "%20")
}

// statusError classifies a response with status >= 400
func statusError(req *Request, op string, status int, data []byte) *apierrors.APIError {
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		body = map[string]interface{}{"error": string(data)}
	}

	message := fmt.Sprintf("HTTP error during %s", strings.ReplaceAll(op, "_", " "))
	if req.Scope == ScopeToken {
		return apierrors.TokenError(message, status, body)
	}
	return apierrors.CatalogError(message, status, body)
}

// classifyTransportError tells apart the overall deadline, the dial bound
// and the read bound. reqCtx must be inspected before it is cancelled.
func classifyTransportError(reqCtx context.Context, op string, err error) *apierrors.APIError {
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return apierrors.Timeout(apierrors.TimeoutRequest, op, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout() {
		return apierrors.Timeout(apierrors.TimeoutConnect, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierrors.Timeout(apierrors.TimeoutRead, op, err)
	}

	return apierrors.ConnectionFailed(op, err)
}

// streamBody releases the request context and span when closed, and
// cancels the request when a Read waits longer than the read timeout. Time
// spent by the consumer between reads is not counted.
type streamBody struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	span      trace.Span
	op        string
	timeout   time.Duration
	timer     *time.Timer
	timedOut  atomic.Bool
	closeOnce sync.Once
}

func newStreamBody(body io.ReadCloser, cancel context.CancelFunc, span trace.Span, readTimeout time.Duration, op string) *streamBody {
	b := &streamBody{body: body, cancel: cancel, span: span, op: op, timeout: readTimeout}
	if readTimeout > 0 {
		b.timer = time.AfterFunc(readTimeout, func() {
			b.timedOut.Store(true)
			cancel()
		})
		// armed by Read
		b.timer.Stop()
	}
	return b
}

func (b *streamBody) Read(p []byte) (int, error) {
	if b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	n, err := b.body.Read(p)
	if b.timer != nil {
		b.timer.Stop()
	}
	if err != nil && err != io.EOF && b.timedOut.Load() {
		return n, apierrors.Timeout(apierrors.TimeoutRead, b.op, err)
	}
	return n, err
}

func (b *streamBody) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.timer != nil {
			b.timer.Stop()
		}
		err = b.body.Close()
		b.cancel()
		b.span.End()
	})
	return err
}
