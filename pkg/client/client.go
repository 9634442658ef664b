package client

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/catalog-sdk-go/pkg/auth"
	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/lineage"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/observability"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/stream"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/telemetry"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
)

// Version is the SDK version reported in the User-Agent and tool events
const Version = "0.1.0"

// Client is a catalog client bound to one base URL and one credential. It is
// safe for concurrent use. Close it to flush pending tool events.
type Client struct {
	baseURL string
	config  Config
	logger  logging.Logger
	metrics *observability.Metrics
	tracing *observability.Tracing

	// ownsTracing is set when the tracer provider was created from Config
	// and must be shut down by Close
	ownsTracing bool

	auth       *auth.Manager
	exec       transport.Executor
	decoder    *stream.Decoder
	lineage    *lineage.Client
	dispatcher *telemetry.Dispatcher
	tracker    *telemetry.Tracker

	closeOnce sync.Once
	closeErr  error
}

type settings struct {
	config     Config
	logger     logging.Logger
	httpClient *http.Client
	metrics    *observability.Metrics
	tracing    *observability.Tracing
}

// Option configures a Client
type Option func(*settings)

// WithConfig replaces the whole configuration. Pass it before options that
// adjust single settings.
func WithConfig(config Config) Option {
	return func(s *settings) {
		s.config = config
	}
}

// WithLogger sets the logger used by every component
func WithLogger(logger logging.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client. Connection timeouts from the
// configuration are then up to the given client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		s.httpClient = client
	}
}

// WithMetrics records metrics in m, overriding the Metrics section
func WithMetrics(m *observability.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithTracing uses t for spans. The caller keeps ownership and shuts it down.
func WithTracing(t *observability.Tracing) Option {
	return func(s *settings) {
		s.tracing = t
	}
}

// WithDistVersion sets the distribution identifier, e.g. "langchain-1.2"
func WithDistVersion(version string) Option {
	return func(s *settings) {
		s.config.DistVersion = version
	}
}

// WithIncrementalStreaming makes tool streams yield every event
func WithIncrementalStreaming() Option {
	return func(s *settings) {
		s.config.Streaming.Mode = stream.Incremental
	}
}

// WithNestedJSON decodes JSON carried as text inside tool stream parts
func WithNestedJSON(enabled bool) Option {
	return func(s *settings) {
		s.config.Streaming.NestedJSON = enabled
	}
}

// WithTelemetry turns tool event reporting on or off
func WithTelemetry(enabled bool) Option {
	return func(s *settings) {
		s.config.Telemetry.Enabled = enabled
	}
}

// New creates a client for the catalog at baseURL. The credential is
// validated here; no network call is made until the first operation.
func New(baseURL string, cred auth.Credential, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, apierrors.MissingParameter("base_url")
	}
	if u, err := url.Parse(baseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apierrors.InvalidParameter("base_url", baseURL, "must be an absolute http or https URL")
	}
	if cred == nil {
		return nil, apierrors.MissingParameter("credential")
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	s := &settings{config: DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}
	cfg := s.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: baseURL,
		config:  cfg,
		logger:  s.logger,
		metrics: s.metrics,
		tracing: s.tracing,
	}
	if c.logger == nil {
		c.logger = cfg.Logging.newLogger(os.Stderr)
	}

	if c.metrics == nil && cfg.Metrics.Enabled {
		m, err := observability.NewMetrics(cfg.Metrics.MetricsConfig)
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		c.metrics = m
	}
	if c.tracing == nil && cfg.Tracing.Enabled {
		tracingConfig := cfg.Tracing.TracingConfig
		if tracingConfig.ServiceVersion == "" {
			tracingConfig.ServiceVersion = Version
		}
		t, err := observability.NewTracing(tracingConfig)
		if err != nil {
			return nil, fmt.Errorf("creating tracing: %w", err)
		}
		c.tracing = t
		c.ownsTracing = true
	}

	toolVersion := telemetry.ToolVersion(cfg.DistVersion, Version)
	execOpts := []transport.Option{
		transport.WithLogger(c.logger),
		transport.WithMetrics(c.metrics),
		transport.WithTracing(c.tracing),
		transport.WithUserAgent(toolVersion),
	}
	if s.httpClient != nil {
		execOpts = append(execOpts, transport.WithHTTPClient(s.httpClient))
	}
	raw := transport.NewRequestExecutor(cfg.Connection, execOpts...)

	manager, err := auth.NewManager(baseURL, cred, raw,
		auth.WithLogger(c.logger),
		auth.WithMetrics(c.metrics),
		auth.WithEndpoints(cfg.Endpoints.Endpoints),
	)
	if err != nil {
		c.shutdownTracing(context.Background())
		return nil, err
	}
	c.auth = manager
	c.exec = &authorizedExecutor{next: raw, auth: manager}

	c.decoder = stream.NewDecoder(
		stream.WithMode(cfg.Streaming.Mode),
		stream.WithNestedJSON(cfg.Streaming.NestedJSON),
		stream.WithLogger(c.logger),
		stream.WithMetrics(c.metrics),
	)
	c.lineage = lineage.NewClient(baseURL, c.exec,
		lineage.WithEndpoint(cfg.Endpoints.BulkLineage),
		lineage.WithLogger(c.logger),
	)

	if cfg.Telemetry.Enabled {
		c.dispatcher = telemetry.NewDispatcher(baseURL+cfg.Endpoints.ToolEvent, c.exec, cfg.Telemetry,
			telemetry.WithLogger(c.logger),
			telemetry.WithMetrics(c.metrics),
		)
	}
	c.tracker = telemetry.NewTracker(c.dispatcher, toolVersion,
		telemetry.WithTrackerLogger(c.logger),
		telemetry.WithTrackerMetrics(c.metrics),
		telemetry.WithTrackerTracing(c.tracing),
	)

	c.logger.WithFields(logging.Component("Client")).Debug("Client created",
		logging.String("auth_method", string(cred.Method())),
		logging.String("tool_version", toolVersion),
		logging.Bool("telemetry", cfg.Telemetry.Enabled),
	)
	return c, nil
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.config
}

// Auth returns the manager holding the client's session
func (c *Client) Auth() *auth.Manager {
	return c.auth
}

// Metrics returns the metrics provider, or nil when metrics are off
func (c *Client) Metrics() *observability.Metrics {
	return c.metrics
}

// Do sends an arbitrary request with the session's credentials. URL may be
// a path relative to the base URL.
func (c *Client) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req == nil {
		return nil, apierrors.MissingParameter("request")
	}
	if strings.HasPrefix(req.URL, "/") {
		r := req.Clone()
		r.URL = c.baseURL + r.URL
		req = r
	}
	return c.exec.Execute(ctx, req)
}

// GetContext answers a natural-language question from catalog metadata.
// signature is optional and narrows the object types and fields searched.
func (c *Client) GetContext(ctx context.Context, question string, signature map[string]interface{}) (interface{}, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apierrors.MissingParameter("question")
	}
	query := url.Values{"question": {question}}
	if len(signature) > 0 {
		data, err := json.Marshal(signature)
		if err != nil {
			return nil, apierrors.InvalidParameter("signature", signature, err.Error())
		}
		query.Set("signature", string(data))
	}

	params := map[string]interface{}{"question": question, "signature": signature}
	return c.tracker.Track(ctx, "get_context", params, nil, func(ctx context.Context) (interface{}, error) {
		return c.getJSON(ctx, "context", c.config.Endpoints.Context, query)
	})
}

// GetBulkObjects fetches every object matching signature
func (c *Client) GetBulkObjects(ctx context.Context, signature map[string]interface{}) (interface{}, error) {
	if len(signature) == 0 {
		return nil, apierrors.MissingParameter("signature")
	}
	data, err := json.Marshal(signature)
	if err != nil {
		return nil, apierrors.InvalidParameter("signature", signature, err.Error())
	}
	query := url.Values{"signature": {string(data)}}

	params := map[string]interface{}{"signature": signature}
	return c.tracker.Track(ctx, "get_bulk_objects", params, nil, func(ctx context.Context) (interface{}, error) {
		return c.getJSON(ctx, "bulk_objects", c.config.Endpoints.BulkObjects, query)
	})
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values) (interface{}, error) {
	resp, err := c.exec.Execute(ctx, &transport.Request{
		Operation: op,
		Method:    http.MethodGet,
		URL:       c.baseURL + path,
		Query:     query,
		Scope:     transport.ScopeCatalog,
	})
	if err != nil {
		return nil, err
	}

	var body interface{}
	if len(resp.Body) > 0 {
		if err := resp.Decode(&body); err != nil {
			return nil, err
		}
	}
	return transport.FoldMeta(body, resp.EntitlementMeta()), nil
}

// GetLineage runs one bulk lineage query
func (c *Client) GetLineage(ctx context.Context, req lineage.Request) (*lineage.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out, err := c.tracker.Track(ctx, "get_lineage", lineageParams(req), nil, func(ctx context.Context) (interface{}, error) {
		res, err := c.lineage.GetLineage(ctx, req)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	result, _ := out.(*lineage.Result)
	return result, err
}

// LineagePages walks every chunk of a chunked lineage query
func (c *Client) LineagePages(ctx context.Context, req lineage.Request) iter.Seq2[*lineage.Result, error] {
	return c.lineage.Pages(ctx, req)
}

func lineageParams(req lineage.Request) map[string]interface{} {
	return map[string]interface{}{
		"direction":       string(req.Direction),
		"root_node_count": len(req.RootNodes),
		"limit":           req.Limit,
		"processing_mode": string(req.ProcessingMode),
		"allowed_otypes":  req.AllowedOTypes,
	}
}

// ToolStream is an open tool response. Meta holds the entitlement headers
// of the response, if any. Close it when not read to the end.
type ToolStream struct {
	*stream.Stream
	Meta map[string]string
}

// CallTool starts the catalog tool named tool and returns its event stream,
// decoded in the configured mode
func (c *Client) CallTool(ctx context.Context, tool string, payload map[string]interface{}) (*ToolStream, error) {
	if strings.TrimSpace(tool) == "" {
		return nil, apierrors.MissingParameter("tool")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	resp, err := c.exec.Execute(ctx, &transport.Request{
		Operation: "tool_stream",
		Method:    http.MethodPost,
		URL:       c.baseURL + fmt.Sprintf(c.config.Endpoints.ToolStream, url.PathEscape(tool)),
		JSON:      payload,
		Scope:     transport.ScopeCatalog,
		Stream:    true,
	})
	if err != nil {
		return nil, err
	}
	return &ToolStream{
		Stream: c.decoder.Decode(resp.Stream),
		Meta:   resp.EntitlementMeta(),
	}, nil
}

// RunTool calls tool and returns its final event, with entitlement meta
// folded in. The result is nil when the stream carried no event.
func (c *Client) RunTool(ctx context.Context, tool string, payload map[string]interface{}) (interface{}, error) {
	if strings.TrimSpace(tool) == "" {
		return nil, apierrors.MissingParameter("tool")
	}
	return c.tracker.Track(ctx, tool, payload, nil, func(ctx context.Context) (interface{}, error) {
		s, err := c.CallTool(ctx, tool, payload)
		if err != nil {
			return nil, err
		}
		defer s.Close()

		var last stream.Event
		for ev := range s.Events() {
			last = ev
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		if last == nil {
			return nil, nil
		}
		return transport.FoldMeta(map[string]interface{}(last), s.Meta), nil
	})
}

// Track runs op as a tool call: it is timed, traced and, with telemetry on,
// reported to the catalog. op's result is returned unchanged.
func (c *Client) Track(ctx context.Context, tool string, params map[string]interface{}, metrics telemetry.CustomMetricsFunc, op telemetry.Operation) (interface{}, error) {
	return c.tracker.Track(ctx, tool, params, metrics, op)
}

// Tool returns t's Run wrapped by Track
func (c *Client) Tool(t telemetry.Tool) func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return c.tracker.Wrap(t)
}

// Close waits for pending tool events and shuts down a tracer provider the
// client created. Events still in flight when ctx ends are abandoned. Later
// calls return the first result.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var g errgroup.Group
		if c.dispatcher != nil {
			g.Go(func() error {
				return c.dispatcher.Close(ctx)
			})
		}
		if c.ownsTracing {
			g.Go(func() error {
				return c.tracing.Shutdown(ctx)
			})
		}
		c.closeErr = g.Wait()
	})
	return c.closeErr
}

func (c *Client) shutdownTracing(ctx context.Context) {
	if c.ownsTracing {
		if err := c.tracing.Shutdown(ctx); err != nil {
			c.logger.WithError(err).Warn("Tracing shutdown failed")
		}
	}
}
