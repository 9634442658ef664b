package transport

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
)

// Scope selects which classifier interprets a failed response
type Scope int

const (
	// ScopeCatalog is used for catalog, lineage, tool and telemetry endpoints
	ScopeCatalog Scope = iota
	// ScopeToken is used for token exchange and introspection endpoints
	ScopeToken
)

// Executor performs one HTTP call and classifies any failure as an
// *errors.APIError. RequestExecutor is the network implementation; the
// client wraps it to add authentication.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request describes one call
type Request struct {
	// Operation names the call in errors, logs, metrics and spans
	Operation string
	Method    string
	URL       string
	Query     url.Values
	Header    http.Header

	// JSON is marshaled as the body; Form is sent url-encoded. At most one is set.
	JSON interface{}
	Form url.Values

	// Timeout overrides Config.RequestTimeout for non-streaming calls
	Timeout time.Duration
	Scope   Scope

	// Stream leaves the body open in Response.Stream instead of reading it
	Stream bool
}

func (r *Request) operation() string {
	if r.Operation == "" {
		return "request"
	}
	return r.Operation
}

// Clone returns a copy of r with its own header map
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	return &c
}

// Response is a successful (status < 400) reply
type Response struct {
	StatusCode int
	Header     http.Header

	// Body holds the validated JSON body of a non-streaming call
	Body []byte
	// Stream is the open body of a streaming call; the caller must close it
	Stream io.ReadCloser

	operation string
	token     bool
}

// Decode unmarshals the body into v
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apierrors.MalformedResponse(r.operation, r.StatusCode, string(r.Body), r.token).WithCause(err)
	}
	return nil
}

// Entitlement headers surfaced to callers when a usage warning is present
const (
	HeaderEntitlementWarning = "X-Entitlement-Warning"
	HeaderEntitlementLimit   = "X-Entitlement-Limit"
	HeaderEntitlementUsage   = "X-Entitlement-Usage"
)

// EntitlementMeta returns the entitlement headers, or nil when the server
// sent no warning
func (r *Response) EntitlementMeta() map[string]string {
	return entitlementMeta(r.Header)
}

func entitlementMeta(h http.Header) map[string]string {
	if h.Get(HeaderEntitlementWarning) == "" {
		return nil
	}
	meta := map[string]string{}
	for _, key := range []string{HeaderEntitlementLimit, HeaderEntitlementUsage, HeaderEntitlementWarning} {
		if v := h.Get(key); v != "" {
			meta[key] = v
		}
	}
	return meta
}

// FoldMeta attaches entitlement meta to a decoded body as
// "_meta": {"headers": meta}. A list body is wrapped as {"results": body}.
// Other bodies, or a nil meta, are returned unchanged.
func FoldMeta(body interface{}, meta map[string]string) interface{} {
	if meta == nil {
		return body
	}
	metaValue := map[string]interface{}{"headers": meta}
	switch v := body.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v)+1)
		for k, val := range v {
			out[k] = val
		}
		out["_meta"] = metaValue
		return out
	case []interface{}:
		return map[string]interface{}{"results": v, "_meta": metaValue}
	default:
		return body
	}
}

// Config configures the HTTP client behind RequestExecutor
type Config struct {
	// ConnectTimeout bounds dialing and the TLS handshake
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	// ReadTimeout bounds the wait for response headers and, on streams,
	// the gap between reads
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`
	// RequestTimeout bounds a whole non-streaming call
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	KeepAlive           time.Duration `json:"keep_alive" yaml:"keep_alive"`
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" yaml:"idle_conn_timeout"`

	// MaxErrorBodyBytes caps how much of a failed response is read
	MaxErrorBodyBytes int64 `json:"max_error_body_bytes" yaml:"max_error_body_bytes"`
}

// DefaultConfig returns a transport configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      30 * time.Second,
		ReadTimeout:         300 * time.Second,
		RequestTimeout:      60 * time.Second,
		KeepAlive:           30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		MaxErrorBodyBytes:   1 << 20,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = d.KeepAlive
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = d.IdleConnTimeout
	}
	if c.MaxErrorBodyBytes <= 0 {
		c.MaxErrorBodyBytes = d.MaxErrorBodyBytes
	}
	return c
}

// RetryPolicy bounds telemetry delivery retries
type RetryPolicy struct {
	MaxRetries         int           `json:"max_retries" yaml:"max_retries"`
	InitialRetryDelay  time.Duration `json:"initial_retry_delay" yaml:"initial_retry_delay"`
	MaxRetryDelay      time.Duration `json:"max_retry_delay" yaml:"max_retry_delay"`
	RetryBackoffFactor float64       `json:"retry_backoff_factor" yaml:"retry_backoff_factor"`
}

// DefaultRetryPolicy returns the telemetry retry defaults: two retries,
// starting at 500ms and doubling
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         2,
		InitialRetryDelay:  500 * time.Millisecond,
		MaxRetryDelay:      10 * time.Second,
		RetryBackoffFactor: 2.0,
	}
}

// Backoff returns the wait before retry number attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	factor := p.RetryBackoffFactor
	if factor < 1 {
		factor = 2.0
	}
	delay := time.Duration(float64(p.InitialRetryDelay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		delay = p.MaxRetryDelay
	}
	return delay
}
