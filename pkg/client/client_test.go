package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/catalog-sdk-go/pkg/auth"
	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/lineage"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/telemetry"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
)

var testCred = auth.ServiceAccount{ClientID: "id", ClientSecret: "secret"}

// fakeCatalog serves the token, catalog, tool stream and tool event
// endpoints and records what it received
type fakeCatalog struct {
	*httptest.Server
	t *testing.T

	tokenCalls   atomic.Int32
	catalogCalls atomic.Int32
	// rejectToken makes catalog endpoints answer 401 to this token
	rejectToken atomic.Value
	entitlement atomic.Bool

	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]interface{}
	events   []map[string]interface{}
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	f := &fakeCatalog{t: t}
	f.rejectToken.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token/", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		fmt.Fprintf(w, `{"access_token": "tok-%d", "expires_in": 3600}`, n)
	})
	mux.HandleFunc("/integration/v2/context/", f.catalog(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"question":  q.Get("question"),
			"signature": q.Get("signature"),
		})
	}))
	mux.HandleFunc("/integration/v2/bulk_objects/", f.catalog(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name": "orders"}, {"name": "customers"}]`)
	}))
	mux.HandleFunc("/integration/v2/bulk_lineage/", f.catalog(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"graph": [
			{"id": 1, "otype": "table", "neighbors": [{"id": 2, "otype": "etl"}]},
			{"id": 2, "otype": "etl", "neighbors": [{"id": 3, "otype": "table"}]},
			{"id": 3, "otype": "table"}
		], "direction": "downstream"}`)
	}))
	mux.HandleFunc("/ai/api/v1/chats/tool/default/search/stream", f.catalog(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "data: {\"step\": %d}\n\n", i)
			flusher.Flush()
		}
		fmt.Fprint(w, "event: done\n\n")
	}))
	mux.HandleFunc("/ai/api/v1/tool/event/", func(w http.ResponseWriter, r *http.Request) {
		var ev map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{}`)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// catalog wraps a catalog handler with request recording, token checks and
// entitlement headers
func (f *fakeCatalog) catalog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.catalogCalls.Add(1)
		var body map[string]interface{}
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()

		if reject := f.rejectToken.Load().(string); reject != "" && r.Header.Get("Token") == reject {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail": "token expired"}`)
			return
		}
		if f.entitlement.Load() {
			w.Header().Set(transport.HeaderEntitlementWarning, "approaching limit")
			w.Header().Set(transport.HeaderEntitlementLimit, "1000")
			w.Header().Set(transport.HeaderEntitlementUsage, "950")
		}
		next(w, r)
	}
}

func (f *fakeCatalog) lastRequest() (*http.Request, map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.requests)
	return f.requests[len(f.requests)-1], f.bodies[len(f.bodies)-1]
}

func (f *fakeCatalog) toolEvents() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]interface{}(nil), f.events...)
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithLogger(logging.NewNop()), WithTelemetry(false)}
	c, err := New(baseURL, testCred, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

var entitlementMeta = map[string]interface{}{
	"headers": map[string]string{
		transport.HeaderEntitlementWarning: "approaching limit",
		transport.HeaderEntitlementLimit:   "1000",
		transport.HeaderEntitlementUsage:   "950",
	},
}

func TestNewValidation(t *testing.T) {
	badConfig := DefaultConfig()
	badConfig.Logging.Format = "xml"

	tests := []struct {
		name    string
		baseURL string
		cred    auth.Credential
		opts    []Option
		param   string
	}{
		{"empty base url", "", testCred, nil, "base_url"},
		{"relative base url", "catalog.example.com", testCred, nil, "base_url"},
		{"unsupported scheme", "ftp://catalog.example.com", testCred, nil, "base_url"},
		{"no credential", "https://catalog.example.com", nil, nil, "credential"},
		{"incomplete credential", "https://catalog.example.com", auth.ServiceAccount{ClientID: "id"}, nil, "client_secret"},
		{"invalid config", "https://catalog.example.com", testCred, []Option{WithConfig(badConfig)}, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.baseURL, tt.cred, tt.opts...)
			assert.Nil(t, c)
			requireParameter(t, err, tt.param)
		})
	}
}

func TestNewAppliesOptions(t *testing.T) {
	c := newTestClient(t, "https://catalog.example.com/",
		WithDistVersion("langchain-1.2"),
		WithIncrementalStreaming(),
		WithNestedJSON(true),
	)
	cfg := c.Config()
	assert.Equal(t, "langchain-1.2", cfg.DistVersion)
	assert.True(t, cfg.Streaming.NestedJSON)
	assert.Equal(t, "incremental", cfg.Streaming.Mode.String())
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, auth.MethodServiceAccount, c.Auth().Method())
	assert.Nil(t, c.Metrics())
}

func TestGetContext(t *testing.T) {
	catalog := newFakeCatalog(t)
	c := newTestClient(t, catalog.URL, WithDistVersion("mydist-1.0"))

	got, err := c.GetContext(context.Background(), "Which tables hold orders?",
		map[string]interface{}{"table": map[string]interface{}{"limit": 5}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"question":  "Which tables hold orders?",
		"signature": `{"table":{"limit":5}}`,
	}, got)

	r, _ := catalog.lastRequest()
	assert.Equal(t, http.MethodGet, r.Method)
	assert.Equal(t, "tok-1", r.Header.Get("Token"))
	assert.Equal(t, "application/json", r.Header.Get("Accept"))
	assert.Equal(t, "mydist-1.0/sdk-"+Version, r.Header.Get("User-Agent"))
	assert.Empty(t, r.Header.Get("Authorization"))

	// the token is reused
	_, err = c.GetContext(context.Background(), "again", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), catalog.tokenCalls.Load())
	r, _ = catalog.lastRequest()
	assert.False(t, r.URL.Query().Has("signature"))
}

func TestGetContextEntitlementMeta(t *testing.T) {
	catalog := newFakeCatalog(t)
	catalog.entitlement.Store(true)
	c := newTestClient(t, catalog.URL)

	got, err := c.GetContext(context.Background(), "q", nil)
	require.NoError(t, err)
	body := got.(map[string]interface{})
	assert.Equal(t, "q", body["question"])
	assert.Equal(t, entitlementMeta, body["_meta"])
}

func TestGetBulkObjects(t *testing.T) {
	catalog := newFakeCatalog(t)
	c := newTestClient(t, catalog.URL)

	got, err := c.GetBulkObjects(context.Background(), map[string]interface{}{"table": map[string]interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{
		map[string]interface{}{"name": "orders"},
		map[string]interface{}{"name": "customers"},
	}, got)

	r, _ := catalog.lastRequest()
	assert.Equal(t, `{"table":{}}`, r.URL.Query().Get("signature"))

	// a list body is wrapped when meta is present
	catalog.entitlement.Store(true)
	got, err = c.GetBulkObjects(context.Background(), map[string]interface{}{"table": map[string]interface{}{}})
	require.NoError(t, err)
	body := got.(map[string]interface{})
	assert.Len(t, body["results"], 2)
	assert.Equal(t, entitlementMeta, body["_meta"])
}

func TestUnauthorizedRegeneratesToken(t *testing.T) {
	catalog := newFakeCatalog(t)
	catalog.rejectToken.Store("tok-1")
	c := newTestClient(t, catalog.URL)

	_, err := c.GetContext(context.Background(), "q", nil)
	require.Error(t, err)
	assert.True(t, apierrors.HasStatus(err, http.StatusUnauthorized))
	assert.True(t, apierrors.IsKind(err, apierrors.KindCatalog))

	_, err = c.GetContext(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), catalog.tokenCalls.Load())

	r, _ := catalog.lastRequest()
	assert.Equal(t, "tok-2", r.Header.Get("Token"))
}

func TestSessionCookieClient(t *testing.T) {
	catalog := newFakeCatalog(t)
	c, err := New(catalog.URL, auth.SessionCookie{Cookie: "sessionid=abc"},
		WithLogger(logging.NewNop()), WithTelemetry(false))
	require.NoError(t, err)
	defer c.Close(context.Background())

	_, err = c.GetContext(context.Background(), "q", nil)
	require.NoError(t, err)

	r, _ := catalog.lastRequest()
	assert.Equal(t, "sessionid=abc", r.Header.Get("Cookie"))
	assert.Empty(t, r.Header.Get("Token"))
	assert.Equal(t, int32(0), catalog.tokenCalls.Load())
}

func TestParameterErrorsMakeNoCalls(t *testing.T) {
	catalog := newFakeCatalog(t)
	c := newTestClient(t, catalog.URL)
	ctx := context.Background()

	_, err := c.GetContext(ctx, "  ", nil)
	requireParameter(t, err, "question")

	_, err = c.GetBulkObjects(ctx, nil)
	requireParameter(t, err, "signature")

	_, err = c.GetLineage(ctx, lineage.Request{Direction: lineage.Upstream})
	requireParameter(t, err, "root_nodes")

	_, err = c.CallTool(ctx, "", nil)
	requireParameter(t, err, "tool")

	_, err = c.RunTool(ctx, "", nil)
	requireParameter(t, err, "tool")

	_, err = c.Do(ctx, nil)
	requireParameter(t, err, "request")

	assert.Equal(t, int32(0), catalog.tokenCalls.Load())
	assert.Equal(t, int32(0), catalog.catalogCalls.Load())
}

func TestGetLineage(t *testing.T) {
	catalog := newFakeCatalog(t)
	c := newTestClient(t, catalog.URL)

	res, err := c.GetLineage(context.Background(), lineage.Request{
		RootNodes:     []lineage.RootNode{{ID: lineage.IntID(1), OType: "table"}},
		Direction:     lineage.Downstream,
		AllowedOTypes: []string{"table"},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, lineage.Downstream, res.Direction)

	// the etl node is spliced out
	require.Len(t, res.Graph, 2)
	assert.Equal(t, "table:1", res.Graph[0].Key())
	require.Len(t, res.Graph[0].Neighbors, 1)
	assert.Equal(t, "table:3", res.Graph[0].Neighbors[0].Key())

	r, body := catalog.lastRequest()
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "tok-1", r.Header.Get("Token"))
	assert.Equal(t, "downstream", body["direction"])
	assert.NotContains(t, body, "allowed_otypes")
}

func TestRunTool(t *testing.T) {
	catalog := newFakeCatalog(t)
	catalog.entitlement.Store(true)
	c := newTestClient(t, catalog.URL)

	got, err := c.RunTool(context.Background(), "search", map[string]interface{}{"query": "orders"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"step": float64(3), "_meta": entitlementMeta}, got)

	r, body := catalog.lastRequest()
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
	assert.Equal(t, "tok-1", r.Header.Get("Token"))
	assert.Equal(t, map[string]interface{}{"query": "orders"}, body)
}

func TestCallToolIncremental(t *testing.T) {
	catalog := newFakeCatalog(t)
	c := newTestClient(t, catalog.URL, WithIncrementalStreaming())

	s, err := c.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)
	assert.Nil(t, s.Meta)

	events, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, float64(i+1), ev["step"])
	}
}

func TestCallToolUnknownTool(t *testing.T) {
	catalog := newFakeCatalog(t)
	c := newTestClient(t, catalog.URL)

	_, err := c.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, apierrors.HasStatus(err, http.StatusNotFound))
}

func TestDoRelativePath(t *testing.T) {
	catalog := newFakeCatalog(t)
	c := newTestClient(t, catalog.URL)

	resp, err := c.Do(context.Background(), &transport.Request{
		Operation: "context",
		URL:       "/integration/v2/context/",
		Query:     map[string][]string{"question": {"raw"}},
	})
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "raw", body["question"])

	r, _ := catalog.lastRequest()
	assert.Equal(t, "tok-1", r.Header.Get("Token"))
}

func TestTelemetryReportedOnClose(t *testing.T) {
	catalog := newFakeCatalog(t)
	c, err := New(catalog.URL, testCred,
		WithLogger(logging.NewNop()),
		WithDistVersion("mydist-1.0"),
	)
	require.NoError(t, err)

	_, err = c.GetContext(context.Background(), "orders", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	events := catalog.toolEvents()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "get_context", ev["tool_name"])
	assert.Equal(t, "mydist-1.0/sdk-"+Version, ev["tool_version"])
	assert.Equal(t, float64(200), ev["status_code"])
	assert.Nil(t, ev["error_message"])
	assert.Equal(t, "orders", ev["tool_metadata"].(map[string]interface{})["question"])

	// closing twice returns the first result and sends nothing new
	require.NoError(t, c.Close(context.Background()))
	assert.Len(t, catalog.toolEvents(), 1)
}

func TestTrackReportsFailures(t *testing.T) {
	catalog := newFakeCatalog(t)
	c, err := New(catalog.URL, testCred, WithLogger(logging.NewNop()))
	require.NoError(t, err)

	run := c.Tool(telemetry.Tool{
		Name: "lookup",
		Run: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, apierrors.CatalogError("Not found", http.StatusNotFound, nil)
		},
	})
	_, err = run(context.Background(), map[string]interface{}{"id": 7})
	require.Error(t, err)

	require.NoError(t, c.Close(context.Background()))
	events := catalog.toolEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "lookup", events[0]["tool_name"])
	assert.Equal(t, float64(404), events[0]["status_code"])
	assert.Equal(t, "Not found", events[0]["error_message"])
}
