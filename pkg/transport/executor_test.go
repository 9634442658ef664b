package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
)

func newTestExecutor(cfg Config) *RequestExecutor {
	return NewRequestExecutor(cfg, WithLogger(logging.NewNop()), WithUserAgent("dist-1.0/sdk-0.1.0"))
}

func requireAPIError(t *testing.T, err error) *apierrors.APIError {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok, "expected *APIError, got %T: %v", err, err)
	return apiErr
}

func TestExecuteSuccess(t *testing.T) {
	var gotHeader http.Header
	var gotQuery string
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer server.Close()

	exec := newTestExecutor(DefaultConfig())
	resp, err := exec.Execute(context.Background(), &Request{
		Operation: "catalog_search",
		Method:    http.MethodPost,
		URL:       server.URL + "/integration/v2/context/",
		Query:     url.Values{"question": {"sales tables"}},
		Header:    http.Header{"Token": {"tok"}},
		JSON:      map[string]int{"limit": 5},
	})
	require.NoError(t, err)

	var body map[string]bool
	require.NoError(t, resp.Decode(&body))
	assert.True(t, body["ok"])
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "application/json", gotHeader.Get("Accept"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "dist-1.0/sdk-0.1.0", gotHeader.Get("User-Agent"))
	assert.Equal(t, "tok", gotHeader.Get("Token"))
	assert.NotEmpty(t, gotHeader.Get(logging.RequestIDHeader))
	assert.Equal(t, "question=sales%20tables", gotQuery)
	assert.JSONEq(t, `{"limit":5}`, gotBody)
}

func TestExecuteFormBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		fmt.Fprintf(w, `{"grant": %q}`, r.PostForm.Get("grant_type"))
	}))
	defer server.Close()

	resp, err := newTestExecutor(DefaultConfig()).Execute(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Form:   url.Values{"grant_type": {"client_credentials"}},
		Scope:  ScopeToken,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"grant":"client_credentials"}`, string(resp.Body))
}

func TestExecuteStatusErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		scope         Scope
		wantKind      apierrors.Kind
		wantReason    string
		wantHint      string
		wantRetryable bool
	}{
		{"rate limited", 429, `{}`, ScopeCatalog, apierrors.KindCatalog, "Too Many Requests", "Rate limit exceeded. Retry after some time.", true},
		{"bad request hint from body", 400, `{"error": "signature is invalid"}`, ScopeCatalog, apierrors.KindCatalog, "Bad Request", "signature is invalid", false},
		{"plain text body", 400, `not json at all`, ScopeCatalog, apierrors.KindCatalog, "Bad Request", "not json at all", false},
		{"server error", 500, ``, ScopeCatalog, apierrors.KindCatalog, "Internal Server Error", "Server error. Retry later or contact Alation support.", true},
		{"token unauthorized", 401, `{}`, ScopeToken, apierrors.KindToken, "Token Unauthorized", "[User ID,refresh token] or [client id, client secret] is invalid.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := newTestExecutor(DefaultConfig()).Execute(context.Background(), &Request{
				Operation: "bulk_lineage",
				URL:       server.URL,
				Scope:     tt.scope,
			})
			apiErr := requireAPIError(t, err)
			assert.Equal(t, tt.wantKind, apiErr.Kind())
			assert.Equal(t, tt.wantReason, apiErr.Reason())
			assert.Equal(t, tt.wantHint, apiErr.ResolutionHint())
			assert.Equal(t, tt.wantRetryable, apiErr.IsRetryable())
			assert.True(t, apierrors.HasStatus(err, tt.status))
			assert.Equal(t, "bulk_lineage", apiErr.Context().Operation)
			assert.Equal(t, "HTTP error during bulk lineage", apiErr.Message())
		})
	}
}

func TestExecuteMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>oops</html>")
	}))
	defer server.Close()

	exec := newTestExecutor(DefaultConfig())

	_, err := exec.Execute(context.Background(), &Request{URL: server.URL})
	apiErr := requireAPIError(t, err)
	assert.Equal(t, apierrors.KindResponseFormat, apiErr.Kind())
	assert.Equal(t, "Malformed Response", apiErr.Reason())
	assert.Equal(t, "<html>oops</html>", apiErr.ResponseBody())

	_, err = exec.Execute(context.Background(), &Request{URL: server.URL, Scope: ScopeToken})
	assert.Equal(t, "Token Response Error", requireAPIError(t, err).Reason())
}

func TestExecuteEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := newTestExecutor(DefaultConfig()).Execute(context.Background(), &Request{URL: server.URL})
	require.NoError(t, err)
	assert.Empty(t, resp.Body)

	var v map[string]interface{}
	assert.True(t, apierrors.IsKind(resp.Decode(&v), apierrors.KindResponseFormat))
}

func TestExecuteTimeouts(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	t.Run("read timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ReadTimeout = 50 * time.Millisecond
		cfg.RequestTimeout = 5 * time.Second

		_, err := newTestExecutor(cfg).Execute(context.Background(), &Request{URL: slow.URL})
		apiErr := requireAPIError(t, err)
		assert.Equal(t, apierrors.KindTransport, apiErr.Kind())
		assert.Equal(t, "Read Timeout", apiErr.Reason())
	})

	t.Run("request timeout", func(t *testing.T) {
		_, err := newTestExecutor(DefaultConfig()).Execute(context.Background(), &Request{
			URL:     slow.URL,
			Timeout: 50 * time.Millisecond,
		})
		apiErr := requireAPIError(t, err)
		assert.Equal(t, "Request Timeout", apiErr.Reason())
		assert.True(t, apierrors.HasStatus(err, http.StatusRequestTimeout))
	})

	t.Run("connect timeout", func(t *testing.T) {
		client := &http.Client{Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return nil, &net.OpError{Op: "dial", Net: network, Err: dialTimeout{}}
			},
		}}
		exec := NewRequestExecutor(DefaultConfig(), WithLogger(logging.NewNop()), WithHTTPClient(client))

		_, err := exec.Execute(context.Background(), &Request{URL: slow.URL})
		apiErr := requireAPIError(t, err)
		assert.Equal(t, apierrors.KindTransport, apiErr.Kind())
		assert.Equal(t, "Connection Timeout", apiErr.Reason())
		assert.True(t, apierrors.HasStatus(err, http.StatusRequestTimeout))
	})
}

// dialTimeout is the error a dialer reports when its bound expires
type dialTimeout struct{}

func (dialTimeout) Error() string   { return "i/o timeout" }
func (dialTimeout) Timeout() bool   { return true }
func (dialTimeout) Temporary() bool { return true }

func TestExecuteConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := newTestExecutor(DefaultConfig()).Execute(context.Background(), &Request{URL: addr})
	apiErr := requireAPIError(t, err)
	assert.Equal(t, apierrors.KindTransport, apiErr.Kind())
	assert.Equal(t, "Connection Error", apiErr.Reason())
	assert.False(t, apiErr.IsRetryable())
}

func TestExecuteRejectsBadInput(t *testing.T) {
	exec := newTestExecutor(DefaultConfig())

	_, err := exec.Execute(context.Background(), &Request{})
	assert.True(t, apierrors.IsKind(err, apierrors.KindParameter))

	_, err = exec.Execute(context.Background(), &Request{URL: "http://x", JSON: map[string]int{}, Form: url.Values{}})
	assert.True(t, apierrors.IsKind(err, apierrors.KindParameter))

	_, err = exec.Execute(context.Background(), &Request{URL: "http://x", JSON: make(chan int)})
	assert.True(t, apierrors.IsKind(err, apierrors.KindParameter))
}

func TestExecuteStream(t *testing.T) {
	var finished atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(HeaderEntitlementWarning, "near quota")
		w.Header().Set(HeaderEntitlementLimit, "1000")
		fmt.Fprint(w, "data: {\"a\":1}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		finished.Store(true)
	}))
	defer server.Close()

	resp, err := newTestExecutor(DefaultConfig()).Execute(context.Background(), &Request{
		URL:    server.URL,
		Stream: true,
		Header: http.Header{"Accept": {"text/event-stream"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	assert.Equal(t, map[string]string{HeaderEntitlementWarning: "near quota", HeaderEntitlementLimit: "1000"}, resp.EntitlementMeta())

	buf := make([]byte, 64)
	n, err := resp.Stream.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "data: "))

	// Abandoning the stream early must release the connection.
	require.NoError(t, resp.Stream.Close())
	require.NoError(t, resp.Stream.Close())
	assert.Eventually(t, finished.Load, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteStreamReadTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"a\":1}\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	resp, err := newTestExecutor(cfg).Execute(context.Background(), &Request{URL: server.URL, Stream: true})
	require.NoError(t, err)
	defer resp.Stream.Close()

	_, err = io.ReadAll(resp.Stream)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, "Read Timeout", apiErr.Reason())
}

func TestExecuteStreamSlowConsumer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "data: {\"step\":%d}\n\n", i)
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	resp, err := newTestExecutor(cfg).Execute(context.Background(), &Request{URL: server.URL, Stream: true})
	require.NoError(t, err)
	defer resp.Stream.Close()

	// processing time between reads exceeds the read timeout
	time.Sleep(250 * time.Millisecond)
	var got strings.Builder
	buf := make([]byte, 16)
	for {
		n, err := resp.Stream.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		time.Sleep(150 * time.Millisecond)
	}
	assert.Equal(t, 3, strings.Count(got.String(), "data: "))
}

func TestFoldMeta(t *testing.T) {
	meta := map[string]string{HeaderEntitlementWarning: "w"}

	assert.Equal(t, map[string]interface{}{"a": 1}, FoldMeta(map[string]interface{}{"a": 1}, nil))
	assert.Equal(t,
		map[string]interface{}{"a": 1, "_meta": map[string]interface{}{"headers": meta}},
		FoldMeta(map[string]interface{}{"a": 1}, meta))
	assert.Equal(t,
		map[string]interface{}{"results": []interface{}{"x"}, "_meta": map[string]interface{}{"headers": meta}},
		FoldMeta([]interface{}{"x"}, meta))
	assert.Equal(t, "scalar", FoldMeta("scalar", meta))
}

func TestEntitlementMetaRequiresWarning(t *testing.T) {
	resp := &Response{Header: http.Header{}}
	resp.Header.Set(HeaderEntitlementLimit, "1000")
	resp.Header.Set(HeaderEntitlementUsage, "950")
	assert.Nil(t, resp.EntitlementMeta())

	resp.Header.Set(HeaderEntitlementWarning, "Approaching limit")
	assert.Equal(t, map[string]string{
		HeaderEntitlementLimit:   "1000",
		HeaderEntitlementUsage:   "950",
		HeaderEntitlementWarning: "Approaching limit",
	}, resp.EntitlementMeta())
}
