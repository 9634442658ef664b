package auth

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

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
)

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// tokenServer mimics the catalog's token endpoints
type tokenServer struct {
	*httptest.Server
	tokenCalls      atomic.Int32
	introspectCalls atomic.Int32
	active          atomic.Bool
	expiresIn       string
	tokenStatus     int
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{expiresIn: `3600`, tokenStatus: http.StatusOK}
	ts.active.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token/", func(w http.ResponseWriter, r *http.Request) {
		n := ts.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		if ts.tokenStatus != http.StatusOK {
			w.WriteHeader(ts.tokenStatus)
			fmt.Fprint(w, `{"error": "invalid_client"}`)
			return
		}
		if ts.expiresIn == "" {
			fmt.Fprintf(w, `{"access_token": "sa-token-%d"}`, n)
			return
		}
		fmt.Fprintf(w, `{"access_token": "sa-token-%d", "expires_in": %s}`, n, ts.expiresIn)
	})
	mux.HandleFunc("/oauth/v2/introspect/", func(w http.ResponseWriter, r *http.Request) {
		ts.introspectCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.URL.Query().Get("verify_token"))
		assert.Equal(t, "access_token", r.PostForm.Get("token_type_hint"))
		fmt.Fprintf(w, `{"active": %t}`, ts.active.Load())
	})
	mux.HandleFunc("/integration/v1/createAPIAccessToken/", func(w http.ResponseWriter, r *http.Request) {
		n := ts.tokenCalls.Add(1)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["refresh_token"] != "refresh" {
			fmt.Fprint(w, `{"status": "failed"}`)
			return
		}
		fmt.Fprintf(w, `{"api_access_token": "ua-token-%d", "token_expires_at": "2026-01-01T12:00:00.123456Z", "status": "success"}`, n)
	})
	mux.HandleFunc("/integration/v1/validateAPIAccessToken/", func(w http.ResponseWriter, r *http.Request) {
		ts.introspectCalls.Add(1)
		if !ts.active.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"status": "failed"}`)
			return
		}
		fmt.Fprint(w, `{"status": "valid"}`)
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestManager(t *testing.T, baseURL string, cred Credential, opts ...Option) *Manager {
	t.Helper()
	exec := transport.NewRequestExecutor(transport.DefaultConfig(), transport.WithLogger(logging.NewNop()))
	m, err := NewManager(baseURL, cred, exec, append([]Option{WithLogger(logging.NewNop())}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestEnsureValidServiceAccountKnownExpiry(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestManager(t, ts.URL+"/", ServiceAccount{ClientID: "id", ClientSecret: "secret"}, WithClock(clock.Now))

	ctx := context.Background()
	require.NoError(t, m.EnsureValid(ctx))
	assert.Equal(t, int32(1), ts.tokenCalls.Load())

	token, expiresAt := m.Session().Token()
	assert.Equal(t, "sa-token-1", token)
	assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)

	// Still valid: no new exchange, no introspection.
	clock.Advance(58 * time.Minute)
	require.NoError(t, m.EnsureValid(ctx))
	assert.Equal(t, int32(1), ts.tokenCalls.Load())
	assert.Equal(t, int32(0), ts.introspectCalls.Load())

	// Inside the skew window.
	clock.Advance(90 * time.Second)
	require.NoError(t, m.EnsureValid(ctx))
	assert.Equal(t, int32(2), ts.tokenCalls.Load())
	token, _ = m.Session().Token()
	assert.Equal(t, "sa-token-2", token)
}

func TestEnsureValidIntrospectsUnknownExpiry(t *testing.T) {
	ts := newTokenServer(t)
	ts.expiresIn = ""
	m := newTestManager(t, ts.URL, ServiceAccount{ClientID: "id", ClientSecret: "secret"})
	ctx := context.Background()

	require.NoError(t, m.EnsureValid(ctx))
	assert.Equal(t, int32(1), ts.tokenCalls.Load())
	assert.Equal(t, int32(0), ts.introspectCalls.Load())

	for i := 0; i < 3; i++ {
		require.NoError(t, m.EnsureValid(ctx))
	}
	assert.Equal(t, int32(1), ts.tokenCalls.Load(), "token reported active must not be regenerated")
	assert.Equal(t, int32(3), ts.introspectCalls.Load())

	ts.active.Store(false)
	require.NoError(t, m.EnsureValid(ctx))
	assert.Equal(t, int32(2), ts.tokenCalls.Load(), "token reported inactive must be regenerated")
}

func TestEnsureValidUserAccount(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)}
	m := newTestManager(t, ts.URL, UserAccount{UserID: 7, RefreshToken: "refresh"}, WithClock(clock.Now))

	require.NoError(t, m.EnsureValid(context.Background()))
	token, expiresAt := m.Session().Token()
	assert.Equal(t, "ua-token-1", token)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 123456000, time.UTC), expiresAt)

	require.NoError(t, m.EnsureValid(context.Background()))
	assert.Equal(t, int32(1), ts.tokenCalls.Load())
}

func TestGenerateTokenFailures(t *testing.T) {
	t.Run("logical failure", func(t *testing.T) {
		ts := newTokenServer(t)
		m := newTestManager(t, ts.URL, UserAccount{UserID: 7, RefreshToken: "wrong"})

		_, err := m.GenerateToken(context.Background())
		require.True(t, apierrors.IsKind(err, apierrors.KindToken))
		assert.False(t, m.Session().HasToken())
	})

	t.Run("unauthorized", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.tokenStatus = http.StatusUnauthorized
		m := newTestManager(t, ts.URL, ServiceAccount{ClientID: "id", ClientSecret: "secret"})

		err := m.EnsureValid(context.Background())
		apiErr, ok := apierrors.As(err)
		require.True(t, ok)
		assert.Equal(t, apierrors.KindToken, apiErr.Kind())
		assert.Equal(t, "Token Unauthorized", apiErr.Reason())
		assert.False(t, apiErr.IsRetryable())
	})

	t.Run("server error is retryable", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.tokenStatus = http.StatusInternalServerError
		m := newTestManager(t, ts.URL, ServiceAccount{ClientID: "id", ClientSecret: "secret"})

		_, err := m.GenerateToken(context.Background())
		assert.True(t, apierrors.IsRetryable(err))
	})

	t.Run("unsupported method", func(t *testing.T) {
		m := newTestManager(t, "http://unused", SessionCookie{Cookie: "sid=1"})
		_, err := m.GenerateToken(context.Background())
		apiErr, ok := apierrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "Unsupported Authentication Method", apiErr.Reason())
	})
}

func TestEnsureValidSuppliedCredentialsAreNoOps(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	for _, cred := range []Credential{BearerToken{Token: "tok"}, SessionCookie{Cookie: "sid=1"}} {
		m := newTestManager(t, server.URL, cred)
		require.NoError(t, m.EnsureValid(context.Background()))
		m.Invalidate()
		require.NoError(t, m.EnsureValid(context.Background()))
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestInvalidateForcesRegeneration(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts.URL, ServiceAccount{ClientID: "id", ClientSecret: "secret"})

	require.NoError(t, m.EnsureValid(context.Background()))
	m.Invalidate()
	assert.False(t, m.Session().HasToken())
	require.NoError(t, m.EnsureValid(context.Background()))
	assert.Equal(t, int32(2), ts.tokenCalls.Load())
}

func TestHeaders(t *testing.T) {
	tests := []struct {
		name      string
		cred      Credential
		streaming bool
		want      http.Header
	}{
		{
			name: "bearer",
			cred: BearerToken{Token: "tok"},
			want: http.Header{"Token": {"tok"}},
		},
		{
			name:      "bearer streaming",
			cred:      BearerToken{Token: "tok"},
			streaming: true,
			want: http.Header{
				"Token":         {"tok"},
				"Authorization": {"Bearer tok"},
				"Accept":        {"text/event-stream"},
				"Content-Type":  {"application/json"},
			},
		},
		{
			name: "session",
			cred: SessionCookie{Cookie: "sid=1"},
			want: http.Header{"Cookie": {"sid=1"}},
		},
		{
			name:      "session streaming",
			cred:      SessionCookie{Cookie: "sid=1"},
			streaming: true,
			want: http.Header{
				"Cookie":       {"sid=1"},
				"Accept":       {"text/event-stream"},
				"Content-Type": {"application/json"},
			},
		},
		{
			name: "service account without token",
			cred: ServiceAccount{ClientID: "id", ClientSecret: "secret"},
			want: http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, "http://catalog", tt.cred)
			assert.Equal(t, tt.want, m.Headers(tt.streaming))
		})
	}
}

func TestNewManagerValidation(t *testing.T) {
	exec := transport.NewRequestExecutor(transport.DefaultConfig())

	_, err := NewManager("", BearerToken{Token: "x"}, exec)
	assert.True(t, apierrors.IsKind(err, apierrors.KindParameter))

	_, err = NewManager("http://catalog", nil, exec)
	assert.True(t, apierrors.IsKind(err, apierrors.KindParameter))

	_, err = NewManager("http://catalog", ServiceAccount{ClientID: "id"}, exec)
	assert.True(t, apierrors.IsKind(err, apierrors.KindParameter))

	_, err = NewManager("http://catalog", BearerToken{Token: "x"}, nil)
	assert.True(t, apierrors.IsKind(err, apierrors.KindParameter))
}

func TestEndpointsOverride(t *testing.T) {
	var hit atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/custom/token", r.URL.Path)
		hit.Store(true)
		fmt.Fprint(w, `{"access_token": "t", "expires_in": "120"}`)
	}))
	defer server.Close()

	m := newTestManager(t, server.URL, ServiceAccount{ClientID: "id", ClientSecret: "secret"},
		WithEndpoints(Endpoints{ServiceAccountToken: "/custom/token"}))
	token, err := m.GenerateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t", token)
	assert.True(t, hit.Load())
	assert.Equal(t, "/integration/v1/createAPIAccessToken/", m.endpoints.UserAccountToken)
}
