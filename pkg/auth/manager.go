package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/observability"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
)

// DefaultExpirySkew is how long before its expiry a token stops being trusted
const DefaultExpirySkew = 60 * time.Second

// Endpoints are the token paths, relative to the base URL
type Endpoints struct {
	ServiceAccountToken      string `json:"service_account_token" yaml:"service_account_token"`
	ServiceAccountIntrospect string `json:"service_account_introspect" yaml:"service_account_introspect"`
	UserAccountToken         string `json:"user_account_token" yaml:"user_account_token"`
	UserAccountValidate      string `json:"user_account_validate" yaml:"user_account_validate"`
}

// DefaultEndpoints returns the catalog's token paths
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ServiceAccountToken:      "/oauth/v2/token/",
		ServiceAccountIntrospect: "/oauth/v2/introspect/?verify_token=true",
		UserAccountToken:         "/integration/v1/createAPIAccessToken/",
		UserAccountValidate:      "/integration/v1/validateAPIAccessToken/",
	}
}

func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.ServiceAccountToken == "" {
		e.ServiceAccountToken = d.ServiceAccountToken
	}
	if e.ServiceAccountIntrospect == "" {
		e.ServiceAccountIntrospect = d.ServiceAccountIntrospect
	}
	if e.UserAccountToken == "" {
		e.UserAccountToken = d.UserAccountToken
	}
	if e.UserAccountValidate == "" {
		e.UserAccountValidate = d.UserAccountValidate
	}
	return e
}

// Manager keeps a Session's access token usable. It is owned by one client;
// there is no package-level instance.
type Manager struct {
	baseURL   string
	session   *Session
	exec      transport.Executor
	endpoints Endpoints
	logger    logging.Logger
	metrics   *observability.Metrics
	skew      time.Duration
	now       func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics counts token generations
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithEndpoints overrides token paths; empty fields keep their defaults
func WithEndpoints(endpoints Endpoints) Option {
	return func(m *Manager) {
		m.endpoints = endpoints.withDefaults()
	}
}

// WithExpirySkew changes how early a token with known expiry is replaced
func WithExpirySkew(skew time.Duration) Option {
	return func(m *Manager) {
		m.skew = skew
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager validates cred and creates a manager issuing calls through exec
func NewManager(baseURL string, cred Credential, exec transport.Executor, opts ...Option) (*Manager, error) {
	if baseURL == "" {
		return nil, apierrors.MissingParameter("base_url")
	}
	if cred == nil {
		return nil, apierrors.MissingParameter("credential")
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, apierrors.MissingParameter("executor")
	}

	m := &Manager{
		baseURL:   strings.TrimRight(baseURL, "/"),
		session:   newSession(cred),
		exec:      exec,
		endpoints: DefaultEndpoints(),
		logger:    logging.Default(),
		skew:      DefaultExpirySkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithFields(
		logging.Component("AuthManager"),
		logging.String("auth_method", string(cred.Method())),
	)
	return m, nil
}

// Method returns the configured auth method
func (m *Manager) Method() Method {
	return m.session.Method()
}

// Session returns the managed session
func (m *Manager) Session() *Session {
	return m.session
}

// EnsureValid makes sure a token-issuing session holds a usable token,
// generating one when it is absent, past its expiry, or reported invalid by
// the server. Bearer and session credentials are trusted until a request
// fails, so for them this is a no-op.
func (m *Manager) EnsureValid(ctx context.Context) error {
	if !m.Method().IssuesTokens() {
		return nil
	}

	token, expiresAt := m.session.Token()
	switch {
	case token == "":
		m.logger.Debug("No access token held, generating one")
	case !expiresAt.IsZero():
		if m.now().Before(expiresAt.Add(-m.skew)) {
			return nil
		}
		m.logger.Info("Access token is expired or about to expire, generating a new one")
	default:
		if m.introspect(ctx, token) {
			return nil
		}
		m.logger.Info("Access token was reported invalid, generating a new one")
	}

	_, err := m.GenerateToken(ctx)
	return err
}

// GenerateToken exchanges the credential for a new access token and stores
// it in the session. Bearer and session credentials cannot be exchanged.
func (m *Manager) GenerateToken(ctx context.Context) (string, error) {
	var (
		token     string
		expiresAt time.Time
		err       error
	)
	switch cred := m.session.Credential().(type) {
	case ServiceAccount:
		token, expiresAt, err = m.clientCredentialsGrant(ctx, cred)
	case UserAccount:
		token, expiresAt, err = m.refreshTokenGrant(ctx, cred)
	default:
		return "", apierrors.UnsupportedAuthMethod(string(m.Method()), "token generation")
	}

	m.metrics.RecordTokenGeneration(string(m.Method()), err == nil)
	if err != nil {
		m.logger.WithError(err).Error("Failed to generate access token")
		return "", err
	}

	m.session.set(token, expiresAt)
	m.logger.Debug("Access token generated", logging.Bool("expiry_known", !expiresAt.IsZero()))
	return token, nil
}

// Invalidate drops a token-issuing session's access token, so the next
// EnsureValid generates a fresh one. Supplied bearer tokens are kept.
func (m *Manager) Invalidate() {
	if m.Method().IssuesTokens() {
		m.session.clear()
	}
}

// Headers returns the authorization headers for a catalog call. Streaming
// calls also negotiate the event-stream media type and, for token methods,
// carry the token as a bearer Authorization header.
func (m *Manager) Headers(streaming bool) http.Header {
	h := http.Header{}
	token, _ := m.session.Token()

	switch cred := m.session.Credential().(type) {
	case SessionCookie:
		h.Set("Cookie", cred.Cookie)
	default:
		if token != "" {
			h.Set("Token", token)
		}
	}

	if streaming {
		h.Set("Accept", "text/event-stream")
		h.Set("Content-Type", "application/json")
		if token != "" && m.Method() != MethodSession {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return h
}

func (m *Manager) url(path string) string {
	return m.baseURL + path
}

type clientCredentialsResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (m *Manager) clientCredentialsGrant(ctx context.Context, cred ServiceAccount) (string, time.Time, error) {
	resp, err := m.exec.Execute(ctx, &transport.Request{
		Operation: "access_token_generation",
		Method:    http.MethodPost,
		URL:       m.url(m.endpoints.ServiceAccountToken),
		Form: url.Values{
			"client_id":     {cred.ClientID},
			"client_secret": {cred.ClientSecret},
			"grant_type":    {"client_credentials"},
		},
		Scope: transport.ScopeToken,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	var body clientCredentialsResponse
	if err := resp.Decode(&body); err != nil {
		return "", time.Time{}, err
	}
	if body.AccessToken == "" {
		return "", time.Time{}, missingToken(resp, "access_token")
	}

	var expiresAt time.Time
	if body.ExpiresIn != "" {
		seconds, err := strconv.ParseFloat(body.ExpiresIn.String(), 64)
		if err == nil && seconds > 0 {
			expiresAt = m.now().Add(time.Duration(seconds * float64(time.Second)))
		}
	}
	return body.AccessToken, expiresAt, nil
}

type refreshTokenResponse struct {
	APIAccessToken string `json:"api_access_token"`
	TokenExpiresAt string `json:"token_expires_at"`
	Status         string `json:"status"`
}

func (m *Manager) refreshTokenGrant(ctx context.Context, cred UserAccount) (string, time.Time, error) {
	resp, err := m.exec.Execute(ctx, &transport.Request{
		Operation: "access_token_generation",
		Method:    http.MethodPost,
		URL:       m.url(m.endpoints.UserAccountToken),
		JSON: map[string]interface{}{
			"user_id":       cred.UserID,
			"refresh_token": cred.RefreshToken,
		},
		Scope: transport.ScopeToken,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	var body refreshTokenResponse
	if err := resp.Decode(&body); err != nil {
		return "", time.Time{}, err
	}
	if body.Status == "failed" || body.APIAccessToken == "" {
		return "", time.Time{}, missingToken(resp, "api_access_token")
	}

	var expiresAt time.Time
	if body.TokenExpiresAt != "" {
		t, err := time.Parse(time.RFC3339Nano, body.TokenExpiresAt)
		if err != nil {
			m.logger.Warn("Unparseable token expiry, token will be validated with the server",
				logging.String("token_expires_at", body.TokenExpiresAt))
		} else {
			expiresAt = t.UTC()
		}
	}
	return body.APIAccessToken, expiresAt, nil
}

// missingToken reports a 2xx token response that carried no usable token
func missingToken(resp *transport.Response, field string) error {
	var body map[string]interface{}
	_ = json.Unmarshal(resp.Body, &body)
	return apierrors.TokenError(
		fmt.Sprintf("Logical failure or missing %s in access token response", field),
		resp.StatusCode,
		body,
	)
}

// introspect asks the server whether token is still active. Any failure
// counts as inactive.
func (m *Manager) introspect(ctx context.Context, token string) bool {
	var req *transport.Request
	switch cred := m.session.Credential().(type) {
	case ServiceAccount:
		req = &transport.Request{
			Operation: "token_introspection",
			Method:    http.MethodPost,
			URL:       m.url(m.endpoints.ServiceAccountIntrospect),
			Form: url.Values{
				"token":           {token},
				"token_type_hint": {"access_token"},
				"client_id":       {cred.ClientID},
				"client_secret":   {cred.ClientSecret},
			},
			Scope: transport.ScopeToken,
		}
	case UserAccount:
		req = &transport.Request{
			Operation: "token_validation",
			Method:    http.MethodPost,
			URL:       m.url(m.endpoints.UserAccountValidate),
			JSON: map[string]interface{}{
				"api_access_token": token,
				"user_id":          cred.UserID,
			},
			Scope: transport.ScopeToken,
		}
	default:
		return false
	}

	resp, err := m.exec.Execute(ctx, req)
	if err != nil {
		m.logger.WithError(err).Debug("Token introspection failed")
		return false
	}

	var body struct {
		Active *bool  `json:"active"`
		Status string `json:"status"`
	}
	if len(resp.Body) > 0 {
		if err := resp.Decode(&body); err != nil {
			return false
		}
	}

	if m.Method() == MethodServiceAccount {
		return body.Active != nil && *body.Active
	}
	return body.Status != "failed"
}
