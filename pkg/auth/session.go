package auth

import (
	"sync"
	"time"
)

// Session holds the access token issued for a credential. It lives for the
// lifetime of one client and is never persisted.
//
// The mutex only keeps reads and writes of the fields consistent. Token
// regeneration is not serialized: two callers that both find the token stale
// may both regenerate it, and the last write wins.
type Session struct {
	mu          sync.RWMutex
	credential  Credential
	accessToken string
	// zero when the issuer did not say
	expiresAt time.Time
}

func newSession(cred Credential) *Session {
	s := &Session{credential: cred}
	if bt, ok := cred.(BearerToken); ok {
		s.accessToken = bt.Token
	}
	return s
}

// Method returns the credential's auth method
func (s *Session) Method() Method {
	return s.credential.Method()
}

// Credential returns the credential the session was created with
func (s *Session) Credential() Credential {
	return s.credential
}

// Token returns the current access token and its expiry. The expiry is zero
// when unknown.
func (s *Session) Token() (string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.expiresAt
}

// HasToken reports whether an access token is held
func (s *Session) HasToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != ""
}

func (s *Session) set(token string, expiresAt time.Time) {
	s.mu.Lock()
	s.accessToken = token
	s.expiresAt = expiresAt
	s.mu.Unlock()
}

func (s *Session) clear() {
	s.mu.Lock()
	s.accessToken = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}
