// Package auth manages the credential and access-token lifecycle used to
// authorize calls to the catalog service.
//
// A Credential is created once per client and never changes. Service account
// and user account credentials are exchanged for short-lived access tokens by
// a Manager; bearer tokens and session cookies are sent as given and are only
// discovered to be invalid when a real request fails.
package auth

import (
	"encoding/json"
	"fmt"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
)

// Method identifies how a client authenticates
type Method string

const (
	MethodServiceAccount Method = "service_account"
	MethodUserAccount    Method = "user_account"
	MethodBearerToken    Method = "bearer_token"
	MethodSession        Method = "session"
)

// IssuesTokens reports whether the method exchanges its credential for an
// access token the Manager must keep fresh
func (m Method) IssuesTokens() bool {
	return m == MethodServiceAccount || m == MethodUserAccount
}

const redacted = "****"

// Credential is one of ServiceAccount, UserAccount, BearerToken or
// SessionCookie. The set is closed; formatting a Credential never reveals
// its secret.
type Credential interface {
	Method() Method
	Validate() error
	fmt.Stringer

	credential()
}

// ServiceAccount authenticates with the client-credentials grant
type ServiceAccount struct {
	ClientID     string
	ClientSecret string
}

func (ServiceAccount) credential() {}

// Method returns MethodServiceAccount
func (ServiceAccount) Method() Method { return MethodServiceAccount }

// Validate checks both fields are present
func (c ServiceAccount) Validate() error {
	if c.ClientID == "" {
		return apierrors.MissingParameter("client_id")
	}
	if c.ClientSecret == "" {
		return apierrors.MissingParameter("client_secret")
	}
	return nil
}

func (c ServiceAccount) String() string {
	return fmt.Sprintf("ServiceAccount{ClientID: %s, ClientSecret: %s}", c.ClientID, redacted)
}

// GoString keeps %#v from printing the secret
func (c ServiceAccount) GoString() string { return c.String() }

// MarshalJSON redacts the client secret
func (c ServiceAccount) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"method":        string(c.Method()),
		"client_id":     c.ClientID,
		"client_secret": redacted,
	})
}

// UserAccount authenticates with a user id and refresh token through the
// legacy token endpoint
type UserAccount struct {
	UserID       int
	RefreshToken string
}

func (UserAccount) credential() {}

// Method returns MethodUserAccount
func (UserAccount) Method() Method { return MethodUserAccount }

// Validate checks the user id is positive and the refresh token is present
func (c UserAccount) Validate() error {
	if c.UserID <= 0 {
		return apierrors.InvalidParameter("user_id", c.UserID, "must be a positive integer")
	}
	if c.RefreshToken == "" {
		return apierrors.MissingParameter("refresh_token")
	}
	return nil
}

func (c UserAccount) String() string {
	return fmt.Sprintf("UserAccount{UserID: %d, RefreshToken: %s}", c.UserID, redacted)
}

func (c UserAccount) GoString() string { return c.String() }

func (c UserAccount) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"method":        string(c.Method()),
		"user_id":       c.UserID,
		"refresh_token": redacted,
	})
}

// BearerToken is an access token obtained outside the SDK
type BearerToken struct {
	Token string
}

func (BearerToken) credential() {}

// Method returns MethodBearerToken
func (BearerToken) Method() Method { return MethodBearerToken }

func (c BearerToken) Validate() error {
	if c.Token == "" {
		return apierrors.MissingParameter("token")
	}
	return nil
}

func (c BearerToken) String() string { return "BearerToken{Token: " + redacted + "}" }

func (c BearerToken) GoString() string { return c.String() }

func (c BearerToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"method": string(c.Method()), "token": redacted})
}

// SessionCookie is a browser session cookie, sent verbatim as the Cookie header
type SessionCookie struct {
	Cookie string
}

func (SessionCookie) credential() {}

// Method returns MethodSession
func (SessionCookie) Method() Method { return MethodSession }

func (c SessionCookie) Validate() error {
	if c.Cookie == "" {
		return apierrors.MissingParameter("session_cookie")
	}
	return nil
}

func (c SessionCookie) String() string { return "SessionCookie{Cookie: " + redacted + "}" }

func (c SessionCookie) GoString() string { return c.String() }

func (c SessionCookie) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"method": string(c.Method()), "session_cookie": redacted})
}
