package auth

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
)

func TestCredentialValidate(t *testing.T) {
	tests := []struct {
		name      string
		cred      Credential
		wantParam string
	}{
		{"service account ok", ServiceAccount{ClientID: "id", ClientSecret: "s"}, ""},
		{"service account missing id", ServiceAccount{ClientSecret: "s"}, "client_id"},
		{"service account missing secret", ServiceAccount{ClientID: "id"}, "client_secret"},
		{"user account ok", UserAccount{UserID: 1, RefreshToken: "r"}, ""},
		{"user account bad id", UserAccount{UserID: 0, RefreshToken: "r"}, "user_id"},
		{"user account missing token", UserAccount{UserID: 1}, "refresh_token"},
		{"bearer ok", BearerToken{Token: "t"}, ""},
		{"bearer empty", BearerToken{}, "token"},
		{"session ok", SessionCookie{Cookie: "c"}, ""},
		{"session empty", SessionCookie{}, "session_cookie"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cred.Validate()
			if tt.wantParam == "" {
				assert.NoError(t, err)
				return
			}
			apiErr, ok := apierrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apierrors.KindParameter, apiErr.Kind())
			data, ok := apiErr.ResponseBody().(*apierrors.ParameterErrorData)
			require.True(t, ok)
			assert.Equal(t, tt.wantParam, data.Parameter)
		})
	}
}

func TestCredentialFormattingRedactsSecrets(t *testing.T) {
	creds := []struct {
		cred   Credential
		secret string
	}{
		{ServiceAccount{ClientID: "visible-id", ClientSecret: "s3cr3t-value"}, "s3cr3t-value"},
		{UserAccount{UserID: 42, RefreshToken: "s3cr3t-refresh"}, "s3cr3t-refresh"},
		{BearerToken{Token: "s3cr3t-token"}, "s3cr3t-token"},
		{SessionCookie{Cookie: "sessionid=s3cr3t"}, "s3cr3t"},
	}

	for _, c := range creds {
		t.Run(string(c.cred.Method()), func(t *testing.T) {
			for _, format := range []string{"%v", "%+v", "%#v", "%s"} {
				assert.NotContains(t, fmt.Sprintf(format, c.cred), c.secret, format)
			}
			data, err := json.Marshal(c.cred)
			require.NoError(t, err)
			assert.NotContains(t, string(data), c.secret)
			assert.Contains(t, string(data), string(c.cred.Method()))
		})
	}

	assert.Contains(t, ServiceAccount{ClientID: "visible-id", ClientSecret: "x"}.String(), "visible-id")
}

func TestMethodIssuesTokens(t *testing.T) {
	assert.True(t, MethodServiceAccount.IssuesTokens())
	assert.True(t, MethodUserAccount.IssuesTokens())
	assert.False(t, MethodBearerToken.IssuesTokens())
	assert.False(t, MethodSession.IssuesTokens())
}
