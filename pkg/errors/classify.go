package errors

import "net/http"

// Documentation links attached to classified errors
const (
	LinkDeveloperPortal = "https://developer.alation.com/"
	LinkAuthentication  = "https://developer.alation.com/dev/v2024.1/docs/authentication-into-alation-apis"
	LinkRefreshToken    = "https://developer.alation.com/dev/reference/refresh-access-token-overview"
	LinkThrottling      = "https://developer.alation.com/dev/docs/api-throttling"
	LinkAPIOverview     = "https://developer.alation.com/dev/docs/alation-api-overview"
	LinkSignatureDocs   = "https://github.com/Alation/alation-ai-agent-sdk/blob/main/guides/signature.md"
	LinkReadme          = "https://github.com/Alation/alation-ai-agent-sdk?tab=readme-ov-file#usage"
)

// Classification is the outcome of mapping a failed status to guidance
type Classification struct {
	Reason         string   `json:"reason"`
	ResolutionHint string   `json:"resolution_hint"`
	HelpLinks      []string `json:"help_links"`
	IsRetryable    bool     `json:"is_retryable"`
}

// IsRetryableStatus is the only retryability rule in the SDK: rate limiting
// and server errors may succeed on a later attempt.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusInternalServerError
}

var authLinks = []string{LinkAuthentication, LinkRefreshToken}

// Classify maps a catalog endpoint failure to its reason, hint and links.
// body may be nil; for 400 its "error" then "message" string becomes the hint.
func Classify(status int, body map[string]interface{}) Classification {
	c := Classification{IsRetryable: IsRetryableStatus(status)}

	switch status {
	case http.StatusBadRequest:
		c.Reason = "Bad Request"
		c.ResolutionHint = bodyString(body, "error", "message")
		if c.ResolutionHint == "" {
			c.ResolutionHint = "Request was malformed. Check the query and signature structure."
		}
		c.HelpLinks = []string{LinkSignatureDocs, LinkReadme}
	case http.StatusUnauthorized:
		c.Reason = "Unauthorized"
		c.ResolutionHint = "Token missing or invalid. Retry with a valid token."
		c.HelpLinks = authLinks
	case http.StatusForbidden:
		c.Reason = "Forbidden"
		c.ResolutionHint = "Token likely expired or lacks permissions. Ask the user to re-authenticate."
		c.HelpLinks = authLinks
	case http.StatusNotFound:
		c.Reason = "Not Found"
		c.ResolutionHint = "The requested resource was not found or is not enabled, check feature flag"
		c.HelpLinks = []string{LinkDeveloperPortal}
	case http.StatusTooManyRequests:
		c.Reason = "Too Many Requests"
		c.ResolutionHint = "Rate limit exceeded. Retry after some time."
		c.HelpLinks = []string{LinkThrottling}
	case http.StatusInternalServerError:
		c.Reason = "Internal Server Error"
		c.ResolutionHint = "Server error. Retry later or contact Alation support."
		c.HelpLinks = []string{LinkDeveloperPortal}
	default:
		c.Reason = "Unexpected Error"
		c.ResolutionHint = "An unknown error occurred."
		c.HelpLinks = []string{LinkDeveloperPortal}
	}

	return c
}

// ClassifyToken maps a token endpoint failure to its reason, hint and links.
func ClassifyToken(status int, body map[string]interface{}) Classification {
	c := Classification{
		IsRetryable: IsRetryableStatus(status),
		HelpLinks:   authLinks,
	}

	switch status {
	case http.StatusBadRequest:
		c.Reason = "Token Request Invalid"
		c.ResolutionHint = bodyString(body, "error")
		if c.ResolutionHint == "" {
			c.ResolutionHint = "Token request payload is malformed."
		}
	case http.StatusUnauthorized:
		c.Reason = "Token Unauthorized"
		c.ResolutionHint = "[User ID,refresh token] or [client id, client secret] is invalid."
	case http.StatusForbidden:
		c.Reason = "Token Forbidden"
		c.ResolutionHint = "You do not have permission to generate a token."
	case http.StatusInternalServerError:
		c.Reason = "Token Generation Failed"
		c.ResolutionHint = "Alation server failed to process token request."
	default:
		c.Reason = "Unexpected Token Error"
		c.ResolutionHint = "An unknown token-related error occurred."
	}

	return c
}

// bodyString returns the first non-empty string value among keys
func bodyString(body map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
