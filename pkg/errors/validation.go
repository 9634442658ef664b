package errors

import "fmt"

// ParameterErrorData describes which caller input was rejected
type ParameterErrorData struct {
	Parameter string      `json:"parameter"`
	Value     interface{} `json:"value,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// InvalidParameter creates an error for an argument the SDK refuses to send.
// The body of the returned error is a *ParameterErrorData.
func InvalidParameter(param string, value interface{}, reason string) *APIError {
	return newError(
		KindParameter,
		fmt.Sprintf("Invalid parameter '%s': %s", param, reason),
		0,
		Classification{
			Reason:         "Invalid Parameter",
			ResolutionHint: fmt.Sprintf("Fix '%s' and call again: %s.", param, reason),
			HelpLinks:      []string{LinkReadme},
		},
		&ParameterErrorData{Parameter: param, Value: value, Reason: reason},
		nil,
	)
}

// MissingParameter creates an error for a required argument that is empty
func MissingParameter(param string) *APIError {
	return newError(
		KindParameter,
		fmt.Sprintf("Missing required parameter: %s", param),
		0,
		Classification{
			Reason:         "Missing Parameter",
			ResolutionHint: fmt.Sprintf("Provide a value for '%s'.", param),
			HelpLinks:      []string{LinkReadme},
		},
		&ParameterErrorData{Parameter: param, Reason: "required"},
		nil,
	)
}

// ParameterTooLarge creates an error for a numeric argument above its limit
func ParameterTooLarge(param string, value, max int) *APIError {
	return InvalidParameter(param, value, fmt.Sprintf("must not exceed %d, got %d", max, value))
}

// ConflictingParameters creates an error for two arguments that cannot be combined
func ConflictingParameters(param, other, reason string) *APIError {
	return newError(
		KindParameter,
		fmt.Sprintf("Parameter '%s' cannot be combined with '%s': %s", param, other, reason),
		0,
		Classification{
			Reason:         "Conflicting Parameters",
			ResolutionHint: fmt.Sprintf("Drop '%s' or change '%s'.", param, other),
			HelpLinks:      []string{LinkReadme},
		},
		&ParameterErrorData{Parameter: param, Reason: reason},
		nil,
	)
}

// UnsupportedAuthMethod creates an error for an operation the configured
// credential cannot perform, such as generating a token from a session cookie.
func UnsupportedAuthMethod(method, operation string) *APIError {
	return newError(
		KindToken,
		fmt.Sprintf("Authentication method '%s' does not support %s", method, operation),
		0,
		Classification{
			Reason:         "Unsupported Authentication Method",
			ResolutionHint: "Use a service account or user account credential for this operation.",
			HelpLinks:      authLinks,
		},
		nil,
		nil,
	)
}
