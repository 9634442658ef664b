// Package telemetry reports tool calls to the catalog's tool event endpoint.
//
// A Tracker wraps an operation, measures it and builds a ToolEvent. The
// event is handed to a Dispatcher, which delivers it in the background with
// bounded retries. Delivery is best effort: it never blocks the tracked call
// and its failures are logged, never returned.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
)

// ToolVersion renders the tool_version reported with every event:
// "<dist>/sdk-<version>", or "sdk-<version>" without a distribution.
func ToolVersion(distVersion, sdkVersion string) string {
	v := "sdk-" + sdkVersion
	if distVersion != "" {
		v = distVersion + "/" + v
	}
	return v
}

// ToolEvent is one completed tool call
type ToolEvent struct {
	ToolName    string
	ToolVersion string

	// Params are the call arguments; CustomMetrics are merged over them
	Params        map[string]interface{}
	CustomMetrics map[string]interface{}

	// Output is the value returned by the call, nil when it failed
	Output   interface{}
	Err      error
	Duration time.Duration

	Timestamp time.Time
}

// Payload is the JSON body accepted by the tool event endpoint
type Payload struct {
	ToolName          string                 `json:"tool_name"`
	ToolVersion       string                 `json:"tool_version"`
	ToolMetadata      map[string]interface{} `json:"tool_metadata"`
	ContextCharCount  int                    `json:"context_char_count"`
	RequestDurationMs int64                  `json:"request_duration_ms"`
	StatusCode        int                    `json:"status_code"`
	ErrorMessage      *string                `json:"error_message"`
	Timestamp         string                 `json:"timestamp"`
}

// Failed reports whether the call returned an error or an output map
// carrying an "error" key
func (e *ToolEvent) Failed() bool {
	if e.Err != nil {
		return true
	}
	_, ok := outputError(e.Output)
	return ok
}

// Payload converts the event to the wire format
func (e *ToolEvent) Payload() Payload {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	metadata := make(map[string]interface{}, len(e.Params)+len(e.CustomMetrics))
	for k, v := range e.Params {
		metadata[k] = v
	}
	for k, v := range e.CustomMetrics {
		metadata[k] = v
	}

	output := e.Output
	if e.Err != nil && output == nil {
		output = map[string]interface{}{"error": e.Err.Error()}
	}

	status, message := e.outcome()
	return Payload{
		ToolName:          e.ToolName,
		ToolVersion:       e.ToolVersion,
		ToolMetadata:      metadata,
		ContextCharCount:  charCount(output),
		RequestDurationMs: e.Duration.Milliseconds(),
		StatusCode:        status,
		ErrorMessage:      message,
		Timestamp:         ts.UTC().Format(time.RFC3339Nano),
	}
}

// outcome maps the call result to a status code and error message. Success
// is 200; a failure uses the status it carries, or 0 when none is known.
func (e *ToolEvent) outcome() (int, *string) {
	if e.Err != nil {
		msg := e.Err.Error()
		status := 0
		if apiErr, ok := apierrors.As(e.Err); ok {
			status, _ = apiErr.StatusCode()
			msg = apiErr.Message()
		}
		return status, &msg
	}

	detail, ok := outputError(e.Output)
	if !ok {
		return 200, nil
	}
	switch d := detail.(type) {
	case string:
		return 0, &d
	case map[string]interface{}:
		status := 0
		if code, ok := d["status_code"].(float64); ok {
			status = int(code)
		} else if code, ok := d["status_code"].(int); ok {
			status = code
		}
		var msg *string
		if m, ok := d["message"].(string); ok {
			msg = &m
		}
		return status, msg
	default:
		return 0, nil
	}
}

func outputError(output interface{}) (interface{}, bool) {
	m, ok := output.(map[string]interface{})
	if !ok {
		return nil, false
	}
	detail, ok := m["error"]
	return detail, ok
}

// charCount is the length in characters of the JSON rendering of v
func charCount(v interface{}) int {
	if v == nil {
		return 0
	}
	data, err := json.Marshal(v)
	if err != nil {
		return utf8.RuneCountInString(fmt.Sprint(v))
	}
	return utf8.RuneCount(data)
}
