package client

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/catalog-sdk-go/pkg/auth"
	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/lineage"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/observability"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/stream"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/telemetry"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
)

// Config holds every tunable of a Client. Start from DefaultConfig; zero
// durations and limits in the Connection and Telemetry sections fall back to
// their defaults.
type Config struct {
	// DistVersion identifies the distribution embedding the SDK, e.g.
	// "langchain-1.2". It prefixes the User-Agent and the reported tool version.
	DistVersion string `json:"dist_version" yaml:"dist_version"`

	Connection transport.Config `json:"connection" yaml:"connection"`
	Streaming  StreamingConfig  `json:"streaming" yaml:"streaming"`
	Telemetry  telemetry.Config `json:"telemetry" yaml:"telemetry"`
	Endpoints  Endpoints        `json:"endpoints" yaml:"endpoints"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
}

// StreamingConfig controls how tool streams are decoded
type StreamingConfig struct {
	// Mode is "aggregate" (only the final event) or "incremental"
	Mode stream.Mode `json:"mode" yaml:"mode"`
	// NestedJSON decodes JSON carried as text in response parts
	NestedJSON bool `json:"nested_json" yaml:"nested_json"`
}

// Endpoints are the catalog paths, relative to the base URL
type Endpoints struct {
	auth.Endpoints `yaml:",inline"`

	Context     string `json:"context" yaml:"context"`
	BulkObjects string `json:"bulk_objects" yaml:"bulk_objects"`
	BulkLineage string `json:"bulk_lineage" yaml:"bulk_lineage"`
	// ToolStream contains one %s, replaced by the tool name
	ToolStream string `json:"tool_stream" yaml:"tool_stream"`
	ToolEvent  string `json:"tool_event" yaml:"tool_event"`
}

// LoggingConfig selects the default logger. It is ignored when a logger is
// passed with WithLogger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig enables Prometheus metrics
type MetricsConfig struct {
	Enabled                     bool `json:"enabled" yaml:"enabled"`
	observability.MetricsConfig `yaml:",inline"`
}

// TracingConfig enables OpenTelemetry tracing
type TracingConfig struct {
	Enabled                     bool `json:"enabled" yaml:"enabled"`
	observability.TracingConfig `yaml:",inline"`
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		Connection: transport.DefaultConfig(),
		Streaming:  StreamingConfig{Mode: stream.Aggregate},
		Telemetry:  telemetry.DefaultConfig(),
		Endpoints: Endpoints{
			Endpoints:   auth.DefaultEndpoints(),
			Context:     "/integration/v2/context/",
			BulkObjects: "/integration/v2/bulk_objects/",
			BulkLineage: lineage.DefaultEndpoint,
			ToolStream:  "/ai/api/v1/chats/tool/default/%s/stream",
			ToolEvent:   telemetry.DefaultEndpoint,
		},
		Logging: LoggingConfig{Level: "warn", Format: "text"},
		Metrics: MetricsConfig{MetricsConfig: observability.MetricsConfig{Namespace: "catalog_sdk"}},
		Tracing: TracingConfig{TracingConfig: observability.TracingConfig{
			ServiceName:  "catalog-sdk",
			ExporterType: observability.ExporterTypeNoop,
			SampleRate:   1.0,
		}},
	}
}

// LoadConfig reads a YAML document over DefaultConfig and validates the
// result. An empty document yields the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first impossible setting as a parameter error
func (c Config) Validate() error {
	for name, d := range map[string]int64{
		"connection.connect_timeout": int64(c.Connection.ConnectTimeout),
		"connection.read_timeout":    int64(c.Connection.ReadTimeout),
		"connection.request_timeout": int64(c.Connection.RequestTimeout),
		"telemetry.timeout":          int64(c.Telemetry.Timeout),
	} {
		if d < 0 {
			return apierrors.InvalidParameter(name, d, "must not be negative")
		}
	}

	switch c.Streaming.Mode {
	case stream.Aggregate, stream.Incremental:
	default:
		return apierrors.InvalidParameter("streaming.mode", c.Streaming.Mode, "must be aggregate or incremental")
	}

	if c.Telemetry.Retry.MaxRetries < 0 {
		return apierrors.InvalidParameter("telemetry.retry.max_retries", c.Telemetry.Retry.MaxRetries, "must not be negative")
	}
	if c.Telemetry.MaxInFlight < 0 {
		return apierrors.InvalidParameter("telemetry.max_in_flight", c.Telemetry.MaxInFlight, "must not be negative")
	}

	if strings.Count(c.Endpoints.ToolStream, "%s") != 1 {
		return apierrors.InvalidParameter("endpoints.tool_stream", c.Endpoints.ToolStream, "must contain exactly one %s for the tool name")
	}
	for name, path := range map[string]string{
		"endpoints.context":      c.Endpoints.Context,
		"endpoints.bulk_objects": c.Endpoints.BulkObjects,
		"endpoints.bulk_lineage": c.Endpoints.BulkLineage,
		"endpoints.tool_event":   c.Endpoints.ToolEvent,
	} {
		if !strings.HasPrefix(path, "/") {
			return apierrors.InvalidParameter(name, path, "must be a path starting with /")
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return apierrors.InvalidParameter("logging.level", c.Logging.Level, err.Error())
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return apierrors.InvalidParameter("logging.format", c.Logging.Format, "must be text or json")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return apierrors.InvalidParameter("tracing.sample_rate", c.Tracing.SampleRate, "must be between 0 and 1")
	}
	return nil
}

// newLogger builds the logger described by the Logging section
func (c LoggingConfig) newLogger(out io.Writer) logging.Logger {
	var formatter logging.Formatter = &logging.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
	}
	if c.Format == "json" {
		formatter = logging.NewJSONFormatter()
	}
	logger := logging.New(out, formatter)
	level, _ := logging.ParseLevel(c.Level)
	logger.SetLevel(level)
	return logger
}
