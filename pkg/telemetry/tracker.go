package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/observability"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/utils"
)

// CustomMetricsFunc derives extra tool_metadata entries from a finished call
type CustomMetricsFunc func(params map[string]interface{}, output interface{}, duration time.Duration) map[string]interface{}

// Operation is the body of a tracked call
type Operation func(ctx context.Context) (interface{}, error)

// Tool is a named operation taking keyword parameters
type Tool struct {
	Name string
	// Metrics is optional
	Metrics CustomMetricsFunc
	Run     func(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// Tracker measures tool calls and reports them. Each call gets a span and a
// metrics sample; a ToolEvent is dispatched when a Dispatcher is set.
type Tracker struct {
	dispatcher  *Dispatcher
	toolVersion string
	logger      logging.Logger
	metrics     *observability.Metrics
	tracing     *observability.Tracing
	now         func() time.Time
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the logger
func WithTrackerLogger(logger logging.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithTrackerMetrics records tool call latency and outcome
func WithTrackerMetrics(metrics *observability.Metrics) TrackerOption {
	return func(t *Tracker) {
		t.metrics = metrics
	}
}

// WithTrackerTracing opens a span per tool call
func WithTrackerTracing(tracing *observability.Tracing) TrackerOption {
	return func(t *Tracker) {
		t.tracing = tracing
	}
}

// NewTracker creates a tracker. dispatcher may be nil, in which case calls
// are measured but no events are sent.
func NewTracker(dispatcher *Dispatcher, toolVersion string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		dispatcher:  dispatcher,
		toolVersion: toolVersion,
		logger:      logging.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithFields(logging.Component("ToolTracker"))
	return t
}

// Track runs op as the tool named tool and reports it. The result of op is
// returned unchanged; reporting never alters it. A panic in op is reported
// as a failed call and then re-raised.
func (t *Tracker) Track(ctx context.Context, tool string, params map[string]interface{}, metricsFn CustomMetricsFunc, op Operation) (output interface{}, err error) {
	ctx, span := t.tracing.StartToolSpan(ctx, tool)
	started := t.now()

	defer func() {
		recovered := recover()
		callErr := err
		if recovered != nil {
			callErr = utils.PanicError(recovered)
		}

		ev := &ToolEvent{
			ToolName:    tool,
			ToolVersion: t.toolVersion,
			Params:      params,
			Output:      output,
			Err:         callErr,
			Duration:    t.now().Sub(started),
			Timestamp:   started,
		}
		if metricsFn != nil {
			ev.CustomMetrics = t.customMetrics(metricsFn, ev)
		}
		t.report(ev, span)
		span.End()

		if recovered != nil {
			panic(recovered)
		}
	}()

	return op(ctx)
}

// Wrap returns tool's Run with tracking composed around it
func (t *Tracker) Wrap(tool Tool) func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return t.Track(ctx, tool.Name, params, tool.Metrics, func(ctx context.Context) (interface{}, error) {
			return tool.Run(ctx, params)
		})
	}
}

func (t *Tracker) customMetrics(fn CustomMetricsFunc, ev *ToolEvent) (metrics map[string]interface{}) {
	defer utils.Recover(func(recovered interface{}, _ []byte) {
		t.logger.Warn("Custom metrics function failed",
			logging.String("tool", ev.ToolName),
			logging.ErrorField(utils.PanicError(recovered)),
		)
		metrics = nil
	})
	return fn(ev.Params, ev.Output, ev.Duration)
}

func (t *Tracker) report(ev *ToolEvent, span trace.Span) {
	failed := ev.Failed()
	t.metrics.RecordToolCall(ev.ToolName, !failed, ev.Duration)

	payload := ev.Payload()
	span.SetAttributes(
		attribute.Int("catalog.tool.status_code", payload.StatusCode),
		attribute.Int("catalog.tool.context_char_count", payload.ContextCharCount),
	)
	if failed {
		reason := "tool returned an error"
		if payload.ErrorMessage != nil {
			reason = *payload.ErrorMessage
		}
		observability.RecordError(span, fmt.Errorf("%s: %s", ev.ToolName, reason))
	}

	t.logger.Debug("Tool call finished",
		logging.String("tool", ev.ToolName),
		logging.Bool("success", !failed),
		logging.Duration("duration", ev.Duration),
	)

	if t.dispatcher != nil {
		t.dispatcher.Dispatch(ev)
	}
}
