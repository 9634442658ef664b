package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/observability"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/utils"
)

// DefaultEndpoint is the tool event path, relative to the base URL
const DefaultEndpoint = "/ai/api/v1/tool/event/"

// Config configures event delivery
type Config struct {
	// Enabled turns tool event reporting on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Timeout bounds each delivery attempt
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Retry bounds attempts after a retryable failure
	Retry transport.RetryPolicy `json:"retry" yaml:"retry"`

	// MaxInFlight bounds concurrent deliveries; events beyond it are dropped
	MaxInFlight int64 `json:"max_in_flight" yaml:"max_in_flight"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the event
// endpoint. After FailureThreshold consecutive failed deliveries, events are
// rejected without a call until OpenTimeout passes.
type BreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
	// HalfOpenRequests is the number of trial deliveries let through after
	// the open period
	HalfOpenRequests uint32 `json:"half_open_requests" yaml:"half_open_requests"`
}

// DefaultConfig returns delivery defaults: 5s per attempt, two retries
// starting at 500ms.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Timeout:     5 * time.Second,
		Retry:       transport.DefaultRetryPolicy(),
		MaxInFlight: 16,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			HalfOpenRequests: 1,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retry.InitialRetryDelay <= 0 {
		c.Retry.InitialRetryDelay = d.Retry.InitialRetryDelay
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = d.Breaker.FailureThreshold
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = d.Breaker.OpenTimeout
	}
	if c.Breaker.HalfOpenRequests == 0 {
		c.Breaker.HalfOpenRequests = d.Breaker.HalfOpenRequests
	}
	return c
}

// Dispatcher delivers tool events in the background. Dispatch never blocks:
// when MaxInFlight deliveries are already running the event is dropped.
type Dispatcher struct {
	url     string
	timeout time.Duration
	sender  *transport.EventSender
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
	metrics *observability.Metrics

	// ctx bounds every delivery; cancel aborts them when Close gives up
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records delivery outcomes
func WithMetrics(metrics *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher posting to url through exec
func NewDispatcher(url string, exec transport.Executor, config Config, opts ...DispatcherOption) *Dispatcher {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		url:     url,
		timeout: config.Timeout,
		sem:     semaphore.NewWeighted(config.MaxInFlight),
		logger:  logging.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithFields(logging.Component("TelemetryDispatcher"))
	d.sender = transport.NewEventSender(exec, config.Retry, d.logger)

	threshold := config.Breaker.FailureThreshold
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tool-events",
		MaxRequests: config.Breaker.HalfOpenRequests,
		Timeout:     config.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("Tool event circuit breaker changed state",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	})

	return d
}

// Dispatch schedules delivery of ev and returns at once. It reports whether
// the event was accepted; a closed or saturated dispatcher drops it.
func (d *Dispatcher) Dispatch(ev *ToolEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.drop(ev, "dispatcher closed")
		return false
	}
	if !d.sem.TryAcquire(1) {
		d.drop(ev, "too many deliveries in flight")
		return false
	}

	payload := ev.Payload()
	d.wg.Add(1)
	utils.Go(func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		d.deliver(payload)
	}, func(recovered interface{}, stack []byte) {
		d.metrics.RecordTelemetry(observability.TelemetryFailed)
		d.logger.Error("Tool event delivery panicked",
			logging.String("tool", payload.ToolName),
			logging.ErrorField(utils.PanicError(recovered)),
			logging.String("stack", string(stack)),
		)
	})
	return true
}

func (d *Dispatcher) drop(ev *ToolEvent, reason string) {
	d.metrics.RecordTelemetry(observability.TelemetryDropped)
	d.logger.Debug("Dropped tool event",
		logging.String("tool", ev.ToolName),
		logging.String("reason", reason),
	)
}

func (d *Dispatcher) deliver(payload Payload) {
	req := transport.EventRequest(d.url, payload, d.timeout)
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.sender.Send(d.ctx, req)
	})

	switch {
	case err == nil:
		d.metrics.RecordTelemetry(observability.TelemetryDelivered)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.metrics.RecordTelemetry(observability.TelemetryRejected)
		d.logger.Debug("Tool event rejected by open circuit", logging.String("tool", payload.ToolName))
	default:
		d.metrics.RecordTelemetry(observability.TelemetryFailed)
		d.logger.WithError(err).Warn("Failed to deliver tool event", logging.String("tool", payload.ToolName))
	}
}

// Flush waits until every accepted event has been delivered or given up on,
// or until ctx is done.
func (d *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flushing tool events: %w", ctx.Err())
	}
}

// Close stops accepting events and waits for in-flight deliveries. When ctx
// ends first, the remaining deliveries are cancelled. Close is idempotent.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	err := d.Flush(ctx)
	d.cancel()
	if err != nil {
		// cancelled deliveries return promptly
		d.wg.Wait()
	}
	return err
}

// BreakerState reports the circuit breaker state: "closed", "open" or
// "half-open"
func (d *Dispatcher) BreakerState() string {
	return d.breaker.State().String()
}
