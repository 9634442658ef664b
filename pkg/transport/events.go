package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
)

// EventSender delivers telemetry events with bounded retries. It is the only
// place in the SDK that retries a failed call.
type EventSender struct {
	exec   Executor
	policy RetryPolicy
	logger logging.Logger

	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEventSender creates a sender that calls exec
func NewEventSender(exec Executor, policy RetryPolicy, logger logging.Logger) *EventSender {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &EventSender{
		exec:   exec,
		policy: policy,
		logger: logger.WithFields(logging.Component("EventSender")),
		sleep:  sleepContext,
	}
}

// ShouldRetryEvent reports whether a failed delivery is worth another
// attempt: the classifier marked it retryable, or no response arrived.
func ShouldRetryEvent(err error) bool {
	apiErr, ok := apierrors.As(err)
	if !ok {
		return false
	}
	return apiErr.IsRetryable() || apiErr.Kind() == apierrors.KindTransport
}

// Send posts req, retrying per the policy with exponential backoff. It
// returns the last error once retries are exhausted or the failure is not
// retryable.
func (s *EventSender) Send(ctx context.Context, req *Request) error {
	maxAttempts := s.policy.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.policy.Backoff(attempt)
			s.logger.Debug("Retrying tool event",
				logging.Int("attempt", attempt),
				logging.Int("max_retries", s.policy.MaxRetries),
				logging.Duration("delay", delay),
			)
			if err := s.sleep(ctx, delay); err != nil {
				return fmt.Errorf("tool event delivery cancelled: %w", err)
			}
		}

		_, err := s.exec.Execute(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err

		if !ShouldRetryEvent(err) {
			return err
		}
	}

	return lastErr
}

// Post sends req and swallows every failure, including panics from the
// executor, logging instead. Telemetry never interrupts the caller.
func (s *EventSender) Post(ctx context.Context, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Tool event delivery panicked", logging.Any("panic", r))
		}
	}()

	if err := s.Send(ctx, req); err != nil {
		s.logger.WithError(err).Warn("Failed to deliver tool event")
	}
}

// EventRequest builds the POST for one event payload
func EventRequest(url string, event interface{}, timeout time.Duration) *Request {
	return &Request{
		Operation: "tool_event",
		Method:    http.MethodPost,
		URL:       url,
		JSON:      event,
		Timeout:   timeout,
		Scope:     ScopeCatalog,
	}
}

// PostEvent delivers one telemetry event to url, retrying up to maxRetries
// times on retryable failures. It never returns an error.
func (e *RequestExecutor) PostEvent(ctx context.Context, url string, event interface{}, timeout time.Duration, maxRetries int) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = maxRetries
	NewEventSender(e, policy, e.logger).Post(ctx, EventRequest(url, event, timeout))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
