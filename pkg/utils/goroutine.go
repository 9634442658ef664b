package utils

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// PanicHandler receives the recovered value and stack of a panicking goroutine
type PanicHandler func(recovered interface{}, stack []byte)

// Go runs fn on a new goroutine. A panic inside fn is recovered and passed
// to onPanic instead of crashing the process; onPanic may be nil.
func Go(fn func(), onPanic PanicHandler) {
	go func() {
		defer Recover(onPanic)
		fn()
	}()
}

// Recover must be deferred directly. It stops a panic and reports it to onPanic.
func Recover(onPanic PanicHandler) {
	if r := recover(); r != nil && onPanic != nil {
		onPanic(r, debug.Stack())
	}
}

// PanicError converts a recovered value into an error
func PanicError(recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("recovered panic: %w", err)
	}
	return fmt.Errorf("recovered panic: %v", recovered)
}

// Reporter is the part of testing.TB the leak detector needs
type Reporter interface {
	Helper()
	Errorf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// GoroutineLeakDetector fails a test when goroutines outlive the code under
// test, such as an abandoned stream or an unclosed telemetry dispatcher.
type GoroutineLeakDetector struct {
	t              Reporter
	initialCount   int
	allowedGrowth  int
	checkInterval  time.Duration
	stabilizeDelay time.Duration
}

// NewGoroutineLeakDetector creates a detector reporting to t
func NewGoroutineLeakDetector(t Reporter) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:              t,
		checkInterval:  100 * time.Millisecond,
		stabilizeDelay: 200 * time.Millisecond,
	}
}

// Start records the baseline goroutine count
func (d *GoroutineLeakDetector) Start() {
	time.Sleep(d.stabilizeDelay)
	d.initialCount = runtime.NumGoroutine()
}

// Check reports an error when the count grew by more than the allowance.
// Idle HTTP keep-alive connections count, so callers should close idle
// connections first or allow for them.
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	finalCount := -1
	deadline := time.Now().Add(d.stabilizeDelay + 2*d.checkInterval)
	for {
		count := runtime.NumGoroutine()
		if finalCount < 0 || count < finalCount {
			finalCount = count
		}
		if finalCount-d.initialCount <= d.allowedGrowth || time.Now().After(deadline) {
			break
		}
		time.Sleep(d.checkInterval)
	}

	leaked := finalCount - d.initialCount
	if leaked <= d.allowedGrowth {
		return
	}

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	d.t.Errorf("goroutine leak: started with %d, ended with %d (leaked %d, allowed %d)",
		d.initialCount, finalCount, leaked, d.allowedGrowth)
	d.t.Logf("goroutine stacks:\n%s", buf[:n])
}

// SetAllowedGrowth sets how many extra goroutines are tolerated
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetStabilizeDelay sets how long Start and Check wait for goroutines to settle
func (d *GoroutineLeakDetector) SetStabilizeDelay(delay time.Duration) *GoroutineLeakDetector {
	d.stabilizeDelay = delay
	return d
}
