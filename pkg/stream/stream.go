// Package stream decodes event-stream response bodies into JSON events.
//
// A body is a sequence of newline-delimited frames. Lines starting with
// "data:" carry one JSON object; every other line is ignored, and a data
// line that does not decode is logged and skipped. A Stream yields either
// every decoded event in arrival order (Incremental) or only the last one
// (Aggregate).
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/observability"
)

// Mode selects how a stream is consumed
type Mode int

const (
	// Aggregate reads the whole body and yields only the last event
	Aggregate Mode = iota
	// Incremental yields every event as it arrives
	Incremental
)

func (m Mode) String() string {
	switch m {
	case Aggregate:
		return "aggregate"
	case Incremental:
		return "incremental"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "aggregate" or "incremental"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "aggregate":
		return Aggregate, nil
	case "incremental":
		return Incremental, nil
	default:
		return Aggregate, apierrors.InvalidParameter("stream_mode", s, "must be aggregate or incremental")
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so modes can be
// written by name in JSON and YAML configuration
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Event is one decoded data frame
type Event map[string]interface{}

const dataPrefix = "data:"

// Decoder turns response bodies into Streams
type Decoder struct {
	mode    Mode
	nested  bool
	logger  logging.Logger
	metrics *observability.Metrics
}

// Option configures a Decoder
type Option func(*Decoder)

// WithMode sets the consumption mode; the default is Aggregate
func WithMode(mode Mode) Option {
	return func(d *Decoder) {
		d.mode = mode
	}
}

// WithNestedJSON enables decoding of JSON carried as text in message parts
func WithNestedJSON(enabled bool) Option {
	return func(d *Decoder) {
		d.nested = enabled
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// WithMetrics counts decoded and skipped frames
func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Decoder) {
		d.metrics = metrics
	}
}

// NewDecoder creates a decoder
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{mode: Aggregate, logger: logging.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithFields(logging.Component("StreamDecoder"))
	return d
}

// Mode returns the decoder's consumption mode
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Decode wraps body in a Stream. The Stream owns body and closes it when
// exhausted, on a read error, or on Close.
func (d *Decoder) Decode(body io.ReadCloser) *Stream {
	return &Stream{
		body:    body,
		reader:  bufio.NewReader(body),
		decoder: d,
	}
}

// Stream is a finite, non-restartable sequence of events. It is not safe
// for concurrent use, except that Close may be called from any goroutine.
//
//	for s.Next() {
//		ev := s.Event()
//		...
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	decoder *Decoder

	event     Event
	err       error
	done      bool
	closeOnce sync.Once
	closed    atomic.Bool
}

// Next advances to the next event. It returns false when the stream is
// exhausted, failed, or closed.
func (s *Stream) Next() bool {
	if s.done || s.closed.Load() {
		s.event = nil
		return false
	}

	if s.decoder.mode == Aggregate {
		var last Event
		for {
			ev, ok := s.readEvent()
			if !ok {
				break
			}
			last = ev
		}
		s.done = true
		s.event = last
		return last != nil && s.err == nil
	}

	ev, ok := s.readEvent()
	if !ok {
		s.done = true
		s.event = nil
		return false
	}
	s.event = ev
	return true
}

// Event returns the event produced by the last successful Next
func (s *Stream) Event() Event {
	return s.event
}

// Err returns the read error that ended the stream, if any. Malformed
// frames are skipped and never reported here.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying connection. It is safe to call more than
// once and before the stream is exhausted.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.body.Close()
	})
	return err
}

// Events returns an iterator over the remaining events. Breaking out of the
// loop closes the stream; check Err after the loop.
func (s *Stream) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Event()) {
				return
			}
		}
	}
}

// Collect drains the stream and closes it
func (s *Stream) Collect() ([]Event, error) {
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events, s.Err()
}

// readEvent returns the next decodable data frame. ok is false at the end
// of the body or on a read error, after which the body is closed.
func (s *Stream) readEvent() (Event, bool) {
	if s.done {
		return nil, false
	}
	for {
		line, readErr := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ok := s.decodeLine(line); ok {
				if readErr != nil {
					s.finish(readErr)
				}
				return ev, true
			}
		}
		if readErr != nil {
			s.finish(readErr)
			return nil, false
		}
	}
}

// finish records a terminal read error and releases the body
func (s *Stream) finish(readErr error) {
	if !errors.Is(readErr, io.EOF) && !s.closed.Load() {
		if apiErr, ok := apierrors.As(readErr); ok {
			s.err = apiErr
		} else {
			s.err = apierrors.ConnectionFailed("stream", readErr)
		}
		s.decoder.logger.WithError(s.err).Warn("Event stream ended with a read error")
	}
	s.done = true
	s.Close()
}

func (s *Stream) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return nil, false
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil || ev == nil {
		s.decoder.metrics.RecordStreamFrame("skipped")
		s.decoder.logger.Warn("Skipping malformed data frame", logging.Int("frame_bytes", len(payload)))
		return nil, false
	}
	s.decoder.metrics.RecordStreamFrame("decoded")

	if s.decoder.nested {
		ev = normalizeNested(ev)
	}
	return ev, true
}
