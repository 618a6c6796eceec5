// Package events implements the Event Logger: a buffered, multi-writer,
// time-stamped event stream with correlation ids. Grounded on
// internal/logging/logger.go's level-gated Initialize/Info/Debug/Error
// shape, generalized into a plain instance (no package-level singleton, per
// spec.md §9's "no process-wide mutable singleton" design note) with
// pluggable io.Writer sinks.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudshipai/mrforge/internal/variables"
)

// Record is one event in the log, matching spec.md §3's Event Record.
type Record struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Event         string                 `json:"event"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Sink is a type-erased writer; file JSONL, stdout, or an in-memory sink for tests.
type Sink interface {
	io.Writer
}

// Logger buffers Records and flushes them to every registered Sink in
// sequence. A writer error aborts that flush but does not poison the
// logger for subsequent flushes.
type Logger struct {
	mu        sync.Mutex
	sinks     []Sink
	buffer    []Record
	threshold int
	ticker    *time.Ticker
	done      chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithFlushThreshold sets the buffer size that triggers an automatic flush.
func WithFlushThreshold(n int) Option {
	return func(l *Logger) { l.threshold = n }
}

// WithPeriodicFlush starts a background goroutine that flushes every interval.
func WithPeriodicFlush(interval time.Duration) Option {
	return func(l *Logger) {
		l.ticker = time.NewTicker(interval)
		go func() {
			for {
				select {
				case <-l.ticker.C:
					_ = l.Flush()
				case <-l.done:
					return
				}
			}
		}()
	}
}

// New returns a Logger writing to the given sinks, configured by opts.
func New(sinks []Sink, opts ...Option) *Logger {
	l := &Logger{sinks: sinks, threshold: 50, done: make(chan struct{})}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit appends a new Record under a fresh id, flushing if the buffer has
// reached its threshold. Metadata passes through maskMetadata first, per
// spec.md §4.3's Security invariant: no captured secret may reach a sink in
// plaintext, regardless of which call site produced it.
func (l *Logger) Emit(correlationID, event string, metadata map[string]interface{}) {
	l.mu.Lock()
	l.buffer = append(l.buffer, Record{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Event:         event,
		Metadata:      maskMetadata(metadata),
	})
	shouldFlush := len(l.buffer) >= l.threshold
	l.mu.Unlock()

	if shouldFlush {
		_ = l.Flush()
	}
}

// maskMetadata applies variables.MaskForDisplay to every string-valued entry
// and to each entry of a map[string]string value, and scrubs each element of
// a []string value by secret shape (variables.MaskValueShapes), so secrets
// captured into event metadata never reach a JSONL sink in plaintext. Values
// of other types pass through unchanged, whatever their key.
func maskMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = variables.MaskForDisplay(k, val)
		case map[string]string:
			out[k] = variables.MaskSnapshot(val)
		case []string:
			masked := make([]string, len(val))
			for i, s := range val {
				masked[i] = variables.MaskValueShapes(s)
			}
			out[k] = masked
		default:
			out[k] = v
		}
	}
	return out
}

// Flush writes every buffered record to each sink in order. Writers run
// sequentially per flush; any writer error aborts that flush (the unflushed
// records remain buffered for the next attempt) but does not poison the
// logger.
func (l *Logger) Flush() error {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	for _, sink := range l.sinks {
		w := bufio.NewWriter(sink)
		for _, rec := range pending {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("events: marshal record: %w", err)
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				l.mu.Lock()
				l.buffer = append(pending, l.buffer...)
				l.mu.Unlock()
				return fmt.Errorf("events: write: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			l.mu.Lock()
			l.buffer = append(pending, l.buffer...)
			l.mu.Unlock()
			return fmt.Errorf("events: flush sink: %w", err)
		}
	}
	return nil
}

// Shutdown stops any periodic flush goroutine and performs a final flush,
// matching spec.md §3's "writers must flush before signalling job completion."
func (l *Logger) Shutdown() error {
	if l.ticker != nil {
		l.ticker.Stop()
		close(l.done)
	}
	return l.Flush()
}

// MemorySink is an in-memory Sink for tests, grounded on the teacher's
// logging package being trivially substitutable in tests.
type MemorySink struct {
	mu    sync.Mutex
	lines [][]byte
}

func (m *MemorySink) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	m.lines = append(m.lines, cp)
	return len(p), nil
}

// Lines returns every line written so far.
func (m *MemorySink) Lines() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.lines))
	copy(out, m.lines)
	return out
}
