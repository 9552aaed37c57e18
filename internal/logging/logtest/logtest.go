// Package logtest provides a slog handler that records log entries for assertions in tests.
package logtest

import (
	"context"
	"log/slog"
	"sync"
)

// Record is a captured log entry
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Recorder collects records emitted through loggers created by New
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// New returns a logger that records everything at debug level and above
func New() (*slog.Logger, *Recorder) {
	rec := &Recorder{}
	return slog.New(&handler{rec: rec}), rec
}

// Records returns a copy of the captured records
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Count returns the number of records with the given message
func (r *Recorder) Count(message string) int {
	n := 0
	for _, rec := range r.Records() {
		if rec.Message == message {
			n++
		}
	}
	return n
}

// WarnCount returns the number of records logged at warn level
func (r *Recorder) WarnCount() int {
	return r.levelCount(slog.LevelWarn)
}

// ErrorCount returns the number of records logged at error level
func (r *Recorder) ErrorCount() int {
	return r.levelCount(slog.LevelError)
}

func (r *Recorder) levelCount(level slog.Level) int {
	n := 0
	for _, rec := range r.Records() {
		if rec.Level == level {
			n++
		}
	}
	return n
}

func (r *Recorder) add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

type handler struct {
	rec   *Recorder
	attrs []slog.Attr
}

func (*handler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	h.rec.add(Record{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{rec: h.rec, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

// Groups are flattened; tests only look at keys.
func (h *handler) WithGroup(string) slog.Handler {
	return h
}
