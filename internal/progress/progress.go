// Package progress defines the instrumentation interface the orchestrator
// reports through. Sinks are fire-and-forget: no return value is consumed
// and no pipeline logic may live behind them.
package progress

import (
	"fmt"
	"io"
)

// Level classifies a log line.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Sink receives stage lifecycle and log events for one run.
type Sink interface {
	StartStage(name string)
	FinishStage(name string, result string)
	Log(level Level, message string)
}

// WriterSink prints progress lines to a writer, one event per line.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink creates a WriterSink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) StartStage(name string) {
	fmt.Fprintf(s.w, "==> %s\n", name)
}

func (s *WriterSink) FinishStage(name string, result string) {
	fmt.Fprintf(s.w, "  → %s: %s\n", name, result)
}

func (s *WriterSink) Log(level Level, message string) {
	fmt.Fprintf(s.w, "  [%s] %s\n", level, message)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) StartStage(string)          {}
func (NopSink) FinishStage(string, string) {}
func (NopSink) Log(Level, string)          {}
