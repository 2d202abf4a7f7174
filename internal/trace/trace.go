// Package trace provides a small leveled tracer for the mid-end.
//
// Optimization passes use it to record refusals and other decisions that
// are interesting when debugging a miscompile but are never user-visible
// diagnostics.
package trace

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Level controls tracing verbosity.
type Level uint8

const (
	// LevelOff disables tracing.
	LevelOff Level = iota
	// LevelPhase traces pipeline phase boundaries.
	LevelPhase
	// LevelPass traces per-pass activity, including pass refusals.
	LevelPass
	// LevelDebug traces everything, including per-instruction rewrites.
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelPhase:
		return "phase"
	case LevelPass:
		return "pass"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "off":
		return LevelOff, nil
	case "phase":
		return LevelPhase, nil
	case "pass":
		return LevelPass, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|phase|pass|debug)", s)
	}
}

// Tracer receives trace events. Implementations must be goroutine-safe:
// independent functions are optimized in parallel.
type Tracer interface {
	// Emit records an event at the given level.
	Emit(level Level, format string, args ...any)

	// Level returns the current tracing level.
	Level() Level

	// Enabled reports whether events at the given level are recorded.
	Enabled(level Level) bool
}

type nopTracer struct{}

func (nopTracer) Emit(Level, string, ...any) {}
func (nopTracer) Level() Level               { return LevelOff }
func (nopTracer) Enabled(Level) bool         { return false }

// Nop is the package-level no-op tracer.
var Nop Tracer = nopTracer{}

// Writer is a Tracer that writes one line per event to an io.Writer.
type Writer struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
	start time.Time
}

func NewWriter(out io.Writer, level Level) *Writer {
	return &Writer{out: out, level: level, start: time.Now()}
}

func (w *Writer) Level() Level { return w.level }

func (w *Writer) Enabled(level Level) bool {
	return w.level >= level && level != LevelOff
}

func (w *Writer) Emit(level Level, format string, args ...any) {
	if !w.Enabled(level) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	elapsed := time.Since(w.start)
	fmt.Fprintf(w.out, "[%8.3fms %s] ", float64(elapsed)/float64(time.Millisecond), level)
	fmt.Fprintf(w.out, format, args...)
	fmt.Fprintln(w.out)
}
