// Package blog implements b1b's wire log format (spec.md §6) as a
// log/slog.Handler: line-buffered "LEVEL: message", optionally prefixed
// with an RFC-3164 "<N>" priority tag and a "file:line:" debug annotation.
package blog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
)

// Custom levels extending the standard four to cover spec.md's full
// taxonomy (§7): NOTICE, FATAL ("CRIT" in RFC-3164 terms), and ABORT
// ("ALERT").
const (
	LevelNotice slog.Level = 2
	LevelFatal  slog.Level = 12
	LevelAbort  slog.Level = 16
)

// syslogPriority is the RFC-3164 severity number for each level b1b emits.
var syslogPriority = map[slog.Level]int{
	slog.LevelDebug: 7,
	slog.LevelInfo:  6,
	LevelNotice:     5,
	slog.LevelWarn:  4,
	slog.LevelError: 3,
	LevelFatal:      2,
	LevelAbort:      1,
}

// levelName is the wire-format level name for each level, matching the
// original program's level_names table.
var levelName = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	LevelNotice:     "NOTICE",
	slog.LevelWarn:  "WARNING",
	slog.LevelError: "ERROR",
	LevelFatal:      "FATAL",
	LevelAbort:      "ABORT",
}

// Options configures a Handler.
type Options struct {
	// Debug enables DEBUG-level output and file:line annotations.
	Debug bool
	// Tag prepends an RFC-3164 "<N>" priority number to every line.
	Tag bool
}

// Handler is a slog.Handler producing b1b's wire format.
type Handler struct {
	mu   *sync.Mutex
	w    io.Writer
	opts Options
	// attrs holds attributes accumulated via WithAttrs, rendered as a
	// trailing " key=value" suffix -- the original format has no room
	// for structured fields, but b1b's call sites never attach any, so
	// this only activates for call sites that choose to add context.
	attrs []slog.Attr
}

// NewHandler creates a Handler writing to w.
func NewHandler(w io.Writer, opts Options) *Handler {
	return &Handler{mu: &sync.Mutex{}, w: w, opts: opts}
}

// Enabled reports whether level would be written: DEBUG is suppressed
// unless Debug is enabled, matching spec.md's "level > INFO requires
// debug" filter; everything else always passes.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	if level < slog.LevelInfo {
		return h.opts.Debug
	}
	return true
}

// Handle writes one log line in b1b's wire format.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if h.opts.Tag {
		pri, ok := syslogPriority[r.Level]
		if !ok {
			pri = syslogPriority[slog.LevelInfo]
		}
		buf.WriteByte('<')
		buf.WriteString(strconv.Itoa(pri))
		buf.WriteByte('>')
	}

	if h.opts.Debug {
		if file, line := callerFileLine(r.PC); file != "" {
			fmt.Fprintf(&buf, "%s:%d: ", file, line)
		}
	}

	name, ok := levelName[r.Level]
	if !ok {
		name = r.Level.String()
	}
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value)
		return true
	})

	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a Handler that appends attrs to every record it
// handles.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup is a no-op: b1b's flat wire format has no grouping concept.
func (h *Handler) WithGroup(_ string) slog.Handler {
	return h
}

func callerFileLine(pc uintptr) (string, int) {
	if pc == 0 {
		return "", 0
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	return f.File, f.Line
}
