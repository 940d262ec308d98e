// Package log provides structured logging output for the firmware core and
// its command-line tools.
package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	// DefaultLogger returns a new formatted logger writing to os.Stderr.
	// Components call this once during construction and cache the result;
	// their WithLogger method replaces it afterwards.
	DefaultLogger = func() *Logger { return NewFormattedLogger(os.Stderr) }

	// SetDefault overrides the slog package's default logger; it does not
	// change what DefaultLogger returns.
	SetDefault = slog.SetDefault

	// LevelVar is a variable holding the current log level. It can be
	// changed at runtime, e.g. from a CLI flag.
	LevelVar = &slog.LevelVar{}
)

// NewFormattedLogger returns a logger that writes human-readable, formatted
// records to out.
func NewFormattedLogger(out io.Writer) *Logger {
	return slog.New(NewHandler(out))
}

// Handler implements slog.Handler with a compact, column-aligned format
// suited to a busy-poll firmware trace.
type Handler struct {
	mut *sync.Mutex
	out io.Writer

	opts  *slog.HandlerOptions
	group string
	attrs []Attr
}

// Options configures every Handler created by NewHandler.
var Options = &slog.HandlerOptions{
	AddSource:   true,
	Level:       LevelVar,
	ReplaceAttr: func(_ []string, attr Attr) Attr { return attr },
}

// NewHandler creates a Handler writing to out.
func NewHandler(out io.Writer) *Handler {
	return &Handler{
		out:  out,
		mut:  new(sync.Mutex),
		opts: Options,
	}
}

func (h *Handler) Enabled(_ context.Context, level Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	buf := make([]byte, 0, 1024)
	out := bytes.NewBuffer(buf)

	if !rec.Time.IsZero() {
		fmt.Fprintf(out, "%-9s %s ", rec.Time.Format(time.RFC3339Nano), rec.Level)
	} else {
		fmt.Fprintf(out, "%-9s ", rec.Level)
	}

	if h.opts.AddSource && rec.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{rec.PC})
		f, _ := frames.Next()
		_, file := path.Split(f.File)
		fmt.Fprintf(out, "%s:%d: ", file, f.Line)
	}

	fmt.Fprint(out, rec.Message)

	for _, a := range h.attrs {
		h.appendAttr(out, a)
	}

	rec.Attrs(func(attr Attr) bool {
		h.appendAttr(out, attr)
		return true
	})

	fmt.Fprintln(out)

	h.mut.Lock()
	defer h.mut.Unlock()

	_, err := h.out.Write(out.Bytes())

	return err
}

func (h *Handler) appendAttr(out io.Writer, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	attr = h.opts.ReplaceAttr([]string{h.group}, attr)

	if attr.Equal(Attr{}) {
		return
	}

	key := strings.ToUpper(attr.Key)

	if attr.Value.Kind() == slog.KindGroup {
		for _, a := range attr.Value.Group() {
			h.appendAttr(out, a)
		}

		return
	}

	fmt.Fprintf(out, " %s=%v", key, attr.Value.Any())
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	attrs := make([]Attr, len(h.attrs))
	copy(attrs, h.attrs)

	return &Handler{mut: h.mut, out: h.out, opts: h.opts, attrs: attrs, group: name}
}

func (h *Handler) WithAttrs(attrs []Attr) slog.Handler {
	as := make([]Attr, 0, len(h.attrs)+len(attrs))
	as = append(as, h.attrs...)
	as = append(as, attrs...)

	return &Handler{out: h.out, mut: h.mut, opts: h.opts, attrs: as, group: h.group}
}

// Loggable is implemented by components that can be reconfigured with a
// logger after construction.
type Loggable interface {
	WithLogger(*Logger)
}

type (
	Attr   = slog.Attr
	Level  = slog.Level
	Logger = slog.Logger
	Value  = slog.Value
)

var (
	String      = slog.String
	StringValue = slog.StringValue
	Uint64      = slog.Uint64
	Int         = slog.Int
	Bool        = slog.Bool
	Group       = slog.Group
	GroupValue  = slog.GroupValue
	Any         = slog.Any
	AnyValue    = slog.AnyValue
)

const (
	Debug = slog.LevelDebug
	Info  = slog.LevelInfo
	Warn  = slog.LevelWarn
	Error = slog.LevelError
)
