package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var level = new(slog.LevelVar)

// SetLevel sets the process wide log level.
func SetLevel(levelStr string) {
	level.Set(ParseLevel(levelStr))
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	switch level.Level() {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a string to an slog level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// lineHandler writes "[15:04:05] [LEVEL] msg k=v ..." lines to one or
// more outputs.
type lineHandler struct {
	outs   []io.Writer
	mu     *sync.Mutex
	prefix string // pre-rendered attrs from With
}

// NewHandler returns a handler writing to outs, gated by the global level.
func NewHandler(outs ...io.Writer) slog.Handler {
	return &lineHandler{outs: outs, mu: new(sync.Mutex)}
}

// Enabled implements slog.Handler
func (h *lineHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

// Handle implements slog.Handler
func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(record.Time.Format("15:04:05"))
	b.WriteString("] [")
	b.WriteString(strings.ToUpper(record.Level.String()))
	b.WriteString("] ")
	b.WriteString(record.Message)
	b.WriteString(h.prefix)
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteString("\n")

	line := []byte(b.String())
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write(line)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, a)
	}
	return &lineHandler{outs: h.outs, mu: h.mu, prefix: b.String()}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *lineHandler) WithGroup(string) slog.Handler {
	return h
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteString(" ")
	b.WriteString(a.Key)
	b.WriteString("=")
	b.WriteString(a.Value.Resolve().String())
}

// InitLogger installs a line handler over outputs as the slog default and
// returns it.
func InitLogger(outputs ...io.Writer) *slog.Logger {
	l := slog.New(NewHandler(outputs...))
	slog.SetDefault(l)
	return l
}
