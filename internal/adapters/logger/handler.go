package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"go.trai.ch/cratesync/internal/ui/output"
	"go.trai.ch/cratesync/internal/ui/style"
)

// levelStyle is the icon and color a record level is rendered with.
type levelStyle struct {
	icon  string
	color termenv.Color
}

func styleFor(level slog.Level) levelStyle {
	switch {
	case level >= slog.LevelError:
		return levelStyle{style.Cross, termenv.RGBColor(string(style.Red))}
	case level >= slog.LevelWarn:
		return levelStyle{style.Warning, termenv.RGBColor(string(style.Yellow))}
	case level < slog.LevelInfo:
		return levelStyle{style.Dot, termenv.RGBColor(string(style.Iris))}
	default:
		return levelStyle{color: termenv.RGBColor(string(style.Slate))}
	}
}

// PrettyHandler is a slog.Handler for terminals. Messages carry a level icon and
// color, attributes follow in faint key=value form.
type PrettyHandler struct {
	mu     *sync.Mutex
	out    *termenv.Output
	level  slog.Leveler
	prefix string
	attrs  []string
}

// NewPrettyHandler creates a PrettyHandler writing to w, stderr when w is nil.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}

	return &PrettyHandler{
		mu:    &sync.Mutex{},
		out:   output.New(w),
		level: level,
	}
}

// Enabled implements slog.Handler.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
//
//nolint:gocritic // slog.Handler interface requires slog.Record by value
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	ls := styleFor(r.Level)

	var b strings.Builder
	if ls.icon != "" {
		b.WriteString(ls.icon + " ")
	}
	b.WriteString(r.Message)
	line := h.out.String(b.String()).Foreground(ls.color).String()

	attrs := append([]string(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = appendAttr(attrs, h.prefix, a)
		return true
	})
	if len(attrs) > 0 {
		line += " " + h.out.String(strings.Join(attrs, " ")).Faint().String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.WriteString(line + "\n")
	return err
}

// WithAttrs implements slog.Handler.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = appendAttr(next.attrs, h.prefix, a)
	}
	return &next
}

// WithGroup implements slog.Handler. Nested groups are joined with dots.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendAttr flattens a onto dst. Group attributes expand into their members.
func appendAttr(dst []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, member := range a.Value.Group() {
			dst = appendAttr(dst, prefix, member)
		}
		return dst
	}
	return append(dst, prefix+a.Key+"="+a.Value.String())
}
