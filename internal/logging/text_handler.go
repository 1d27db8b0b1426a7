package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TextHandler writes one line per record:
//
//	2024-01-19T10:30:00Z: [INFO] reindexer started component=reindexer slot=1
type TextHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	prefix string // pre-rendered attrs from WithAttrs
	group  string // dotted group path, with trailing dot
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextHandler creates a text handler writing to w.
func NewTextHandler(w io.Writer, opts *slog.HandlerOptions) *TextHandler {
	h := &TextHandler{out: &lockedWriter{w: w}, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// Enabled implements slog.Handler.
func (h *TextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *TextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.RFC3339))
	b.WriteString(": [")
	b.WriteString(r.Level.String())
	b.WriteString("] ")
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, b.String())
	return err
}

// WithAttrs implements slog.Handler.
func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	clone := *h
	clone.prefix = b.String()
	return &clone
}

// WithGroup implements slog.Handler.
func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.group + name + "."
	return &clone
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	b.WriteString(group)
	b.WriteString(a.Key)
	b.WriteByte('=')
	writeValue(b, a.Value)
}

func writeValue(b *strings.Builder, v slog.Value) {
	switch v.Kind() {
	case slog.KindString:
		writeString(b, v.String())
	case slog.KindTime:
		b.WriteString(v.Time().Format(time.RFC3339))
	case slog.KindGroup:
		b.WriteByte('{')
		for i, a := range v.Group() {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(a.Key)
			b.WriteByte('=')
			writeValue(b, a.Value.Resolve())
		}
		b.WriteByte('}')
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			writeString(b, err.Error())
			return
		}
		writeString(b, fmt.Sprintf("%+v", v.Any()))
	default:
		// int, uint, float, bool and duration format the same as String.
		b.WriteString(v.String())
	}
}

func writeString(b *strings.Builder, s string) {
	if s == "" || strings.ContainsAny(s, " \"\\\t\n=") {
		b.WriteString(strconv.Quote(s))
		return
	}
	b.WriteString(s)
}
