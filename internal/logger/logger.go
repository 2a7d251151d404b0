// Package logger provides a coloured, human-readable slog handler for terminals.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	levelColors = map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.FgHiBlack),
		slog.LevelInfo:  color.New(color.FgGreen),
		slog.LevelWarn:  color.New(color.FgYellow),
		slog.LevelError: color.New(color.FgRed, color.Bold),
	}

	msgColor   = color.New(color.Bold, color.FgWhite)
	keyColor   = color.New(color.FgHiBlue)
	valueColor = color.New(color.Faint)
)

type Options struct {
	Level slog.Leveler

	// TimeFormat is used for the record time. Empty omits the time.
	TimeFormat string
}

type handler struct {
	opts Options

	mu *sync.Mutex
	w  io.Writer

	// attrs are preformatted attributes added via WithAttrs.
	attrs  []string
	groups []string
}

var _ slog.Handler = (*handler)(nil)

// NewHandler returns a handler writing one line per record:
//
//	|INFO| run started                  dslflow.run.id=abc max_parallel=4
func NewHandler(w io.Writer, opts *Options) slog.Handler {
	h := &handler{mu: &sync.Mutex{}, w: w}
	if opts != nil {
		h.opts = *opts
	}

	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}

	return h
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if h.opts.TimeFormat != "" && !r.Time.IsZero() {
		b.WriteString(valueColor.Sprint(r.Time.Format(h.opts.TimeFormat)))
		b.WriteByte(' ')
	}

	b.WriteString(levelColor(r.Level).Sprintf("|%s|", r.Level))
	b.WriteByte(' ')
	b.WriteString(msgColor.Sprintf("%-30s", r.Message))

	for _, a := range h.attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}

	r.Attrs(func(a slog.Attr) bool {
		for _, f := range h.format(h.groups, a) {
			b.WriteByte(' ')
			b.WriteString(f)
		}
		return true
	})

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	c := h.clone()
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.format(h.groups, a)...)
	}

	return c
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	c := h.clone()
	c.groups = append(c.groups, name)

	return c
}

func (h *handler) clone() *handler {
	c := *h
	c.attrs = slices.Clone(h.attrs)
	c.groups = slices.Clone(h.groups)

	return &c
}

func (h *handler) format(groups []string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return nil
	}

	if a.Value.Kind() == slog.KindGroup {
		sub := groups
		if a.Key != "" {
			sub = append(slices.Clone(groups), a.Key)
		}

		var out []string
		for _, ga := range a.Value.Group() {
			out = append(out, h.format(sub, ga)...)
		}
		return out
	}

	key := strings.Join(append(slices.Clone(groups), a.Key), ".")

	var value string
	switch a.Value.Kind() {
	case slog.KindDuration:
		value = a.Value.Duration().String()
	case slog.KindTime:
		value = a.Value.Time().Format(time.RFC3339)
	default:
		value = fmt.Sprintf("%v", a.Value.Any())
	}

	return []string{fmt.Sprintf("%v=%v", keyColor.Sprint(key), valueColor.Sprint(value))}
}

func levelColor(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return levelColors[slog.LevelError]
	case l >= slog.LevelWarn:
		return levelColors[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return levelColors[slog.LevelInfo]
	default:
		return levelColors[slog.LevelDebug]
	}
}
