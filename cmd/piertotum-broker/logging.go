// ABOUTME: Logger setup for the broker binary: json output or terminal lines
// ABOUTME: textHandler highlights the component tag and group-prefixes attr keys

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/skvil/piertotum/internal/config"
)

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newTextHandler(os.Stderr, level))
}

// textHandler renders one colorized line per record:
//
//	15:04:05 INFO [engine] agent registered agent_id=w name=W total_agents=3
//
// The "component" attr (bound via logger.With) is promoted into the bracketed
// tag; all other bound attrs are pre-rendered once and reused per record.
type textHandler struct {
	out       io.Writer
	min       slog.Level
	mu        *sync.Mutex // shared across WithAttrs/WithGroup clones
	component string
	bound     string // rendered WithAttrs attrs
	prefix    string // dotted group path for attr keys
}

func newTextHandler(out io.Writer, min slog.Level) *textHandler {
	return &textHandler{
		out: out,
		min: min,
		mu:  &sync.Mutex{},
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *textHandler) Handle(_ context.Context, rec slog.Record) error {
	var line strings.Builder

	line.WriteString(color.HiBlackString(rec.Time.Format(time.TimeOnly)))
	line.WriteByte(' ')
	line.WriteString(levelTag(rec.Level))
	if h.component != "" {
		line.WriteString(color.GreenString(" [%s]", h.component))
	}
	line.WriteByte(' ')
	line.WriteString(rec.Message)
	line.WriteString(h.bound)
	rec.Attrs(func(a slog.Attr) bool {
		appendAttr(&line, h.prefix, a)
		return true
	})
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	var extra strings.Builder
	for _, a := range attrs {
		// Promote the component attr into the line tag instead of the
		// key=value tail.
		if h.prefix == "" && a.Key == "component" {
			clone.component = a.Value.String()
			continue
		}
		appendAttr(&extra, h.prefix, a)
	}
	clone.bound = h.bound + extra.String()
	return &clone
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint("ERRO")
	case level >= slog.LevelWarn:
		return color.YellowString("WARN")
	case level >= slog.LevelInfo:
		return color.CyanString("INFO")
	default:
		return color.MagentaString("DEBG")
	}
}

// appendAttr renders " key=value", quoting values that would break the
// one-line format.
func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteString(color.HiBlackString(" %s%s=", prefix, a.Key))

	val := a.Value.String()
	if strings.ContainsAny(val, " \t\n\"") {
		val = strconv.Quote(val)
	}
	b.WriteString(val)
}
