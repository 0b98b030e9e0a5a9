package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"alarmcore/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
	ansiBold   = "\x1b[1m"
)

// tokenPattern alternatives are tried left to right, so an alarm state wins
// over the quoted string or number it may overlap.
var tokenPattern = regexp.MustCompile(`(state=[A-Z_]+)|("[^"\n]*")|(\b\d+(?:\.\d+)?\b)`)

var stateColors = map[string]string{
	"state=FIRING":             ansiBold + ansiRed,
	"state=SILENCED":           ansiGray,
	"state=OBSERVING_RECOVERY": ansiYellow,
	"state=RECOVERED":          ansiBold + ansiGreen,
	"state=NORMAL":             ansiBlue,
}

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return newWithConsole(cfg, os.Stdout)
}

// newWithConsole builds the logger with console records sent to console.
func newWithConsole(cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)
	closeAll := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if cfg.Console.Enabled {
		handler, err := sinkHandler(cfg.Console, &colorLineWriter{dst: console}, console, true)
		if err != nil {
			return nil, nil, fmt.Errorf("log.console: %w", err)
		}
		handlers = append(handlers, handler)
	}
	if cfg.File.Enabled {
		file, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("log.file: %w", err)
		}
		closers = append(closers, file)
		handler, err := sinkHandler(cfg.File, file, file, false)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("log.file: %w", err)
		}
		handlers = append(handlers, handler)
	}

	switch len(handlers) {
	case 0:
		return nil, nil, errors.New("no log sinks enabled")
	case 1:
		return slog.New(handlers[0]), closeAll, nil
	default:
		return slog.New(fanoutHandler(handlers)), closeAll, nil
	}
}

// Component returns logger tagged with component name.
// Params: base logger and component label.
// Returns: child logger; nil base falls back to slog.Default.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// sinkHandler builds a text or JSON handler for one sink.
// Params: sink settings, writers for line and json formats, and whether timestamps are dropped.
// Returns: handler or unsupported level/format error.
func sinkHandler(sink config.LogSinkConfig, lineDst, jsonDst io.Writer, dropTime bool) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if dropTime {
		opts.ReplaceAttr = func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		}
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line":
		return slog.NewTextHandler(lineDst, opts), nil
	case "json":
		return slog.NewJSONHandler(jsonDst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return file, nil
}

// parseLevel converts configuration level into slog.Level.
func parseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
}

// fanoutHandler sends each record to every sink that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f {
		if handler.Enabled(ctx, record.Level) {
			errs = append(errs, handler.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanoutHandler) derive(apply func(slog.Handler) slog.Handler) fanoutHandler {
	next := make(fanoutHandler, len(f))
	for i, handler := range f {
		next[i] = apply(handler)
	}
	return next
}

// colorLineWriter colors console lines by level and highlights alarm states,
// quoted strings and numbers.
type colorLineWriter struct {
	dst io.Writer
}

// Write renders one slog text line with ANSI colors.
// Params: payload is rendered slog line.
// Returns: payload length consumed or write error.
func (w *colorLineWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	base := levelColor(line)
	if base == "" {
		return w.dst.Write(payload)
	}
	if _, err := io.WriteString(w.dst, base+highlight(line, base)+ansiReset); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func levelColor(line string) string {
	switch {
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	default:
		return ""
	}
}

// highlight wraps matched tokens in their color and restores base after each.
func highlight(line, base string) string {
	matches := tokenPattern.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return line
	}

	var b strings.Builder
	b.Grow(len(line) + len(matches)*12)
	cursor := 0
	for _, m := range matches {
		color := ""
		switch {
		case m[2] >= 0:
			color = stateColors[line[m[2]:m[3]]]
		case m[4] >= 0:
			color = ansiGreen
		case m[6] >= 0:
			color = ansiYellow
		}
		if color == "" {
			continue
		}
		b.WriteString(line[cursor:m[0]])
		b.WriteString(color)
		b.WriteString(line[m[0]:m[1]])
		b.WriteString(ansiReset)
		b.WriteString(base)
		cursor = m[1]
	}
	b.WriteString(line[cursor:])
	return b.String()
}
