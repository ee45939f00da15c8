package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// Log formats accepted by NewLogger.
const (
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
	// LogFormatAuto picks pretty on a terminal and JSON otherwise.
	LogFormatAuto = "auto"
)

// NewLogger creates a structured logger on stdout and installs it as the slog default.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level, format)
}

// NewLoggerTo is NewLogger on an explicit writer.
func NewLoggerTo(w io.Writer, level, format string) *slog.Logger {
	log := newLogger(w, level, format)
	slog.SetDefault(log)
	return log
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	tty := isTerminal(w)
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case LogFormatPretty:
		h = newPrettyHandler(w, opts, tty)
	case LogFormatAuto:
		if tty {
			h = newPrettyHandler(w, opts, true)
		} else {
			h = slog.NewJSONHandler(w, opts)
		}
	default:
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
