// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Output formats accepted by New.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatAuto = "auto"
)

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to out. JSON is the default since the
// Lambda runtime ships stdout to CloudWatch; "text" gives colored tint output
// and "auto" picks text only when out is a terminal.
func New(out *os.File, level, format string) *slog.Logger {
	return slog.New(newHandler(out, ParseLevel(level), format))
}

func newHandler(out *os.File, level slog.Level, format string) slog.Handler {
	switch strings.ToLower(format) {
	case FormatText:
		return tint.NewHandler(colorable.NewColorable(out), &tint.Options{Level: level})
	case FormatAuto:
		if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
			return tint.NewHandler(colorable.NewColorable(out), &tint.Options{Level: level})
		}
	}
	return NewJSONHandler(out, level)
}

// NewJSONHandler returns the JSON handler used in Lambda.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}
