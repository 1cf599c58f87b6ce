// Package observability wires logging, metrics and tracing.
package observability

import (
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger returns a slog logger backed by a charm handler. format is
// "text" or "json".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           parseLevel(level),
		Formatter:       parseFormatter(format),
	})
	return slog.New(handler)
}

func parseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func parseFormatter(format string) log.Formatter {
	if format == "json" {
		return log.JSONFormatter
	}
	return log.TextFormatter
}
