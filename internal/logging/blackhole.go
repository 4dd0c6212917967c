package logging

import (
	"context"
	"log/slog"
)

// BlackholeHandler is a slog.Handler that drops every record. It backs the
// logger used by components that were given none.
type BlackholeHandler struct{}

// Enabled reports false for every level, so callers skip building records.
func (h BlackholeHandler) Enabled(context.Context, slog.Level) bool {
	return false
}

// Handle discards the record.
func (h BlackholeHandler) Handle(context.Context, slog.Record) error {
	return nil
}

// WithAttrs returns h unchanged.
func (h BlackholeHandler) WithAttrs([]slog.Attr) slog.Handler {
	return h
}

// WithGroup returns h unchanged.
func (h BlackholeHandler) WithGroup(string) slog.Handler {
	return h
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(BlackholeHandler{})
}
