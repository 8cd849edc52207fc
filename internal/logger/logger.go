// Package logger builds the daemon's structured logger.
//
// Unlike the ad-hoc global logger pattern, New never sets a package
// level default: callers thread the returned *slog.Logger through an
// explicit Environment value, per the "ad-hoc global state" design
// note.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePrefix = "github.com/undoable/undoable"

// ParseLevel converts a string log level to slog.Level. Valid levels:
// debug, info, warn, error. Unknown values fall back to warn.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// filteringHandler suppresses third-party library logs below debug
// level so a daemon running at info keeps its own signal clean.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePrefix) || strings.Contains(file, "undoable/")
}

// New builds a logger writing JSON records to output at the given
// level. JSON output keeps the daemon's logs machine-parseable for the
// CLI's --json mode and for operators tailing the process.
func New(level slog.Level, output *os.File) *slog.Logger {
	if output == nil {
		output = os.Stderr
	}
	base := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	return slog.New(&filteringHandler{handler: base, minLevel: level})
}
