// Package logging builds the structured slog logger shared by every
// Foundry component. Components receive a *slog.Logger via
// constructor injection; nothing here is a package-global logger.
package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const foundryPackagePrefix = "github.com/foundry-run/foundry"

// ParseLevel converts a string log level to slog.Level. Unknown values
// fall back to warn rather than erroring, since CLI flag parsing should
// not halt on an operator typo in --log-level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// Options configures New.
type Options struct {
	Level  slog.Level
	Format string // "text" or "json"
	Output *os.File
}

// New builds the root logger. At levels above debug, records whose
// caller is outside the foundry module tree are dropped — this keeps
// third-party library chatter (SQL drivers, otel exporters) out of the
// audit-adjacent log stream unless the operator explicitly asked for
// debug verbosity.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var base slog.Handler
	if opts.Format == "json" {
		base = slog.NewJSONHandler(out, handlerOpts)
	} else {
		base = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(&filteringHandler{handler: base, minLevel: opts.Level})
}

// filteringHandler wraps a slog handler and filters third-party library
// logs: third-party logs are only shown when the level is DEBUG.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if h.isFoundryPackage(record.PC) {
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

func (h *filteringHandler) isFoundryPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	fullName := fn.Name()
	file, _ := fn.FileLine(pc)
	return strings.Contains(fullName, foundryPackagePrefix) || strings.Contains(file, "foundry/")
}
