package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/skypro1111/watchparty-service/internal/config"
)

// LevelFault sits above error and marks conditions that indicate a bug in
// the caller rather than a runtime failure.
const LevelFault = slog.Level(12)

// New creates the structured logger described by cfg
func New(cfg config.LoggingConfig) *slog.Logger {
	return slog.New(NewHandler(outputFor(cfg.Output), cfg))
}

// NewHandler creates a handler writing to w with the level and format from cfg
func NewHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	level := ParseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: replaceLevelName,
	}

	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// ParseLevel maps a configured level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fault":
		return LevelFault
	default:
		return slog.LevelInfo
	}
}

// Fault logs msg at LevelFault
func Fault(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	logger.LogAttrs(context.Background(), LevelFault, msg, attrs...)
}

func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelFault {
		a.Value = slog.StringValue("FAULT")
	}
	return a
}

func outputFor(output string) io.Writer {
	switch output {
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", output, err)
			return os.Stdout
		}
		return file
	}
}
