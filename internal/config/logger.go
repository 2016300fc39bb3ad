package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger initializes the application logger based on configuration.
// With no file configured, logs go to stderr so they never interleave with
// schedule output or playback URLs on stdout.
func InitLogger(cfg *LoggingConfig) (*slog.Logger, error) {
	level := parseLogLevel(cfg.Level)

	var writer io.Writer
	toFile := cfg.File != ""
	if toFile {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		writer = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
	} else {
		writer = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		if cfg.Color && !toFile {
			handler = newColoredTextHandler(writer, handlerOpts)
		} else {
			handler = slog.NewTextHandler(writer, handlerOpts)
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, nil
}

// DefaultLogFile returns the rotating log file location under the state dir.
func DefaultLogFile() string {
	return filepath.Join(StateDir(), "mlbv.log")
}

// coloredTextHandler wraps slog.TextHandler to colorize the level token on
// console output.
type coloredTextHandler struct {
	inner  slog.Handler
	writer io.Writer
	opts   *slog.HandlerOptions
}

func newColoredTextHandler(w io.Writer, opts *slog.HandlerOptions) *coloredTextHandler {
	return &coloredTextHandler{
		inner:  slog.NewTextHandler(w, opts),
		writer: w,
		opts:   opts,
	}
}

func (h *coloredTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf strings.Builder
	if err := slog.NewTextHandler(&buf, h.opts).Handle(ctx, r); err != nil {
		return err
	}

	_, err := h.writer.Write([]byte(colorize(buf.String(), r.Level)))
	return err
}

func colorize(line string, level slog.Level) string {
	var code string
	switch {
	case level >= slog.LevelError:
		code = "31" // red
	case level >= slog.LevelWarn:
		code = "33" // yellow
	case level >= slog.LevelInfo:
		code = "32" // green
	default:
		code = "90" // gray
	}

	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 2 {
		return fmt.Sprintf("\033[%sm%s\033[0m %s", code, parts[0], parts[1])
	}
	return fmt.Sprintf("\033[%sm%s\033[0m", code, line)
}

func (h *coloredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &coloredTextHandler{inner: h.inner.WithAttrs(attrs), writer: h.writer, opts: h.opts}
}

func (h *coloredTextHandler) WithGroup(name string) slog.Handler {
	return &coloredTextHandler{inner: h.inner.WithGroup(name), writer: h.writer, opts: h.opts}
}

func (h *coloredTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func parseLogLevel(levelStr string) slog.Level {
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
		return slog.LevelInfo
	}
}
