package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/savesync/internal/utils"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	// Console receives colored output. Nil disables it.
	Console *os.File
	// File is appended to, created if missing. Empty disables it.
	File  string
	Level slog.Level
}

// Setup installs the default logger and returns a func that flushes and closes the log file.
func Setup(opts Options) (func() error, error) {
	var handlers []slog.Handler
	closers := []io.Closer{}

	if opts.Console != nil {
		handlers = append(handlers, tint.NewHandler(opts.Console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: consoleTimeFormat,
			NoColor:    !isatty.IsTerminal(opts.Console.Fd()),
		}))
	}

	if opts.File != "" {
		if err := utils.EnsureParent(opts.File); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		stamper := NewLineStamper(file)
		handlers = append(handlers, NewFileHandler(stamper, slog.LevelDebug))
		closers = append(closers, stamper, file)
	}

	slog.SetDefault(slog.New(NewFanout(handlers...)))

	return func() error {
		var first error
		for _, c := range closers {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}, nil
}

// NewFileHandler writes plain text records without a time attr, the stamper adds one.
func NewFileHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
}

// ParseLevel maps debug, info, warn and error. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
