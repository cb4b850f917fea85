// Package logging builds the structured loggers used across pathfold.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/orneryd/pathfold/pkg/config"
)

// New returns a logger for cfg. The returned closer releases the output file
// when Output is a path and is a no-op otherwise.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}
	return NewWriter(cfg, out), closer, nil
}

// NewWriter returns a logger for cfg writing to w. Output is ignored.
func NewWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR to slog levels. Anything else is
// INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Badger adapts a slog logger to badger.Logger.
type Badger struct {
	Logger *slog.Logger
}

func (b Badger) Errorf(format string, args ...interface{}) {
	b.Logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b Badger) Warningf(format string, args ...interface{}) {
	b.Logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b Badger) Infof(format string, args ...interface{}) {
	b.Logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b Badger) Debugf(format string, args ...interface{}) {
	b.Logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
