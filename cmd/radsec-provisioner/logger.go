package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LOG_LEVEL_ERROR   = "ERROR"
	LOG_LEVEL_WARNING = "WARNING"
	LOG_LEVEL_INFO    = "INFO"
	LOG_LEVEL_DEBUG   = "DEBUG"

	LOG_FORMAT_TEXT = "text"
	LOG_FORMAT_JSON = "json"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func logLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case LOG_LEVEL_ERROR:
		return slog.LevelError
	case LOG_LEVEL_WARNING:
		return slog.LevelWarn
	case LOG_LEVEL_DEBUG:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger. Unknown formats fall back to text.
func newLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, LOG_FORMAT_JSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// initLogger sends logs to stderr; stdout carries the provisioning report.
func initLogger(cfg LogConfig) {
	slog.SetDefault(newLogger(cfg, os.Stderr))
}
