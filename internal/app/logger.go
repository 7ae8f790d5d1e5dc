package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "odyssey-pos"

// NewLogger returns the process logger. LOG_FORMAT=json selects structured output;
// LOG_LEVEL accepts debug, info, warn or error.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	format := ""
	if cfg != nil {
		format = cfg.LogFormat
		opts.Level = parseLevel(cfg.LogLevel)
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler).With(slog.String("service", serviceName))
	if cfg != nil && cfg.AppEnv != "" {
		logger = logger.With(slog.String("env", cfg.AppEnv))
	}
	return logger
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
