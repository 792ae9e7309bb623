package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger. JSON output is for
// deployed environments; the text handler keeps local development
// readable. Every record carries a service attribute so JobHunter's
// auth lines can be told apart from co-located services in aggregated
// logs.
func NewLogger(cfg *Config) *slog.Logger {
	format, level := "pretty", "info"
	if cfg != nil {
		format, level = cfg.LogFormat, cfg.LogLevel
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: parseLogLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "jobhunter"))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
