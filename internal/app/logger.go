package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger. Production logs at info
// without source locations; everywhere else debug with source enabled.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true}
	if cfg != nil && cfg.IsProduction() {
		opts.Level = slog.LevelInfo
		opts.AddSource = false
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
