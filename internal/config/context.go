package config

import (
	"context"
	"log/slog"
)

// Context keys live here so the commands package can read what the root
// command stored without importing it.
type configKey struct{}
type loggerKey struct{}

// WithContext returns ctx carrying the loaded config and process logger
// for subcommands.
func WithContext(ctx context.Context, cfg *Config, logger *slog.Logger) context.Context {
	ctx = context.WithValue(ctx, configKey{}, cfg)
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the config stored by the root command. Commands
// invoked outside it, typically in tests, get the built-in defaults.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey{}).(*Config); ok {
		return cfg
	}
	return Default()
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}
