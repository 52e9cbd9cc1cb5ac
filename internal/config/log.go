package config

import (
	"log/slog"
	"os"
)

// SetupLog configures a global slog logger whose level follows LOG_LEVEL changes.
// Every record carries the service name so logs from `serve` and `sync` can be told apart.
func SetupLog(cfg *Config) *slog.Logger {
	var lv slog.LevelVar
	cfg.OnLogLevelChange(func(level slog.Level) { lv.Set(level) })
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &lv})).
		With("service", cfg.GetServiceName())
	slog.SetDefault(logger)
	return logger
}
