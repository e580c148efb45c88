// Package logger builds the zap loggers used by the ShareKeeper binaries.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger holds the process-wide structured logger.
type Logger struct {
	// Log is a no-op logger until Init succeeds.
	Log *zap.Logger
}

// New returns a Logger that discards everything until Init is called.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init replaces Log with a JSON production logger writing to stderr at the
// given level ("debug", "info", "warn", "error"; case-insensitive).
func (l *Logger) Init(level string) error {
	return l.build(zap.NewProductionConfig(), level)
}

// InitConsole replaces Log with a human-readable console logger writing to
// stderr at the given level.
func (l *Logger) InitConsole(level string) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	return l.build(cfg, level)
}

func (l *Logger) build(cfg zap.Config, level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level = lvl

	zl, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	l.Log = zl
	return nil
}
