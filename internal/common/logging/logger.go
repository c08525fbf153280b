// Package logging provides structured logging using zap
package logging

import (
	"fmt"
	"os"
)

// NewDefaultLogger creates a logger from the LOG_LEVEL environment variable,
// writing JSON to stdout.
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(LogConfig{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger initializes the global logger based on LOG_LEVEL.
// The gateway writes JSON to stdout so the surrounding infrastructure
// can capture traffic records without any file management.
func InitGlobalLogger() {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))

	logger, err := NewZapLogger(LogConfig{
		Level:  level,
		Output: os.Stdout,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		Field{"level", level.String()},
	)
}

// MustSync flushes any buffered log entries for zap loggers.
// This should be called before process exit.
func MustSync() {
	logger := GetGlobalLogger()
	if zapLogger, ok := logger.(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}
