// Package logging configures the process-wide zap logger. The CLI runs
// silent by default; --verbose switches to human-readable debug output on
// stderr so phase execution can be traced without polluting stdout.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = zap.NewNop()

// Setup builds the process logger. With verbose=false all log output is
// discarded; command results are printed directly by the CLI layer.
func Setup(verbose bool) {
	if !verbose {
		logger = zap.NewNop()
		return
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}

// L returns the current process logger.
func L() *zap.Logger {
	return logger
}

// Sync flushes buffered log entries. Safe to call on the nop logger.
func Sync() {
	_ = logger.Sync()
}
