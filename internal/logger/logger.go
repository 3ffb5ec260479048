// internal/logger/logger.go
package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const fileFlushInterval = time.Second

// Options configures the process logger.
type Options struct {
	Debug bool
	// File, if set, receives a JSON copy of every entry.
	File string
}

// New builds a logger with a pretty console core and an optional JSON file core.
// The returned close function flushes and closes the file.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	console := &prettyCore{Core: zapcore.NewCore(
		PrettyEncoder(),
		zapcore.Lock(os.Stdout),
		level,
	)}
	cores := []zapcore.Core{console}
	closeFn := func() error { return nil }

	if opts.File != "" {
		fw, err := NewSafeFileWriter(opts.File, fileFlushInterval, zap.NewNop())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fw, level))
		closeFn = fw.Close
	}

	return zap.New(zapcore.NewTee(cores...)), closeFn, nil
}
