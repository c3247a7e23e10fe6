// Package logging builds the structured logger shared by all commands.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production JSON logger writing to stderr at the given level.
// An empty level means "info".
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and subject identifiers.
func WithOperation(logger *zap.Logger, operation, subjectID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if subjectID != "" {
		fields = append(fields, zap.String("subject_id", subjectID))
	}
	return logger.With(fields...)
}
