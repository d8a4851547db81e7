// Package applog provides the server's structured logging: one line
// per request (method, path, status, duration, bytes) plus ad hoc
// error/lifecycle logging, built on a shared zap.Logger.
package applog

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logger. debug enables human-readable,
// colorized console output; otherwise JSON is written. Both write to
// stderr (zap's default output path).
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Access logs one completed request/response cycle.
func Access(log *zap.Logger, method, path string, status int, duration time.Duration, bytes int, remoteAddr string) {
	log.Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.Int("bytes", bytes),
		zap.String("remote_addr", remoteAddr),
	)
}
