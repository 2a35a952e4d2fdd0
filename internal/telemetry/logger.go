// Package telemetry wires structured logging and Prometheus metrics,
// replacing the teacher's bare log.Printf calls with zap's leveled,
// field-based logging while keeping its per-subsystem log-prefix
// convention as a "component" field on each derived logger.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide sugared logger. Production mode
// emits JSON to stderr at info level; development mode emits
// console-formatted, colorized output at debug level.
func NewLogger(development bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Component returns a child logger tagged with the owning subsystem,
// the zap equivalent of the teacher's "[Poller]"-style string prefixes.
func Component(log *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return log.With("component", name)
}
