// Package logging builds the zap loggers shared by the runner, the CLI and
// page objects.
package logging

import (
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/splunk/browser-e2e/e2e/framework/config"
)

// NewLogger returns the run logger. Every entry carries the run id.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := Build(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.RunID != "" {
		logger = logger.With(zap.String("run_id", cfg.RunID))
	}
	return logger, nil
}

// Build returns a console (development) or json (production) logger.
// Unknown levels fall back to info.
func Build(format, level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return zapCfg.Build()
}

func parseLevel(value string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}

// NewLogr adapts logger for code written against logr.
func NewLogr(logger *zap.Logger) logr.Logger {
	if logger == nil {
		return logr.Discard()
	}
	return zapr.NewLogger(logger)
}
