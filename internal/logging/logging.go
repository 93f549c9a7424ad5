package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kestrelgw/kestrel/internal/config"
)

// New builds the process-wide logger from the gateway logging config.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = "json"
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	if cfg.Output == "" || cfg.Output == "stdout" {
		zcfg.OutputPaths = []string{"stdout"}
	} else {
		zcfg.OutputPaths = []string{cfg.Output}
	}
	zcfg.ErrorOutputPaths = zcfg.OutputPaths

	return zcfg.Build()
}
