// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry written by production loggers.
const ServiceName = "replayscraper"

// New builds a console logger with debug output when development is set and a
// JSON logger at info otherwise. Both write to stderr; stdout carries only the
// startup line.
func New(development bool) (*zap.Logger, error) {
	cfg, mode := productionConfig(), "prod"
	if development {
		cfg, mode = developmentConfig(), "dev"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}

func developmentConfig() zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

func productionConfig() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.InitialFields = map[string]any{"service": ServiceName}
	return cfg
}
