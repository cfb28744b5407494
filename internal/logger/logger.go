package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger. Development gets colored console output,
// staging/production get JSON. An optional file path adds a second sink.
func New(env string, filePath string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "staging", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown environment: %s", env)
	}

	cfg.OutputPaths = []string{"stdout"}
	if filePath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, filePath)
	}

	return cfg.Build()
}
