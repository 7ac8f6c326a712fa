package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. mode selects the encoder profile
// ("prod"/"production" → JSON, anything else → console); level accepts
// the usual zap level names and defaults to info.
func New(mode, level string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(level)); err == nil {
			lvl = parsed
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
