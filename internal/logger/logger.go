package logger

import (
	"github.com/fxnlabs/clsgemm/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger at cfg.Verbosity with the given
// encoding. Console output uses colored levels and ISO8601 timestamps.
func New(cfg config.LoggerConfig) (*zap.Logger, error) {
	zapConfig, err := newConfig(cfg)
	if err != nil {
		return nil, err
	}
	return zapConfig.Build()
}

func newConfig(cfg config.LoggerConfig) (zap.Config, error) {
	zapConfig := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.Verbosity)
	if err != nil {
		return zap.Config{}, err
	}
	zapConfig.Level = level
	if cfg.Encoding == "console" {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.Sampling = nil
	}
	return zapConfig, nil
}
