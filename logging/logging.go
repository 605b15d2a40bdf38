// Package logging monta o *zap.Logger do gateway: stderr sempre, e um arquivo
// rotacionado (lumberjack) quando configurado.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"webhook-gateway/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New devolve o logger e um closer para o arquivo (no-op sem arquivo).
func New(cfg config.LoggingConfig) (*zap.Logger, io.Closer, error) {
	return build(cfg, zapcore.AddSync(os.Stderr))
}

func build(cfg config.LoggingConfig, console zapcore.WriteSyncer) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	atom := zap.NewAtomicLevelAt(level)

	cores := []zapcore.Core{zapcore.NewCore(encoder(cfg.Format), console, atom)}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // dias
			Compress:   true,
		}
		// arquivo sempre em JSON, para ingestão
		cores = append(cores, zapcore.NewCore(encoder("json"), zapcore.AddSync(lj), atom))
		closer = lj
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	).With(zap.String("service", "webhook-gateway"))
	return logger, closer, nil
}

func encoder(format string) zapcore.Encoder {
	if format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
