package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a sugared zap logger behind the small printf-style surface
// the rest of the codebase uses.
type Logger struct {
	s *zap.SugaredLogger
}

func NewLogger() *Logger {
	l, err := NewLoggerWith("info", "console")
	if err != nil {
		panic(err)
	}
	return l
}

func NewLoggerWith(level, format string) (*Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{s: base.Sugar()}, nil
}

func parseLogLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level: %s", level)
	}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Infof(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Debugf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Errorf(format, args...)
}

func (l *Logger) Sync() {
	if l == nil || l.s == nil {
		return
	}
	_ = l.s.Sync()
}
