package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EncoderConfig uses "ts" for ISO-8601 timestamps, upper-case levels and
// human readable durations (backoff delays, Retry-After).
func EncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// NewEncoder returns a JSON encoder, or a console encoder for interactive use.
func NewEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", FormatJSON:
		return zapcore.NewJSONEncoder(EncoderConfig()), nil
	case FormatConsole:
		return zapcore.NewConsoleEncoder(EncoderConfig()), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func DefaultOption() []zap.Option {
	var stackTraceLevel zap.LevelEnablerFunc = func(level zapcore.Level) bool {
		return level >= zapcore.DPanicLevel
	}
	return []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(stackTraceLevel),
	}
}

// RotatingFile rotates path at 50MB and keeps five compressed backups.
func RotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		LocalTime:  true,
		Compress:   true,
	}
}
