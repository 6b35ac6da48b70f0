package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

type Plugin = zapcore.Core

// Config selects the process logger. File, when set, receives a JSON copy of
// every entry in addition to Output.
type Config struct {
	Level  string
	Format string
	Output string
	File   string
}

func NewLogger(plugin zapcore.Core, options ...zap.Option) *zap.Logger {
	return zap.New(plugin, append(DefaultOption(), options...)...)
}

func NewPlugin(enc zapcore.Encoder, writer zapcore.WriteSyncer, enabler zapcore.LevelEnabler) Plugin {
	return zapcore.NewCore(enc, writer, enabler)
}

func NewStdoutPlugin(enc zapcore.Encoder, enabler zapcore.LevelEnabler) Plugin {
	return NewPlugin(enc, zapcore.Lock(zapcore.AddSync(os.Stdout)), enabler)
}

func NewStderrPlugin(enc zapcore.Encoder, enabler zapcore.LevelEnabler) Plugin {
	return NewPlugin(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), enabler)
}

// NewFilePlugin logs JSON to a rotating file. lumberjack has no Sync, so the
// returned closer must be closed before exit.
func NewFilePlugin(filePath string, enabler zapcore.LevelEnabler) (Plugin, io.Closer) {
	w := RotatingFile(filePath)
	return NewPlugin(zapcore.NewJSONEncoder(EncoderConfig()), zapcore.AddSync(w), enabler), w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger from cfg. Output defaults to stderr so that
// command output on stdout stays clean.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	enabler := zap.NewAtomicLevelAt(lvl)
	enc, err := NewEncoder(cfg.Format)
	if err != nil {
		return nil, nil, err
	}

	var plugins []zapcore.Core
	switch cfg.Output {
	case "", OutputStderr:
		plugins = append(plugins, NewStderrPlugin(enc, enabler))
	case OutputStdout:
		plugins = append(plugins, NewStdoutPlugin(enc, enabler))
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		p, c := NewFilePlugin(cfg.File, enabler)
		plugins = append(plugins, p)
		closer = c
	}

	return NewLogger(zapcore.NewTee(plugins...)), closer, nil
}
