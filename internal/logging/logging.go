// Package logging builds the process zap.Logger, grounded on the pack's
// zapcore+lumberjack component pattern: a console encoder to stdout in
// development, JSON to a rotating file in production.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the built logger's sink and verbosity.
type Options struct {
	Development bool
	FilePath    string // when set and !Development, logs rotate here via lumberjack
	Level       string // debug, info, warn, error; defaults to info
}

// New builds a *zap.Logger per Options.
func New(opts Options) (*zap.Logger, error) {
	level := parseLevel(opts.Level)

	if opts.Development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		return cfg.Build()
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	writer, err := buildWriteSyncer(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("build log writer: %w", err)
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func buildWriteSyncer(path string) (zapcore.WriteSyncer, error) {
	if path == "" {
		return zapcore.AddSync(os.Stdout), nil
	}
	lumber := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return zapcore.AddSync(io.Writer(lumber)), nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
