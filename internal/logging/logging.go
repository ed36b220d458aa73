// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatECS     = "ecs"
)

type Config struct {
	Level  string
	Format string
	// File enables rotation through lumberjack. Logs go to stderr otherwise.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu        sync.Mutex
	installed *zap.AtomicLevel
)

func parseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return level, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	logger, _, err := build(cfg)
	return logger, err
}

func build(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	l, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	level := zap.NewAtomicLevelAt(l)

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	logger, err := newLogger(cfg.Format, level, zapcore.AddSync(out))
	return logger, level, err
}

func newLogger(format string, level zapcore.LevelEnabler, ws zapcore.WriteSyncer) (*zap.Logger, error) {
	var core zapcore.Core
	switch format {
	case "", FormatConsole:
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(ws), level)
	case FormatJSON:
		core = zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.Lock(ws), level)
	case FormatECS:
		core = ecszap.NewCore(ecszap.NewDefaultEncoderConfig(), zapcore.Lock(ws), level)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return zap.New(core, zap.AddCaller()), nil
}

// Install builds a logger and makes it the global zap logger. The returned
// function flushes it and restores the previous globals.
func Install(cfg Config) (func(), error) {
	logger, level, err := build(cfg)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	prev := installed
	installed = &level
	mu.Unlock()

	restore := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		restore()
		mu.Lock()
		installed = prev
		mu.Unlock()
	}, nil
}

// SetLevel changes the level of the installed logger at runtime.
func SetLevel(name string) error {
	l, err := parseLevel(name)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if installed == nil {
		return fmt.Errorf("no logger installed")
	}
	installed.SetLevel(l)
	return nil
}
