// Package log is the process-wide structured logger, backed by zap.
package log

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the encoder, threshold and optional rotating file sink.
type Config struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" structs:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" structs:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" structs:"max_age_days"`
}

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init replaces the global logger according to cfg.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// New builds a logger without installing it.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if cfg.Level == "" {
		cfg.Level = string(InfoLevel)
	}
	if err := lvl.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, errors.Errorf("invalid log format %q", cfg.Format)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}

	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(lvl))
	return zap.New(core).Sugar(), nil
}

// SetLogger installs l as the global logger. A nil l installs a no-op logger.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// L returns the global logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Or returns l, or the global logger when l is nil.
func Or(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	return L()
}

// Log writes msg with key/value pairs at the given level.
func Log(level Level, msg string, keysAndValues ...interface{}) {
	l := L()
	switch level {
	case DebugLevel:
		l.Debugw(msg, keysAndValues...)
	case WarnLevel:
		l.Warnw(msg, keysAndValues...)
	case ErrorLevel:
		l.Errorw(msg, keysAndValues...)
	default:
		l.Infow(msg, keysAndValues...)
	}
}

func Debug(msg string, keysAndValues ...interface{}) { Log(DebugLevel, msg, keysAndValues...) }
func Info(msg string, keysAndValues ...interface{})  { Log(InfoLevel, msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...interface{})  { Log(WarnLevel, msg, keysAndValues...) }
func Error(msg string, keysAndValues ...interface{}) { Log(ErrorLevel, msg, keysAndValues...) }

// Sync flushes buffered entries; errors from syncing stderr are ignored.
func Sync() {
	_ = L().Sync()
}
