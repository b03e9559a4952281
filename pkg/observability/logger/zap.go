package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum level written.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFormat selects the encoder.
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	TextFormat LogFormat = "text"
)

// Config configures NewZapLogger. Zero values mean info level, JSON, stderr.
type Config struct {
	Level  LogLevel
	Format LogFormat
	// Output receives encoded entries. Stdout is left to command output.
	Output io.Writer
}

// ZapLogger implements Logger on a zap SugaredLogger.
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a logger from cfg.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	level, err := ParseLogLevel(string(cfg.Level))
	if err != nil {
		return nil, err
	}
	format, err := ParseLogFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if format == JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{base: base, sugar: base.Sugar()}, nil
}

// Nop returns a Logger that discards every entry.
func Nop() Logger {
	l := zap.NewNop()
	return &ZapLogger{base: l, sugar: l.Sugar()}
}

func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With implements Logger.
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{base: l.base, sugar: l.sugar.With(args...)}
}

// WithContext implements Logger.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	kv := FieldsFromContext(ctx)
	if len(kv) == 0 {
		return l
	}
	return l.With(kv...)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// ParseLogLevel maps a level name to zap's level. Empty means info.
func ParseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid log level: %q", level)
}

// ParseLogFormat normalizes a format name. Empty means JSON.
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return JSONFormat, nil
	case "text", "console":
		return TextFormat, nil
	}
	return "", fmt.Errorf("invalid log format: %q", format)
}
