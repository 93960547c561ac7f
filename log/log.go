// Package log provides the structured logger used across the consensus
// core. It wraps zap so that every component logs with levels and
// key/value pairs instead of panicking on peer input.
package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface every component in this module depends
// on. Components take a Logger, never a concrete zap type, so tests can
// swap in an observer logger.
type Logger interface {
	Info(keyvals ...interface{})
	Debug(keyvals ...interface{})
	Warn(keyvals ...interface{})
	Error(keyvals ...interface{})
	Fatal(keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Debugw(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(name string) Logger
}

type log struct {
	*zap.SugaredLogger
}

func (l *log) With(args ...interface{}) Logger {
	return &log{l.SugaredLogger.With(args...)}
}

func (l *log) Named(name string) Logger {
	return &log{l.SugaredLogger.Named(name)}
}

const (
	InfoLevel  = int(zapcore.InfoLevel)
	DebugLevel = int(zapcore.DebugLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
	FatalLevel = int(zapcore.FatalLevel)
	WarnLevel  = int(zapcore.WarnLevel)
)

// DefaultLevel is the level used by DefaultLogger. Change it before the
// first call to DefaultLogger to take effect.
var DefaultLevel = InfoLevel

var (
	defaultOnce   sync.Once
	defaultLogger Logger
)

// DefaultLogger returns the process-wide default logger, a JSON logger to
// stdout at DefaultLevel.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(os.Stdout, DefaultLevel, true)
	})
	return defaultLogger
}

// New builds a Logger writing to output at the given level, as JSON when
// isJSON is true or in a human-readable console format otherwise.
func New(output zapcore.WriteSyncer, level int, isJSON bool) Logger {
	encoder := consoleEncoder()
	if isJSON {
		encoder = jsonEncoder()
	}
	if output == nil {
		output = os.Stdout
	}
	core := zapcore.NewCore(encoder, output, zapcore.Level(level))
	return &log{zap.New(core, zap.WithCaller(true)).Sugar()}
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

type ctxKey string

const loggerCtxKey ctxKey = "consensusLogger"

// ToContext attaches l to ctx.
func ToContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, l)
}

// FromContextOrDefault returns the logger attached to ctx, or the default
// logger if none was attached.
func FromContextOrDefault(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerCtxKey).(Logger); ok {
		return l
	}
	return DefaultLogger()
}
