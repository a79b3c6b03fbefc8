package log

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Log = (*Logger)(nil)

var (
	process     *Logger
	processOnce sync.Once
)

// Logger adapts zap to Log. Loggers derived through With and Named share the
// level of their parent, so SetLevel on any of them affects the whole family.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

// New builds a sampled JSON logger writing to stderr. The first logger built
// becomes the process-wide instance returned by Provide.
func New(level Level) *Logger {
	atomic := zap.NewAtomicLevelAt(zapLevels.to(level))
	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		panic(fmt.Errorf("build zap logger: %w", err))
	}

	l := &Logger{zl: zl, level: atomic}
	processOnce.Do(func() { process = l })
	return l
}

// NewWithCore wraps an arbitrary zap core. Tests pass an observer core here.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{zl: zap.New(core), level: zap.NewAtomicLevelAt(zap.DebugLevel)}
}

func NewNop() *Logger {
	return &Logger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(zap.FatalLevel)}
}

// Provide returns the process-wide logger, building an info-level one on first use.
func Provide() *Logger {
	processOnce.Do(func() { process = New(LevelInfo) })
	return process
}

func (l *Logger) Log(level Level, msg string, fields ...Field) {
	if level == LevelSilent || !l.level.Enabled(zapLevels.to(level)) {
		return
	}
	if ce := l.zl.Check(zapLevels.to(level), msg); ce != nil {
		ce.Write(toZapFields(fields)...)
	}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.Log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.Log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.Log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.Log(LevelError, msg, fields...) }

// Fatal always writes and then exits the process, whatever the level.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.zl.Fatal(msg, toZapFields(fields)...)
}

func (l *Logger) With(fields ...Field) Log {
	return &Logger{zl: l.zl.With(toZapFields(fields)...), level: l.level}
}

func (l *Logger) Named(name string) Log {
	return &Logger{zl: l.zl.Named(name), level: l.level}
}

func (l *Logger) WithContext(context.Context) Log { return l }

func (l *Logger) SetLevel(level Level) { l.level.SetLevel(zapLevels.to(level)) }

func (l *Logger) GetLevel() Level { return zapLevels.from(l.level.Level()) }

func (l *Logger) Sync() error { return l.zl.Sync() }

type levelTable []struct {
	ours Level
	zap  zapcore.Level
}

// Silent has no zap counterpart; it maps to fatal so that only Fatal calls
// get through a silenced core.
var zapLevels = levelTable{
	{LevelDebug, zapcore.DebugLevel},
	{LevelInfo, zapcore.InfoLevel},
	{LevelWarn, zapcore.WarnLevel},
	{LevelError, zapcore.ErrorLevel},
	{LevelFatal, zapcore.FatalLevel},
	{LevelSilent, zapcore.FatalLevel},
}

func (t levelTable) to(level Level) zapcore.Level {
	for _, e := range t {
		if e.ours == level {
			return e.zap
		}
	}
	return zapcore.InfoLevel
}

func (t levelTable) from(level zapcore.Level) Level {
	for _, e := range t {
		if e.zap == level {
			return e.ours
		}
	}
	return LevelInfo
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = toZapField(f)
	}
	return out
}

func toZapField(f Field) zap.Field {
	switch f.Type {
	case BoolType:
		return zap.Bool(f.Key, f.Value.(bool))
	case DurationType:
		return zap.Duration(f.Key, f.Value.(time.Duration))
	case IntType:
		return zap.Int(f.Key, f.Value.(int))
	case StringType:
		return zap.String(f.Key, f.Value.(string))
	case Uint64Type:
		return zap.Uint64(f.Key, f.Value.(uint64))
	case Uint32Type:
		return zap.Uint32(f.Key, f.Value.(uint32))
	case Uint16Type:
		return zap.Uint16(f.Key, f.Value.(uint16))
	case Uint8Type:
		return zap.Uint8(f.Key, f.Value.(uint8))
	case HashType:
		return zap.String(f.Key, fmt.Sprintf("0x%08x", f.Value.(uint32)))
	case StringerType:
		return zap.Stringer(f.Key, f.Value.(fmt.Stringer))
	case ErrorType:
		return zap.NamedError(f.Key, f.Value.(error))
	default:
		return zap.Any(f.Key, f.Value)
	}
}
