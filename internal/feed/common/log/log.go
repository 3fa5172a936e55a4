package log

import (
	"fmt"
	"io"
	stdlog "log"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global Logger = newZapLogger(false, zapcore.InfoLevel)

// SetLogger replaces the global logger instance.
func SetLogger(l Logger) {
	global = l
}

// GetLogger returns the current global logger instance.
func GetLogger() Logger {
	return global
}

// Logger is the sanitizer logging interface. Fields are attached as structured
// key/value pairs; msg is the human readable event.
type Logger interface {
	Info(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
	Debug(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Panic(fields map[string]any, msg string)
	Fatal(fields map[string]any, msg string)
}

// DebugSwitch is implemented by loggers whose verbosity can be raised to debug
// at runtime without rebuilding them.
type DebugSwitch interface {
	SetDebug(enabled bool)
}

// Configure sets up the global logger based on env and level.
func Configure(env, level string) error {
	isDev := env != "prod"

	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	global = newZapLogger(isDev, lvl)
	return nil
}

// SetDebug toggles debug output on the global logger when it supports it.
// The user-facing "debug logging" setting is routed through here.
func SetDebug(enabled bool) {
	if sw, ok := global.(DebugSwitch); ok {
		sw.SetDebug(enabled)
	}
}

// Info logs at info level using the global logger.
func Info(fields map[string]any, msg string) {
	global.Info(fields, msg)
}

// Error logs at error level using the global logger.
func Error(fields map[string]any, msg string) {
	global.Error(fields, msg)
}

// Debug logs at debug level using the global logger.
func Debug(fields map[string]any, msg string) {
	global.Debug(fields, msg)
}

// Warn logs at warn level using the global logger.
func Warn(fields map[string]any, msg string) {
	global.Warn(fields, msg)
}

// Panic logs at panic level using the global logger.
func Panic(fields map[string]any, msg string) {
	global.Panic(fields, msg)
}

// Fatal logs at fatal level using the global logger.
func Fatal(fields map[string]any, msg string) {
	global.Fatal(fields, msg)
}

// StdLogger adapts the global logger for net/http servers and proxies, which
// only accept a *log.Logger. Their lines are written at warn level.
func StdLogger() *stdlog.Logger {
	if z, ok := global.(*zapLogger); ok {
		if l, err := zap.NewStdLogAt(z.base, zapcore.WarnLevel); err == nil {
			return l
		}
	}
	return stdlog.New(io.Discard, "", 0)
}

// zapLogger implements Logger using Uber's zap with an atomic level so the
// debug toggle can be flipped while the logger is shared.
type zapLogger struct {
	base  *zap.Logger
	level zap.AtomicLevel
	floor zapcore.Level
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	var config zap.Config
	if dev {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	atom := zap.NewAtomicLevelAt(level)
	config.Level = atom
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.MessageKey = "msg"
	config.EncoderConfig.LevelKey = "level"
	config.InitialFields = map[string]any{"app": "insta-sanitizer"}

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &zapLogger{base: logger, level: atom, floor: level}
}

// SetDebug lowers the level to debug, or restores the configured level.
func (l *zapLogger) SetDebug(enabled bool) {
	if enabled {
		l.level.SetLevel(zapcore.DebugLevel)
		return
	}
	l.level.SetLevel(l.floor)
}

func (l *zapLogger) Info(fields map[string]any, msg string) {
	l.base.Info(msg, zapFields(fields)...)
}

func (l *zapLogger) Error(fields map[string]any, msg string) {
	l.base.Error(msg, zapFields(fields)...)
}

func (l *zapLogger) Debug(fields map[string]any, msg string) {
	if !l.level.Enabled(zapcore.DebugLevel) {
		return
	}
	l.base.Debug(msg, zapFields(fields)...)
}

func (l *zapLogger) Warn(fields map[string]any, msg string) {
	l.base.Warn(msg, zapFields(fields)...)
}

func (l *zapLogger) Panic(fields map[string]any, msg string) {
	l.base.Panic(msg, zapFields(fields)...)
}

func (l *zapLogger) Fatal(fields map[string]any, msg string) {
	l.base.Fatal(msg, zapFields(fields)...)
}

func zapFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		if err, ok := v.(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

type noopLogger struct{}

func (n *noopLogger) Info(map[string]any, string)  {}
func (n *noopLogger) Error(map[string]any, string) {}
func (n *noopLogger) Debug(map[string]any, string) {}
func (n *noopLogger) Warn(map[string]any, string)  {}
func (n *noopLogger) Panic(map[string]any, string) {}
func (n *noopLogger) Fatal(map[string]any, string) {}

// NewNoopLogger returns a Logger that discards all log messages.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

// Recorder is an in-memory Logger used by tests across packages to assert on
// emitted events.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Entry is a single recorded log event.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

func (r *Recorder) add(level string, fields map[string]any, msg string) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Fields: fields})
	r.mu.Unlock()
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Recorder) Info(f map[string]any, msg string)  { r.add("info", f, msg) }
func (r *Recorder) Error(f map[string]any, msg string) { r.add("error", f, msg) }
func (r *Recorder) Debug(f map[string]any, msg string) { r.add("debug", f, msg) }
func (r *Recorder) Warn(f map[string]any, msg string)  { r.add("warn", f, msg) }
func (r *Recorder) Panic(f map[string]any, msg string) { r.add("panic", f, msg) }
func (r *Recorder) Fatal(f map[string]any, msg string) { r.add("fatal", f, msg) }

// Count returns how many entries were recorded at level.
func (r *Recorder) Count(level string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
