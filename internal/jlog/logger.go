// Package jlog provides structured logging for the bridge using zap.
package jlog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with bridge-specific helpers.
type Logger struct {
	*zap.Logger
	onEvent func(category, name, detail string) // trace callback for event stream consumers
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnEvent sets the callback invoked alongside every Event call.
func (l *Logger) SetOnEvent(fn func(category, name, detail string)) {
	l.onEvent = fn
}

// Event logs a bridge event (class resolution, invocation, hook, heap match)
// and forwards it to the trace callback if one is set.
func (l *Logger) Event(category, name, detail string) {
	if l.onEvent != nil {
		l.onEvent(category, name, detail)
	}
	l.Debug("event",
		zap.String("cat", category),
		zap.String("fn", name),
		zap.String("detail", detail),
	)
}

// ClassResolved logs a successful use()/cast() resolution.
func (l *Logger) ClassResolved(name string, cached bool) {
	l.Debug("class resolved",
		zap.String("class", name),
		zap.Bool("cached", cached),
	)
}

// MemberMaterialized logs when a wrapper's member table is built.
func (l *Logger) MemberMaterialized(class string, methods, fields, ctors int) {
	l.Debug("members materialized",
		zap.String("class", class),
		zap.Int("methods", methods),
		zap.Int("fields", fields),
		zap.Int("ctors", ctors),
	)
}

// HookInstalled logs a hook install/uninstall.
func (l *Logger) HookInstalled(method string, flavor string, installed bool) {
	l.Info("hook",
		zap.String("method", method),
		zap.String("flavor", flavor),
		zap.Bool("installed", installed),
	)
}

// ControlSessionOpened logs a new websocket scripting session (spec 4.I).
func (l *Logger) ControlSessionOpened(id string) {
	l.Info("control session opened", zap.String("session", id))
}

// ControlSessionClosed logs a websocket scripting session ending.
func (l *Logger) ControlSessionClosed(id string) {
	l.Info("control session closed", zap.String("session", id))
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(zap.String("cat", category)),
		onEvent: l.onEvent,
	}
}

// Hex formats a uint64 as a hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Ptr creates a named pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}
