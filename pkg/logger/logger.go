// Package logger provides slog-based structured logging.
//
// Core pieces:
//   - Init() configures the default logger (JSON for production, text for dev)
//   - InitWithFile() additionally tees logs to a file, closing any file from
//     a prior call
//   - FromContext() for context-scoped loggers
//   - package-level convenience methods (Info/Error/Warn/Debug/Fatal)
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(newLogger(false))
}

// getLogger returns the current logger. Reads and writes to defaultLogger
// go through this and storeLogger so Init/AttachDBHandler/InitWithFile can
// swap the active logger while other goroutines are mid-call.
func getLogger() *slog.Logger {
	return defaultLogger.Load()
}

func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
}

// exitFunc is os.Exit, indirected so Fatal is testable without killing the
// test binary.
var exitFunc = os.Exit

func newLogger(development bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: development,
	}
	var handler slog.Handler
	if development {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Init configures the default logger. env is "development"/"dev" or
// "production" (the default).
func Init(env string) {
	dev := env == "development" || env == "dev"
	storeLogger(newLogger(dev))
	slog.SetDefault(getLogger())
}

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

// InitWithFile tees logging to dir/fabric.log alongside the current handler.
// A second call closes the previously opened file before opening the new
// one.
func InitWithFile(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, "fabric.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	logFileMu.Lock()
	old := logFile
	logFile = f
	logFileMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	base := unwrapBaseHandler(getLogger().Handler())
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	storeLogger(slog.New(NewMultiHandler(base, fileHandler)))
	return nil
}

// ShutdownFileHandler closes the file opened by InitWithFile, if any, and
// drops the file sink from the active logger. Safe to call even when no
// file was ever opened.
func ShutdownFileHandler() {
	logFileMu.Lock()
	f := logFile
	logFile = nil
	logFileMu.Unlock()
	if f == nil {
		return
	}
	base := unwrapBaseHandler(getLogger().Handler())
	storeLogger(slog.New(base))
	_ = f.Close()
}

// ========================================
// Context-scoped logging
// ========================================

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext extracts a logger from ctx, falling back to the default
// logger when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return getLogger()
}

// ========================================
// Package-level convenience methods
// ========================================

// Info/Error/Warn/Debug record a structured log line. args are key-value
// pairs.
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Infof/Errorf/Warnf/Debugf record a printf-formatted message.
func Infof(format string, args ...any)  { getLogger().Info(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { getLogger().Error(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { getLogger().Warn(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { getLogger().Debug(fmt.Sprintf(format, args...)) }

// Fatal logs msg at error level and terminates the process.
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	exitFunc(1)
}

// Infow/Warnw/Errorw/Debugw are aliases for Info/Warn/Error/Debug, kept for
// call sites that prefer the "w" suffix convention.
func Infow(msg string, keysAndValues ...any)  { getLogger().Info(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...any)  { getLogger().Warn(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...any) { getLogger().Error(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...any) { getLogger().Debug(msg, keysAndValues...) }

// With returns a logger carrying the given key-value pairs on every record.
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get returns the current underlying slog.Logger.
func Get() *slog.Logger { return getLogger() }

// Attr aliases slog.Attr so callers don't need to import log/slog directly.
type Attr = slog.Attr

// Any creates an attribute holding a value of any type.
func Any(key string, value any) Attr { return slog.Any(key, value) }

// Reserved field names. Use these constants rather than hardcoding keys so
// DBHandler's applyAttr can route them to LogEntry's typed columns.
const (
	FieldTraceID   = "trace_id"
	FieldAgentID   = "agent_id"
	FieldGatewayID = "gateway_id"
	FieldThreadID  = "thread_id"
	FieldAction    = "action"
	FieldComponent = "component"
	FieldModule    = "module"
	FieldError     = "error"
	FieldStatus    = "status"
	FieldLatencyMS = "latency_ms"
	FieldCount     = "count"
	FieldPath      = "path"
	FieldMethod    = "method"
	FieldUserID    = "user_id"
	FieldSource    = "source"
	FieldEventType = "event_type"
	FieldToolName  = "tool_name"
	FieldDurationMS = "duration_ms"
)
