package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger = New(os.Stderr, LevelInfo)
)

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetLogger replaces the process-wide logger.
func SetLogger(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// SetupLogger configures the global logger to write JSON lines to stdout at
// the given level, using Cloud Logging field names. Library warnings raised
// through errors.Warn are routed to the same logger.
func SetupLogger(loglevel string) error {
	level, err := ParseLevel(loglevel)
	if err != nil {
		return err
	}

	zerolog.LevelFieldName = "severity"
	zerolog.MessageFieldName = "message"

	logger := New(os.Stdout, level)
	SetLogger(logger)
	errors.SetZerologWarnFunc(func(w error) {
		logger.Warn("warning", "warning", w)
	})
	return nil
}

// ParseLevel converts a textual level ("debug", "info", "warn", "error").
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log_level", "unknown log level", level)
	}
}

// zerologLogger implements Logger on top of zerolog.
type zerologLogger struct {
	zl zerolog.Logger
}

// New returns a zerolog-backed Logger writing JSON lines to w.
func New(w io.Writer, level Level) Logger {
	zl := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, fields ...any) { emit(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { emit(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { emit(l.zl.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { emit(l.zl.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for key, value := range pairs(fields) {
		if err, ok := value.(error); ok {
			ctx = ctx.AnErr(key, err)
			continue
		}
		ctx = ctx.Interface(key, value)
	}
	return &zerologLogger{zl: ctx.Logger()}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	zl := toZerologLevel(level)
	return zl >= l.zl.GetLevel() && zl >= zerolog.GlobalLevel()
}

func emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	// A leading error without a key is logged under "error".
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			addError(e, ErrAttrKey, err)
			fields = fields[1:]
		}
	}
	for key, value := range pairs(fields) {
		if err, ok := value.(error); ok {
			addError(e, key, err)
			continue
		}
		e.Interface(key, value)
	}
	e.Msg(msg)
}

func addError(e *zerolog.Event, key string, err error) {
	e.AnErr(key, err)
	if st := extractStacktrace(err); st != "" {
		e.Str(StacktraceKey, st)
	}
	var detail zerolog.LogObjectMarshaler
	if errors.As(err, &detail) {
		e.Object(key+"_detail", detail)
	}
}

func extractStacktrace(err error) string {
	details := errors.SafeDetails(err)
	if len(details) > 0 {
		return details[0]
	}
	return ""
}

// pairs walks key-value fields, ignoring a dangling key.
func pairs(fields []any) func(yield func(string, any) bool) {
	return func(yield func(string, any) bool) {
		for i := 0; i+1 < len(fields); i += 2 {
			if !yield(fmt.Sprint(fields[i]), fields[i+1]) {
				return
			}
		}
	}
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
