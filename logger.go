package lpstream

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
)

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// zerologLogger routes key-value log calls to a zerolog.Logger.
type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger adapts l to the Logger interface.
func NewZerologLogger(l zerolog.Logger) Logger {
	return zerologLogger{l: l}
}

func (z zerologLogger) Debug(msg string, args ...any) { emit(z.l.Debug(), msg, args) }
func (z zerologLogger) Info(msg string, args ...any)  { emit(z.l.Info(), msg, args) }
func (z zerologLogger) Warn(msg string, args ...any)  { emit(z.l.Warn(), msg, args) }
func (z zerologLogger) Error(msg string, args ...any) { emit(z.l.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	// nil when the level is disabled
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}
