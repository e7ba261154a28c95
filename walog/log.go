// Package walog is a thin zerolog facade matching the teacher's
// waLog.Stdout("<module>", "<level>", ...) construction idiom, so every
// component of the relay core can be handed a scoped logger instead of
// reaching for a global one.
package walog

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped leveled logger.
type Logger struct {
	zl zerolog.Logger
}

// Stdout builds a Logger writing to stdout, named module, at the given
// level ("DEBUG", "INFO", "WARN", "ERROR"). Mirrors waLog.Stdout from
// the broader mau.fi client ecosystem this module's teacher depends on.
func Stdout(module, level string, color bool) Logger {
	return New(os.Stdout, module, level, color)
}

// New builds a Logger writing to w.
func New(w io.Writer, module, level string, color bool) Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: !color}).
		Level(parseLevel(level)).
		With().Timestamp().Str("module", module).Logger()
	return Logger{zl: zl}
}

// Noop returns a Logger that discards everything, for tests.
func Noop() Logger {
	return Logger{zl: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Sub returns a child logger scoped to a sub-module, e.g.
// log.Sub("signalrepo") for a logger tagging every line with both the
// parent module and "signalrepo".
func (l Logger) Sub(module string) Logger {
	return Logger{zl: l.zl.With().Str("submodule", module).Logger()}
}

// With returns a child logger with an extra structured field attached.
func (l Logger) With(key string, value any) Logger {
	return Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Zerolog exposes the underlying zerolog.Logger for components that
// want structured field chaining directly.
func (l Logger) Zerolog() *zerolog.Logger { return &l.zl }
