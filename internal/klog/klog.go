// Package klog wires the kernel's diagnostic output through logiface
// (github.com/joeycumines/logiface), the same structured-logging facade
// the teacher corpus uses throughout, backed by zerolog via the
// logiface/izerolog adapter. No package in this module calls fmt.Print*
// or the standard log package directly.
package klog

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Event is the concrete event type produced by the zerolog backend.
type Event = izerolog.Event

// Logger is the logger type every kernel package accepts as a
// constructor option.
type Logger = logiface.Logger[*Event]

// New constructs a Logger writing newline-delimited JSON to w at the
// given minimum level. It is the default used when a package is not
// given an explicit logger.
func New(w *os.File, level logiface.Level) *Logger {
	return logiface.New[*Event](
		izerolog.WithZerolog(zerolog.New(w).With().Timestamp().Logger()),
		logiface.WithLevel(level),
	)
}

// Default is the package-level logger used when a component is
// constructed without an explicit Logger option. It writes to stderr at
// LevelInformational.
var Default = New(os.Stderr, logiface.LevelInformational)

// Fatal logs msg at the panic level and then panics, standing in for the
// Port's FatalError for internal invariant violations that are
// programmer bugs rather than runtime conditions (§7): a destroyed
// mutex still has waiters, a blocking call was made from interrupt
// context, a stack guard was violated.
func Fatal(l *Logger, msg string, fields map[string]any) {
	if l == nil {
		l = Default
	}
	b := l.Panic()
	for k, v := range fields {
		b = b.Any(k, v)
	}
	b.Log(msg)
}
