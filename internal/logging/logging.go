// SPDX-License-Identifier: LGPL-2.1-only

// Package logging adapts the teacher's three-logger call-site shape
// (Context.Dlog/Elog/Wlog, each a *log.Logger used with Printf/Println at
// a fixed level) onto github.com/rs/zerolog, the structured logger
// cuemby-warren wires through its whole request path. Call sites stay
// exactly as terse as configd.go's (ctx.Elog.Printf(...)); only the sink
// changes, from syslog to structured, levelled zerolog events.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/rs/zerolog"
)

// Loggers bundles the three level-scoped *log.Logger handles a Context
// carries, each writing structured events through a shared zerolog.Logger.
type Loggers struct {
	Dlog *log.Logger // debug
	Elog *log.Logger // error
	Wlog *log.Logger // warn
	base zerolog.Logger
}

// levelWriter adapts one zerolog level into an io.Writer a *log.Logger can
// target; each Write call becomes a single structured event at level.
type levelWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	msg := string(p)
	for len(msg) > 0 && (msg[len(msg)-1] == '\n' || msg[len(msg)-1] == '\r') {
		msg = msg[:len(msg)-1]
	}
	w.logger.WithLevel(w.level).Msg(msg)
	return len(p), nil
}

// New builds a Loggers writing structured JSON lines to w (os.Stderr if
// nil), tagged with component for every event.
func New(w io.Writer, component string) *Loggers {
	if w == nil {
		w = os.Stderr
	}
	base := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &Loggers{
		Dlog: log.New(levelWriter{base, zerolog.DebugLevel}, "", 0),
		Elog: log.New(levelWriter{base, zerolog.ErrorLevel}, "", 0),
		Wlog: log.New(levelWriter{base, zerolog.WarnLevel}, "", 0),
		base: base,
	}
}

// Event exposes the underlying zerolog.Logger for call sites that need
// structured fields (a session id, a transaction id) rather than the
// plain-Printf shape.
func (l *Loggers) Event() *zerolog.Logger { return &l.base }
