// Package logging provides the concrete zzzlogi.Logger implementation used
// by tinit. Every supervisor package takes a zzzlogi.Logger from its
// constructor the same way pico.NewServiceManager does; this package is
// where the process wires up the one concrete instance for the whole
// lifetime of PID 1.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tuxdude/zzzlogi"
)

// Priority mirrors the classic syslog taxonomy used by the stdlog=/mqlog=
// kernel command line arguments (see internal/bootarg).
type Priority int

const (
	Emerg Priority = iota
	Crit
	Err
	Warning
	Notice
	Info
	Debug
)

// ParsePriority maps a kernel command line severity token to a Priority.
// Unrecognized tokens fall back to Info, matching the original's
// best-effort command line parsing (invalid arguments are warned about and
// otherwise ignored, never fatal).
func ParsePriority(sev string) (Priority, bool) {
	switch sev {
	case "emerg":
		return Emerg, true
	case "crit":
		return Crit, true
	case "err", "error":
		return Err, true
	case "warning", "warn":
		return Warning, true
	case "notice":
		return Notice, true
	case "info":
		return Info, true
	case "debug":
		return Debug, true
	}
	return Info, false
}

var tags = map[Priority]string{
	Emerg:   "EMERG",
	Crit:    "CRIT",
	Err:     "ERR",
	Warning: "WARN",
	Notice:  "NOTICE",
	Info:    "INFO",
	Debug:   "DEBUG",
}

// Logger is a priority-filtering wrapper around the standard library's
// log.Logger, in the style of pabigot/logwrap's LogLogger: a single
// underlying writer, a threshold priority, and one formatting entry point
// per level so call sites read exactly like the teacher's
// s.log.Infof/Debugf/Warnf usage.
type Logger struct {
	lgr       *log.Logger
	threshold Priority
}

var _ zzzlogi.Logger = (*Logger)(nil)

// New creates a Logger writing to w with the given filter threshold.
// Messages at or above the threshold's precedence (i.e. <= threshold,
// since lower Priority values are more severe) are emitted.
func New(w io.Writer, threshold Priority) *Logger {
	return &Logger{
		lgr:       log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		threshold: threshold,
	}
}

// NewStderr creates a Logger writing to os.Stderr, the destination used
// before the boot filesystems (and any redirected console) are available.
func NewStderr(threshold Priority) *Logger {
	return New(os.Stderr, threshold)
}

// SetThreshold adjusts the filter threshold, used by cmd/tinit to apply
// the stdlog=/mqlog= kernel command line arguments internal/bootarg
// parses.
func (l *Logger) SetThreshold(p Priority) {
	l.threshold = p
}

func (l *Logger) emit(p Priority, format string, args ...interface{}) {
	if p > l.threshold {
		return
	}
	l.lgr.Printf("[%s] %s", tags[p], fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.emit(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.emit(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.emit(Warning, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.emit(Err, format, args...) }

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.emit(Emerg, format, args...)
	os.Exit(1)
}
