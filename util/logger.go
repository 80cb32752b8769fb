// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// ANSI colours per level tag.
var levelColors = map[string]string{
	"ERR": "\x1b[31;1m",
	"WRN": "\x1b[33m",
	"INF": "\x1b[32m",
	"VRB": "\x1b[36m",
	"DBG": "\x1b[90m",
}

const colorReset = "\x1b[0m"

// Logger writes levelled messages to stderr with optional timestamps,
// level prefixes and colours.  Loggers returned by WithPrefix share the
// parent's output and lock.
type Logger struct {
	level      LogLevel
	output     io.Writer
	mu         *sync.Mutex
	timestamps bool // if true, prepend timestamps
	colors     bool // if true, colour the level tag
	prefix     string
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).  Colours
// are enabled when stderr is a terminal.
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		mu:         &sync.Mutex{},
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
		colors:     IsTerminal(os.Stderr),
	}
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) { l.timestamps = on }

// SetColors enables or disables ANSI colours.  Colours are never written
// to a non-terminal output.
func (l *Logger) SetColors(on bool) { l.colors = on && IsTerminal(l.output) }

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.colors = l.colors && IsTerminal(w)
}

// AddOutput duplicates every message into w (typically a log file).
// Colours are disabled since files should stay plain text.
func (l *Logger) AddOutput(w io.Writer) {
	l.output = io.MultiWriter(l.output, w)
	l.colors = false
}

// SetLevel changes the verbosity.
func (l *Logger) SetLevel(verbosity int) { l.level = LogLevel(verbosity) }

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// WithPrefix returns a logger that tags every message with prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	c := *l
	if l.prefix != "" {
		c.prefix = l.prefix + " " + prefix
	} else {
		c.prefix = prefix
	}
	return &c
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("INF", format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("WRN", format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write("VRB", format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write("DBG", format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERR", format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = l.prefix + " " + msg
	}

	tag := "[" + level + "]"
	if l.colors {
		tag = levelColors[level] + tag + colorReset
	}

	if l.timestamps {
		ts := time.Now().Format("2006-01-02 15:04:05.000")
		fmt.Fprintf(l.output, "%s %s %s\n", ts, tag, msg)
	} else {
		fmt.Fprintf(l.output, "%s %s\n", tag, msg)
	}
}
