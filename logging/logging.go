package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger 在标准库 log 之上加一层级别前缀，Info/Debug 受 verbose 控制。
type Logger struct {
	base    *log.Logger
	verbose bool
	prefix  string
}

// New wraps base. A nil base falls back to log.Default().
func New(base *log.Logger, verbose bool) *Logger {
	if base == nil {
		base = log.Default()
	}
	return &Logger{base: base, verbose: verbose}
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Logger {
	return New(log.New(io.Discard, "", 0), false)
}

// Stderr builds the process logger the same way main configures log.
func Stderr(verbose bool) *Logger {
	return New(log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile), verbose)
}

// With returns a child logger tagging every line with [component].
func (l *Logger) With(component string) *Logger {
	if l == nil {
		l = New(nil, false)
	}
	return &Logger{base: l.base, verbose: l.verbose, prefix: l.prefix + "[" + component + "] "}
}

// Verbose reports whether info/debug lines are emitted.
func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

func (l *Logger) Infof(format string, args ...any) {
	if !l.Verbose() {
		return
	}
	l.output("[INFO] ", format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	if !l.Verbose() {
		return
	}
	l.output("[DEBUG] ", format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.output("[WARN] ", format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.output("[ERROR] ", format, args...)
}

// Printf logs unconditionally without a level, like the cli lines in main.
func (l *Logger) Printf(format string, args ...any) {
	l.output("", format, args...)
}

// Std exposes the underlying *log.Logger for libraries that want one.
func (l *Logger) Std() *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l.base
}

func (l *Logger) output(level, format string, args ...any) {
	if l == nil {
		return
	}
	_ = l.base.Output(3, fmt.Sprintf(level+l.prefix+format, args...))
}
