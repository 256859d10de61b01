package log

import (
	"fmt"
	"io"
	"os"
)

var stderr io.Writer = os.Stderr

// Logger is a minimal wrapper around an io.Writer.
type Logger struct {
	io.Writer
}

// New returns a new logger which writes to w.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// Debugf logs a formatted line prefixed with a debug marker.
func (l *Logger) Debugf(format string, args ...interface{}) {
	fmt.Fprintf(l, "debug: "+format+"\n", args...)
}

// Infof logs a formatted line prefixed with an info marker.
func (l *Logger) Infof(format string, args ...interface{}) {
	fmt.Fprintf(l, "info: "+format+"\n", args...)
}

// Warnf logs a formatted line prefixed with a warning marker.
func (l *Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(l, "warn: "+format+"\n", args...)
}

// Std returns a Logger writing to os.Stderr, the default used by commands
// and the registry server when no other destination is configured.
func Std() *Logger {
	return New(stderr)
}
