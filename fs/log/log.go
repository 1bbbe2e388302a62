// Package log wires logrus into smashfs and provides the object-scoped
// logging helpers used throughout the tree.
package log

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.Out = os.Stderr
	logger.Level = logrus.InfoLevel
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: "2006/01/02 15:04:05",
		FullTimestamp:   true,
	}
}

// SetLevel adjusts the global log level. Unknown names are rejected.
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", level, err)
	}
	logger.SetLevel(l)
	return nil
}

// SetDebug is shorthand for the -v flag.
func SetDebug() {
	logger.SetLevel(logrus.DebugLevel)
}

// prefix formats the object an event is about. Objects implementing
// fmt.Stringer describe themselves; nil means a global event.
func prefix(o interface{}) string {
	if o == nil {
		return ""
	}
	return fmt.Sprintf("%v: ", o)
}

// Errorf writes an error-level event about o.
func Errorf(o interface{}, format string, args ...interface{}) {
	logger.Errorf(prefix(o)+format, args...)
}

// Infof writes an info-level event about o.
func Infof(o interface{}, format string, args ...interface{}) {
	logger.Infof(prefix(o)+format, args...)
}

// Debugf writes a debug-level event about o.
func Debugf(o interface{}, format string, args ...interface{}) {
	logger.Debugf(prefix(o)+format, args...)
}

// Warnf writes a warning-level event about o.
func Warnf(o interface{}, format string, args ...interface{}) {
	logger.Warnf(prefix(o)+format, args...)
}
