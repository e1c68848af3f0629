package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLogLevel sets the logging level
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetLogOutput sets the log output destination
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSONFormat enables JSON log format
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// WithField returns a logger with a field
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithFields returns a logger with multiple fields
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithDevice returns a logger with device context
func WithDevice(device string) *logrus.Entry {
	return Logger.WithField("device", device)
}

// WithTest returns a logger with test context
func WithTest(test string) *logrus.Entry {
	return Logger.WithField("test", test)
}

// WithAction returns a logger with action kind and id context
func WithAction(kind string, id int) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"action": kind, "id": id})
}

const bannerWidth = 80

// Banner formats text as a boxed banner for visual separation in logs.
// Lines longer than the box are emitted unpadded rather than truncated.
func Banner(text string) string {
	edge := "+" + strings.Repeat("-", bannerWidth-2) + "+"
	lines := []string{edge}
	for _, ln := range strings.Split(text, "\n") {
		if len(ln) > bannerWidth-4 {
			lines = append(lines, "| "+ln)
			continue
		}
		pad := bannerWidth - 4 - len(ln)
		left := pad / 2
		lines = append(lines, fmt.Sprintf("| %s%s%s |",
			strings.Repeat(" ", left), ln, strings.Repeat(" ", pad-left)))
	}
	lines = append(lines, edge)
	return "\n" + strings.Join(lines, "\n")
}

// Debug logs a debug message
func Debug(args ...interface{}) {
	Logger.Debug(args...)
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Info logs an info message
func Info(args ...interface{}) {
	Logger.Info(args...)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warn logs a warning message
func Warn(args ...interface{}) {
	Logger.Warn(args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Error logs an error message
func Error(args ...interface{}) {
	Logger.Error(args...)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// Fatalf logs a formatted fatal message and exits
func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}
