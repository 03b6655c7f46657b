package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a structured key/value logger backed by logrus
type Logger struct {
	entry *logrus.Entry
	base  *logrus.Logger
}

// NewLogger creates a logger for a component at the given level (trace|debug|info|warn|error)
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	l := &Logger{base: base}
	l.entry = logrus.NewEntry(base)
	if component != "" {
		l.entry = l.entry.WithField("component", component)
	}
	l.SetLevel(level)
	return l
}

// SetLevel changes the minimum level. Unknown levels fall back to info.
func (l *Logger) SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.base.SetLevel(parsed)
}

// SetFormat switches between "json" and text output
func (l *Logger) SetFormat(format string) {
	if strings.EqualFold(format, "json") {
		l.base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutput redirects log output
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// With returns a child logger carrying an extra field
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithField(key, value)}
}

func (l *Logger) Trace(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Trace(msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Info(msg)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Error(msg)
}

// LogDebugVerbose logs a debug event with a field map
func (l *Logger) LogDebugVerbose(event string, data map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(data)).Debug(event)
}

// LogVerbose logs a trace event with a field map
func (l *Logger) LogVerbose(event string, data map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(data)).Trace(event)
}

// LogStateChange records a lifecycle transition
func (l *Logger) LogStateChange(component, from, to, reason string) {
	l.entry.WithFields(logrus.Fields{
		"state_component": component,
		"from":            from,
		"to":              to,
		"reason":          reason,
	}).Info("state_change")
}

// fields accepts either alternating key/value pairs or a single field map.
func fields(args []interface{}) logrus.Fields {
	out := logrus.Fields{}
	if len(args) == 1 {
		if m, ok := args[0].(map[string]interface{}); ok {
			for k, v := range m {
				out[k] = v
			}
			return out
		}
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			out["!BADKEY"] = key
			break
		}
		if err, ok := args[i+1].(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = args[i+1]
	}
	return out
}
