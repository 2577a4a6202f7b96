// Structured logging for the sensor hub
//
// Leveled, prefixed loggers with persistent fields, backed by logrus.
// Text output keeps one line per entry; JSON output uses logrus'
// JSONFormatter with the prefix carried in the "component" field.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel parses a string into a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Logger is a prefixed handle on a logrus logger.
type Logger struct {
	mu     sync.Mutex
	prefix string
	base   *logrus.Logger
	fields Fields
}

// Entry represents a single log entry with fields
type Entry struct {
	logger *Logger
	fields Fields
}

// textFormatter renders "time [LEVEL] prefix: msg key=value ...".
type textFormatter struct {
	timeFormat string
	colorize   bool
}

var levelColors = map[logrus.Level]string{
	logrus.DebugLevel: "\x1b[36m",
	logrus.InfoLevel:  "\x1b[32m",
	logrus.WarnLevel:  "\x1b[33m",
	logrus.ErrorLevel: "\x1b[31m",
}

func (f *textFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.Format(f.timeFormat))
	lvl := strings.ToUpper(e.Level.String())
	if lvl == "WARNING" {
		lvl = "WARN"
	}
	if f.colorize {
		fmt.Fprintf(&b, " %s[%-5s]\x1b[0m ", levelColors[e.Level], lvl)
	} else {
		fmt.Fprintf(&b, " [%-5s] ", lvl)
	}
	if c, ok := e.Data["component"]; ok && c != "" {
		fmt.Fprintf(&b, "%v: ", c)
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	if e.HasCaller() {
		fmt.Fprintf(&b, " (%s:%d)", e.Caller.File, e.Caller.Line)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&textFormatter{
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
	})
	return &Logger{prefix: prefix, base: base, fields: make(Fields)}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrus())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	switch l.base.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return DEBUG
	case logrus.WarnLevel:
		return WARN
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return ERROR
	default:
		return INFO
	}
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.base.SetOutput(w)
}

// SetColorize enables or disables colorized text output
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tf, ok := l.base.Formatter.(*textFormatter); ok {
		tf.colorize = enable
	}
}

// SetFormat sets the output format (FormatText or FormatJSON)
func (l *Logger) SetFormat(format OutputFormat) {
	if format == FormatJSON {
		l.base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
		return
	}
	l.base.SetFormatter(&textFormatter{
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
	})
}

// SetCaller enables or disables caller info in log output
func (l *Logger) SetCaller(enable bool) {
	l.base.SetReportCaller(enable)
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	f := make(Fields, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return &Entry{logger: l, fields: f}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err)
}

func (l *Logger) entry(extra Fields) *logrus.Entry {
	data := logrus.Fields{}
	l.mu.Lock()
	for k, v := range l.fields {
		data[k] = v
	}
	l.mu.Unlock()
	for k, v := range extra {
		data[k] = v
	}
	if l.prefix != "" {
		data["component"] = l.prefix
	}
	return l.base.WithFields(data)
}

func (l *Logger) log(level LogLevel, fields Fields, msg string, args ...interface{}) {
	if !l.base.IsLevelEnabled(level.logrus()) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.entry(fields).Log(level.logrus(), msg)
}

// Debug logs a message at DEBUG level
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, nil, msg, args...) }

// Info logs a message at INFO level
func (l *Logger) Info(msg string, args ...interface{}) { l.log(INFO, nil, msg, args...) }

// Warn logs a message at WARN level
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(WARN, nil, msg, args...) }

// Error logs a message at ERROR level
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, nil, msg, args...) }

// DebugEnabled reports whether DEBUG messages are emitted. Hot paths check
// it before building expensive arguments.
func (l *Logger) DebugEnabled() bool {
	return l.base.IsLevelEnabled(logrus.DebugLevel)
}

// WithPrefix returns a logger sharing this one's output with a new prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := make(Fields, len(l.fields))
	for k, v := range l.fields {
		f[k] = v
	}
	return &Logger{prefix: prefix, base: l.base, fields: f}
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	f := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		f[k] = v
	}
	f[key] = value
	return &Entry{logger: e.logger, fields: f}
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	f := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		f[k] = v
	}
	for k, v := range fields {
		f[k] = v
	}
	return &Entry{logger: e.logger, fields: f}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err)
}

func (e *Entry) Debug(msg string) { e.logger.log(DEBUG, e.fields, "%s", msg) }
func (e *Entry) Info(msg string)  { e.logger.log(INFO, e.fields, "%s", msg) }
func (e *Entry) Warn(msg string)  { e.logger.log(WARN, e.fields, "%s", msg) }
func (e *Entry) Error(msg string) { e.logger.log(ERROR, e.fields, "%s", msg) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.log(DEBUG, e.fields, format, args...)
}

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.log(INFO, e.fields, format, args...)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.log(WARN, e.fields, format, args...)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.log(ERROR, e.fields, format, args...)
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// GetLogger returns a logger with the given prefix sharing the default
// logger's output, level and format.
func GetLogger(prefix string) *Logger {
	defaultMu.Lock()
	d := defaultLogger
	defaultMu.Unlock()
	if d == nil {
		return New(prefix)
	}
	return d.WithPrefix(prefix)
}

// Debug logs at DEBUG level using default logger
func Debug(msg string, args ...interface{}) { GetLogger("").Debug(msg, args...) }

// Info logs at INFO level using default logger
func Info(msg string, args ...interface{}) { GetLogger("").Info(msg, args...) }

// Warn logs at WARN level using default logger
func Warn(msg string, args ...interface{}) { GetLogger("").Warn(msg, args...) }

// Error logs at ERROR level using default logger
func Error(msg string, args ...interface{}) { GetLogger("").Error(msg, args...) }

func init() {
	l := New("")
	ConfigureFromEnv(l)
	defaultLogger = l
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - SENSORHUB_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - SENSORHUB_LOG_FORMAT: text, json
//   - SENSORHUB_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("SENSORHUB_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	if v := os.Getenv("SENSORHUB_LOG_FORMAT"); v != "" {
		l.SetFormat(ParseFormat(v))
	}
	if os.Getenv("SENSORHUB_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}

// HexDump logs data sixteen bytes per line, offsets relative to base.
func (l *Logger) HexDump(level LogLevel, base int, data []byte) {
	if !l.base.IsLevelEnabled(level.logrus()) {
		return
	}
	for off := 0; off < len(data); off += 16 {
		var b strings.Builder
		fmt.Fprintf(&b, "%08x:", base+off)
		for i := off; i < off+16 && i < len(data); i++ {
			if i-off == 8 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, " %02x", data[i])
		}
		l.log(level, nil, "%s", b.String())
	}
}
