package log

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
// Unknown or empty names fall back to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Format selects the line layout.
type Format string

const (
	// FormatText writes "[time] [LEVEL] [file:line] message".
	FormatText Format = "text"
	// FormatJSON writes one slog JSON object per entry, for log shippers.
	FormatJSON Format = "json"
)

// ParseFormat falls back to FormatText for unknown names.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

type Logger struct {
	level LogLevel
	text  *log.Logger
	json  *slog.Logger
}

type Option func(*loggerOptions)

type loggerOptions struct {
	out    io.Writer
	format Format
	attrs  []slog.Attr
}

// WithOutput writes entries to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(o *loggerOptions) {
		o.out = w
	}
}

func WithFormat(f Format) Option {
	return func(o *loggerOptions) {
		o.format = f
	}
}

// WithAttrs adds fixed fields to every JSON entry, e.g. the app version.
func WithAttrs(attrs ...slog.Attr) Option {
	return func(o *loggerOptions) {
		o.attrs = append(o.attrs, attrs...)
	}
}

func NewLogger(level LogLevel, opts ...Option) *Logger {
	o := loggerOptions{out: os.Stdout, format: FormatText}
	for _, opt := range opts {
		opt(&o)
	}

	l := &Logger{level: level}
	if o.format == FormatJSON {
		handler := slog.NewJSONHandler(o.out, &slog.HandlerOptions{
			Level: level.slog(),
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey {
					if lvl, ok := a.Value.Any().(slog.Level); ok && lvl > slog.LevelError {
						return slog.String(slog.LevelKey, LevelFatal.String())
					}
				}
				return a
			},
		}).WithAttrs(o.attrs)
		l.json = slog.New(handler)
	} else {
		l.text = log.New(o.out, "", 0)
	}
	return l
}

func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	// callerAt, log() and the level method or package func
	caller := callerAt(3)
	message := fmt.Sprintf(format, args...)

	if l.json != nil {
		l.json.LogAttrs(context.Background(), level.slog(), message, slog.String("caller", caller))
		return
	}
	l.text.Printf("[%s] [%s] [%s] %s",
		time.Now().Format("2006-01-02 15:04:05"),
		levelNames[level],
		caller,
		message)
}

// callerAt reports the file:line skip frames above its own caller.
func callerAt(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

var globalLogger *Logger

// InitLogger replaces the package level logger used by Debug, Info and
// the other helpers.
func InitLogger(level LogLevel, opts ...Option) {
	globalLogger = NewLogger(level, opts...)
}

func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// Convenience functions
func Debug(format string, args ...interface{}) {
	GetLogger().log(LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().log(LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().log(LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().log(LevelError, format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().log(LevelFatal, format, args...)
	os.Exit(1)
}
