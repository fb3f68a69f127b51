// Package logging provides a simple leveled logger for the VP8 decoder and
// its services.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// Format selects the output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// sink is the state shared by a logger and its component children.
type sink struct {
	mu     sync.RWMutex
	level  Level
	format Format
	logger *log.Logger
	out    io.Writer
}

// Logger provides leveled logging
type Logger struct {
	sink      *sink
	component string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger instance
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stderr, LevelInfo)
	})
	return defaultLogger
}

// New returns a logger writing to w at the given level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		sink: &sink{
			level:  level,
			logger: log.New(w, "", log.LstdFlags|log.LUTC),
			out:    w,
		},
	}
}

// WithPrefix returns a child logger tagging every message with component.
// The child shares level and output with its parent.
func (l *Logger) WithPrefix(component string) *Logger {
	if l.component != "" {
		component = l.component + "." + component
	}
	return &Logger{sink: l.sink, component: component}
}

// Component returns the component tag, empty for a root logger.
func (l *Logger) Component() string { return l.component }

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// SetFormat switches between text and JSON lines.
func (l *Logger) SetFormat(f Format) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.format = f
}

// SetFormatFromString sets the output format from "text" or "json".
func (l *Logger) SetFormatFromString(s string) {
	if strings.EqualFold(s, "json") {
		l.SetFormat(FormatJSON)
		return
	}
	l.SetFormat(FormatText)
}

// SetLevelFromString sets the log level from a string
func (l *Logger) SetLevelFromString(levelStr string) {
	l.SetLevel(ParseLevel(levelStr))
}

// ParseLevel maps a level name to a Level, defaulting to LevelInfo.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.level
}

// GetLevelString returns the current log level as a string
func (l *Logger) GetLevelString() string {
	return levelNames[l.GetLevel()]
}

// GetLevelString returns the default logger's level as a string
func GetLevelString() string {
	return Default().GetLevelString()
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.GetLevel()
}

type jsonLine struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Msg       string `json:"msg"`
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.sink.mu.RLock()
	currentLevel := l.sink.level
	f := l.sink.format
	l.sink.mu.RUnlock()

	if level < currentLevel {
		return
	}

	msg := fmt.Sprintf(format, args...)

	if f == FormatJSON {
		b, err := json.Marshal(jsonLine{
			Time:      time.Now().UTC().Format(time.RFC3339Nano),
			Level:     levelNames[level],
			Component: l.component,
			Msg:       msg,
		})
		if err != nil {
			return
		}
		l.sink.mu.Lock()
		_, _ = l.sink.out.Write(append(b, '\n'))
		l.sink.mu.Unlock()
		return
	}

	if l.component != "" {
		l.sink.logger.Printf("[%s] %s: %s", levelNames[level], l.component, msg)
		return
	}
	l.sink.logger.Printf("[%s] %s", levelNames[level], msg)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Package-level convenience functions

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// SetLevelFromString sets the default logger's level from a string
func SetLevelFromString(levelStr string) {
	Default().SetLevelFromString(levelStr)
}

// SetFormatFromString sets the default logger's format from a string
func SetFormatFromString(s string) {
	Default().SetFormatFromString(s)
}

// WithPrefix returns a component logger of the default logger
func WithPrefix(component string) *Logger {
	return Default().WithPrefix(component)
}

// Debug logs a debug message to the default logger
func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

// Info logs an info message to the default logger
func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

// Warn logs a warning message to the default logger
func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

// Error logs an error message to the default logger
func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}
