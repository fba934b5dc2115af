// Package logging provides the leveled logger used across the library.
// Peers tag their log lines with a short instance prefix so that several
// peers in one process remain distinguishable.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents log severity.
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

// ParseLevel maps a level name to a Level. Unknown names select LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
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

// Logger provides leveled logging with an optional line prefix.
type Logger struct {
	mu     sync.RWMutex
	level  Level
	prefix string
	logger *log.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide default logger.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{
			level:  LevelInfo,
			logger: log.New(os.Stderr, "", log.LstdFlags|log.LUTC),
		}
	})
	return defaultLogger
}

// WithPrefix returns a logger that shares l's output, starts at l's current
// level and stamps every line with the given prefix. The level is copied:
// later SetLevel calls on either logger do not affect the other.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		level:  l.level,
		prefix: prefix,
		logger: l.logger,
	}
}

// SetLevel sets the minimum level that produces output.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current level.
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	current := l.level
	prefix := l.prefix
	l.mu.RUnlock()

	if level < current {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		l.logger.Printf("[%s] %s %s", levelNames[level], prefix, msg)
		return
	}
	l.logger.Printf("[%s] %s", levelNames[level], msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// SetLevel sets the default logger's level.
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// Debug logs a debug message to the default logger.
func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

// Info logs an info message to the default logger.
func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

// Warn logs a warning message to the default logger.
func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

// Error logs an error message to the default logger.
func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}
