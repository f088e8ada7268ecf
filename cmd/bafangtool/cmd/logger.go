package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/roffe/bafangcan"
)

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info", "":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	tagError = color.New(color.FgRed, color.Bold).SprintFunc()
	tagWarn  = color.New(color.FgYellow).SprintFunc()
	tagInfo  = color.New(color.FgGreen).SprintFunc()
	tagDebug = color.New(color.FgHiBlack).SprintFunc()
)

// LeveledLogger filters by level, colors the severity tag on the console and keeps
// an uncolored copy in the log file when one is set.
type LeveledLogger struct {
	logger *log.Logger

	mu    sync.Mutex
	level LogLevel
	file  *log.Logger
}

var logger = NewLeveledLogger(log.Default(), LogLevelInfo)

func NewLeveledLogger(logger *log.Logger, level LogLevel) *LeveledLogger {
	return &LeveledLogger{
		logger: logger,
		level:  level,
	}
}

func (l *LeveledLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *LeveledLogger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetFile mirrors every line to w, nil stops mirroring.
func (l *LeveledLogger) SetFile(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		l.file = nil
		return
	}
	l.file = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

func (l *LeveledLogger) Debug(format string, v ...interface{}) {
	l.print(LogLevelDebug, tagDebug("[DEBUG]"), "[DEBUG]", format, v...)
}

func (l *LeveledLogger) Info(format string, v ...interface{}) {
	l.print(LogLevelInfo, tagInfo("[INFO]"), "[INFO]", format, v...)
}

func (l *LeveledLogger) Warn(format string, v ...interface{}) {
	l.print(LogLevelWarn, tagWarn("[WARN]"), "[WARN]", format, v...)
}

func (l *LeveledLogger) Error(format string, v ...interface{}) {
	l.print(LogLevelError, tagError("[ERROR]"), "[ERROR]", format, v...)
}

// Event routes adapter and engine events to the matching level.
func (l *LeveledLogger) Event(e bafangcan.Event) {
	switch e.Type {
	case bafangcan.EventTypeError:
		l.Error("%s", e.Details)
	case bafangcan.EventTypeWarning:
		l.Warn("%s", e.Details)
	case bafangcan.EventTypeInfo:
		l.Info("%s", e.Details)
	default:
		l.Debug("%s", e.Details)
	}
}

func (l *LeveledLogger) print(level LogLevel, tag, plain, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.logger.Output(3, tag+" "+msg)
	if l.file != nil {
		l.file.Output(3, plain+" "+msg)
	}
}

func logFileName(t time.Time) string {
	return "log-" + t.Format("2006-01-02-15-04-05") + ".log"
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName(time.Now())), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
