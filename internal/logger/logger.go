package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Fields carries structured key/value pairs attached to a log line.
type Fields = logrus.Fields

var (
	currentLevel = LevelInfo
	logger       = newLogrus()

	// logFile is the file opened by SetOutput, closed when the output changes.
	logFile *os.File
	outMu   sync.Mutex
)

func newLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// GetLevel returns the active minimum level.
func GetLevel() Level {
	return currentLevel
}

// SetFormat switches between "text" and "json" output.
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

// SetOutput directs log lines to stdout, stderr or an append-only file.
// A file opened by a previous call is closed.
func SetOutput(output string) error {
	outMu.Lock()
	defer outMu.Unlock()

	var (
		w    io.Writer
		file *os.File
	)
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", output, err)
		}
		w, file = f, f
	}
	return swapOutput(w, file)
}

// SetWriter replaces the output writer. Used by tests to capture lines.
func SetWriter(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	_ = swapOutput(w, nil)
}

func swapOutput(w io.Writer, file *os.File) error {
	logger.SetOutput(w)
	prev := logFile
	logFile = file
	if prev != nil {
		if err := prev.Close(); err != nil {
			return fmt.Errorf("close previous log file: %w", err)
		}
	}
	return nil
}

func log(entry *logrus.Entry, level Level, format string, v ...any) {
	if level < currentLevel {
		return
	}

	message := fmt.Sprintf(format, v...)
	switch level {
	case LevelDebug:
		entry.Debug(message)
	case LevelInfo:
		entry.Info(message)
	case LevelWarn:
		entry.Warn(message)
	default:
		entry.Error(message)
	}
}

func Debug(format string, v ...any) {
	log(logrus.NewEntry(logger), LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(logrus.NewEntry(logger), LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(logrus.NewEntry(logger), LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(logrus.NewEntry(logger), LevelError, format, v...)
}

// Entry is a logger bound to a fixed set of fields, e.g. one connection.
type Entry struct {
	entry *logrus.Entry
}

// WithFields returns an Entry that prefixes every line with fields.
func WithFields(fields Fields) *Entry {
	return &Entry{entry: logger.WithFields(fields)}
}

func (e *Entry) Debug(format string, v ...any) { log(e.entry, LevelDebug, format, v...) }
func (e *Entry) Info(format string, v ...any)  { log(e.entry, LevelInfo, format, v...) }
func (e *Entry) Warn(format string, v ...any)  { log(e.entry, LevelWarn, format, v...) }
func (e *Entry) Error(format string, v ...any) { log(e.entry, LevelError, format, v...) }
