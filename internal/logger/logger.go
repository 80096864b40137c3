package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
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

// ParseLevel converts a config value ("debug", "info", ...) into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// Logger writes leveled, structured log lines to a daily rotated file.
// Children created with With share the file and level of their parent.
type Logger struct {
	core *core
	log  *log.Logger
}

type core struct {
	level atomic.Int32
	file  *rotatingFile
}

// Config holds logger configuration
type Config struct {
	LogDir        string
	Level         Level
	RetentionDays int
	// Console mirrors log lines to stderr
	Console bool
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	logDir := filepath.Join(homeDir, "Library", "Application Support", "EzLiveTutor", "logs")

	return Config{
		LogDir:        logDir,
		Level:         INFO,
		RetentionDays: 7,
	}
}

// New creates a new logger
func New(config Config) (*Logger, error) {
	rf := &rotatingFile{
		logDir:        config.LogDir,
		retentionDays: config.RetentionDays,
	}
	if err := rf.rotate(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var w io.Writer = rf
	if config.Console {
		w = io.MultiWriter(rf, os.Stderr)
	}

	c := &core{file: rf}
	c.level.Store(int32(config.Level))

	return &Logger{core: c, log: newCharm(w)}, nil
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	c := &core{}
	c.level.Store(int32(ERROR + 1))
	return &Logger{core: c, log: newCharm(io.Discard)}
}

func newCharm(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           log.DebugLevel,
	})
}

// With returns a child logger that adds keyvals to every line
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{core: l.core, log: l.log.With(keyvals...)}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(DEBUG) {
		l.log.Debugf(format, v...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(INFO) {
		l.log.Infof(format, v...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.enabled(WARN) {
		l.log.Warnf(format, v...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(ERROR) {
		l.log.Errorf(format, v...)
	}
}

func (l *Logger) enabled(level Level) bool {
	if l == nil {
		return false
	}
	return Level(l.core.level.Load()) <= level
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.core.file == nil {
		return nil
	}
	return l.core.file.Close()
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.core.level.Store(int32(level))
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	return Level(l.core.level.Load())
}

// rotatingFile is an io.Writer that switches to a new file each day
type rotatingFile struct {
	mu            sync.Mutex
	file          *os.File
	logDir        string
	currentDay    string
	retentionDays int
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentDay != time.Now().Format("20060102") {
		if err := r.rotateLocked(); err != nil {
			// Can't log this error since logging is failing
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}
	if r.file == nil {
		return len(p), nil
	}
	return r.file.Write(p)
}

func (r *rotatingFile) rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked()
}

func (r *rotatingFile) rotateLocked() error {
	today := time.Now().Format("20060102")

	if r.currentDay == today && r.file != nil {
		return nil
	}

	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	if err := os.MkdirAll(r.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("ezlivetutor-%s.log", today)
	file, err := os.OpenFile(filepath.Join(r.logDir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	r.file = file
	r.currentDay = today

	if err := r.cleanOldLogs(); err != nil {
		fmt.Fprintf(file, "Failed to clean old logs: %v\n", err)
	}

	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (r *rotatingFile) cleanOldLogs() error {
	cutoffDate := time.Now().AddDate(0, 0, -r.retentionDays)

	entries, err := os.ReadDir(r.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// Continue even if we can't delete a file
			_ = os.Remove(filepath.Join(r.logDir, entry.Name()))
		}
	}

	return nil
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	// Keep currentDay so late writes after Close are dropped, not reopened
	return err
}
