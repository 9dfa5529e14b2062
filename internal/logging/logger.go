// Package logging provides config-driven categorized file-based logging for
// switchboard. Logs are written to .switchboard/logs/ with separate files per
// category. When debug mode is off, logging is a no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot        Category = "boot"        // Engine construction, store selection
	CategoryRouting     Category = "routing"     // Lexical scoring, candidate loading
	CategorySelector    Category = "selector"    // Primary/secondary selection, hysteresis
	CategorySemantic    Category = "semantic"    // Embedding rerank
	CategoryStore       Category = "store"       // Lane store operations
	CategorySession     Category = "session"     // Per-session state, overrides, switch events
	CategoryPerformance Category = "performance" // Operation timings
)

// Config controls logger behavior. Zero value disables all output.
type Config struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Level      string          `yaml:"level" json:"level"` // debug|info|warn|error
	Categories map[string]bool `yaml:"categories" json:"categories"`
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	config    Config
	configMu  sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory and applies config. Call once at
// startup with the workspace path; safe to skip entirely (logging stays off).
func Initialize(workspace string, cfg Config) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	configMu.Lock()
	config = cfg
	logLevel = parseLevel(cfg.Level)
	configMu.Unlock()

	if !cfg.DebugMode {
		return nil
	}

	dir := filepath.Join(workspace, ".switchboard", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	loggersMu.Lock()
	logsDir = dir
	loggersMu.Unlock()

	Boot("Logging initialized: dir=%s level=%s", dir, cfg.Level)
	return nil
}

func parseLevel(level string) int {
	switch level {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// IsCategoryEnabled returns whether a category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true // debug mode with no filter enables everything
	}
	enabled, ok := config.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns the logger for a category, creating it on first use.
// Disabled categories return a nil-safe no-op logger.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	l, ok := loggers[category]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	if logsDir == "" {
		l = &Logger{category: category}
		loggers[category] = l
		return l
	}

	path := filepath.Join(logsDir, string(category)+".log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l = &Logger{category: category}
		loggers[category] = l
		return l
	}

	l = &Logger{
		category: category,
		logger:   log.New(file, "", log.LstdFlags|log.Lmicroseconds),
		file:     file,
	}
	loggers[category] = l
	return l
}

// CloseAll closes all open log files.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

func (l *Logger) log(level int, tag, format string, args ...interface{}) {
	if l == nil || l.logger == nil {
		return
	}
	configMu.RLock()
	min := logLevel
	configMu.RUnlock()
	if level < min {
		return
	}
	l.logger.Printf("[%s] %s", tag, fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, "WARN", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, "ERROR", format, args...)
}

// =============================================================================
// Category Convenience Functions
// =============================================================================

// Boot logs boot/initialization info.
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs boot/initialization debug info.
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Routing logs routing decisions.
func Routing(format string, args ...interface{}) {
	Get(CategoryRouting).Info(format, args...)
}

// RoutingDebug logs routing debug info.
func RoutingDebug(format string, args ...interface{}) {
	Get(CategoryRouting).Debug(format, args...)
}

// Selector logs selection decisions.
func Selector(format string, args ...interface{}) {
	Get(CategorySelector).Info(format, args...)
}

// SelectorDebug logs selection debug info.
func SelectorDebug(format string, args ...interface{}) {
	Get(CategorySelector).Debug(format, args...)
}

// Semantic logs semantic rerank activity.
func Semantic(format string, args ...interface{}) {
	Get(CategorySemantic).Info(format, args...)
}

// SemanticDebug logs semantic rerank debug info.
func SemanticDebug(format string, args ...interface{}) {
	Get(CategorySemantic).Debug(format, args...)
}

// Store logs store operations.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs store debug info.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Session logs per-session state changes.
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs per-session debug info.
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// =============================================================================
// Operation Timing
// =============================================================================

// Timer measures the duration of an operation.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration to the performance category.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(CategoryPerformance).Debug("%s/%s took %v", t.category, t.operation, elapsed)
	return elapsed
}
