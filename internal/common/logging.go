package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level orders log output from least to most verbose.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelTrace:
		return "trace"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel accepts error, warn, info and trace (or all).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "", "info":
		return LevelInfo, nil
	case "trace", "all":
		return LevelTrace, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is a levelled wrapper around log.Logger. A nil *Logger discards
// everything so callers can pass it around without checks.
type Logger struct {
	l     *log.Logger
	level Level
}

func NewLogger(w io.Writer, level Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		l:     log.New(w, "[edmgate] ", log.LstdFlags|log.Lmicroseconds),
		level: level,
	}
}

var std = NewLogger(os.Stderr, LevelInfo)

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	if l != nil {
		std = l
	}
}

func (l *Logger) Level() Level {
	if l == nil {
		return LevelError
	}
	return l.level
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level <= l.level
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.l.Printf(strings.ToUpper(level.String())+" "+format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }

func Fatalf(format string, args ...interface{}) {
	std.l.Fatalf(format, args...)
}

// RotationConfig controls the size-based log rotation used by edmctl when a
// log directory is configured.
type RotationConfig struct {
	Directory  string
	FileName   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// RotatingWriter returns a writer that tees to stderr and to a rotating file
// in cfg.Directory. Without a directory it returns stderr.
func RotatingWriter(cfg RotationConfig) (io.Writer, error) {
	if cfg.Directory == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := cfg.FileName
	if name == "" {
		name = "edmctl.log"
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	return io.MultiWriter(os.Stderr, rotator), nil
}
