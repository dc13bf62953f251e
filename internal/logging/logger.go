package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	current  *slog.Logger
	loggerMu sync.RWMutex
	logFile  *os.File
)

// Level names accepted in configuration.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	OutputPath string // empty for stderr
	Format     string // "json" or "text"
}

func (l Level) slogLevel() (slog.Level, error) {
	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelInfo, "":
		return slog.LevelInfo, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", l)
	}
}

// Init replaces the process logger. A previously opened log file is closed.
func Init(cfg Config) error {
	level, err := cfg.Level.slogLevel()
	if err != nil {
		return err
	}

	var writer io.Writer = os.Stderr
	var file *os.File
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
			return fmt.Errorf("logging: create log dir: %w", err)
		}
		file, err = os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("logging: open %s: %w", cfg.OutputPath, err)
		}
		writer = file
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text", "":
		handler = slog.NewTextHandler(writer, opts)
	default:
		if file != nil {
			file.Close()
		}
		return fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = file
	current = slog.New(handler)
	return nil
}

// Close releases the log file, if any, and reverts to the default logger.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	var err error
	if logFile != nil {
		err = logFile.Close()
		logFile = nil
	}
	current = nil
	return err
}

// GetLogger returns the process logger, defaulting to text at INFO on stderr.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	logger := current
	loggerMu.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if current == nil {
		current = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return current
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Debug(msg string, args ...any) { GetLogger().Debug(msg, args...) }

func Info(msg string, args ...any) { GetLogger().Info(msg, args...) }

func Warn(msg string, args ...any) { GetLogger().Warn(msg, args...) }

func Error(msg string, args ...any) { GetLogger().Error(msg, args...) }
