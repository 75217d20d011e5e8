package logger

import (
	"io"
	"log"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	info  *log.Logger
	error *log.Logger
	debug *log.Logger

	debugOn atomic.Bool
}

var Default = New()

func New() *Logger {
	return &Logger{
		info:  log.New(os.Stdout, "[INFO] ", log.LstdFlags),
		error: log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
		debug: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags),
	}
}

// FileConfig configures the optional rotating log file.
type FileConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetFile mirrors all levels to a rotating file in addition to the terminal.
func (l *Logger) SetFile(cfg FileConfig) {
	if cfg.Path == "" {
		return
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 50
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	l.info.SetOutput(io.MultiWriter(os.Stdout, rotator))
	l.error.SetOutput(io.MultiWriter(os.Stderr, rotator))
	l.debug.SetOutput(io.MultiWriter(os.Stdout, rotator))
}

// SetDebug toggles debug output. Off by default.
func (l *Logger) SetDebug(on bool) {
	l.debugOn.Store(on)
}

func (l *Logger) Info(format string, v ...any) {
	l.info.Printf(format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.error.Printf(format, v...)
}

func (l *Logger) Debug(format string, v ...any) {
	if !l.debugOn.Load() {
		return
	}
	l.debug.Printf(format, v...)
}

func Info(format string, v ...any) {
	Default.Info(format, v...)
}

func Error(format string, v ...any) {
	Default.Error(format, v...)
}

func Debug(format string, v ...any) {
	Default.Debug(format, v...)
}

func SetDebug(on bool) {
	Default.SetDebug(on)
}

func SetFile(cfg FileConfig) {
	Default.SetFile(cfg)
}
