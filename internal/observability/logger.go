package observability

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogFile  = "RAGSHELL_LOG_FILE"
	EnvLogLevel = "RAGSHELL_LOG_LEVEL"
)

type Options struct {
	Level string
	// File is appended to in addition to Output when set.
	File   string
	Output io.Writer
}

var (
	initOnce sync.Once
	mu       sync.RWMutex
	logger   zerolog.Logger
	logFile  *os.File
	exitFunc = os.Exit
)

func initLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	build(Options{
		Level: os.Getenv(EnvLogLevel),
		File:  os.Getenv(EnvLogFile),
	})
}

// Configure replaces the process logger. Safe to call more than once.
func Configure(opts Options) {
	initOnce.Do(initLogger)
	build(opts)
}

func build(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var f *os.File
	if path := strings.TrimSpace(opts.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			f, _ = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		}
	}

	var w io.Writer = out
	if f != nil {
		w = zerolog.MultiLevelWriter(out, f)
	}

	next := zerolog.New(w).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logger = next
}

func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func current() zerolog.Logger {
	initOnce.Do(initLogger)
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Log(level string, event string, fields map[string]any) {
	l := current()
	lvl := ParseLevel(level)
	if lvl == zerolog.Disabled {
		lvl = zerolog.InfoLevel
	}
	l.WithLevel(lvl).Str("event", strings.TrimSpace(event)).Fields(fields).Send()
}

func Debug(event string, fields map[string]any) {
	Log("debug", event, fields)
}

func Info(event string, fields map[string]any) {
	Log("info", event, fields)
}

func Warn(event string, fields map[string]any) {
	Log("warning", event, fields)
}

func Error(event string, fields map[string]any) {
	Log("error", event, fields)
}

// Fatal logs and terminates the process. Used for unrecoverable startup failures.
func Fatal(event string, fields map[string]any) {
	l := current()
	l.WithLevel(zerolog.FatalLevel).Str("event", strings.TrimSpace(event)).Fields(fields).Send()

	mu.RLock()
	if logFile != nil {
		_ = logFile.Sync()
	}
	mu.RUnlock()
	exitFunc(1)
}
