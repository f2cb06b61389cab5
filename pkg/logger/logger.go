package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// ParseLevel maps a config level string onto a slog level. Unknown values
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs a text logger on stderr. If level is empty the
// GPSYNC_LOG_LEVEL environment variable is consulted.
func Init(level string) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("GPSYNC_LOG_LEVEL")
	}
	InitWithWriter(os.Stderr, level)
}

// InitWithWriter installs a text logger writing to w.
func InitWithWriter(w io.Writer, level string) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Or returns l when non-nil, otherwise the package logger.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Log
}

func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// LogConfigSummary writes a multi-item summary as one record.
func LogConfigSummary(title string, items []string) {
	Log.Info(title, "items", strings.Join(items, "; "))
}
