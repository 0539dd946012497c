package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger создаёт slog.Logger с уровнем из строки конфигурации.
func NewLogger(levelStr string) *slog.Logger {
	return New(os.Stdout, levelStr)
}

// New создаёт логгер, пишущий в w. Используется в тестах.
func New(w io.Writer, levelStr string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(levelStr),
	})
	return slog.New(handler)
}

// Discard логгер, который ничего не пишет.
func Discard() *slog.Logger {
	return New(io.Discard, "error")
}

func parseLevel(levelStr string) slog.Leveler {
	switch strings.ToLower(levelStr) {
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
