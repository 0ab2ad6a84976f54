package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default logger. The chat screen owns the terminal, so
// WARPCHAT_LOG_FILE can send logs to a file instead of stderr. It returns
// a function that closes that file.
func Init() func() {
	level := slog.LevelError // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if path := os.Getenv("WARPCHAT_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			out = f
			closeFn = func() { f.Close() }
		}
	}

	logger := slog.New(
		slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
	return closeFn
}
