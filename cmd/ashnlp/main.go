// Command ashnlp runs the crisis-detection ensemble scoring service as a
// standalone HTTP + MCP server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	ashnlp "github.com/The-Alphabet-Cartel/ash-nlp-sub005"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("NLP_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := ashnlp.New(ashnlp.WithVersion(version), ashnlp.WithLogger(logger))
	if err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
