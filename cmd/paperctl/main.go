package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/research-assistant/internal/adapters/cli"
	"github.com/kirillkom/research-assistant/internal/bootstrap"
	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *bootstrap.App
	open := func(ctx context.Context) (cli.Services, error) {
		cfg, err := config.Load()
		if err != nil {
			return cli.Services{}, err
		}
		// Keep stdout for command output; only warnings reach the terminal.
		level := cfg.LogLevel
		if level == "" || level == "info" {
			level = "warn"
		}
		slog.SetDefault(logging.New(os.Stderr, "paperctl", level))

		app, err = bootstrap.New(ctx, cfg, bootstrap.Options{})
		if err != nil {
			return cli.Services{}, err
		}
		return cli.Services{
			Ingest:    app.Ingest,
			Library:   app.Library,
			Chat:      app.Chat,
			Retriever: app.Retrieval,
			Policy:    cfg.ChunkPolicy(),
		}, nil
	}

	err := cli.NewRootCommand(open).ExecuteContext(ctx)
	if app != nil {
		app.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
