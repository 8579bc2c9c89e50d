package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/research-assistant/internal/adapters/mcp"
	"github.com/kirillkom/research-assistant/internal/bootstrap"
	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	// stdout carries the protocol.
	slog.SetDefault(logging.New(os.Stderr, "mcp", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	svc := mcpadapter.Services{
		Retriever: app.Retrieval,
		Chat:      app.Chat,
		Library:   app.Library,
		DefaultK:  cfg.RAGTopK,
	}
	if app.Citations != nil {
		svc.Citations = app.Citations
	}
	server, err := mcpadapter.NewServer(svc)
	if err != nil {
		slog.Error("mcp_init_failed", "error", err)
		os.Exit(1)
	}

	slog.Info("mcp_serving", "transport", "stdio")
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		slog.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
