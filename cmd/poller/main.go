package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfd_engine/internal/app"
	"cfd_engine/internal/infra/backpack"
	"cfd_engine/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the yaml config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap("poller")
	defer bootstrap.Close()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// The poller only appends, so the ingest stream is never trimmed by it.
	ingest := stream.NewRedisAppender(bootstrap.Redis, cfg.Streams.Ingest, 0)
	worker := backpack.NewWorker(cfg.Feed.WSURL, cfg.Feed.Assets, cfg.Feed.Decimals, ingest,
		time.Duration(cfg.Feed.PublishIntervalMS)*time.Millisecond, bootstrap.Metrics)

	if err := worker.Connect(ctx); err != nil {
		slog.Error("Failed to start Backpack feed", slog.Any("error", err))
		os.Exit(1)
	}
	defer worker.Disconnect()
	slog.InfoContext(ctx, "✅ Backpack feed started", slog.Any("assets", cfg.Feed.Assets))

	go bootstrap.ServeDebug(ctx)

	<-ctx.Done()
	slog.Info("👋 Shutting down gracefully...")
}
