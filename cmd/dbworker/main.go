package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cfd_engine/internal/app"
	"cfd_engine/internal/service"
	"cfd_engine/internal/stream"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the yaml config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap("dbworker")
	defer bootstrap.Close()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := bootstrap.OpenStorage(); err != nil {
		slog.Error("❌ Storage failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	persister := service.NewPersister(bootstrap.Storage, cfg.Engine.DefaultBalance)
	results := stream.NewRedisLog(bootstrap.Redis, cfg.Streams.Results, cfg.Streams.PersistGroup, cfg.Streams.Consumer).
		WithStart(cfg.Streams.StartID)
	consumer := stream.NewConsumer(results, persister.Handle, bootstrap.ConsumerConfig(), bootstrap.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return bootstrap.ServeDebug(gctx) })

	slog.InfoContext(ctx, "✨ Persistence worker operational", slog.String("stream", cfg.Streams.Results))

	if err := g.Wait(); err != nil {
		slog.Error("❌ Persistence worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("👋 Shut down gracefully")
}
