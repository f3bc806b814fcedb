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
	"cfd_engine/internal/engine"
	"cfd_engine/internal/infra"
	"cfd_engine/internal/risk"
	"cfd_engine/internal/service"
	"cfd_engine/internal/stream"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the yaml config")
	flag.Parse()

	// 1. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap("engine")
	defer bootstrap.Close()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 3. Sequencer (the single writer of balances and positions)
	seq := engine.NewSequencer(engine.Config{
		DefaultBalance: cfg.Engine.DefaultBalance,
		Risk: risk.Params{
			MoneyScale:       cfg.Engine.MoneyScale,
			QuantityScale:    cfg.Engine.QuantityScale,
			MaxLeverage:      cfg.Engine.MaxLeverage,
			MaintenanceRatio: cfg.Engine.MaintenanceRatio,
		},
	}, service.NewQuoteCache(), bootstrap.Metrics)

	// 4. Results out, ingest in
	results := stream.NewRedisAppender(bootstrap.Redis, cfg.Streams.Results, cfg.Streams.ResultsMaxLen)
	proc := engine.NewProcessor(seq, results, bootstrap.Metrics, cfg.Engine.AppendRetries)
	proc.SetPanicDump("panic_dump.json")

	ingest := stream.NewRedisLog(bootstrap.Redis, cfg.Streams.Ingest, cfg.Streams.Group, cfg.Streams.Consumer).
		WithStart(cfg.Streams.StartID)
	consumer := stream.NewConsumer(ingest, proc.Handle, bootstrap.ConsumerConfig(), bootstrap.Metrics)

	snapOut := infra.NewSnapshotWriter(cfg)
	defer snapOut.Close()
	snapshots := engine.NewSnapshotWriter(seq, snapOut, time.Duration(cfg.Snapshot.IntervalSec)*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return snapshots.Run(gctx) })
	g.Go(func() error { return bootstrap.ServeDebug(gctx) })

	slog.InfoContext(ctx, "✨ Engine operational",
		slog.String("ingest", cfg.Streams.Ingest),
		slog.String("results", cfg.Streams.Results),
		slog.String("consumer", cfg.Streams.Consumer))

	if err := g.Wait(); err != nil {
		slog.Error("❌ Engine stopped", slog.Any("error", err), slog.String("state", consumer.State().String()))
		os.Exit(1)
	}
	slog.Info("👋 Shut down gracefully")
}
