package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"cfd_engine/internal/domain"
	"cfd_engine/internal/infra"
	"cfd_engine/internal/infra/storage"
	"cfd_engine/internal/stream"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Bootstrap orchestrates the startup sequence shared by every binary.
type Bootstrap struct {
	Name    string
	Config  *infra.Config
	Redis   *redis.Client
	Metrics *infra.Metrics
	Storage *storage.Storage
}

// NewBootstrap creates a new Bootstrap instance. name labels logs and metrics.
func NewBootstrap(name string) *Bootstrap {
	return &Bootstrap{Name: name}
}

// Initialize loads config, installs the logger and connects to Redis.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg, b.Name))
	slog.Info("🚀 Bootstrapping", slog.String("version", cfg.App.Version))

	// 3. Metrics
	b.Metrics = infra.NewMetrics(b.Name)

	// 4. Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return &domain.ConfigError{Field: "redis.url", Err: err}
	}
	b.Redis = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := b.Redis.Ping(pingCtx).Err(); err != nil {
		return domain.NewNetworkError("redis ping", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}
	slog.Info("✅ Redis connected", slog.String("addr", opts.Addr))

	return nil
}

// OpenStorage connects the relational store. Only the persistence worker needs it.
func (b *Bootstrap) OpenStorage() error {
	store, err := storage.NewStorage(b.Config.Storage.Driver, b.Config.Storage.DSN)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("driver", b.Config.Storage.Driver))
	return nil
}

// ConsumerConfig maps the streams section onto consumer tuning.
func (b *Bootstrap) ConsumerConfig() stream.Config {
	s := b.Config.Streams
	return stream.Config{
		BatchSize:       s.BatchSize,
		Block:           time.Duration(s.BlockMS) * time.Millisecond,
		MaxRedeliveries: s.MaxRedeliveries,
		MaxReadFailures: s.MaxReadFailures,
		RetryDelay:      time.Duration(s.RetryDelayMS) * time.Millisecond,
	}
}

// ServeDebug exposes pprof and /metrics on the debug address until ctx ends.
// A listen failure is logged and swallowed; the binary keeps running without it.
func (b *Bootstrap) ServeDebug(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", b.Metrics.Handler())

	srv := &http.Server{Addr: b.Config.Debug.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	// Localhost only for security
	slog.Info("🕵️ Debug server started", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Debug server failed", slog.String("addr", srv.Addr), slog.Any("error", err))
	}
	return nil
}

// Close releases whatever Initialize and OpenStorage acquired.
func (b *Bootstrap) Close() {
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			slog.Warn("Redis close failed", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Storage close failed", slog.Any("error", err))
		}
	}
}
