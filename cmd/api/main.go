package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/config"
	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/Cypherspark/optout-gateway/internal/db"
	httpapi "github.com/Cypherspark/optout-gateway/internal/http"
	"github.com/Cypherspark/optout-gateway/internal/logging"
	"github.com/Cypherspark/optout-gateway/internal/metrics"
	"github.com/Cypherspark/optout-gateway/internal/provider"
	"github.com/Cypherspark/optout-gateway/internal/telemetry"
	"github.com/Cypherspark/optout-gateway/internal/worker"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		exitCode = 1
		return
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		exitCode = 1
		return
	}
	defer func() { _ = log.Sync() }()

	// ---- Context / signals ----
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("exiting", zap.Error(err))
		exitCode = 1
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	// ---- Storage ----
	backend, err := buildBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	storeOpts := []core.Option{
		core.WithOptinHistoryRequiresRemoval(cfg.Consent.OptinHistoryRequiresRemoval),
		core.WithEnvCredentials(cfg.VonageAPIKey, cfg.VonageAPISecret),
	}
	store := core.NewStore(backend, log.Named("store"), storeOpts...)
	if err := store.Load(ctx); err != nil {
		// the store keeps serving from memory; readiness reports it
		log.Error("initial load failed, running degraded", zap.Error(err))
	}

	// ---- Provider / engine ----
	prov := buildProvider(cfg)
	engine := worker.NewEngine(store, prov, log.Named("engine"), worker.Options{
		SendTimeout: cfg.Sending.Timeout,
		BulkDelay:   cfg.Sending.BulkDelay,
	})

	// ---- HTTP server ----
	srv := httpapi.NewServer(store, engine, prov, log.Named("http"))
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening",
			zap.String("addr", server.Addr),
			zap.String("storage", backend.Name()),
			zap.String("provider", cfg.Provider.Kind),
			zap.Bool("env_credentials", cfg.VonageAPIKey != "" && cfg.VonageAPISecret != ""))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ---- Graceful shutdown ----
	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildBackend opens the primary store and, when configured, wraps it with
// the secondary as a write fallback.
func buildBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (db.Backend, error) {
	primary, err := openBackend(ctx, cfg.Storage.Primary, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage.primary: %w", err)
	}
	if cfg.Storage.Secondary == "" {
		return primary, nil
	}
	secondary, err := openBackend(ctx, cfg.Storage.Secondary, cfg, log)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("storage.secondary: %w", err)
	}
	return db.NewFallback(primary, secondary, log.Named("storage")), nil
}

func openBackend(ctx context.Context, kind string, cfg *config.Config, log *zap.Logger) (db.Backend, error) {
	switch kind {
	case "memory":
		log.Warn("memory storage: consent state is lost on restart")
		return db.NewMemory(), nil

	case "sqlite":
		return db.OpenSQLite(cfg.SQLite.Path)

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return db.NewRedis(rdb, cfg.Redis.Prefix), nil

	case "postgres":
		if cfg.Postgres.Migrate {
			if err := db.MigrateWithRetry(cfg.Postgres.DSN, 5); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pg, err := db.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		go metrics.NewPGXPoolStats(pg.Pool).Start(15*time.Second, ctx.Done())
		return pg, nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

func buildProvider(cfg *config.Config) provider.Provider {
	if cfg.Provider.Kind == "dummy" {
		return provider.NewDummy()
	}
	return provider.NewVonage(cfg.Provider.BaseURL, cfg.Sending.Timeout)
}
