package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olyamironova/paper-engine/internal/adapter/cache"
	"github.com/olyamironova/paper-engine/internal/adapter/in_memory"
	"github.com/olyamironova/paper-engine/internal/adapter/pg"
	"github.com/olyamironova/paper-engine/internal/adapter/sqlite"
	grpcapi "github.com/olyamironova/paper-engine/internal/api/grpc"
	"github.com/olyamironova/paper-engine/internal/api/http"
	"github.com/olyamironova/paper-engine/internal/config"
	"github.com/olyamironova/paper-engine/internal/logger"
	"github.com/olyamironova/paper-engine/internal/middleware"
	"github.com/olyamironova/paper-engine/internal/port"
	"github.com/olyamironova/paper-engine/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	accountCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	svc, err := service.NewAccounts(cfg.EngineConfig(), repo, accountCache, log)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	rl := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	httpSrv := http.NewHTTPServer(svc, log, rl)
	grpcSrv := grpcapi.NewGRPCServer(svc, log)

	errc := make(chan error, 2)
	go func() { errc <- httpSrv.Run(cfg.Server.HTTPAddr) }()
	go func() { errc <- grpcSrv.Run(cfg.Server.GRPCAddr) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
		log.Error("listener failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		log.Error("http shutdown", "err", serr)
	}
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	return err
}

func openRepository(ctx context.Context, cfg *config.Config, log *slog.Logger) (port.Repository, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		repo, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("using sqlite storage", "path", cfg.Storage.SQLitePath)
		return repo, func() { _ = repo.Close() }, nil

	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		repo, err := pg.NewPgRepo(connectCtx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := repo.Migrate(connectCtx); err != nil {
			repo.Close(ctx)
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("using postgres storage")
		return repo, func() { repo.Close(context.Background()) }, nil
	}

	log.Warn("using in-memory storage, state is lost on exit")
	repo := in_memory.NewMemoryRepo()
	return repo, func() { repo.Close(context.Background()) }, nil
}

func openCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (port.Cache, func(), error) {
	if cfg.Cache.RedisAddr == "" {
		return in_memory.NewCache(), func() {}, nil
	}
	c := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("using redis account cache", "addr", cfg.Cache.RedisAddr)
	return c, func() { _ = c.Close() }, nil
}
