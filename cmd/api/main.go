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

	"zonedispatch/internal/api"
	"zonedispatch/internal/config"
	"zonedispatch/internal/geocode"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
	"zonedispatch/internal/presence"
	"zonedispatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		logger.L().Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.SetupWith(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	metrics.RegisterDefault()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := api.Deps{}
	if cfg.DatabaseURL == "" {
		log.Info("store_selected", "kind", "memory")
		deps.Store = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		if cfg.DBMigrate {
			if err := pg.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		log.Info("store_selected", "kind", "postgres")
		deps.Store = pg
	}

	searcher := geocode.NewClient(cfg.Geocoder.URL, cfg.Geocoder.UserAgent, cfg.Geocoder.RPS, cfg.Geocoder.Timeout)
	if cfg.RedisURL != "" {
		ps, err := presence.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis presence: %w", err)
		}
		deps.PresenceStore = ps

		rb, err := api.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis broker: %w", err)
		}
		defer func() { _ = rb.Close() }()
		deps.Broker = rb

		if cfg.Geocoder.CacheTTL > 0 {
			cache, err := geocode.NewRedisCacheFromURL(cfg.RedisURL, cfg.Geocoder.CacheTTL)
			if err != nil {
				return fmt.Errorf("redis geocode cache: %w", err)
			}
			defer func() { _ = cache.Close() }()
			searcher.Cache = cache
		}
		log.Info("redis_enabled", "presence", true, "broker", true, "geocode_cache", searcher.Cache != nil)
	}
	deps.Geocoder = geocode.NewResolver(searcher, cfg.Geocoder.Scope)

	s := api.NewServer(cfg, deps)
	worker := s.NewWebhookWorker()
	worker.Start()
	defer worker.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api_listening", "addr", srv.Addr, "auth_mode", cfg.Auth.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
