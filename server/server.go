package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CalmFM/cache"
	"CalmFM/config"
	"CalmFM/core/auth"
	"CalmFM/core/feed"
	"CalmFM/core/generation"
	"CalmFM/core/library"
	"CalmFM/db"
	"CalmFM/logger"
	"CalmFM/repository"
	"CalmFM/storage"
)

const (
	shutdownTimeout  = 15 * time.Second
	feedReadyTimeout = 5 * time.Second
)

// Start wires every component, serves HTTP and blocks until SIGINT/SIGTERM.
func Start(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseGormDB(gdb)

	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := feed.NewHub()
	go hub.Run()
	defer hub.Stop()

	opts := []library.Option{library.WithNotifier(hub)}

	// Redis is optional: without it events stay on this instance and recent
	// plays are read from the database every time.
	if cfg.RedisEnabled {
		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer client.Close()

		bus := cache.NewFeedBus(client)
		ready := make(chan struct{})
		go func() {
			if err := bus.Run(ctx, ready, hub.Deliver); err != nil {
				logger.Error("feed bus stopped", logger.ErrorField(err))
			}
		}()

		select {
		case <-ready:
			opts = []library.Option{
				library.WithNotifier(feed.NewRelay(bus, hub)),
				library.WithRecentCache(cache.NewRecentPlayCache(client, library.RecentEventWindow)),
			}
			logger.Info("Redis feed bus subscribed")
		case <-time.After(feedReadyTimeout):
			logger.Warn("feed bus not ready, delivering events locally")
			opts = append(opts, library.WithRecentCache(cache.NewRecentPlayCache(client, library.RecentEventWindow)))
		}
	}

	lib := library.NewService(library.Repositories{
		Tracks:    repository.NewGormTrackRepository(gdb),
		Favorites: repository.NewGormFavoriteRepository(gdb),
		Plays:     repository.NewGormPlayHistoryRepository(gdb),
	}, opts...)

	var reports ReportStore
	var sink generation.ReportSink
	if cfg.MinioEnabled {
		store, err := storage.NewReportStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize MinIO: %w", err)
		}
		reports, sink = store, store
	}

	credential, err := config.NewProviderCredential(cfg.SunoAPIKey, cfg.SunoAPIKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load provider credential: %w", err)
	}
	defer credential.Close()
	if credential.APIKey() == "" {
		logger.Warn("no provider API key configured, running in demo mode")
	}

	orch := generation.NewOrchestrator(generation.Config{
		Lifecycle: lib,
		Provider:  generation.NewSunoClient(cfg.SunoAPIBase, cfg.SunoDuration, cfg.SunoTimeout, cfg.SunoRateLimit),
		Keys:      credential,
		Reports:   sink,
		DemoDelay: cfg.DemoDelay,
	})

	sweeper, err := generation.NewSweeper(lib, orch, cfg.SweepInterval, cfg.StaleGenerationAge)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	router := NewRouter(Dependencies{
		Config:    cfg,
		Users:     repository.NewGormUserRepository(gdb),
		Library:   lib,
		Generator: orch,
		Hub:       hub,
		Tokens:    auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry),
		Reports:   reports,
	})

	// 设置服务器超时
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Shutting down server", logger.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}
	// In-flight generations still need the database and the hub.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("generations abandoned at shutdown", logger.ErrorField(err))
	}

	logger.Info("Server exited")
	return nil
}
