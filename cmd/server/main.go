package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/api"
	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/config"
	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
	"github.com/shehryarbajwa/rednote-publisher/internal/logging"
	"github.com/shehryarbajwa/rednote-publisher/internal/media"
	"github.com/shehryarbajwa/rednote-publisher/internal/metrics"
	"github.com/shehryarbajwa/rednote-publisher/internal/publish"
	"github.com/shehryarbajwa/rednote-publisher/internal/ratelimit"
	"github.com/shehryarbajwa/rednote-publisher/internal/session"
	"github.com/shehryarbajwa/rednote-publisher/internal/site"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting rednote publisher",
		zap.String("backend", cfg.Browser.Backend),
		zap.Int64("max_browsers", cfg.Browser.MaxInstances),
	)

	m := metrics.New()
	profile := site.DefaultProfile()

	driver := browser.NewRuntime(cfg.Browser.InstallDriver)
	defer func() {
		if err := driver.Stop(); err != nil {
			logger.Warn("Failed to stop playwright driver", zap.Error(err))
		}
	}()

	launcher, err := newLauncher(cfg, driver, logger)
	if err != nil {
		return err
	}

	store, err := cookiejar.NewStore(cfg.Storage.CookieDir, logger)
	if err != nil {
		return fmt.Errorf("failed to create cookie store: %w", err)
	}
	logger.Info("Cookie store initialized", zap.String("dir", cfg.Storage.CookieDir))

	pool := browser.NewPool(launcher, store, browser.LaunchOptions{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		NavigationTimeout: cfg.Browser.NavTimeout,
	}, cfg.Browser.MaxInstances, logger)

	detector := session.NewDetector(profile, 2*time.Second, logger)
	registry := session.NewRegistry(pool, detector, profile, session.Config{
		IdleTimeout:        cfg.Session.IdleTimeout,
		SweepInterval:      cfg.Session.SweepInterval,
		LoginTimeout:       cfg.Session.LoginTimeout,
		LoginCheckInterval: cfg.Session.LoginCheckInterval,
		NavigationTimeout:  cfg.Browser.NavTimeout,
		DefaultHeadless:    cfg.Browser.Headless,
	}, m, logger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go registry.Run(sweepCtx)

	publishCfg := publish.DefaultConfig()
	publishCfg.UploadTimeout = cfg.Publish.UploadTimeout
	publishCfg.VideoUploadTimeout = cfg.Publish.VideoUploadTimeout
	publishCfg.ResultTimeout = cfg.Publish.ResultTimeout
	publishCfg.PollInterval = cfg.Publish.PollInterval
	publishCfg.SuggestWait = cfg.Publish.SuggestWait
	publishCfg.NavigationTimeout = cfg.Browser.NavTimeout
	publishCfg.ActionTimeout = cfg.Browser.ActionTimeout

	resolver := media.NewResolver(cfg.Publish.MediaDir, cfg.Publish.FetchTimeout, logger)
	orch := publish.NewOrchestrator(profile, publishCfg, logger.Named("publish"))
	publisher := publish.NewService(pool, registry, resolver, orch, m, logger)

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.PublishPerHour, cfg.RateLimit.Burst)
	logger.Info("Rate limiter initialized",
		zap.Int("per_hour", cfg.RateLimit.PublishPerHour),
		zap.Int("burst", cfg.RateLimit.Burst),
	)
	go pruneLimiter(sweepCtx, rateLimiter)

	// Setup HTTP handlers
	handler := api.NewHandler(registry, publisher, logger)
	cookieHandler := api.NewCookieHandler(store, pool, logger)
	streamHandler := api.NewStreamHandler(publisher, rateLimiter, m, logger)
	router := handler.SetupRoutes(cookieHandler, streamHandler, rateLimiter, m, logger)

	// Publish requests hold the connection for the whole job, so there is
	// no write timeout.
	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down server gracefully", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
	stopSweep()
	registry.Shutdown(ctx)
	if err := pool.Close(); err != nil {
		logger.Warn("Failed to close browser pool", zap.Error(err))
	}

	logger.Info("Server stopped cleanly")
	return nil
}

func newLauncher(cfg *config.Config, driver *browser.Runtime, logger *zap.Logger) (browser.Launcher, error) {
	if cfg.Browser.Backend != "docker" {
		logger.Info("Using local Chromium")
		return browser.NewPlaywrightLauncher(driver, logger), nil
	}

	launcher, err := browser.NewDockerLauncher(driver, cfg.Browser.DockerImage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker launcher: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info("Ensuring browser image is available", zap.String("image", cfg.Browser.DockerImage))
	if err := launcher.EnsureImage(ctx); err != nil {
		_ = launcher.Close()
		return nil, fmt.Errorf("failed to ensure browser image: %w", err)
	}
	return launcher, nil
}

// pruneLimiter drops buckets of users who have not published for a day.
func pruneLimiter(ctx context.Context, l *ratelimit.Limiter) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(24 * time.Hour)
		}
	}
}
