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

	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/api"
	"github.com/natural-query/webapp/internal/backend"
	"github.com/natural-query/webapp/internal/config"
	"github.com/natural-query/webapp/internal/logging"
	"github.com/natural-query/webapp/internal/session"
	"github.com/natural-query/webapp/internal/storage"
	"github.com/natural-query/webapp/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Printf("Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("failed to create directories", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, cfg.Storage.MaxStagedFiles)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	sessionMgr := session.NewManager(cfg.Session.MaxSessions, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background session cleanup
	cleanupEvery := time.Duration(cfg.Session.CleanupIntervalMinutes) * time.Minute
	if cleanupEvery <= 0 {
		cleanupEvery = 5 * time.Minute
	}
	go sessionMgr.RunCleanup(ctx, cleanupEvery, time.Duration(cfg.Session.TimeoutMinutes)*time.Minute)

	client := backend.NewClient(backend.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.BackendTimeout(),
		UserAgent: "natural-query-webapp/" + Version,
		Logger:    logger,
	})

	renderer, err := web.NewRenderer()
	if err != nil {
		logger.Error("failed to parse templates", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer

	api.SetupMiddleware(e, api.MiddlewareOptions{
		BodyLimit:    cfg.Server.BodyLimit,
		EnableCORS:   cfg.Server.EnableCORS,
		AllowOrigins: cfg.Server.AllowOrigins,
		EnableGzip:   cfg.Server.EnableGzip,
		LogRequests:  cfg.Logging.EnableRequestLogging,
	}, logger)

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:          fileStore,
		SessionMgr:     sessionMgr,
		Client:         client,
		BackendURL:     client.BaseURL(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		ShowSQL:        cfg.Server.ShowSQL,
		Version:        Version,
		Logger:         logger,
	}))

	if err := web.RegisterStaticRoutes(e); err != nil {
		logger.Error("failed to register static routes", "error", err)
		os.Exit(1)
	}

	// Configure server with settings from the YAML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Natural Query Generator                         ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Backend:   %-46s║\n", client.BaseURL())
	fmt.Printf("║  Uploads:   %-46s║\n", cfg.Storage.UploadsDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
