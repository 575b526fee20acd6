package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/push"
	"github.com/quartissimo/realtime/internal/router"
	"github.com/quartissimo/realtime/pkg/config"
	"github.com/quartissimo/realtime/pkg/firebase"
	"github.com/quartissimo/realtime/validators"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET environment variable not set")
	}

	// Initialize database connections
	db, err := config.InitDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize databases", zap.Error(err))
	}
	defer db.CloseDB() // Ensure database connections are closed when main exits

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Firebase (optional: push is skipped without credentials)
	var messenger push.Messenger
	if cfg.FirebaseCredentialsPath != "" {
		firebaseApp, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase", zap.Error(err))
		}
		messenger = firebaseApp.Messaging
	} else {
		logger.Warn("FIREBASE_CREDENTIALS_PATH not set, offline push disabled")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()

	// Setup global middleware
	router.SetupMiddleware(e, logger)

	// Setup routes and dependencies
	if _, err := router.SetupRoutes(e, router.Dependencies{
		Config:    cfg,
		DB:        db,
		Messenger: messenger,
		Logger:    logger,
	}); err != nil {
		logger.Fatal("Failed to set up routes", zap.Error(err))
	}

	// Start server
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
