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
	"github.com/labstack/echo/v4/middleware"

	"auction-livesync/internal/api/handlers"
	"auction-livesync/internal/config"
	"auction-livesync/internal/eventbus"
	"auction-livesync/internal/infrastructure/httpapi"
	"auction-livesync/internal/infrastructure/stream"
	"auction-livesync/internal/poller"
	"auction-livesync/internal/services"
	"auction-livesync/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fan-out bus shared by both transports
	bus := eventbus.New(cfg.Bus.HistorySize, log)

	// Polling transport
	fetcher := httpapi.NewFetcher(cfg.Poll.BaseURL, cfg.Poll.Token, cfg.Poll.RequestTimeout, log)
	scheduler := poller.NewScheduler(fetcher, bus, poller.Options{
		BaseInterval:    cfg.Poll.BaseInterval,
		MaxInterval:     cfg.Poll.MaxInterval,
		GenericFactor:   cfg.Poll.GenericFactor,
		RateLimitFactor: cfg.Poll.RateLimitFactor,
	}, log)

	// Streaming transport (optional)
	var streamClient *stream.Client
	if cfg.Stream.URL != "" {
		streamClient = stream.NewClient(stream.Options{
			URL:                  cfg.Stream.URL,
			Token:                cfg.Stream.Token,
			MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
			ReconnectBase:        cfg.Stream.ReconnectBase,
			ReconnectMax:         cfg.Stream.ReconnectMax,
			HandshakeTimeout:     cfg.Stream.HandshakeTimeout,
		}, bus, log)
	}

	coordinator := services.NewCoordinator(scheduler, streamClient, bus, log)
	if err := coordinator.Start(ctx); err != nil {
		log.Error("Failed to start coordinator", "error", err)
		os.Exit(1)
	}

	validator := services.NewRuleValidator(services.ValidatorOptions{
		EndingSoon:         time.Duration(cfg.Validation.EndingSoonMinutes) * time.Minute,
		EndingCritical:     time.Duration(cfg.Validation.EndingCriticalMinutes) * time.Minute,
		MinBidSpacing:      cfg.Validation.MinBidSpacing,
		FrequencyWindow:    cfg.Validation.FrequencyWindow,
		FrequencyLimit:     cfg.Validation.FrequencyLimit,
		LargeAmount:        cfg.Validation.LargeAmountCents,
		JumpPercent:        cfg.Validation.JumpPercent,
		BalanceWarnPercent: cfg.Validation.BalanceWarnPercent,
	})

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	// Initialize handlers
	handler := handlers.NewLivesyncHandler(coordinator, validator, bus, log)
	handler.Register(e)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting livesync server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
	coordinator.Stop()
}
