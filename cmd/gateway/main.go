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

	"github.com/chainvista/dlt-gateway/internal/gateway"
	"github.com/chainvista/dlt-gateway/internal/ledger"
	"github.com/chainvista/dlt-gateway/pkg/config"
	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/monitoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logger.New(cfg.LogLevel)
	metrics := monitoring.NewMetricsCollector()

	registry, err := gateway.NewPolicyRegistry(cfg.Routes)
	if err != nil {
		logger.WithError(err).Fatal("Invalid route policy table")
	}

	connManager := ledger.NewConnectionManager(&cfg.Fabric, logger, metrics)
	explorer := ledger.NewExplorer(connManager, cfg.Fabric.ChannelName, logger)

	identityProvider := gateway.NewHTTPIdentityProvider(&cfg.IdentityProvider)
	authGate := gateway.NewAuthGate(cfg.JWT.SecretKey, identityProvider, logger, metrics)
	rateLimiter := gateway.NewRateLimiter()
	responseCache := gateway.NewResponseCache()
	dispatcher := gateway.NewProxyDispatcher(logger)

	gatewayConfig := &gateway.Config{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MetricsPath:  cfg.Monitoring.MetricsPath,
	}

	service := gateway.NewService(gatewayConfig, gateway.Deps{
		Registry:    registry,
		AuthGate:    authGate,
		RateLimiter: rateLimiter,
		Cache:       responseCache,
		Dispatcher:  dispatcher,
		Explorer:    explorer,
		Connection:  connManager,
		Metrics:     metrics,
		Logger:      logger,
	})

	// Background maintenance: rate window GC and session health checks.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rateLimiter.StartCleanup(ctx, time.Hour, 24*time.Hour)
	connManager.StartHealthLoop(ctx, time.Duration(cfg.Fabric.HealthIntervalSec)*time.Second)

	// Connect eagerly so the first explorer request does not pay the
	// session setup cost; failure here is non-fatal, the session is
	// re-attempted lazily on first use.
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := connManager.Initialize(initCtx); err != nil {
		logger.WithError(err).Warn("Initial ledger connection failed; will retry on first use")
	}
	initCancel()

	go func() {
		if err := service.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Gateway server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gateway...")
	cancel()

	if err := service.Stop(); err != nil {
		logger.WithError(err).Error("Failed to shutdown server gracefully")
	}

	if err := connManager.Disconnect(); err != nil {
		logger.WithError(err).Error("Failed to close ledger session")
	}

	logger.Info("Gateway stopped")
}
