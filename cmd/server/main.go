package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pandashop/creditsync/internal/api"
	"github.com/pandashop/creditsync/internal/broker"
	"github.com/pandashop/creditsync/internal/config"
	"github.com/pandashop/creditsync/internal/crm"
	"github.com/pandashop/creditsync/internal/provider"
	"github.com/pandashop/creditsync/internal/service"
	"github.com/pandashop/creditsync/internal/store"
	"github.com/pandashop/creditsync/pkg/infra"
	_ "github.com/pandashop/creditsync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Credit sync API initializing...", "addr", cfg.HTTPAddr)

	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	events, cleanup := setupEvents(cfg, logger)
	defer cleanup()

	crmClient := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey, logger)
	providers := provider.NewRegistry(
		provider.NewMicroinvest(cfg.Microinvest, logger),
		provider.NewEasyCredit(cfg.EasyCredit, logger),
		provider.NewIute(cfg.Iute, logger),
	)
	svc := service.NewCreditService(crmClient, db, providers, events, logger)

	go startObservabilityServer(cfg.MetricsAddr, logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(svc, logger).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("🛑 Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	}()

	logger.Info("🚀 Credit sync API started", "pid", os.Getpid())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("CRITICAL: HTTP server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("✅ Shutdown complete")
}

// setupEvents wires the broker publisher when an AMQP URL is configured.
func setupEvents(cfg *config.Config, logger *slog.Logger) (service.EventPublisher, func()) {
	if cfg.AMQPURL == "" {
		logger.Info("Event publishing disabled, no AMQP_URL configured")
		return broker.NoopPublisher{}, func() {}
	}

	publisher, err := broker.NewPublisher(cfg.AMQPURL, logger)
	if err != nil {
		logger.Error("RabbitMQ connection failed, events disabled", "error", err)
		return broker.NoopPublisher{}, func() {}
	}
	return publisher, func() { publisher.Close() }
}

func startObservabilityServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("API ALIVE"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("📊 Observability server online", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
