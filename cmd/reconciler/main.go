package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pandashop/creditsync/internal/broker"
	"github.com/pandashop/creditsync/internal/config"
	"github.com/pandashop/creditsync/internal/crm"
	"github.com/pandashop/creditsync/internal/provider"
	"github.com/pandashop/creditsync/internal/scheduler"
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

	logger.Info("🔥 Reconciler initializing...", "interval", cfg.CheckInterval)

	db, err := connectStore(ctx, cfg, logger)
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

	sched := scheduler.New(svc, cfg.CheckInterval, logger)

	// warm the feed cache before the first scheduled pass
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			if _, err := svc.SyncFeedToDatabase(ctx); err != nil {
				logger.Error("Initial feed sync failed", "error", err)
			}
		}
	}()

	logger.Info("🚀 Reconciler started", "pid", os.Getpid())
	sched.Run(ctx)
	logger.Info("✅ Shutdown complete")
}

// connectStore retries the Postgres connection with backoff, the reconciler
// often boots before the database in compose setups.
func connectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.PostgresStore, error) {
	backoff := infra.NewBackoff(1*time.Second, 30*time.Second, 2.0)

	for {
		db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err == nil {
			return db, nil
		}
		if backoff.Attempts() >= 5 {
			return nil, err
		}

		wait := backoff.Next()
		logger.Error("Postgres connection failed, retrying", "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

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
		w.Write([]byte("RECONCILER ALIVE"))
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
