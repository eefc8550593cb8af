// Package scheduler drives the periodic reconciliation passes.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pandashop/creditsync/internal/service"
	"github.com/pandashop/creditsync/pkg/metrics"

	"github.com/google/uuid"
)

// Scheduler runs the reconcile pipeline on a fixed interval. A tick that
// arrives while the previous pass is still running is skipped, long partner
// outages must not stack passes on top of each other.
type Scheduler struct {
	service  *service.CreditService
	interval time.Duration
	logger   *slog.Logger
	running  atomic.Bool
}

func New(svc *service.CreditService, interval time.Duration, l *slog.Logger) *Scheduler {
	return &Scheduler{
		service:  svc,
		interval: interval,
		logger:   l,
	}
}

// Run blocks until ctx is cancelled. The first pass starts after one full
// interval, mirroring a cron schedule.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				metrics.ReconcilePassSkipped.Inc()
				s.logger.Warn("Skipping pass, previous one still running")
				continue
			}
			s.RunOnce(ctx)
			s.running.Store(false)
		}
	}
}

// RunOnce executes one full pass: reconcile pending applications, refresh
// the feed cache, pull manual CRM edits into the history journal. Each stage
// failing is logged and the next stage still runs.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	l := s.logger.With("correlation_id", uuid.NewString())
	l.Info("Reconciliation pass started")

	passOK := true
	if _, err := s.service.CheckAllPending(ctx); err != nil {
		passOK = false
		l.Error("Pending check failed", "error", err)
	}
	if _, err := s.service.SyncFeedToDatabase(ctx); err != nil {
		passOK = false
		l.Error("Feed sync failed", "error", err)
	}
	if _, err := s.service.SyncCRMHistory(ctx); err != nil {
		passOK = false
		l.Error("CRM history sync failed", "error", err)
	}

	elapsed := time.Since(start)
	metrics.ReconcilePassDuration.Observe(elapsed.Seconds())
	if passOK {
		metrics.HealthStatus.Set(1)
	} else {
		metrics.HealthStatus.Set(0)
	}
	l.Info("Reconciliation pass finished", "duration", elapsed, "ok", passOK)
}
