// Package service orchestrates the credit flow: submitting applications to
// partners, reconciling partner decisions back into the CRM, and maintaining
// the cached feed the managers work from.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pandashop/creditsync/internal/models"
	"github.com/pandashop/creditsync/internal/provider"
	"github.com/pandashop/creditsync/pkg/metrics"
)

// CRMClient is the slice of the CRM API the credit flow needs.
type CRMClient interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrdersWithActiveApplications(ctx context.Context) ([]models.Order, error)
	GetOrderFiles(ctx context.Context, orderID int64) ([]models.File, error)
	UploadFileToOrder(ctx context.Context, order *models.Order, file models.File) error
	CheckOrderHasContractFiles(ctx context.Context, orderID int64) (bool, error)
	UpdatePaymentStatus(ctx context.Context, order *models.Order, paymentID, status string) error
	UpdateOrderStatus(ctx context.Context, order *models.Order, status string) error
	UpdateOrderCustomFields(ctx context.Context, order *models.Order, fields map[string]string) error
	GetManagerName(ctx context.Context, userID int64) string
	GetOrdersHistory(ctx context.Context, sinceID int64) ([]models.OrderHistoryChange, error)
}

// Store is the persistence surface: feed cache, history journal, audit
// records and sync metadata.
type Store interface {
	UpsertFeedItem(ctx context.Context, item models.FeedItem) error
	UpsertMany(ctx context.Context, items []models.FeedItem) int
	GetAllFeedItems(ctx context.Context, filter models.FeedFilter) ([]models.FeedItem, error)
	DeleteFeedItem(ctx context.Context, orderID int64) error
	SaveStatusHistory(ctx context.Context, h models.StatusHistory) error
	GetStatusHistory(ctx context.Context, applicationID string) ([]models.StatusHistory, error)
	SaveApplicationRequest(ctx context.Context, r models.ApplicationRequest) error
	GetApplicationRequest(ctx context.Context, orderID int64) (*models.ApplicationRequest, error)
	SaveSentMessage(ctx context.Context, m models.SentMessage) error
	GetSentMessages(ctx context.Context, applicationID string) ([]models.SentMessage, error)
	GetSyncMetadata(ctx context.Context, key string) (string, error)
	SaveSyncMetadata(ctx context.Context, key, value string) error
	GetLastSyncTime(ctx context.Context) (time.Time, error)
	UpdateLastSyncTime(ctx context.Context, t time.Time) error
}

// EventPublisher pushes status transitions to the broker. Publishing is
// best-effort, the flow never blocks on it.
type EventPublisher interface {
	PublishStatusEvent(ctx context.Context, event models.StatusEvent) error
}

// ManagerData identifies the CRM manager acting on behalf of the customer,
// for history attribution.
type ManagerData struct {
	ManagerID   int64
	ManagerName string
}

type CreditService struct {
	crm       CRMClient
	store     Store
	providers *provider.Registry
	events    EventPublisher
	guard     *SubmissionGuard
	logger    *slog.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

func NewCreditService(crm CRMClient, store Store, providers *provider.Registry, events EventPublisher, l *slog.Logger) *CreditService {
	return &CreditService{
		crm:       crm,
		store:     store,
		providers: providers,
		events:    events,
		guard:     NewSubmissionGuard(),
		logger:    l,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// recordHistory persists one status transition and mirrors it to the broker.
// A failed publish is logged and dropped, the journal row is the source of
// truth.
func (s *CreditService) recordHistory(ctx context.Context, company string, orderID int64, h models.StatusHistory) error {
	if err := s.store.SaveStatusHistory(ctx, h); err != nil {
		return err
	}

	if s.events == nil {
		return nil
	}
	event := models.StatusEvent{
		ApplicationID: h.ApplicationID,
		OrderID:       orderID,
		CreditCompany: company,
		StatusType:    h.StatusType,
		OldStatus:     h.OldStatus,
		NewStatus:     h.NewStatus,
		Source:        h.Source,
		Details:       h.Details,
		OccurredAt:    time.Now(),
	}
	if err := s.events.PublishStatusEvent(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		s.logger.Warn("Failed to publish status event",
			"application_id", h.ApplicationID, "error", err)
		return nil
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}
