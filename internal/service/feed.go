package service

import (
	"context"
	"time"

	"github.com/pandashop/creditsync/internal/crm"
	"github.com/pandashop/creditsync/internal/models"
	"github.com/pandashop/creditsync/internal/provider"
	"github.com/pandashop/creditsync/pkg/metrics"
)

const feedItemDelay = 200 * time.Millisecond

// BuildFeed assembles the live feed: one item per active application, with
// the current partner status attached. Partner calls are throttled and
// per-order failures only cost that one item.
func (s *CreditService) BuildFeed(ctx context.Context) ([]models.FeedItem, error) {
	s.logger.Info("Building feed for active applications")

	orders, err := s.crm.GetOrdersWithActiveApplications(ctx)
	if err != nil {
		return nil, err
	}

	var items []models.FeedItem
	for _, order := range orders {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		if models.IsArchivedOrderStatus(order.Status) {
			continue
		}

		item, err := s.buildFeedItem(ctx, order)
		if err != nil {
			s.logger.Error("Failed to build feed item",
				"order_id", order.ID, "error", err)
		} else if item != nil {
			items = append(items, *item)
		}
		s.sleep(ctx, feedItemDelay)
	}

	s.logger.Info("Feed built", "count", len(items))
	return items, nil
}

func (s *CreditService) buildFeedItem(ctx context.Context, order models.Order) (*models.FeedItem, error) {
	data := crm.ExtractOrderData(&order)
	if data.LoanApplicationID == "" {
		return nil, nil
	}

	adapter, err := s.providers.For(data.CreditCompany)
	if err != nil {
		return nil, err
	}

	item := models.FeedItem{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		ApplicationID:  data.LoanApplicationID,
		CreditCompany:  adapter.Name(),
		CustomerName:   data.CustomerFullName(),
		BankStatus:     "Unknown",
		OrderStatus:    order.Status,
		ManagerID:      order.ManagerID,
		OrderCreatedAt: order.CreatedAt,
		Comparison:     models.Comparison{Requested: provider.RequestedTerms(data)},
	}
	if data.Payment != nil {
		item.CRMStatus = data.Payment.Status
		item.PaymentType = data.Payment.Type
	}

	status, err := adapter.CheckStatus(ctx, data.LoanApplicationID)
	if err != nil {
		s.logger.Warn("Feed status check failed",
			"order_id", order.ID, "application_id", data.LoanApplicationID, "error", err)
	} else if status != nil {
		if status.Raw != "" {
			item.BankStatus = status.Raw
		}
		item.DocumentStatus = status.Document
		if status.Approved != nil {
			approved := *status.Approved
			item.Comparison.Approved = &approved
			item.ConditionsChanged = adapter.ConditionsChanged(item.Comparison.Requested, approved)
		}
	}

	item.ManagerName = s.crm.GetManagerName(ctx, order.ManagerID)
	return &item, nil
}

// SyncFeedToDatabase refreshes the cached feed: upserts the live items, then
// walks cached items that dropped out of the active set and refreshes only
// their order lifecycle status, so archived orders show their final state.
func (s *CreditService) SyncFeedToDatabase(ctx context.Context) (int, error) {
	s.logger.Info("Starting feed sync")

	items, err := s.BuildFeed(ctx)
	if err != nil {
		return 0, err
	}

	active := make(map[int64]struct{}, len(items))
	for _, item := range items {
		active[item.OrderID] = struct{}{}
	}

	saved := 0
	if len(items) > 0 {
		saved = s.store.UpsertMany(ctx, items)
	}

	existing, err := s.store.GetAllFeedItems(ctx, models.FeedFilter{})
	if err != nil {
		return saved, err
	}
	for _, stale := range existing {
		if _, isActive := active[stale.OrderID]; isActive {
			continue
		}
		if err := s.refreshStaleItem(ctx, stale); err != nil {
			s.logger.Warn("Failed to refresh stale feed item",
				"order_id", stale.OrderID, "error", err)
		}
	}

	if err := s.store.UpdateLastSyncTime(ctx, time.Now()); err != nil {
		s.logger.Error("Failed to record feed sync time", "error", err)
	}

	metrics.FeedSize.Set(float64(saved))
	s.logger.Info("Feed sync completed", "synced", saved)
	return saved, nil
}

// refreshStaleItem re-reads only the CRM side of an item that is no longer
// in the active set. No partner calls: the application is done, the order
// just keeps moving through fulfillment.
func (s *CreditService) refreshStaleItem(ctx context.Context, stale models.FeedItem) error {
	order, err := s.crm.GetOrder(ctx, stale.OrderID)
	if err != nil {
		return err
	}
	if order == nil || order.Status == stale.OrderStatus {
		return nil
	}

	stale.OrderStatus = order.Status
	data := crm.ExtractOrderData(order)
	if data.Payment != nil {
		stale.CRMStatus = data.Payment.Status
	}
	return s.store.UpsertFeedItem(ctx, stale)
}

// CachedFeed is the feed view served to the CRM widget.
type CachedFeed struct {
	Items    []models.FeedItem `json:"items"`
	Count    int               `json:"count"`
	LastSync time.Time         `json:"lastSync"`
}

// GetCachedFeed serves the feed from the database only. No CRM or partner
// calls happen here, this is the hot path behind the manager UI.
func (s *CreditService) GetCachedFeed(ctx context.Context, filter models.FeedFilter) (*CachedFeed, error) {
	items, err := s.store.GetAllFeedItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	lastSync, err := s.store.GetLastSyncTime(ctx)
	if err != nil {
		s.logger.Warn("Failed to read last sync time", "error", err)
	}
	return &CachedFeed{Items: items, Count: len(items), LastSync: lastSync}, nil
}

// RemoveFeedItem drops one cached item.
func (s *CreditService) RemoveFeedItem(ctx context.Context, orderID int64) error {
	return s.store.DeleteFeedItem(ctx, orderID)
}
