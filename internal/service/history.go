package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/pandashop/creditsync/internal/crm"
	"github.com/pandashop/creditsync/internal/models"
)

const historyCursorKey = "lastHistoryId"

// trackedHistoryFields are the CRM journal fields whose manual edits matter
// to the credit flow.
var trackedHistoryFields = map[string]string{
	"payments.status":             "Payment status",
	"customFields.credit_sum":     "Credit amount",
	"customFields.credit_term":    "Credit term",
	"customFields.credit_company": "Credit company",
}

func trackedFieldLabel(field string) (string, bool) {
	for prefix, label := range trackedHistoryFields {
		if strings.HasPrefix(field, prefix) {
			return label, true
		}
	}
	return "", false
}

// SyncCRMHistory pulls manual manager edits from the CRM change journal into
// the status history, so the journal shows who touched the credit fields by
// hand. The cursor is persisted between passes.
func (s *CreditService) SyncCRMHistory(ctx context.Context) (int, error) {
	cursor, err := s.store.GetSyncMetadata(ctx, historyCursorKey)
	if err != nil {
		return 0, err
	}
	var sinceID int64
	if cursor != "" {
		sinceID, _ = strconv.ParseInt(cursor, 10, 64)
	}

	changes, err := s.crm.GetOrdersHistory(ctx, sinceID)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	saved := 0
	maxID := sinceID
	for _, change := range changes {
		if change.ID > maxID {
			maxID = change.ID
		}
		if change.Source != models.SourceUser {
			continue
		}
		label, tracked := trackedFieldLabel(change.Field)
		if !tracked || change.OrderID == 0 {
			continue
		}

		recorded, err := s.saveHistoryChange(ctx, change, label)
		if err != nil {
			s.logger.Error("Failed to process history change",
				"change_id", change.ID, "error", err)
			continue
		}
		if recorded {
			saved++
		}
	}

	if maxID > sinceID {
		if err := s.store.SaveSyncMetadata(ctx, historyCursorKey, strconv.FormatInt(maxID, 10)); err != nil {
			return saved, err
		}
	}

	if saved > 0 {
		s.logger.Info("CRM history sync completed", "saved", saved)
	}
	return saved, nil
}

// saveHistoryChange writes one journal row. The bool reports whether a row
// was actually recorded: changes on unknown orders or on orders without an
// application are skipped, not saved.
func (s *CreditService) saveHistoryChange(ctx context.Context, change models.OrderHistoryChange, label string) (bool, error) {
	order, err := s.crm.GetOrder(ctx, change.OrderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, nil
	}

	data := crm.ExtractOrderData(order)
	if data.LoanApplicationID == "" {
		return false, nil
	}

	managerName := ""
	if change.UserID != 0 {
		managerName = s.crm.GetManagerName(ctx, change.UserID)
	}

	oldValue := change.OldValue
	if oldValue == "" {
		oldValue = "-"
	}
	newValue := change.NewValue
	if newValue == "" {
		newValue = "-"
	}

	if err := s.recordHistory(ctx, data.CreditCompany, change.OrderID, models.StatusHistory{
		ApplicationID: data.LoanApplicationID,
		StatusType:    models.StatusTypeCRM,
		OldStatus:     change.OldValue,
		NewStatus:     change.NewValue,
		Source:        models.SourceUser,
		Details:       label + ": " + oldValue + " -> " + newValue,
		ManagerID:     change.UserID,
		ManagerName:   managerName,
	}); err != nil {
		return false, err
	}
	return true, nil
}
