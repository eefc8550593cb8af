package service

import (
	"context"
	"testing"

	"github.com/pandashop/creditsync/internal/crm"
	"github.com/pandashop/creditsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCRMHistory(t *testing.T) {
	crmClient := newFakeCRM()
	crmClient.managerNames[7] = "Maria"
	order := testOrder(100)
	order.CustomFields[crm.FieldLoanApplicationID] = "APP-1"
	crmClient.orders[100] = order

	crmClient.history = []models.OrderHistoryChange{
		// manual edit of a tracked field
		{ID: 10, Source: models.SourceUser, Field: "payments.status", OldValue: "credit-check", NewValue: "credit-declined", OrderID: 100, UserID: 7},
		// automated edit, skipped
		{ID: 11, Source: "api", Field: "payments.status", OldValue: "a", NewValue: "b", OrderID: 100},
		// untracked field, skipped
		{ID: 12, Source: models.SourceUser, Field: "customFields.residence", NewValue: "Chisinau", OrderID: 100, UserID: 7},
		// tracked field with an empty old value
		{ID: 13, Source: models.SourceUser, Field: "customFields.credit_term", NewValue: "12", OrderID: 100, UserID: 7},
	}

	store := newFakeStore()
	svc := newTestService(crmClient, store, newFakeAdapter(models.CompanyMicroinvest))

	saved, err := svc.SyncCRMHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	require.Len(t, store.history, 2)
	assert.Equal(t, "Payment status: credit-check -> credit-declined", store.history[0].Details)
	assert.Equal(t, "Maria", store.history[0].ManagerName)
	assert.Equal(t, models.SourceUser, store.history[0].Source)
	assert.Equal(t, "Credit term: - -> 12", store.history[1].Details)

	assert.Equal(t, "13", store.metadata[historyCursorKey], "cursor advances past every change, tracked or not")

	// second pass sees nothing new
	saved, err = svc.SyncCRMHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, saved)
}

func TestSyncCRMHistorySkipsOrdersWithoutApplication(t *testing.T) {
	crmClient := newFakeCRM()
	crmClient.orders[100] = testOrder(100)
	crmClient.history = []models.OrderHistoryChange{
		{ID: 10, Source: models.SourceUser, Field: "payments.status", NewValue: "paid", OrderID: 100, UserID: 7},
	}

	store := newFakeStore()
	svc := newTestService(crmClient, store, newFakeAdapter(models.CompanyMicroinvest))

	saved, err := svc.SyncCRMHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, saved, "edits on orders without an application are ignored")
	assert.Empty(t, store.history)
}
