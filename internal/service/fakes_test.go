package service

import (
	"context"
	"time"

	"github.com/pandashop/creditsync/internal/models"
	"github.com/pandashop/creditsync/internal/provider"
)

type paymentUpdate struct {
	OrderID   int64
	PaymentID string
	Status    string
}

type fakeCRM struct {
	orders       map[int64]*models.Order
	files        map[int64][]models.File
	activeOrders []models.Order
	hasContracts bool
	managerNames map[int64]string
	history      []models.OrderHistoryChange

	getOrderErr      error
	linkageErr       error
	contractCheckErr error

	paymentUpdates []paymentUpdate
	statusUpdates  []string
	fieldUpdates   []map[string]string
	uploads        []models.File
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		orders:       make(map[int64]*models.Order),
		files:        make(map[int64][]models.File),
		managerNames: make(map[int64]string),
	}
}

func (c *fakeCRM) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	if c.getOrderErr != nil {
		return nil, c.getOrderErr
	}
	return c.orders[orderID], nil
}

func (c *fakeCRM) GetOrdersWithActiveApplications(ctx context.Context) ([]models.Order, error) {
	return c.activeOrders, nil
}

func (c *fakeCRM) GetOrderFiles(ctx context.Context, orderID int64) ([]models.File, error) {
	return c.files[orderID], nil
}

func (c *fakeCRM) UploadFileToOrder(ctx context.Context, order *models.Order, file models.File) error {
	c.uploads = append(c.uploads, file)
	return nil
}

func (c *fakeCRM) CheckOrderHasContractFiles(ctx context.Context, orderID int64) (bool, error) {
	return c.hasContracts, c.contractCheckErr
}

func (c *fakeCRM) UpdatePaymentStatus(ctx context.Context, order *models.Order, paymentID, status string) error {
	c.paymentUpdates = append(c.paymentUpdates, paymentUpdate{
		OrderID: order.ID, PaymentID: paymentID, Status: status,
	})
	return nil
}

func (c *fakeCRM) UpdateOrderStatus(ctx context.Context, order *models.Order, status string) error {
	c.statusUpdates = append(c.statusUpdates, status)
	return nil
}

func (c *fakeCRM) UpdateOrderCustomFields(ctx context.Context, order *models.Order, fields map[string]string) error {
	if c.linkageErr != nil {
		return c.linkageErr
	}
	c.fieldUpdates = append(c.fieldUpdates, fields)
	return nil
}

func (c *fakeCRM) GetManagerName(ctx context.Context, userID int64) string {
	return c.managerNames[userID]
}

func (c *fakeCRM) GetOrdersHistory(ctx context.Context, sinceID int64) ([]models.OrderHistoryChange, error) {
	var out []models.OrderHistoryChange
	for _, change := range c.history {
		if change.ID > sinceID {
			out = append(out, change)
		}
	}
	return out, nil
}

type fakeStore struct {
	feedItems map[int64]models.FeedItem
	history   []models.StatusHistory
	requests  map[int64]models.ApplicationRequest
	sent      []models.SentMessage
	metadata  map[string]string
	lastSync  time.Time

	upsertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		feedItems: make(map[int64]models.FeedItem),
		requests:  make(map[int64]models.ApplicationRequest),
		metadata:  make(map[string]string),
	}
}

func (s *fakeStore) UpsertFeedItem(ctx context.Context, item models.FeedItem) error {
	s.upsertCalls++
	s.feedItems[item.OrderID] = item
	return nil
}

func (s *fakeStore) UpsertMany(ctx context.Context, items []models.FeedItem) int {
	for _, item := range items {
		s.upsertCalls++
		s.feedItems[item.OrderID] = item
	}
	return len(items)
}

func (s *fakeStore) GetAllFeedItems(ctx context.Context, filter models.FeedFilter) ([]models.FeedItem, error) {
	var out []models.FeedItem
	for _, item := range s.feedItems {
		if !filter.IncludeArchived && models.IsArchivedOrderStatus(item.OrderStatus) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *fakeStore) DeleteFeedItem(ctx context.Context, orderID int64) error {
	delete(s.feedItems, orderID)
	return nil
}

func (s *fakeStore) SaveStatusHistory(ctx context.Context, h models.StatusHistory) error {
	s.history = append(s.history, h)
	return nil
}

func (s *fakeStore) GetStatusHistory(ctx context.Context, applicationID string) ([]models.StatusHistory, error) {
	var out []models.StatusHistory
	for _, h := range s.history {
		if h.ApplicationID == applicationID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveApplicationRequest(ctx context.Context, r models.ApplicationRequest) error {
	s.requests[r.OrderID] = r
	return nil
}

func (s *fakeStore) GetApplicationRequest(ctx context.Context, orderID int64) (*models.ApplicationRequest, error) {
	r, ok := s.requests[orderID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeStore) SaveSentMessage(ctx context.Context, m models.SentMessage) error {
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeStore) GetSentMessages(ctx context.Context, applicationID string) ([]models.SentMessage, error) {
	var out []models.SentMessage
	for _, m := range s.sent {
		if m.ApplicationID == applicationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) GetSyncMetadata(ctx context.Context, key string) (string, error) {
	return s.metadata[key], nil
}

func (s *fakeStore) SaveSyncMetadata(ctx context.Context, key, value string) error {
	s.metadata[key] = value
	return nil
}

func (s *fakeStore) GetLastSyncTime(ctx context.Context) (time.Time, error) {
	return s.lastSync, nil
}

func (s *fakeStore) UpdateLastSyncTime(ctx context.Context, t time.Time) error {
	s.lastSync = t
	return nil
}

type fakePublisher struct {
	events []models.StatusEvent
	err    error
}

func (p *fakePublisher) PublishStatusEvent(ctx context.Context, event models.StatusEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// fakeAdapter is a scriptable partner adapter. The status vocabulary matches
// the Microinvest one so canonical mapping behaves like a real bank.
type fakeAdapter struct {
	provider.StatusMap
	name          string
	needsIdentity bool

	submitResult *provider.SubmitResult
	submitErr    error
	status       *provider.Status
	statusErr    error
	contracts    []models.File
	contractsErr error
	messages     []provider.Message
	messagesErr  error
	refuseErr    error
	sendErr      error
	changed      bool

	submitCalls int
	checkCalls  int
	refuseCalls int
	sentTexts   []string
	uploaded    [][]models.File
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		StatusMap: provider.NewStatusMap(
			map[string]string{
				"Placed":   models.StatusCreditCheck,
				"Approved": models.StatusCreditApproved,
				"Refused":  models.StatusCreditDeclined,
				"Issued":   models.StatusPaid,
				// fake vocabulary shared with the webhook flow
				"PAID":      models.StatusPaid,
				"CANCELLED": models.StatusCreditDeclined,
			},
			[]string{"Refused", "Issued", "PAID", "CANCELLED"},
			[]string{"Approved", "Issued"},
		),
		name:          name,
		needsIdentity: true,
	}
}

func (a *fakeAdapter) Name() string                { return a.name }
func (a *fakeAdapter) NeedsCustomerIdentity() bool { return a.needsIdentity }

func (a *fakeAdapter) ValidateOrder(data models.OrderData, files []models.File) error {
	return nil
}

func (a *fakeAdapter) Submit(ctx context.Context, order *models.Order, data models.OrderData, files []models.File) (*provider.SubmitResult, error) {
	a.submitCalls++
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	return a.submitResult, nil
}

func (a *fakeAdapter) CheckStatus(ctx context.Context, applicationID string) (*provider.Status, error) {
	a.checkCalls++
	return a.status, a.statusErr
}

func (a *fakeAdapter) UploadFiles(ctx context.Context, applicationID string, files []models.File) error {
	a.uploaded = append(a.uploaded, files)
	return nil
}

func (a *fakeAdapter) Contracts(ctx context.Context, applicationID string) ([]models.File, error) {
	return a.contracts, a.contractsErr
}

func (a *fakeAdapter) Refuse(ctx context.Context, applicationID, reason string) error {
	a.refuseCalls++
	return a.refuseErr
}

func (a *fakeAdapter) Messages(ctx context.Context, applicationID string) ([]provider.Message, error) {
	return a.messages, a.messagesErr
}

func (a *fakeAdapter) SendMessage(ctx context.Context, applicationID, text string) error {
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sentTexts = append(a.sentTexts, text)
	return nil
}

func (a *fakeAdapter) ConditionsChanged(requested, approved models.Terms) bool {
	return a.changed
}
