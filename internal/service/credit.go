package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pandashop/creditsync/internal/crm"
	"github.com/pandashop/creditsync/internal/models"
	"github.com/pandashop/creditsync/internal/provider"
	"github.com/pandashop/creditsync/pkg/metrics"
)

const pendingCheckDelay = 500 * time.Millisecond

var cyrillicRe = regexp.MustCompile(`[а-яёА-ЯЁ]`)

// SubmissionResult is returned to the caller of SubmitApplication.
type SubmissionResult struct {
	OrderID       int64  `json:"orderId"`
	ApplicationID string `json:"applicationId"`
	FilesCount    int    `json:"filesCount"`
	FilesUploaded bool   `json:"filesUploaded"`
}

// SubmitApplication validates the order, creates the application at the
// partner and links it back into the CRM. Only one submission per order may
// be in flight at a time.
func (s *CreditService) SubmitApplication(ctx context.Context, orderID int64, mgr ManagerData) (*SubmissionResult, error) {
	if !s.guard.TryAcquire(orderID) {
		metrics.ApplicationsSubmitted.WithLabelValues("unknown", "duplicate").Inc()
		return nil, &DuplicateSubmissionError{OrderID: orderID}
	}
	defer s.guard.Release(orderID)

	l := s.logger.With("order_id", orderID)
	l.Info("Submitting application", "manager_id", mgr.ManagerID)

	order, err := s.crm.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, &OrderNotFoundError{OrderID: orderID}
	}

	data := crm.ExtractOrderData(order)
	adapter, err := s.providers.For(data.CreditCompany)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	company := adapter.Name()

	if err := s.validateSubmission(adapter, data); err != nil {
		outcome := "invalid"
		var dup *DuplicateSubmissionError
		if errors.As(err, &dup) {
			outcome = "duplicate"
		}
		metrics.ApplicationsSubmitted.WithLabelValues(company, outcome).Inc()
		return nil, err
	}

	var files []models.File
	if adapter.NeedsCustomerIdentity() {
		files, err = s.crm.GetOrderFiles(ctx, orderID)
		if err != nil {
			return nil, err
		}
	}
	if err := adapter.ValidateOrder(data, files); err != nil {
		metrics.ApplicationsSubmitted.WithLabelValues(company, "invalid").Inc()
		return nil, &ValidationError{Message: err.Error()}
	}

	result, err := adapter.Submit(ctx, order, data, files)
	if err != nil {
		metrics.ApplicationsSubmitted.WithLabelValues(company, "error").Inc()
		return nil, &ProviderError{Company: company, Err: err}
	}

	// linkage must not be lost: an application the CRM does not know about
	// can never be reconciled again
	if err := s.crm.UpdateOrderCustomFields(ctx, order, map[string]string{
		crm.FieldLoanApplicationID: result.ApplicationID,
		crm.FieldCreditCompany:     company,
	}); err != nil {
		l.Error("Application created but CRM linkage failed",
			"application_id", result.ApplicationID, "error", err)
		return nil, fmt.Errorf("application %s created but order linkage failed: %w",
			result.ApplicationID, err)
	}

	if data.Payment != nil {
		if err := s.crm.UpdatePaymentStatus(ctx, order, data.Payment.ID, models.StatusCreditCheck); err != nil {
			return nil, err
		}
		if err := s.recordHistory(ctx, company, orderID, models.StatusHistory{
			ApplicationID: result.ApplicationID,
			StatusType:    models.StatusTypeCRM,
			OldStatus:     data.Payment.Status,
			NewStatus:     models.StatusCreditCheck,
			Source:        models.SourceAPI,
			Details:       "Application submitted",
			ManagerID:     mgr.ManagerID,
			ManagerName:   mgr.ManagerName,
		}); err != nil {
			l.Error("Failed to record submission history", "error", err)
		}
	}

	fileNames := make([]string, 0, len(files))
	for _, f := range files {
		fileNames = append(fileNames, f.Name)
	}
	if err := s.store.SaveApplicationRequest(ctx, models.ApplicationRequest{
		OrderID:       orderID,
		ApplicationID: result.ApplicationID,
		CreditCompany: company,
		RequestData:   result.RequestData,
		FilesCount:    len(files),
		FileNames:     fileNames,
	}); err != nil {
		l.Error("Failed to save application request audit",
			"application_id", result.ApplicationID, "error", err)
	}

	metrics.ApplicationsSubmitted.WithLabelValues(company, "submitted").Inc()
	l.Info("Application submitted",
		"application_id", result.ApplicationID,
		"company", company,
		"files_count", len(files))

	return &SubmissionResult{
		OrderID:       orderID,
		ApplicationID: result.ApplicationID,
		FilesCount:    len(files),
		FilesUploaded: result.FilesUploaded,
	}, nil
}

func (s *CreditService) validateSubmission(adapter provider.Adapter, data models.OrderData) error {
	if data.LoanApplicationID != "" {
		return &DuplicateSubmissionError{OrderID: data.OrderID, ApplicationID: data.LoanApplicationID}
	}

	if adapter.NeedsCustomerIdentity() {
		if data.IDNP == "" {
			return validationf("customer IDNP is missing")
		}
		if data.Name == "" {
			return validationf("customer name is missing")
		}
		if cyrillicRe.MatchString(data.Name) {
			return validationf("customer name must be in Latin script")
		}
		if data.Surname == "" {
			return validationf("customer surname is missing")
		}
		if cyrillicRe.MatchString(data.Surname) {
			return validationf("customer surname must be in Latin script")
		}
		if data.Birthday == "" {
			return validationf("customer birthday is missing")
		}
		if data.Payment == nil {
			return validationf("order %d has no credit payment", data.OrderID)
		}
	} else if data.Phone == "" {
		return validationf("customer phone is missing")
	}
	return nil
}

// CheckAndUpdateStatus reconciles one order against its partner. Returns nil
// without error when there is nothing to do yet: no application, no partner
// decision, or a status outside the known vocabulary.
func (s *CreditService) CheckAndUpdateStatus(ctx context.Context, orderID int64) (*models.CheckResult, error) {
	order, err := s.crm.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		s.logger.Warn("Order not found for status check", "order_id", orderID)
		return nil, nil
	}

	data := crm.ExtractOrderData(order)
	if data.LoanApplicationID == "" {
		s.logger.Debug("Order has no application", "order_id", orderID)
		return nil, nil
	}

	adapter, err := s.providers.For(data.CreditCompany)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	company := adapter.Name()

	status, err := adapter.CheckStatus(ctx, data.LoanApplicationID)
	if err != nil {
		metrics.StatusChecks.WithLabelValues(company, "error").Inc()
		return nil, &ProviderError{Company: company, Err: err}
	}
	if status == nil {
		metrics.StatusChecks.WithLabelValues(company, "pending").Inc()
		s.logger.Debug("Partner status not available yet",
			"order_id", orderID, "application_id", data.LoanApplicationID)
		return nil, nil
	}

	crmStatus, known := adapter.MapStatus(status.Raw)
	if !known {
		metrics.StatusChecks.WithLabelValues(company, "unmapped").Inc()
		s.logger.Warn("Unknown partner status",
			"order_id", orderID, "company", company, "bank_status", status.Raw)
		return nil, nil
	}

	// an approval with different conditions must be surfaced to the
	// manager, not silently accepted
	if crmStatus == models.StatusCreditApproved && status.Approved != nil {
		if adapter.ConditionsChanged(provider.RequestedTerms(data), *status.Approved) {
			crmStatus = models.StatusConditionsChanged
			s.logger.Info("Partner changed credit conditions",
				"order_id", orderID, "application_id", data.LoanApplicationID)
		}
	}

	if data.Payment != nil && data.Payment.Status != crmStatus {
		if err := s.crm.UpdatePaymentStatus(ctx, order, data.Payment.ID, crmStatus); err != nil {
			return nil, err
		}

		if err := s.recordHistory(ctx, company, orderID, models.StatusHistory{
			ApplicationID: data.LoanApplicationID,
			StatusType:    models.StatusTypeBank,
			NewStatus:     status.Raw,
			Source:        models.SourceCron,
		}); err != nil {
			s.logger.Error("Failed to record bank status history",
				"order_id", orderID, "error", err)
		}

		details := ""
		if crmStatus == models.StatusConditionsChanged {
			details = "Bank changed conditions"
		}
		if err := s.recordHistory(ctx, company, orderID, models.StatusHistory{
			ApplicationID: data.LoanApplicationID,
			StatusType:    models.StatusTypeCRM,
			OldStatus:     data.Payment.Status,
			NewStatus:     crmStatus,
			Source:        models.SourceCron,
			Details:       details,
		}); err != nil {
			s.logger.Error("Failed to record crm status history",
				"order_id", orderID, "error", err)
		}

		metrics.StatusChecks.WithLabelValues(company, "updated").Inc()
		s.logger.Info("Order status updated",
			"order_id", orderID,
			"application_id", data.LoanApplicationID,
			"bank_status", status.Raw,
			"crm_status", crmStatus)
	} else {
		metrics.StatusChecks.WithLabelValues(company, "unchanged").Inc()
	}

	if adapter.IsApprovedLike(status.Raw) && data.Payment != nil && data.Payment.Type == models.PaymentTypeCredit {
		s.autoAttachContracts(ctx, order, adapter, data.LoanApplicationID)
	}

	return &models.CheckResult{
		OrderID:        orderID,
		ApplicationID:  data.LoanApplicationID,
		BankStatus:     status.Raw,
		DocumentStatus: status.Document,
		CRMStatus:      crmStatus,
		IsFinal:        adapter.IsFinal(status.Raw),
	}, nil
}

// autoAttachContracts pulls signed contracts from the partner and attaches
// them to the order, once. Failures are logged, never propagated: contract
// attachment is a convenience on top of reconciliation.
func (s *CreditService) autoAttachContracts(ctx context.Context, order *models.Order, adapter provider.Adapter, applicationID string) {
	hasContracts, err := s.crm.CheckOrderHasContractFiles(ctx, order.ID)
	if err != nil {
		s.logger.Error("Contract presence check failed", "order_id", order.ID, "error", err)
		return
	}
	if hasContracts {
		return
	}

	contracts, err := adapter.Contracts(ctx, applicationID)
	if err != nil {
		if errors.Is(err, provider.ErrUnsupported) {
			return
		}
		s.logger.Error("Failed to fetch contracts",
			"order_id", order.ID, "application_id", applicationID, "error", err)
		return
	}
	if len(contracts) == 0 {
		s.logger.Debug("No contracts available yet",
			"order_id", order.ID, "application_id", applicationID)
		return
	}

	for _, file := range contracts {
		if err := s.crm.UploadFileToOrder(ctx, order, file); err != nil {
			s.logger.Error("Failed to attach contract",
				"order_id", order.ID, "file", file.Name, "error", err)
			continue
		}
		s.logger.Info("Contract auto-attached",
			"order_id", order.ID, "application_id", applicationID, "file", file.Name)
	}
}

// CheckAllPending reconciles every order with an active application. Orders
// are processed sequentially with a small delay to stay inside partner rate
// limits; a failed order never stops the pass.
func (s *CreditService) CheckAllPending(ctx context.Context) ([]models.CheckResult, error) {
	s.logger.Info("Starting status check for pending applications")

	orders, err := s.crm.GetOrdersWithActiveApplications(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Found orders with active applications", "count", len(orders))

	var results []models.CheckResult
	finalCount := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		result, err := s.CheckAndUpdateStatus(ctx, order.ID)
		if err != nil {
			s.logger.Error("Failed to check order status",
				"order_id", order.ID, "error", err)
		} else if result != nil {
			results = append(results, *result)
			if result.IsFinal {
				finalCount++
			}
		}
		s.sleep(ctx, pendingCheckDelay)
	}

	s.logger.Info("Status check completed",
		"total", len(orders), "updated", len(results), "final", finalCount)
	return results, nil
}

// SendFilesToBank pushes the order's current attachments to the partner.
func (s *CreditService) SendFilesToBank(ctx context.Context, orderID int64) (*SubmissionResult, error) {
	_, data, adapter, err := s.orderWithApplication(ctx, orderID)
	if err != nil {
		return nil, err
	}

	files, err := s.crm.GetOrderFiles(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, validationf("order %d has no files attached", orderID)
	}

	if err := adapter.UploadFiles(ctx, data.LoanApplicationID, files); err != nil {
		if errors.Is(err, provider.ErrUnsupported) {
			return nil, validationf("%s does not accept file uploads", adapter.Name())
		}
		return nil, &ProviderError{Company: adapter.Name(), Err: err}
	}

	s.logger.Info("Files sent to partner",
		"order_id", orderID,
		"application_id", data.LoanApplicationID,
		"company", adapter.Name(),
		"files_count", len(files))

	return &SubmissionResult{
		OrderID:       orderID,
		ApplicationID: data.LoanApplicationID,
		FilesCount:    len(files),
		FilesUploaded: true,
	}, nil
}

// ContractsResult carries partner contracts for download.
type ContractsResult struct {
	OrderID       int64         `json:"orderId"`
	ApplicationID string        `json:"applicationId"`
	Files         []models.File `json:"-"`
	FileNames     []string      `json:"fileNames"`
}

// GetContractsForDownload fetches the signed contracts and, if the order has
// none attached yet, attaches them as a side effect.
func (s *CreditService) GetContractsForDownload(ctx context.Context, orderID int64) (*ContractsResult, error) {
	order, data, adapter, err := s.orderWithApplication(ctx, orderID)
	if err != nil {
		return nil, err
	}

	files, err := adapter.Contracts(ctx, data.LoanApplicationID)
	if err != nil {
		if errors.Is(err, provider.ErrUnsupported) {
			return nil, validationf("%s does not provide contract documents", adapter.Name())
		}
		return nil, &ProviderError{Company: adapter.Name(), Err: err}
	}
	if len(files) == 0 {
		return nil, validationf("no contracts available yet, the application must be approved first")
	}

	hasContracts, err := s.crm.CheckOrderHasContractFiles(ctx, orderID)
	if err == nil && !hasContracts {
		for _, file := range files {
			if err := s.crm.UploadFileToOrder(ctx, order, file); err != nil {
				s.logger.Error("Failed to attach contract during download",
					"order_id", orderID, "file", file.Name, "error", err)
			}
		}
	}

	result := &ContractsResult{
		OrderID:       orderID,
		ApplicationID: data.LoanApplicationID,
		Files:         files,
	}
	for _, f := range files {
		result.FileNames = append(result.FileNames, f.Name)
	}
	return result, nil
}

// RefuseApplication cancels the application at the partner and declines the
// CRM payment.
func (s *CreditService) RefuseApplication(ctx context.Context, orderID int64, reason string, mgr ManagerData) error {
	order, data, adapter, err := s.orderWithApplication(ctx, orderID)
	if err != nil {
		return err
	}

	if err := adapter.Refuse(ctx, data.LoanApplicationID, reason); err != nil {
		return &ProviderError{Company: adapter.Name(), Err: err}
	}

	if data.Payment != nil {
		if err := s.crm.UpdatePaymentStatus(ctx, order, data.Payment.ID, models.StatusCreditDeclined); err != nil {
			return err
		}
		details := "Application cancelled"
		if reason != "" {
			details = "Refused: " + reason
		}
		if err := s.recordHistory(ctx, adapter.Name(), orderID, models.StatusHistory{
			ApplicationID: data.LoanApplicationID,
			StatusType:    models.StatusTypeCRM,
			OldStatus:     data.Payment.Status,
			NewStatus:     models.StatusCreditDeclined,
			Source:        models.SourceAPI,
			Details:       details,
			ManagerID:     mgr.ManagerID,
			ManagerName:   mgr.ManagerName,
		}); err != nil {
			s.logger.Error("Failed to record refusal history", "order_id", orderID, "error", err)
		}
	}

	s.logger.Info("Application refused",
		"order_id", orderID,
		"application_id", data.LoanApplicationID,
		"reason", reason)
	return nil
}

// GetMessages reads the partner message thread and attributes our own
// messages back to the managers who sent them.
func (s *CreditService) GetMessages(ctx context.Context, orderID int64) ([]provider.Message, error) {
	_, data, adapter, err := s.orderWithApplication(ctx, orderID)
	if err != nil {
		return nil, err
	}

	messages, err := adapter.Messages(ctx, data.LoanApplicationID)
	if err != nil {
		if errors.Is(err, provider.ErrUnsupported) {
			return nil, validationf("%s has no message channel", adapter.Name())
		}
		return nil, &ProviderError{Company: adapter.Name(), Err: err}
	}

	sent, err := s.store.GetSentMessages(ctx, data.LoanApplicationID)
	if err != nil {
		s.logger.Warn("Failed to load sent message attribution",
			"application_id", data.LoanApplicationID, "error", err)
		return messages, nil
	}

	for i, msg := range messages {
		if !msg.Outgoing {
			continue
		}
		for _, record := range sent {
			if record.MessageText == msg.Text && absDuration(record.SentAt.Sub(msg.SentAt)) < time.Minute {
				messages[i].Author = record.ManagerName
				break
			}
		}
	}
	return messages, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// SendMessage posts a message to the partner thread and records who sent it.
func (s *CreditService) SendMessage(ctx context.Context, orderID int64, text string, mgr ManagerData) error {
	_, data, adapter, err := s.orderWithApplication(ctx, orderID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return validationf("message text is empty")
	}

	if err := adapter.SendMessage(ctx, data.LoanApplicationID, text); err != nil {
		if errors.Is(err, provider.ErrUnsupported) {
			return validationf("%s does not accept messages, the partner communicates one-way", adapter.Name())
		}
		return &ProviderError{Company: adapter.Name(), Err: err}
	}

	if mgr.ManagerID != 0 {
		if err := s.store.SaveSentMessage(ctx, models.SentMessage{
			ApplicationID: data.LoanApplicationID,
			MessageText:   text,
			ManagerID:     mgr.ManagerID,
			ManagerName:   mgr.ManagerName,
		}); err != nil {
			s.logger.Error("Failed to save message attribution",
				"application_id", data.LoanApplicationID, "error", err)
		}
	}
	return nil
}

// ComparisonData is the requested-versus-approved view for one order.
type ComparisonData struct {
	OrderID        int64         `json:"orderId"`
	HasApplication bool          `json:"hasApplication"`
	ApplicationID  string        `json:"applicationId,omitempty"`
	CreditCompany  string        `json:"creditCompany"`
	BankStatus     string        `json:"bankStatus,omitempty"`
	DocumentStatus string        `json:"documentStatus,omitempty"`
	CRMStatus      string        `json:"crmStatus,omitempty"`
	Requested      models.Terms  `json:"requested"`
	Approved       *models.Terms `json:"approved,omitempty"`
	Matches        *TermMatches  `json:"matches,omitempty"`
	HasChanges     bool          `json:"hasChanges"`
}

// TermMatches flags field-by-field agreement between requested and approved
// terms, for the widget's side-by-side view.
type TermMatches struct {
	Amount      bool `json:"amount"`
	Term        bool `json:"term"`
	ProductType bool `json:"productType"`
}

// GetComparisonData builds the conditions comparison for one order without
// touching CRM state.
func (s *CreditService) GetComparisonData(ctx context.Context, orderID int64) (*ComparisonData, error) {
	order, err := s.crm.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, &OrderNotFoundError{OrderID: orderID}
	}

	data := crm.ExtractOrderData(order)
	adapter, err := s.providers.For(data.CreditCompany)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	result := &ComparisonData{
		OrderID:       orderID,
		CreditCompany: adapter.Name(),
		Requested:     provider.RequestedTerms(data),
	}
	if data.LoanApplicationID == "" {
		return result, nil
	}
	result.HasApplication = true
	result.ApplicationID = data.LoanApplicationID
	if data.Payment != nil {
		result.CRMStatus = data.Payment.Status
	}

	status, err := adapter.CheckStatus(ctx, data.LoanApplicationID)
	if err != nil {
		return nil, &ProviderError{Company: adapter.Name(), Err: err}
	}
	if status == nil {
		return result, nil
	}

	result.BankStatus = status.Raw
	result.DocumentStatus = status.Document
	if status.Approved != nil {
		approved := *status.Approved
		result.Approved = &approved
		result.HasChanges = adapter.ConditionsChanged(result.Requested, approved)
		result.Matches = &TermMatches{
			Amount:      result.Requested.Amount == approved.Amount,
			Term:        result.Requested.Term == approved.Term,
			ProductType: approved.ProductType == "" || result.Requested.ProductType == approved.ProductType,
		}
	}
	return result, nil
}

func (s *CreditService) GetStatusHistory(ctx context.Context, applicationID string) ([]models.StatusHistory, error) {
	return s.store.GetStatusHistory(ctx, applicationID)
}

// GetApplicationRequestData returns the audit snapshot saved at submission
// time, or nil when the application predates auditing.
func (s *CreditService) GetApplicationRequestData(ctx context.Context, orderID int64) (*models.ApplicationRequest, error) {
	return s.store.GetApplicationRequest(ctx, orderID)
}

// UpdateOrderStatus moves the CRM order lifecycle status.
func (s *CreditService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	order, err := s.crm.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return &OrderNotFoundError{OrderID: orderID}
	}
	if err := s.crm.UpdateOrderStatus(ctx, order, status); err != nil {
		return err
	}
	s.logger.Info("Order status updated", "order_id", orderID, "status", status)
	return nil
}

// HandleIuteWebhook processes the confirm/cancel callbacks the customer
// triggers in the MyIute app. The reference is the synthetic CRM-<orderID>
// value generated at submission.
func (s *CreditService) HandleIuteWebhook(ctx context.Context, kind, reference, description string) error {
	var rawStatus string
	switch kind {
	case "confirm":
		rawStatus = "PAID"
	case "cancel":
		rawStatus = "CANCELLED"
	default:
		return validationf("unknown webhook type %q", kind)
	}

	orderID, err := strconv.ParseInt(strings.TrimPrefix(reference, "CRM-"), 10, 64)
	if err != nil {
		return validationf("malformed application reference %q", reference)
	}

	order, err := s.crm.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return &OrderNotFoundError{OrderID: orderID}
	}

	data := crm.ExtractOrderData(order)
	adapter, err := s.providers.For(models.CompanyIute)
	if err != nil {
		return err
	}

	crmStatus, _ := adapter.MapStatus(rawStatus)
	if data.Payment != nil && crmStatus != "" && data.Payment.Status != crmStatus {
		if err := s.crm.UpdatePaymentStatus(ctx, order, data.Payment.ID, crmStatus); err != nil {
			return err
		}
	}

	details := description
	if details == "" {
		if kind == "confirm" {
			details = "Credit issued"
		} else {
			details = "Application cancelled by customer"
		}
	}
	if err := s.recordHistory(ctx, models.CompanyIute, orderID, models.StatusHistory{
		ApplicationID: reference,
		StatusType:    models.StatusTypeBank,
		NewStatus:     rawStatus,
		Source:        models.SourceWebhook,
		Details:       details,
	}); err != nil {
		s.logger.Error("Failed to record webhook history",
			"reference", reference, "error", err)
	}

	s.logger.Info("MyIute webhook processed",
		"reference", reference, "type", kind, "status", rawStatus)
	return nil
}

// orderWithApplication loads the order and requires an existing application.
func (s *CreditService) orderWithApplication(ctx context.Context, orderID int64) (*models.Order, models.OrderData, provider.Adapter, error) {
	order, err := s.crm.GetOrder(ctx, orderID)
	if err != nil {
		return nil, models.OrderData{}, nil, err
	}
	if order == nil {
		return nil, models.OrderData{}, nil, &OrderNotFoundError{OrderID: orderID}
	}

	data := crm.ExtractOrderData(order)
	if data.LoanApplicationID == "" {
		return nil, models.OrderData{}, nil, validationf("order %d has no application", orderID)
	}

	adapter, err := s.providers.For(data.CreditCompany)
	if err != nil {
		return nil, models.OrderData{}, nil, &ValidationError{Message: err.Error()}
	}
	return order, data, adapter, nil
}
