package provider

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pandashop/creditsync/internal/config"
	"github.com/pandashop/creditsync/internal/models"

	"github.com/go-resty/resty/v2"
)

// Microinvest integrates the Microinvest loan API. Applications are created
// with ImportLoanApplication and addressed afterwards by the numeric
// applicationID header the bank assigns.
type Microinvest struct {
	StatusMap
	http         *resty.Client
	files        *resty.Client
	cfg          config.MicroinvestConfig
	productNames map[string]string
	logger       *slog.Logger
}

// microinvestFileTimeout covers /SendContracts, which ships base64 scans and
// needs a wider window than the JSON endpoints.
const microinvestFileTimeout = 60 * time.Second

func newMicroinvestClient(cfg config.MicroinvestConfig, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		// the bank endpoint serves a certificate for a different host
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetHeader("Accept", "application/json").
		SetHeader("apikey", cfg.APIKey).
		SetHeader("partnerID", cfg.PartnerID)
}

func NewMicroinvest(cfg config.MicroinvestConfig, l *slog.Logger) *Microinvest {
	productNames := make(map[string]string, len(cfg.LoanProducts))
	for name, id := range cfg.LoanProducts {
		productNames[id] = name
	}

	return &Microinvest{
		StatusMap: NewStatusMap(
			map[string]string{
				"Placed":           models.StatusCreditCheck,
				"Processing":       models.StatusCreditCheck,
				"Approved":         models.StatusCreditApproved,
				"Refused":          models.StatusCreditDeclined,
				"SignedOnline":     models.StatusSignedOnline,
				"SignedPhysically": models.StatusSignedOnline,
				"PendingIssue":     models.StatusCreditApproved,
				"Issued":           models.StatusPaid,
				"IssueRejected":    models.StatusCreditDeclined,
			},
			[]string{"Refused", "Issued", "IssueRejected"},
			[]string{"Approved", "SignedOnline", "SignedPhysically", "PendingIssue", "Issued"},
		),
		http:         newMicroinvestClient(cfg, 30*time.Second),
		files:        newMicroinvestClient(cfg, microinvestFileTimeout),
		cfg:          cfg,
		productNames: productNames,
		logger:       l,
	}
}

func (m *Microinvest) Name() string { return models.CompanyMicroinvest }

func (m *Microinvest) NeedsCustomerIdentity() bool { return true }

// loanProductID resolves the bank-side product. Zero-interest terms map to
// their dedicated products, everything else goes through the retail one.
func (m *Microinvest) loanProductID(zeroCredit bool, term int) string {
	if zeroCredit {
		if id, ok := m.cfg.LoanProducts[fmt.Sprintf("0%%_%d", term)]; ok {
			return id
		}
	}
	return m.cfg.LoanProducts["retail"]
}

func (m *Microinvest) productName(productID string) string {
	if name, ok := m.productNames[productID]; ok {
		return name
	}
	return "unknown"
}

func (m *Microinvest) ValidateOrder(data models.OrderData, files []models.File) error {
	if len(files) == 0 {
		return fmt.Errorf("order %d has no passport photo attached", data.OrderID)
	}
	return nil
}

type microinvestAttachment struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type microinvestApplication struct {
	IDNP                   string                  `json:"idnp"`
	Name                   string                  `json:"name"`
	Surname                string                  `json:"surname"`
	BirthDate              string                  `json:"birthDate"`
	PhoneCell              string                  `json:"phoneCell"`
	AgreementLoanHistoryPD bool                    `json:"agreementLoanHistoryPD"`
	MarketingAgreement     bool                    `json:"marketingAgreement"`
	LoanProductID          string                  `json:"loanProductID"`
	LoanTerm               string                  `json:"loanTerm"`
	Amount                 string                  `json:"amount"`
	Comment                string                  `json:"comment"`
	FileAttachmentSet      []microinvestAttachment `json:"fileAttachmentSet,omitempty"`
}

func (m *Microinvest) Submit(ctx context.Context, order *models.Order, data models.OrderData, files []models.File) (*SubmitResult, error) {
	amount := data.TotalAmount
	if data.Payment != nil {
		amount = data.Payment.Amount
	}

	application := microinvestApplication{
		IDNP:                   data.IDNP,
		Name:                   data.Name,
		Surname:                data.Surname,
		BirthDate:              FormatBirthday(data.Birthday),
		PhoneCell:              E164Phone(data.Phone),
		AgreementLoanHistoryPD: true,
		MarketingAgreement:     true,
		LoanProductID:          m.loanProductID(data.ZeroCredit, data.CreditTerm),
		LoanTerm:               fmt.Sprintf("%d", data.CreditTerm),
		Amount:                 fmt.Sprintf("%g", amount),
		Comment:                "Nr. comenzii: " + data.OrderNumber,
	}
	for _, f := range files {
		application.FileAttachmentSet = append(application.FileAttachmentSet, microinvestAttachment{
			Name: f.Name,
			Data: base64.StdEncoding.EncodeToString(f.Data),
		})
	}

	var result struct {
		ApplicationID json.Number `json:"applicationID"`
	}
	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(application).
		SetResult(&result).
		Post("/ImportLoanApplication")
	if err != nil {
		return nil, fmt.Errorf("ImportLoanApplication failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("ImportLoanApplication rejected: status %d: %s",
			resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	if result.ApplicationID == "" {
		return nil, fmt.Errorf("no applicationID in response")
	}

	audit, _ := json.Marshal(application)
	return &SubmitResult{
		ApplicationID: result.ApplicationID.String(),
		RequestData:   audit,
		FilesUploaded: true,
	}, nil
}

type microinvestStatus struct {
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	LoanTerm      int     `json:"loanTerm"`
	LoanProductID string  `json:"loanProductID"`
}

// CheckStatus returns (nil, nil) on 404: freshly imported applications are
// not visible to the status endpoint until the bank finishes intake.
func (m *Microinvest) CheckStatus(ctx context.Context, applicationID string) (*Status, error) {
	var result microinvestStatus
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("applicationID", applicationID).
		SetResult(&result).
		Post("/CheckApplicationStatus")
	if err != nil {
		return nil, fmt.Errorf("CheckApplicationStatus failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("CheckApplicationStatus rejected: status %d", resp.StatusCode())
	}

	status := &Status{Raw: result.Status}
	if m.IsApprovedLike(result.Status) {
		productType := "retail"
		if strings.HasPrefix(m.productName(result.LoanProductID), "0%") {
			productType = "0%"
		}
		status.Approved = &models.Terms{
			Amount:      result.Amount,
			Term:        result.LoanTerm,
			ProductType: productType,
		}
	}
	return status, nil
}

func (m *Microinvest) UploadFiles(ctx context.Context, applicationID string, files []models.File) error {
	attachments := make([]microinvestAttachment, 0, len(files))
	for _, f := range files {
		attachments = append(attachments, microinvestAttachment{
			Name: f.Name,
			Data: base64.StdEncoding.EncodeToString(f.Data),
		})
	}

	resp, err := m.files.R().
		SetContext(ctx).
		SetHeader("applicationID", applicationID).
		SetBody(map[string]any{"fileAttachmentSet": attachments}).
		Post("/SendContracts")
	if err != nil {
		return fmt.Errorf("SendContracts failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("SendContracts rejected: status %d", resp.StatusCode())
	}
	return nil
}

func (m *Microinvest) Contracts(ctx context.Context, applicationID string) ([]models.File, error) {
	var result struct {
		FileAttachmentSet []microinvestAttachment `json:"fileAttachmentSet"`
	}
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("applicationID", applicationID).
		SetResult(&result).
		Post("/GetContracts")
	if err != nil {
		return nil, fmt.Errorf("GetContracts failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("GetContracts rejected: status %d", resp.StatusCode())
	}

	files := make([]models.File, 0, len(result.FileAttachmentSet))
	for _, att := range result.FileAttachmentSet {
		data, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			m.logger.Warn("Skipping contract with invalid encoding",
				"application_id", applicationID, "file", att.Name)
			continue
		}
		files = append(files, models.File{Name: att.Name, Data: data})
	}
	return files, nil
}

func (m *Microinvest) Refuse(ctx context.Context, applicationID, reason string) error {
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("applicationID", applicationID).
		SetBody(map[string]string{"reason": reason}).
		Post("/SendRefuseRequest")
	if err != nil {
		return fmt.Errorf("SendRefuseRequest failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("SendRefuseRequest rejected: status %d", resp.StatusCode())
	}
	return nil
}

func (m *Microinvest) Messages(ctx context.Context, applicationID string) ([]Message, error) {
	var result struct {
		MessageSet []struct {
			Date       string `json:"date"`
			SenderName string `json:"senderName"`
			SenderID   string `json:"senderID"`
			Text       string `json:"text"`
		} `json:"messageSet"`
	}
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("applicationID", applicationID).
		SetBody(map[string]bool{"newMessages": false}).
		SetResult(&result).
		Post("/GetMessages")
	if err != nil {
		return nil, fmt.Errorf("GetMessages failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("GetMessages rejected: status %d", resp.StatusCode())
	}

	messages := make([]Message, 0, len(result.MessageSet))
	for _, msg := range result.MessageSet {
		sentAt, _ := time.Parse(time.RFC3339, msg.Date)
		messages = append(messages, Message{
			Text:   msg.Text,
			Author: msg.SenderName,
			SentAt: sentAt,
			// partner-assigned sender ids of our own side start with PAN
			Outgoing: strings.HasPrefix(msg.SenderID, "PAN"),
		})
	}
	return messages, nil
}

func (m *Microinvest) SendMessage(ctx context.Context, applicationID, text string) error {
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("applicationID", applicationID).
		SetBody(map[string]string{"text": text}).
		Post("/SendMessage")
	if err != nil {
		return fmt.Errorf("SendMessage failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("SendMessage rejected: status %d", resp.StatusCode())
	}
	return nil
}

// ConditionsChanged compares strictly: this bank is expected to approve the
// exact requested conditions, any deviation must surface to the manager.
func (m *Microinvest) ConditionsChanged(requested, approved models.Terms) bool {
	return requested.Amount != approved.Amount ||
		requested.Term != approved.Term ||
		requested.ProductType != approved.ProductType
}
