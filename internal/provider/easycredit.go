package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pandashop/creditsync/internal/config"
	"github.com/pandashop/creditsync/internal/models"

	"github.com/go-resty/resty/v2"
)

const (
	easyCreditUploadRetries = 2
	easyCreditUploadDelay   = 2 * time.Second
	easyCreditFileWait      = 2 * time.Second
)

// EasyCredit integrates the EasyCredit request API. Applications are
// addressed by the URN the bank assigns on creation. The files endpoint lives
// on a separate host with a much larger timeout.
type EasyCredit struct {
	StatusMap
	http   *resty.Client
	files  *resty.Client
	cfg    config.EasyCreditConfig
	logger *slog.Logger

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

func NewEasyCredit(cfg config.EasyCreditConfig, l *slog.Logger) *EasyCredit {
	base := cfg.BaseURL + "/" + cfg.Environment
	filesBase := cfg.FilesURL + "/" + cfg.Environment

	return &EasyCredit{
		StatusMap: NewStatusMap(
			map[string]string{
				"New":       models.StatusCreditCheck,
				"More Data": models.StatusCreditCheck,
				"Approved":  models.StatusCreditApproved,
				"Refused":   models.StatusCreditDeclined,
				"Rejected":  models.StatusCreditDeclined,
				"Canceled":  models.StatusCreditDeclined,
				"Disbursed": models.StatusPaid,
				"Settled":   models.StatusPaid,
			},
			[]string{"Refused", "Rejected", "Canceled", "Disbursed", "Settled"},
			[]string{"Approved", "Disbursed", "Settled"},
		),
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(30*time.Second).
			SetBasicAuth(cfg.Login, cfg.Password).
			SetHeader("Content-Type", "application/json"),
		files: resty.New().
			SetBaseURL(filesBase).
			SetTimeout(120 * time.Second).
			SetBasicAuth(cfg.Login, cfg.Password),
		cfg:    cfg,
		logger: l,
		sleep:  time.Sleep,
	}
}

func (e *EasyCredit) Name() string { return models.CompanyEasyCredit }

func (e *EasyCredit) NeedsCustomerIdentity() bool { return true }

// ProductID picks the bank product by installment count.
func (e *EasyCredit) ProductID(term int) int {
	switch {
	case term >= 6 && term <= 11:
		return 54
	case term == 12:
		return 55
	case term >= 13 && term <= 18:
		return 56
	case term >= 19 && term <= 24:
		return 57
	case term >= 25 && term <= 36:
		return 58
	default:
		return 54
	}
}

func (e *EasyCredit) ValidateOrder(data models.OrderData, files []models.File) error {
	return nil
}

func (e *EasyCredit) credentials() map[string]any {
	return map[string]any{
		"Login":    e.cfg.Login,
		"Password": e.cfg.Password,
	}
}

type easyCreditEnvelope struct {
	Response json.RawMessage `json:"response"`
}

func (e *EasyCredit) call(ctx context.Context, path string, body map[string]any, out any) (int, error) {
	payload := e.credentials()
	for key, value := range body {
		payload[key] = value
	}

	var envelope easyCreditEnvelope
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&envelope).
		Post(path)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", path, err)
	}
	if !resp.IsSuccess() {
		return resp.StatusCode(), fmt.Errorf("%s rejected: status %d: %s",
			path, resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return resp.StatusCode(), fmt.Errorf("%s returned malformed response: %w", path, err)
		}
	}
	return resp.StatusCode(), nil
}

// goodsName builds the goods description the bank displays. Multi-item
// orders get a joined name capped at 200 characters.
func goodsName(order *models.Order) string {
	if len(order.Items) == 0 {
		return "Товар"
	}
	names := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		name := item.Name
		if name == "" {
			name = "Товар"
		}
		names = append(names, name)
	}
	joined := strings.Join(names, ", ")
	if len(joined) > 200 {
		joined = joined[:200]
	}
	return joined
}

// FirstInstallmentDate is the default first payment date offered on creation.
func FirstInstallmentDate(now time.Time) string {
	return now.AddDate(0, 0, 20).Format("2006-01-02")
}

func (e *EasyCredit) Submit(ctx context.Context, order *models.Order, data models.OrderData, files []models.File) (*SubmitResult, error) {
	amount := data.TotalAmount
	if data.Payment != nil {
		amount = data.Payment.Amount
	}
	term := data.CreditTerm
	if term == 0 {
		term = 6
	}

	request := map[string]any{
		"Product":              e.ProductID(term),
		"UIN":                  data.IDNP,
		"ApDateOfBirth":        FormatBirthday(data.Birthday),
		"ApFirstName":          data.Name,
		"ApLastName":           data.Surname,
		"CaMobile":             LocalPhone(data.Phone),
		"GoodsName":            goodsName(order),
		"CreditAmount":         amount,
		"NumberOfInstallments": term,
		"FirstInstallmentDate": FirstInstallmentDate(time.Now()),
	}

	var result struct {
		Status  string `json:"Status"`
		URN     string `json:"URN"`
		Message string `json:"Message"`
	}
	if _, err := e.call(ctx, "/Request_v3", request, &result); err != nil {
		return nil, err
	}
	if result.Status != "OK" || result.URN == "" {
		if result.Message != "" {
			return nil, fmt.Errorf("request declined: %s", result.Message)
		}
		return nil, fmt.Errorf("request declined: status %q, no URN", result.Status)
	}

	submit := &SubmitResult{ApplicationID: result.URN, FilesUploaded: true}
	submit.RequestData, _ = json.Marshal(request)

	// the bank indexes a new URN asynchronously, uploading immediately
	// after creation loses the files
	if len(files) > 0 {
		e.sleep(easyCreditFileWait)
		if err := e.UploadFiles(ctx, result.URN, files); err != nil {
			e.logger.Error("Failed to upload files after request creation",
				"urn", result.URN, "order_id", data.OrderID, "error", err)
			submit.FilesUploaded = false
		}
	}
	return submit, nil
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(strings.ToLower(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// UploadFiles pushes attachments to the files host. Transient auth and
// availability errors are retried a couple of times with a fixed delay.
func (e *EasyCredit) UploadFiles(ctx context.Context, urn string, files []models.File) error {
	var lastErr error
	for attempt := 0; attempt <= easyCreditUploadRetries; attempt++ {
		if attempt > 0 {
			e.logger.Info("Retrying file upload", "urn", urn, "attempt", attempt+1)
			e.sleep(easyCreditUploadDelay)
		}

		req := e.files.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"Login":    e.cfg.Login,
				"Password": e.cfg.Password,
				"URN":      urn,
			})
		for _, f := range files {
			req.SetMultipartField("files", f.Name, contentType(f.Name), bytes.NewReader(f.Data))
		}

		resp, err := req.Post("/files/upload")
		if err != nil {
			lastErr = fmt.Errorf("file upload failed: %w", err)
			continue
		}
		if resp.IsSuccess() {
			return nil
		}

		lastErr = fmt.Errorf("file upload rejected: status %d", resp.StatusCode())
		status := resp.StatusCode()
		if status != http.StatusUnauthorized && status != http.StatusServiceUnavailable {
			return lastErr
		}
	}
	return lastErr
}

type easyCreditStatus struct {
	Status         string  `json:"Status"`
	RequestStatus  string  `json:"RequestStatus"`
	DocumentStatus string  `json:"DocumentStatus"`
	LoanAmount     float64 `json:"LoanAmount"`
	Installments   int     `json:"Installments"`
	Message        string  `json:"Message"`
}

// CheckStatus returns (nil, nil) when the URN is not known to the status
// endpoint yet, either as a 404 or a non-OK envelope.
func (e *EasyCredit) CheckStatus(ctx context.Context, urn string) (*Status, error) {
	var result easyCreditStatus
	code, err := e.call(ctx, "/URNStatus_v2", map[string]any{"URN": urn}, &result)
	if err != nil {
		if code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if result.Status != "OK" {
		return nil, nil
	}

	status := &Status{Raw: result.RequestStatus, Document: result.DocumentStatus}
	if e.IsApprovedLike(result.RequestStatus) {
		status.Approved = &models.Terms{
			Amount: result.LoanAmount,
			Term:   result.Installments,
		}
	}
	// the bank has no message endpoint, manager notes ride on the status
	// response; " # " is the empty placeholder
	if msg := strings.TrimSpace(result.Message); msg != "" && result.Message != " # " {
		status.Messages = append(status.Messages, Message{
			Text:   result.Message,
			Author: "Easy Credit",
			SentAt: time.Now(),
		})
	}
	return status, nil
}

// Contracts fetches the signed contract document. DocTypeA carries the
// base64 PDF once the bank generates it.
func (e *EasyCredit) Contracts(ctx context.Context, urn string) ([]models.File, error) {
	var result struct {
		DocTypeA string `json:"DocTypeA"`
	}
	if _, err := e.call(ctx, "/ECM_GetDocs_V2", map[string]any{"URN": urn, "Language": "RO"}, &result); err != nil {
		return nil, err
	}
	if result.DocTypeA == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(result.DocTypeA)
	if err != nil {
		return nil, fmt.Errorf("contract for %s has invalid encoding: %w", urn, err)
	}
	return []models.File{{Name: "contract_" + urn + ".pdf", Data: data}}, nil
}

func (e *EasyCredit) Refuse(ctx context.Context, urn, reason string) error {
	_, err := e.call(ctx, "/ECM_CancelRequest", map[string]any{"URN": urn}, nil)
	return err
}

// Messages surfaces the note carried on the status response. The channel is
// one-way, SendMessage is not available.
func (e *EasyCredit) Messages(ctx context.Context, urn string) ([]Message, error) {
	status, err := e.CheckStatus(ctx, urn)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, nil
	}
	return status.Messages, nil
}

func (e *EasyCredit) SendMessage(ctx context.Context, urn, text string) error {
	return ErrUnsupported
}

// ConditionsChanged tolerates rounding on the amount: the bank recalculates
// commission into the principal, so only a drift above one leu counts.
func (e *EasyCredit) ConditionsChanged(requested, approved models.Terms) bool {
	amountChanged := requested.Amount-approved.Amount > 1 || approved.Amount-requested.Amount > 1
	return amountChanged || requested.Term != approved.Term
}
