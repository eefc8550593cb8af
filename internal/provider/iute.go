package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pandashop/creditsync/internal/config"
	"github.com/pandashop/creditsync/internal/models"

	"github.com/go-resty/resty/v2"
)

// Iute integrates the MyIute BNPL API. There is no bank-assigned application
// id: orders are addressed by the synthetic CRM-<orderID> reference this side
// generates, and the customer confirms or cancels in the MyIute app, which
// lands here as a webhook.
type Iute struct {
	StatusMap
	http   *resty.Client
	cfg    config.IuteConfig
	logger *slog.Logger
}

func NewIute(cfg config.IuteConfig, l *slog.Logger) *Iute {
	return &Iute{
		StatusMap: NewStatusMap(
			map[string]string{
				"CUSTOMER_NOT_EXISTS": models.StatusCreditCheck,
				"PENDING":             models.StatusCreditCheck,
				"IN_PROGRESS":         models.StatusCreditCheck,
				"PAID":                models.StatusPaid,
				"CANCELLED":           models.StatusCreditDeclined,
			},
			[]string{"PAID", "CANCELLED"},
			nil,
		),
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Authorization", cfg.APIKey),
		cfg:    cfg,
		logger: l,
	}
}

func (i *Iute) Name() string { return models.CompanyIute }

func (i *Iute) NeedsCustomerIdentity() bool { return false }

// ApplicationReference builds the synthetic reference used instead of a
// bank-assigned application id.
func ApplicationReference(orderID int64) string {
	return "CRM-" + strconv.FormatInt(orderID, 10)
}

// ValidateOrder is looser than for the banks: MyIute identifies the customer
// by phone, no IDNP or passport photos are needed.
func (i *Iute) ValidateOrder(data models.OrderData, files []models.File) error {
	return nil
}

func (i *Iute) Submit(ctx context.Context, order *models.Order, data models.OrderData, files []models.File) (*SubmitResult, error) {
	amount := data.TotalAmount
	if data.Payment != nil && data.Payment.Amount > 0 {
		amount = data.Payment.Amount
	}
	reference := ApplicationReference(data.OrderID)

	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"displayName":  item.Name,
			"id":           item.OfferID,
			"sku":          item.SKU,
			"unitPrice":    item.Price,
			"qty":          item.Quantity,
			"itemImageUrl": item.ImageURL,
			"itemUrl":      item.URL,
		})
	}

	payload := map[string]any{
		"myiutePhone": E164Phone(data.Phone),
		"orderId":     reference,
		"totalAmount": amount,
		"currency":    "MDL",
		"merchant": map[string]any{
			"posIdentifier":       i.cfg.PosID,
			"salesmanIdentifier":  i.cfg.SalesmanID,
			"userConfirmationUrl": i.cfg.WebhookBaseURL + "/api/iute/confirm",
			"userCancelUrl":       i.cfg.WebhookBaseURL + "/api/iute/cancel",
		},
	}
	if len(items) > 0 {
		payload["items"] = items
	}

	var result struct {
		Status string `json:"status"`
	}
	resp, err := i.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/api/v1/physical-api-partners/order")
	if err != nil {
		return nil, fmt.Errorf("order creation failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("order creation rejected: status %d: %s",
			resp.StatusCode(), string(resp.Body()))
	}

	i.logger.Info("MyIute order created",
		"order_id", data.OrderID, "reference", reference, "status", result.Status)

	audit, _ := json.Marshal(payload)
	return &SubmitResult{
		ApplicationID: reference,
		RequestData:   audit,
		FilesUploaded: true,
	}, nil
}

func (i *Iute) CheckStatus(ctx context.Context, reference string) (*Status, error) {
	var result struct {
		Status string `json:"status"`
	}
	resp, err := i.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v1/physical-api-partners/orders/" + reference + "/status")
	if err != nil {
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("status check rejected: status %d", resp.StatusCode())
	}
	return &Status{Raw: result.Status}, nil
}

func (i *Iute) UploadFiles(ctx context.Context, reference string, files []models.File) error {
	return ErrUnsupported
}

func (i *Iute) Contracts(ctx context.Context, reference string) ([]models.File, error) {
	return nil, ErrUnsupported
}

// Refuse withdraws the order, which is the only cancellation the API offers.
func (i *Iute) Refuse(ctx context.Context, reference, reason string) error {
	resp, err := i.http.R().
		SetContext(ctx).
		Post("/api/v1/physical-api-partners/orders/" + reference + "/withdraw")
	if err != nil {
		return fmt.Errorf("withdraw failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("withdraw rejected: status %d", resp.StatusCode())
	}
	return nil
}

func (i *Iute) Messages(ctx context.Context, reference string) ([]Message, error) {
	return nil, ErrUnsupported
}

func (i *Iute) SendMessage(ctx context.Context, reference, text string) error {
	return ErrUnsupported
}

// ConditionsChanged never fires: the purchase amount is fixed at order
// creation, there is no bank-side renegotiation.
func (i *Iute) ConditionsChanged(requested, approved models.Terms) bool {
	return false
}
