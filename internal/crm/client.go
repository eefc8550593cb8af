package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pandashop/creditsync/internal/models"

	"github.com/go-resty/resty/v2"
)

// Custom field codes used by the credit flow. The IDNP code carries a legacy
// typo that is live in production data, do not "fix" it.
const (
	FieldIDNP              = "indp"
	FieldName              = "name"
	FieldSurname           = "surname"
	FieldBirthday          = "birthday"
	FieldResidence         = "residence"
	FieldCreditCompany     = "credit_company"
	FieldCreditTerm        = "credit_term"
	FieldCreditSum         = "credit_sum"
	FieldZeroCredit        = "zero_credit"
	FieldLoanApplicationID = "loan_application_id"
)

// Client talks to the CRM REST API. All write operations go through the
// form-encoded edit endpoints the CRM exposes.
type Client struct {
	http   *resty.Client
	apiKey string
	logger *slog.Logger

	userMu    sync.Mutex
	userCache map[int64]string
}

func NewClient(baseURL, apiKey string, l *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetQueryParam("apiKey", apiKey)

	return &Client{
		http:      httpClient,
		apiKey:    apiKey,
		logger:    l,
		userCache: make(map[int64]string),
	}
}

type apiResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMsg"`
}

type wireCustomFields map[string]any

func (f wireCustomFields) str(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

type wirePayment struct {
	ID     int64   `json:"id"`
	Type   string  `json:"type"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

type wireItem struct {
	Offer struct {
		ID  int64  `json:"id"`
		URL string `json:"url"`
	} `json:"offer"`
	ProductName  string  `json:"productName"`
	InitialPrice float64 `json:"initialPrice"`
	Quantity     float64 `json:"quantity"`
}

type wireOrder struct {
	ID           int64            `json:"id"`
	Number       string           `json:"number"`
	Phone        string           `json:"phone"`
	Site         string           `json:"site"`
	Status       string           `json:"status"`
	CreatedAt    string           `json:"createdAt"`
	ManagerID    int64            `json:"managerId"`
	TotalSumm    float64          `json:"totalSumm"`
	CustomFields wireCustomFields `json:"customFields"`
	Items        []wireItem       `json:"items"`
	RawPayments  json.RawMessage  `json:"payments"`
}

// crmTimeLayout is the datetime format the CRM uses everywhere.
const crmTimeLayout = "2006-01-02 15:04:05"

func (w *wireOrder) toOrder() models.Order {
	order := models.Order{
		ID:           w.ID,
		Number:       w.Number,
		Phone:        w.Phone,
		Site:         w.Site,
		Status:       w.Status,
		ManagerID:    w.ManagerID,
		TotalAmount:  w.TotalSumm,
		CustomFields: make(map[string]string, len(w.CustomFields)),
		Payments:     make(map[string]models.Payment),
	}
	for key := range w.CustomFields {
		order.CustomFields[key] = w.CustomFields.str(key)
	}
	if t, err := time.Parse(crmTimeLayout, w.CreatedAt); err == nil {
		order.CreatedAt = t
	}

	// payments arrive as an object keyed by payment id, or as an array on
	// some older endpoints
	if len(w.RawPayments) > 0 {
		var asMap map[string]wirePayment
		if err := json.Unmarshal(w.RawPayments, &asMap); err == nil {
			for key, p := range asMap {
				order.Payments[key] = models.Payment{
					ID:     strconv.FormatInt(p.ID, 10),
					Type:   p.Type,
					Status: p.Status,
					Amount: p.Amount,
				}
			}
		} else {
			var asList []wirePayment
			if err := json.Unmarshal(w.RawPayments, &asList); err == nil {
				for _, p := range asList {
					id := strconv.FormatInt(p.ID, 10)
					order.Payments[id] = models.Payment{
						ID: id, Type: p.Type, Status: p.Status, Amount: p.Amount,
					}
				}
			}
		}
	}

	for _, it := range w.Items {
		order.Items = append(order.Items, models.OrderItem{
			OfferID:  it.Offer.ID,
			Name:     it.ProductName,
			Price:    it.InitialPrice,
			Quantity: int(it.Quantity),
			URL:      it.Offer.URL,
		})
	}
	return order
}

func (c *Client) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var result struct {
		apiResponse
		Order wireOrder `json:"order"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("by", "id").
		SetResult(&result).
		Get(fmt.Sprintf("/api/v5/orders/%d", orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !resp.IsSuccess() || !result.Success {
		return nil, fmt.Errorf("order %d request failed: status %d, %s",
			orderID, resp.StatusCode(), result.ErrorMessage)
	}

	order := result.Order.toOrder()
	return &order, nil
}

// ExtractOrderData projects the credit-relevant slice of an order. Missing
// fields stay zero; the orchestrator decides what is mandatory.
func ExtractOrderData(order *models.Order) models.OrderData {
	data := models.OrderData{
		OrderID:           order.ID,
		OrderNumber:       order.Number,
		Phone:             order.Phone,
		IDNP:              order.CustomFields[FieldIDNP],
		Name:              order.CustomFields[FieldName],
		Surname:           order.CustomFields[FieldSurname],
		Birthday:          order.CustomFields[FieldBirthday],
		Residence:         order.CustomFields[FieldResidence],
		CreditCompany:     order.CustomFields[FieldCreditCompany],
		LoanApplicationID: order.CustomFields[FieldLoanApplicationID],
		TotalAmount:       order.TotalAmount,
	}

	if term := order.CustomFields[FieldCreditTerm]; term != "" {
		if n, err := strconv.Atoi(term); err == nil {
			data.CreditTerm = n
		}
	}
	zero := order.CustomFields[FieldZeroCredit]
	data.ZeroCredit = zero == "true" || zero == "1"

	for _, payment := range order.Payments {
		if payment.Type == models.PaymentTypeCredit || payment.Type == models.PaymentTypeCreditOnline {
			p := payment
			data.Payment = &p
			break
		}
	}
	return data
}

// activePaymentStatuses is the payment status grid scanned for orders that
// still need reconciliation.
var activePaymentStatuses = []string{
	"not-paid",
	models.StatusCreditCheck,
	models.StatusCreditApproved,
	models.StatusConditionsChanged,
	models.StatusCreditDeclined,
}

// GetOrdersWithActiveApplications scans the company/payment-status grid and
// returns de-duplicated orders that carry a loan application id and have not
// entered delivery yet.
func (c *Client) GetOrdersWithActiveApplications(ctx context.Context) ([]models.Order, error) {
	companies := []string{
		models.CompanyMicroinvest,
		models.CompanyEasyCredit,
		models.CompanyIute,
	}

	seen := make(map[int64]struct{})
	var orders []models.Order

	for _, company := range companies {
		for _, paymentStatus := range activePaymentStatuses {
			page, err := c.listOrders(ctx, company, paymentStatus)
			if err != nil {
				return nil, err
			}
			for _, order := range page {
				if _, dup := seen[order.ID]; dup {
					continue
				}
				if order.Status == "delivering" {
					continue
				}
				if order.CustomFields[FieldLoanApplicationID] == "" {
					continue
				}
				seen[order.ID] = struct{}{}
				orders = append(orders, order)
			}
		}
	}
	return orders, nil
}

func (c *Client) listOrders(ctx context.Context, company, paymentStatus string) ([]models.Order, error) {
	var result struct {
		apiResponse
		Orders []wireOrder `json:"orders"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", "100").
		SetQueryParam("filter[customFields][credit_company]", company).
		SetQueryParam("filter[paymentStatuses][]", paymentStatus).
		SetResult(&result).
		Get("/api/v5/orders")
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for %s/%s: %w", company, paymentStatus, err)
	}
	if !resp.IsSuccess() || !result.Success {
		return nil, fmt.Errorf("order listing failed for %s/%s: status %d, %s",
			company, paymentStatus, resp.StatusCode(), result.ErrorMessage)
	}

	orders := make([]models.Order, 0, len(result.Orders))
	for _, w := range result.Orders {
		orders = append(orders, w.toOrder())
	}
	return orders, nil
}

func (c *Client) editOrder(ctx context.Context, orderID int64, site string, orderPatch map[string]any) error {
	payload, err := json.Marshal(orderPatch)
	if err != nil {
		return fmt.Errorf("failed to serialize order patch: %w", err)
	}

	var result apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"by":    "id",
			"site":  site,
			"order": string(payload),
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/api/v5/orders/%d/edit", orderID))
	if err != nil {
		return fmt.Errorf("failed to edit order %d: %w", orderID, err)
	}
	if !resp.IsSuccess() || !result.Success {
		return fmt.Errorf("order %d edit rejected: status %d, %s",
			orderID, resp.StatusCode(), result.ErrorMessage)
	}
	return nil
}

func (c *Client) UpdatePaymentStatus(ctx context.Context, order *models.Order, paymentID, status string) error {
	return c.editOrder(ctx, order.ID, order.Site, map[string]any{
		"payments": []map[string]any{
			{"id": paymentID, "status": status},
		},
	})
}

func (c *Client) UpdateOrderStatus(ctx context.Context, order *models.Order, status string) error {
	return c.editOrder(ctx, order.ID, order.Site, map[string]any{
		"status": status,
	})
}

func (c *Client) UpdateOrderCustomFields(ctx context.Context, order *models.Order, fields map[string]string) error {
	custom := make(map[string]any, len(fields))
	for key, value := range fields {
		custom[key] = value
	}
	return c.editOrder(ctx, order.ID, order.Site, map[string]any{
		"customFields": custom,
	})
}

func (c *Client) GetManagerName(ctx context.Context, userID int64) string {
	if userID == 0 {
		return ""
	}

	c.userMu.Lock()
	if name, ok := c.userCache[userID]; ok {
		c.userMu.Unlock()
		return name
	}
	c.userMu.Unlock()

	var result struct {
		apiResponse
		User struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"user"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/api/v5/users/%d", userID))
	if err != nil || !resp.IsSuccess() || !result.Success {
		c.logger.Warn("Failed to resolve manager name", "user_id", userID, "error", err)
		return ""
	}

	name := strings.TrimSpace(result.User.FirstName + " " + result.User.LastName)
	c.userMu.Lock()
	c.userCache[userID] = name
	c.userMu.Unlock()
	return name
}

// GetOrdersHistory pages the CRM change journal starting after sinceID.
func (c *Client) GetOrdersHistory(ctx context.Context, sinceID int64) ([]models.OrderHistoryChange, error) {
	var result struct {
		apiResponse
		History []struct {
			ID       int64  `json:"id"`
			Source   string `json:"source"`
			Field    string `json:"field"`
			OldValue any    `json:"oldValue"`
			NewValue any    `json:"newValue"`
			Order    struct {
				ID int64 `json:"id"`
			} `json:"order"`
			User struct {
				ID int64 `json:"id"`
			} `json:"user"`
		} `json:"history"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("filter[sinceId]", strconv.FormatInt(sinceID, 10)).
		SetQueryParam("limit", "100").
		SetResult(&result).
		Get("/api/v5/orders/history")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders history: %w", err)
	}
	if !resp.IsSuccess() || !result.Success {
		return nil, fmt.Errorf("orders history request failed: status %d, %s",
			resp.StatusCode(), result.ErrorMessage)
	}

	changes := make([]models.OrderHistoryChange, 0, len(result.History))
	for _, h := range result.History {
		changes = append(changes, models.OrderHistoryChange{
			ID:       h.ID,
			Source:   h.Source,
			Field:    h.Field,
			OldValue: historyValue(h.OldValue),
			NewValue: historyValue(h.NewValue),
			OrderID:  h.Order.ID,
			UserID:   h.User.ID,
		})
	}
	return changes, nil
}

// historyValue flattens journal values. Status changes arrive as objects with
// a code, scalar fields arrive as plain values.
func historyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		if code, ok := t["code"].(string); ok {
			return code
		}
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
