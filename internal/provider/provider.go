// Package provider contains the partner credit API adapters. Each adapter
// translates between the canonical credit flow and one partner's wire
// protocol and status vocabulary.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pandashop/creditsync/internal/models"
)

// ErrUnsupported is returned by adapters for operations their partner API
// does not offer.
var ErrUnsupported = errors.New("operation not supported by this credit provider")

// SubmitResult is what a successful application submission yields.
type SubmitResult struct {
	ApplicationID string
	// RequestData is the serialized request body kept for auditing.
	RequestData []byte
	// FilesUploaded is false when the application was created but the
	// follow-up file upload failed. The submission still counts.
	FilesUploaded bool
}

// Status is a partner-side application status snapshot. Approved carries the
// bank-approved conditions once the partner discloses them. Messages carries
// partner notes when the status endpoint is the only channel for them.
type Status struct {
	Raw string
	// Document is the partner-side document flow status, when the partner
	// tracks it separately from the request decision.
	Document string
	Approved *models.Terms
	Messages []Message
}

// Message is one entry of a partner message thread.
type Message struct {
	Text     string
	Author   string
	SentAt   time.Time
	Outgoing bool
}

// Adapter is the per-partner integration surface. CheckStatus returns
// (nil, nil) when the partner has no decision yet.
type Adapter interface {
	Name() string

	// NeedsCustomerIdentity reports whether submissions require the full
	// passport data set (IDNP, Latin name, birthday). BNPL partners that
	// identify the customer by phone return false.
	NeedsCustomerIdentity() bool

	ValidateOrder(data models.OrderData, files []models.File) error
	Submit(ctx context.Context, order *models.Order, data models.OrderData, files []models.File) (*SubmitResult, error)
	CheckStatus(ctx context.Context, applicationID string) (*Status, error)
	UploadFiles(ctx context.Context, applicationID string, files []models.File) error
	Contracts(ctx context.Context, applicationID string) ([]models.File, error)
	Refuse(ctx context.Context, applicationID, reason string) error
	Messages(ctx context.Context, applicationID string) ([]Message, error)
	SendMessage(ctx context.Context, applicationID, text string) error

	// MapStatus folds a raw partner status into the canonical vocabulary.
	// The second result is false for statuses this adapter does not know.
	MapStatus(raw string) (string, bool)
	IsApprovedLike(raw string) bool
	IsFinal(raw string) bool
	ConditionsChanged(requested, approved models.Terms) bool
}

// Registry resolves the adapter for a CRM credit company selector.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// For returns the adapter for company. An empty selector falls back to
// Microinvest, matching how legacy orders were created before the selector
// field existed.
func (r *Registry) For(company string) (Adapter, error) {
	if company == "" {
		company = models.CompanyMicroinvest
	}
	adapter, ok := r.adapters[company]
	if !ok {
		return nil, fmt.Errorf("unknown credit provider %q", company)
	}
	return adapter, nil
}

func (r *Registry) Companies() []string {
	companies := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		companies = append(companies, name)
	}
	return companies
}

// RequestedTerms derives the store-side loan conditions from order data. The
// product type mirrors the zero-interest flag the store sets.
func RequestedTerms(data models.OrderData) models.Terms {
	amount := data.TotalAmount
	if data.Payment != nil && data.Payment.Amount > 0 {
		amount = data.Payment.Amount
	}
	productType := "retail"
	if data.ZeroCredit {
		productType = "0%"
	}
	return models.Terms{
		Amount:      amount,
		Term:        data.CreditTerm,
		ProductType: productType,
	}
}
