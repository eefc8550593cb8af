package service

import "fmt"

// ValidationError marks a request the caller can fix: missing or malformed
// order data, an unknown provider selector, a state that forbids the
// operation. The API layer turns these into 4xx responses.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateSubmissionError is returned when the order already went to a
// partner: either a submission is in flight right now, or a previous one
// left its application linked on the order (ApplicationID is set then).
type DuplicateSubmissionError struct {
	OrderID       int64
	ApplicationID string
}

func (e *DuplicateSubmissionError) Error() string {
	if e.ApplicationID != "" {
		return fmt.Sprintf("order %d already has application %s", e.OrderID, e.ApplicationID)
	}
	return fmt.Sprintf("application for order %d is already being submitted", e.OrderID)
}

// OrderNotFoundError is returned when the CRM does not know the order.
type OrderNotFoundError struct {
	OrderID int64
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %d not found", e.OrderID)
}

// ProviderError wraps a failure on the partner side. The API layer turns
// these into 502 responses so the caller can tell partner outages apart from
// local bugs.
type ProviderError struct {
	Company string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Company, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
