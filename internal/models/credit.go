package models

import "time"

// Canonical CRM payment statuses. Every partner status vocabulary is folded
// into this set before anything is written back to the CRM.
const (
	StatusCreditCheck       = "credit-check"
	StatusCreditApproved    = "credit-approved"
	StatusConditionsChanged = "conditions-changed"
	StatusCreditDeclined    = "credit-declined"
	StatusSignedOnline      = "signed-online"
	StatusPaid              = "paid"
)

// Credit company selectors as stored in the CRM custom field.
const (
	CompanyMicroinvest = "microinvest"
	CompanyEasyCredit  = "easycredit"
	CompanyIute        = "iute"
)

// Status history row attributes.
const (
	StatusTypeBank = "bank"
	StatusTypeCRM  = "crm"

	SourceAPI     = "api"
	SourceCron    = "cron"
	SourceWebhook = "webhook"
	SourceUser    = "user"
)

// PaymentTypeCredit and PaymentTypeCreditOnline are the two payment type codes
// the CRM uses for consumer-credit payments.
const (
	PaymentTypeCredit       = "credit"
	PaymentTypeCreditOnline = "kredit-onlain"
)

// archivedOrderStatuses are CRM lifecycle statuses after which an order no
// longer belongs to the active feed view.
var archivedOrderStatuses = map[string]struct{}{
	"delivering":          {},
	"delivered":           {},
	"complete":            {},
	"shipped":             {},
	"no-call":             {},
	"no-product":          {},
	"already-buyed":       {},
	"delyv-did-not-suit":  {},
	"prices-did-not-suit": {},
	"cancel-other":        {},
	"purchase-return":     {},
	"ne-zabral-zakaz":     {},
}

// IsArchivedOrderStatus reports whether a CRM order lifecycle status counts as
// archived for feed purposes.
func IsArchivedOrderStatus(status string) bool {
	_, ok := archivedOrderStatuses[status]
	return ok
}

// ArchivedOrderStatuses returns the archived lifecycle set in stable order,
// for use in SQL filters.
func ArchivedOrderStatuses() []string {
	return []string{
		"delivering",
		"delivered",
		"complete",
		"shipped",
		"no-call",
		"no-product",
		"already-buyed",
		"delyv-did-not-suit",
		"prices-did-not-suit",
		"cancel-other",
		"purchase-return",
		"ne-zabral-zakaz",
	}
}

// Payment is the credit payment sub-entity of a CRM order.
type Payment struct {
	ID     string
	Type   string
	Status string
	Amount float64
}

// OrderItem is one order line, needed for partners that want a goods manifest.
type OrderItem struct {
	OfferID  int64
	Name     string
	SKU      string
	Price    float64
	Quantity int
	ImageURL string
	URL      string
}

// Order is the CRM order as this system sees it. Owned by the CRM; read-only
// here except for the fields the integration writes back through the client.
type Order struct {
	ID           int64
	Number       string
	Phone        string
	Site         string
	Status       string
	ManagerID    int64
	CreatedAt    time.Time
	CustomFields map[string]string
	Payments     map[string]Payment
	Items        []OrderItem
	TotalAmount  float64
}

// OrderData is the normalized projection of an Order used by the credit flow.
// Missing numeric fields are zero, never an error; validation happens in the
// orchestrator, not during extraction.
type OrderData struct {
	OrderID           int64
	OrderNumber       string
	Phone             string
	IDNP              string
	Name              string
	Surname           string
	Birthday          string
	Residence         string
	CreditCompany     string
	CreditTerm        int
	ZeroCredit        bool
	LoanApplicationID string
	TotalAmount       float64
	Payment           *Payment
}

// CustomerFullName joins name and surname, falling back to "-" when both are
// empty, matching what the feed displays.
func (d OrderData) CustomerFullName() string {
	name := d.Name
	if d.Surname != "" {
		if name != "" {
			name += " "
		}
		name += d.Surname
	}
	if name == "" {
		return "-"
	}
	return name
}

// File is an opaque attachment moved between the CRM and the partners.
type File struct {
	Name string
	Data []byte
}

// Terms are the loan conditions being compared between what the store
// requested and what the bank approved.
type Terms struct {
	Amount      float64 `json:"amount"`
	Term        int     `json:"term"`
	ProductType string  `json:"productType"`
}

// Comparison holds the requested terms and, once the bank has decided, the
// approved ones.
type Comparison struct {
	Requested Terms  `json:"requested"`
	Approved  *Terms `json:"approved"`
}

// FeedFilter narrows feed queries. The zero value means the full active
// (non-archived) feed.
type FeedFilter struct {
	BankStatus      string
	CreditCompany   string
	IncludeArchived bool
}

// FeedItem is the cached, CRM-facing reconciled view of one order. Keyed by
// OrderID; upserted by the sync pass, never deleted by it.
type FeedItem struct {
	OrderID           int64
	OrderNumber       string
	ApplicationID     string
	CreditCompany     string
	CustomerName      string
	BankStatus        string
	DocumentStatus    string
	CRMStatus         string
	PaymentType       string
	OrderStatus       string
	ManagerID         int64
	ManagerName       string
	ConditionsChanged bool
	Comparison        Comparison
	OrderCreatedAt    time.Time
	LastUpdated       time.Time
}

// StatusHistory is one append-only status transition record.
type StatusHistory struct {
	ID            int64
	ApplicationID string
	StatusType    string
	OldStatus     string
	NewStatus     string
	Source        string
	Details       string
	ManagerID     int64
	ManagerName   string
	CreatedAt     time.Time
}

// ApplicationRequest is the audit snapshot of what was actually sent to a
// partner when an application was created.
type ApplicationRequest struct {
	OrderID       int64
	ApplicationID string
	CreditCompany string
	RequestData   []byte
	FilesCount    int
	FileNames     []string
	CreatedAt     time.Time
}

// SentMessage records who sent a partner-bound message, so partner message
// threads can be attributed back to CRM managers.
type SentMessage struct {
	ID            int64
	ApplicationID string
	MessageText   string
	ManagerID     int64
	ManagerName   string
	SentAt        time.Time
}

// OrderHistoryChange is one entry of the CRM order change journal.
type OrderHistoryChange struct {
	ID       int64
	Source   string
	Field    string
	OldValue string
	NewValue string
	OrderID  int64
	UserID   int64
}

// StatusEvent is what gets published to the broker on every recorded status
// transition, when event publishing is enabled.
type StatusEvent struct {
	ApplicationID string    `json:"applicationId"`
	OrderID       int64     `json:"orderId"`
	CreditCompany string    `json:"creditCompany"`
	StatusType    string    `json:"statusType"`
	OldStatus     string    `json:"oldStatus,omitempty"`
	NewStatus     string    `json:"newStatus"`
	Source        string    `json:"source"`
	Details       string    `json:"details,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// CheckResult is what a single reconciliation returns to the caller.
type CheckResult struct {
	OrderID        int64  `json:"orderId"`
	ApplicationID  string `json:"applicationId"`
	BankStatus     string `json:"bankStatus"`
	DocumentStatus string `json:"documentStatus,omitempty"`
	CRMStatus      string `json:"crmStatus"`
	IsFinal        bool   `json:"isFinal"`
}
