package invoices

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the compliance lifecycle state of an invoice.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusIssued   Status = "issued"
	StatusReported Status = "reported"
	StatusCleared  Status = "cleared"
	StatusRejected Status = "rejected"
)

// Type classifies invoices and corrective notes.
type Type string

const (
	TypeInvoice Type = "invoice"
	TypeCredit  Type = "credit"
	TypeDebit   Type = "debit"
)

// IsNote reports whether t corrects another invoice.
func (t Type) IsNote() bool {
	return t == TypeCredit || t == TypeDebit
}

// VAT categories.
const (
	CategoryStandard   = "standard"
	CategoryZero       = "zero"
	CategoryExempt     = "exempt"
	CategoryOutOfScope = "outofscope"
)

// DefaultVATRate applies to standard-rated lines without an explicit rate.
var DefaultVATRate = decimal.RequireFromString("0.15")

// Invoice is the persisted invoice with its compliance fields.
type Invoice struct {
	ID                uuid.UUID       `json:"id"`
	BusinessID        uuid.UUID       `json:"businessId"`
	Number            string          `json:"invoiceNumber"`
	Type              Type            `json:"invoiceType"`
	OriginalInvoiceID *uuid.UUID      `json:"originalInvoiceId,omitempty"`
	NoteReason        *string         `json:"noteReason,omitempty"`
	CustomerName      *string         `json:"customerName,omitempty"`
	CustomerVAT       *string         `json:"customerVat,omitempty"`
	IssueDate         time.Time       `json:"issueDate"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	VATAmount         decimal.Decimal `json:"vatAmount"`
	Total             decimal.Decimal `json:"total"`
	Status            Status          `json:"status"`
	StatusChangedAt   *time.Time      `json:"statusChangedAt,omitempty"`

	DocumentUUID uuid.UUID `json:"uuid"`
	ICV          int64     `json:"icv"`
	Hash         string    `json:"invoiceHash"`
	PreviousHash string    `json:"previousHash"`
	XML          string    `json:"-"`
	XMLVersion   string    `json:"xmlVersion"`

	ReportedAt            *time.Time `json:"reportedAt,omitempty"`
	ClearedAt             *time.Time `json:"clearedAt,omitempty"`
	AuthorityStatus       *string    `json:"zatcaStatus,omitempty"`
	AuthorityLastResponse *string    `json:"zatcaLastResponse,omitempty"`
	PaymentLink           *string    `json:"paymentLink,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`

	Items []Item `json:"items,omitempty"`
}

// Item is a persisted invoice line. LineTotal and VATAmount are always
// computed server side.
type Item struct {
	ID              uuid.UUID       `json:"id"`
	InvoiceID       uuid.UUID       `json:"invoiceId"`
	Position        int             `json:"position"`
	Description     string          `json:"description"`
	Qty             decimal.Decimal `json:"qty"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
	VATRate         decimal.Decimal `json:"vatRate"`
	VATAmount       decimal.Decimal `json:"vatAmount"`
	VATExemptReason *string         `json:"vatExemptReason,omitempty"`
	UnitCode        *string         `json:"unitCode,omitempty"`
	VATCategory     *string         `json:"vatCategory,omitempty"`
}

// ItemInput is a line as supplied by a client.
type ItemInput struct {
	Description     string           `json:"description" validate:"required,max=200,xmltext"`
	Qty             decimal.Decimal  `json:"qty"`
	UnitPrice       decimal.Decimal  `json:"unitPrice"`
	VATRate         *decimal.Decimal `json:"vatRate"`
	VATExemptReason string           `json:"vatExemptReason" validate:"max=200,xmltext"`
	UnitCode        string           `json:"unitCode" validate:"max=10,xmltext"`
	VATCategory     string           `json:"vatCategory" validate:"omitempty,oneof=standard zero exempt outofscope"`
}

// CreateRequest is the invoice creation input.
type CreateRequest struct {
	InvoiceNumber     string      `json:"invoiceNumber" validate:"max=50,xmltext"`
	CustomerName      string      `json:"customerName" validate:"max=200,xmltext"`
	CustomerVAT       string      `json:"customerVat" validate:"max=50,xmltext"`
	InvoiceType       Type        `json:"invoiceType" validate:"omitempty,oneof=invoice credit debit"`
	OriginalInvoiceID *uuid.UUID  `json:"originalInvoiceId"`
	NoteReason        string      `json:"noteReason" validate:"max=500,xmltext"`
	IssueDate         *time.Time  `json:"issueDate"`
	Status            Status      `json:"status" validate:"omitempty,oneof=draft issued"`
	Items             []ItemInput `json:"items"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
