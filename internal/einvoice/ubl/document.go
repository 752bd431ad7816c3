// Package ubl builds the canonical UBL-style XML document of an invoice and
// the digests derived from it. Everything here is a pure transformation: the
// same input always yields byte-identical output, because issued invoices are
// verified against the hash of that output.
package ubl

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentKind selects the UBL invoice type code.
type DocumentKind string

const (
	KindInvoice DocumentKind = "invoice"
	KindCredit  DocumentKind = "credit"
	KindDebit   DocumentKind = "debit"
)

// TypeCode returns the UN/CEFACT 1001 code for the kind.
func (k DocumentKind) TypeCode() (string, bool) {
	switch k {
	case KindInvoice:
		return "388", true
	case KindCredit:
		return "381", true
	case KindDebit:
		return "383", true
	}
	return "", false
}

// Party is a seller or buyer.
type Party struct {
	Name string
	VAT  string
}

// Header carries the invoice-level fields of the document.
type Header struct {
	// DocumentID is the document UUID. Empty means mint a new one; rebuilding an
	// issued invoice must pass the stored value.
	DocumentID    string
	InvoiceNumber string
	IssueDate     time.Time
	Kind          DocumentKind
	Seller        Party
	Buyer         *Party

	// ICV is the per-business invoice counter and PreviousHash the hex digest
	// of the business's previous document.
	ICV          int64
	PreviousHash string

	// BillingReference and NoteReason are only rendered for credit/debit notes.
	BillingReference string
	NoteReason       string

	Subtotal  decimal.Decimal
	VATAmount decimal.Decimal
	Total     decimal.Decimal
}

// Line is one invoice line with its already computed amounts.
type Line struct {
	Description  string
	Quantity     decimal.Decimal
	UnitCode     string
	UnitPrice    decimal.Decimal
	LineTotal    decimal.Decimal
	VATRate      decimal.Decimal
	VATAmount    decimal.Decimal
	VATCategory  string
	ExemptReason string
}

// Document is the builder output.
type Document struct {
	XML        string
	DocumentID string
	Version    string
}

// Builder errors.
var (
	ErrInvalidDocumentID = errors.New("ubl: document id is not a uuid")
	ErrMissingNumber     = errors.New("ubl: invoice number required")
	ErrMissingIssueDate  = errors.New("ubl: issue date required")
	ErrUnknownKind       = errors.New("ubl: unknown document kind")
	ErrInvalidChainHash  = errors.New("ubl: previous hash must be a hex sha-256 digest")
	ErrUnknownVersion    = errors.New("ubl: unknown template version")
	ErrInvalidText       = errors.New("ubl: text contains characters not allowed in xml")
)
