package ubl

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CurrentVersion is the template used for newly issued invoices. Stored
// documents keep the version they were built with; a template change ships as
// a new version instead of editing an existing one.
const CurrentVersion = "fawtara-ubl-1"

var templates = map[string]*template.Template{
	CurrentVersion: template.Must(template.New(CurrentVersion).Funcs(template.FuncMap{
		"esc":    Escape,
		"amount": formatAmount,
		"qty":    formatQuantity,
	}).Parse(invoiceTemplateV1)),
}

// Builder renders documents with one template version.
type Builder struct {
	version string
	tmpl    *template.Template
	newID   func() string
}

// NewBuilder returns a builder pinned to version.
func NewBuilder(version string) (*Builder, error) {
	tmpl, ok := templates[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return &Builder{version: version, tmpl: tmpl, newID: func() string { return uuid.NewString() }}, nil
}

// Build renders the canonical document for header and lines.
func Build(header Header, lines []Line) (Document, error) {
	b, err := NewBuilder(CurrentVersion)
	if err != nil {
		return Document{}, err
	}
	return b.Build(header, lines)
}

// Version reports the template version of the builder.
func (b *Builder) Version() string {
	return b.version
}

// Build renders the canonical document for header and lines.
func (b *Builder) Build(header Header, lines []Line) (Document, error) {
	docID := strings.TrimSpace(header.DocumentID)
	if docID == "" {
		docID = b.newID()
	} else {
		parsed, err := uuid.Parse(docID)
		if err != nil {
			return Document{}, ErrInvalidDocumentID
		}
		docID = parsed.String()
	}
	if strings.TrimSpace(header.InvoiceNumber) == "" {
		return Document{}, ErrMissingNumber
	}
	if header.IssueDate.IsZero() {
		return Document{}, ErrMissingIssueDate
	}
	typeCode, ok := header.Kind.TypeCode()
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownKind, header.Kind)
	}
	if field, ok := invalidText(header, lines); !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrInvalidText, field)
	}
	pih, err := chainValue(header.PreviousHash)
	if err != nil {
		return Document{}, err
	}

	buyer := Party{Name: "-", VAT: "-"}
	if header.Buyer != nil {
		if header.Buyer.Name != "" {
			buyer.Name = header.Buyer.Name
		}
		if header.Buyer.VAT != "" {
			buyer.VAT = header.Buyer.VAT
		}
	}

	view := documentView{
		Header:    header,
		ID:        docID,
		TypeCode:  typeCode,
		IssueDate: header.IssueDate.UTC().Format("2006-01-02"),
		PIH:       pih,
		Buyer:     buyer,
		IsNote:    header.Kind == KindCredit || header.Kind == KindDebit,
		Lines:     make([]lineView, len(lines)),
	}
	for i, l := range lines {
		unit := l.UnitCode
		if unit == "" {
			unit = "PCE"
		}
		view.Lines[i] = lineView{
			Line:         l,
			Index:        i + 1,
			Unit:         unit,
			Percent:      l.VATRate.Mul(decimal.NewFromInt(100)),
			CategoryCode: CategoryCode(l.VATCategory, l.VATRate),
		}
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, view); err != nil {
		return Document{}, fmt.Errorf("ubl: render: %w", err)
	}
	return Document{XML: buf.String(), DocumentID: docID, Version: b.version}, nil
}

// CategoryCode maps a VAT category to its UNCL5305 code. Without an explicit
// category a positive rate means standard and a zero rate means zero-rated.
func CategoryCode(category string, rate decimal.Decimal) string {
	switch category {
	case "standard":
		return "S"
	case "zero":
		return "Z"
	case "exempt":
		return "E"
	case "outofscope":
		return "O"
	}
	if rate.IsPositive() {
		return "S"
	}
	return "Z"
}

func chainValue(previousHash string) (string, error) {
	if previousHash == "" {
		previousHash = GenesisHash
	}
	raw, err := hex.DecodeString(previousHash)
	if err != nil || len(raw) != 32 {
		return "", ErrInvalidChainHash
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatQuantity(d decimal.Decimal) string {
	return d.String()
}

type documentView struct {
	Header
	ID        string
	TypeCode  string
	IssueDate string
	PIH       string
	Buyer     Party
	IsNote    bool
	Lines     []lineView
}

type lineView struct {
	Line
	Index        int
	Unit         string
	Percent      decimal.Decimal
	CategoryCode string
}

type textField struct {
	name, value string
}

// invalidText returns the first text field that cannot be carried in XML.
func invalidText(header Header, lines []Line) (string, bool) {
	fields := []textField{
		{"invoiceNumber", header.InvoiceNumber},
		{"seller.name", header.Seller.Name},
		{"seller.vat", header.Seller.VAT},
		{"billingReference", header.BillingReference},
		{"noteReason", header.NoteReason},
	}
	if header.Buyer != nil {
		fields = append(fields, textField{"buyer.name", header.Buyer.Name}, textField{"buyer.vat", header.Buyer.VAT})
	}
	for i, l := range lines {
		name := fmt.Sprintf("lines[%d]", i)
		fields = append(fields,
			textField{name + ".description", l.Description},
			textField{name + ".unitCode", l.UnitCode},
			textField{name + ".exemptReason", l.ExemptReason},
		)
	}
	for _, f := range fields {
		if !ValidText(f.value) {
			return f.name, false
		}
	}
	return "", true
}
