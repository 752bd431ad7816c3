package invoices

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLine() ItemInput {
	return ItemInput{Description: "Widget", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5)}
}

func TestValidateCreateDefaults(t *testing.T) {
	req := CreateRequest{Items: []ItemInput{validLine()}}
	require.NoError(t, validateCreate(newValidator(), &req))
	assert.Equal(t, TypeInvoice, req.InvoiceType)
	assert.Equal(t, StatusDraft, req.Status)
}

func TestValidateCreateItemizesErrors(t *testing.T) {
	big := decimal.NewFromInt(2)
	req := CreateRequest{
		CustomerName: strings.Repeat("n", 201),
		InvoiceType:  "proforma",
		Status:       StatusIssued,
		Items: []ItemInput{
			validLine(),
			{Description: "x", Qty: decimal.NewFromInt(100001), UnitPrice: decimal.NewFromInt(1), VATRate: &big},
			{Description: "y", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1), VATCategory: "luxury"},
		},
	}
	err := validateCreate(newValidator(), &req)
	verrs, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, ValidationErrors{
		"customerName is too long",
		"invoiceType is invalid",
		"items[1]: qty is too large, vatRate must be between 0 and 1",
		"items[2]: vatCategory is invalid",
	}, verrs)
}

func TestValidateCreateRules(t *testing.T) {
	v := newValidator()

	issued := CreateRequest{Status: StatusIssued}
	assert.Equal(t, ValidationErrors{"items is required"}, validateCreate(v, &issued))

	draft := CreateRequest{}
	assert.NoError(t, validateCreate(v, &draft))

	note := CreateRequest{InvoiceType: "Credit", Items: []ItemInput{validLine()}}
	assert.Equal(t, ValidationErrors{"originalInvoiceId is required for credit notes"}, validateCreate(v, &note))

	id := uuid.New()
	linked := CreateRequest{InvoiceType: TypeDebit, OriginalInvoiceID: &id, Items: []ItemInput{validLine()}}
	assert.NoError(t, validateCreate(v, &linked))

	many := CreateRequest{Items: make([]ItemInput, maxItems+1)}
	assert.Equal(t, ValidationErrors{"items is too long"}, validateCreate(v, &many))

	status := CreateRequest{Status: StatusReported}
	assert.Equal(t, ValidationErrors{"status is invalid"}, validateCreate(v, &status))
}

func TestValidateCreateRejectsTextXMLCannotCarry(t *testing.T) {
	bad := validLine()
	bad.Description = "Widget\x01"
	broken := validLine()
	broken.Description = "Widget\xff"
	req := CreateRequest{
		InvoiceNumber: "INV\x02",
		CustomerName:  "Acme\x00",
		NoteReason:    "\xfe",
		Items:         []ItemInput{bad, validLine(), broken},
	}

	verrs, ok := AsValidation(validateCreate(newValidator(), &req))
	require.True(t, ok)
	assert.Equal(t, ValidationErrors{
		"invoiceNumber contains invalid characters",
		"customerName contains invalid characters",
		"noteReason contains invalid characters",
		"items[0]: description contains invalid characters",
		"items[2]: description contains invalid characters",
	}, verrs)

	arabic := CreateRequest{CustomerName: "شركة\tالمثال", Items: []ItemInput{validLine()}}
	assert.NoError(t, validateCreate(newValidator(), &arabic))
}

func TestValidateCreateNormalizesText(t *testing.T) {
	decomposed := "Cafe\u0301"
	req := CreateRequest{
		CustomerName: "  " + decomposed + " ",
		Items: []ItemInput{{
			Description: decomposed, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1),
			VATCategory: " ZERO ", UnitCode: " PCE ",
		}},
	}
	require.NoError(t, validateCreate(newValidator(), &req))
	assert.Equal(t, "Caf\u00e9", req.CustomerName)
	assert.Equal(t, "Caf\u00e9", req.Items[0].Description)
	assert.Equal(t, CategoryZero, req.Items[0].VATCategory)
	assert.Equal(t, "PCE", req.Items[0].UnitCode)
}

func TestValidationErrorsMapping(t *testing.T) {
	err := ValidationErrors{"a", "b"}
	assert.Equal(t, "invoices: validation failed: a; b", err.Error())
	assert.Equal(t, map[string]any{"errors": []string{"a", "b"}}, err.ProblemExtensions())
}
