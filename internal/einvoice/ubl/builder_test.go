package ubl

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixedDocID = "5f0c7e2a-8d2b-4c55-9b7e-0d5a3a1e6f10"

func sampleHeader() Header {
	return Header{
		DocumentID:    fixedDocID,
		InvoiceNumber: "INV-0001",
		IssueDate:     time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		Kind:          KindInvoice,
		Seller:        Party{Name: "Acme & Sons", VAT: "300000000000003"},
		ICV:           1,
		Subtotal:      decimal.RequireFromString("200"),
		VATAmount:     decimal.RequireFromString("30"),
		Total:         decimal.RequireFromString("230"),
	}
}

func sampleLines() []Line {
	return []Line{{
		Description: `Widget <"large">`,
		Quantity:    decimal.NewFromInt(2),
		UnitPrice:   decimal.NewFromInt(100),
		LineTotal:   decimal.NewFromInt(200),
		VATRate:     decimal.RequireFromString("0.15"),
		VATAmount:   decimal.NewFromInt(30),
	}}
}

func TestBuildIsDeterministic(t *testing.T) {
	first, err := Build(sampleHeader(), sampleLines())
	require.NoError(t, err)
	second, err := Build(sampleHeader(), sampleLines())
	require.NoError(t, err)

	assert.Equal(t, first.XML, second.XML)
	assert.Equal(t, Hash(first.XML), Hash(second.XML))
	assert.Equal(t, fixedDocID, first.DocumentID)
	assert.Equal(t, CurrentVersion, first.Version)
}

func TestBuildMintsDocumentID(t *testing.T) {
	h := sampleHeader()
	h.DocumentID = ""
	doc, err := Build(h, sampleLines())
	require.NoError(t, err)
	assert.Len(t, doc.DocumentID, 36)
	assert.Contains(t, doc.XML, "<cbc:UUID>"+doc.DocumentID+"</cbc:UUID>")
}

func TestBuildFormatsAndEscapes(t *testing.T) {
	doc, err := Build(sampleHeader(), sampleLines())
	require.NoError(t, err)

	assert.Contains(t, doc.XML, "<cbc:Name>Acme &amp; Sons</cbc:Name>")
	assert.Contains(t, doc.XML, "<cbc:Description>Widget &lt;&quot;large&quot;&gt;</cbc:Description>")
	assert.Contains(t, doc.XML, "<cbc:PayableAmount>230.00</cbc:PayableAmount>")
	assert.Contains(t, doc.XML, "<cbc:TaxAmount>30.00</cbc:TaxAmount>")
	assert.Contains(t, doc.XML, "<cbc:Percent>15.00</cbc:Percent>")
	assert.Contains(t, doc.XML, "<cbc:InvoiceTypeCode>388</cbc:InvoiceTypeCode>")
	assert.Contains(t, doc.XML, "<cbc:IssueDate>2024-03-01</cbc:IssueDate>")
	assert.Contains(t, doc.XML, "<cbc:Name>-</cbc:Name>")
	assert.NotContains(t, doc.XML, "BillingReference")
}

func TestBuildEmbedsChain(t *testing.T) {
	doc, err := Build(sampleHeader(), sampleLines())
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(extract(doc.XML, `mimeCode="text/plain">`, "</cbc:EmbeddedDocumentBinaryObject>"))
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	prev := Hash(doc.XML)
	h := sampleHeader()
	h.ICV = 2
	h.PreviousHash = prev
	next, err := Build(h, sampleLines())
	require.NoError(t, err)
	assert.NotEqual(t, doc.XML, next.XML)
	assert.Contains(t, next.XML, "<cbc:UUID>2</cbc:UUID>")

	h.PreviousHash = "not-hex"
	_, err = Build(h, sampleLines())
	assert.ErrorIs(t, err, ErrInvalidChainHash)
}

func TestBuildCreditNote(t *testing.T) {
	h := sampleHeader()
	h.Kind = KindCredit
	h.BillingReference = "INV-0001"
	h.NoteReason = "returned goods"
	h.Subtotal = h.Subtotal.Neg()
	h.VATAmount = h.VATAmount.Neg()
	h.Total = h.Total.Neg()

	doc, err := Build(h, sampleLines())
	require.NoError(t, err)
	assert.Contains(t, doc.XML, "<cbc:InvoiceTypeCode>381</cbc:InvoiceTypeCode>")
	assert.Contains(t, doc.XML, "<cbc:PayableAmount>-230.00</cbc:PayableAmount>")
	assert.Contains(t, doc.XML, "<cbc:Note>returned goods</cbc:Note>")
	assert.Contains(t, doc.XML, "<cbc:LineExtensionAmount>200.00</cbc:LineExtensionAmount>")
}

func TestBuildRejectsBadInput(t *testing.T) {
	h := sampleHeader()
	h.DocumentID = "nope"
	_, err := Build(h, nil)
	assert.ErrorIs(t, err, ErrInvalidDocumentID)

	h = sampleHeader()
	h.InvoiceNumber = " "
	_, err = Build(h, nil)
	assert.ErrorIs(t, err, ErrMissingNumber)

	h = sampleHeader()
	h.Kind = "receipt"
	_, err = Build(h, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = NewBuilder("fawtara-ubl-0")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestBuildRejectsTextXMLCannotCarry(t *testing.T) {
	lines := sampleLines()
	lines[0].Description = "Widget\x01"
	_, err := Build(sampleHeader(), lines)
	require.ErrorIs(t, err, ErrInvalidText)
	assert.Contains(t, err.Error(), "lines[0].description")

	h := sampleHeader()
	h.Buyer = &Party{Name: "Widget\xff"}
	_, err = Build(h, sampleLines())
	require.ErrorIs(t, err, ErrInvalidText)
	assert.Contains(t, err.Error(), "buyer.name")
}

func TestBuildOutputParsesAsXML(t *testing.T) {
	h := sampleHeader()
	h.Buyer = &Party{Name: "شركة المثال", VAT: "310000000000003"}
	lines := sampleLines()
	lines[0].Description = "Consulting\tservices \U0001F4BC"

	doc, err := Build(h, lines)
	require.NoError(t, err)

	dec := xml.NewDecoder(strings.NewReader(doc.XML))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
}

func TestValidText(t *testing.T) {
	cases := map[string]bool{
		"":                 true,
		"plain":            true,
		"tab\tnewline\r\n": true,
		"عربي":             true,
		"\U0001F4BC":       true,
		"bell\x07":         false,
		"nul\x00":          false,
		"bad\xff":          false,
		"\uFFFE":           false,
	}
	for in, want := range cases {
		assert.Equal(t, want, ValidText(in), "%q", in)
	}
}

func TestCategoryCode(t *testing.T) {
	assert.Equal(t, "E", CategoryCode("exempt", decimal.Zero))
	assert.Equal(t, "O", CategoryCode("outofscope", decimal.Zero))
	assert.Equal(t, "S", CategoryCode("", decimal.RequireFromString("0.15")))
	assert.Equal(t, "Z", CategoryCode("", decimal.Zero))
}

func TestHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
	assert.Equal(t, "5feceb66ffc86f38d952786c6d696c79c2dbc239dd4e91b46729d73a27fb57e9", GenesisHash)
}

func TestQRPayload(t *testing.T) {
	payload, err := QRPayload(QRFields{
		SellerName: "Acme",
		VATNumber:  "300",
		Timestamp:  "2024-03-01T10:30:00Z",
		Total:      "230.00",
		VATAmount:  "30.00",
	})
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 4, 'A', 'c', 'm', 'e', 2, 3, '3', '0', '0'}, raw[:11])

	_, err = QRPayload(QRFields{SellerName: strings.Repeat("x", 256)})
	assert.ErrorIs(t, err, ErrTLVValueTooLong)
}

func extract(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	rest := s[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}
	return rest[:j]
}
