package invoices

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeItemRoundsEachLine(t *testing.T) {
	r := d("0.15")
	item := ComputeItem(ItemInput{Description: "x", Qty: d("3"), UnitPrice: d("0.335"), VATRate: &r})
	assert.Equal(t, "1.01", item.LineTotal.StringFixed(2))
	assert.Equal(t, "0.15", item.VATAmount.StringFixed(2))

	totals := ComputeTotals([]Item{item, item, item}, TypeInvoice)
	assert.Equal(t, "3.03", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "0.45", totals.VATAmount.StringFixed(2))
	assert.Equal(t, "3.48", totals.Total.StringFixed(2))
}

func TestComputeItemDefaultRates(t *testing.T) {
	cases := []struct {
		category string
		want     string
	}{
		{"", "0.15"},
		{CategoryStandard, "0.15"},
		{CategoryZero, "0"},
		{CategoryExempt, "0"},
		{CategoryOutOfScope, "0"},
	}
	for _, tc := range cases {
		item := ComputeItem(ItemInput{Description: "x", Qty: d("1"), UnitPrice: d("10"), VATCategory: tc.category})
		assert.True(t, item.VATRate.Equal(d(tc.want)), tc.category)
	}

	explicit := d("0.05")
	item := ComputeItem(ItemInput{Description: "x", Qty: d("1"), UnitPrice: d("10"), VATRate: &explicit, VATCategory: CategoryZero})
	assert.Equal(t, "0.50", item.VATAmount.StringFixed(2))
}

func TestComputeItemKeepsOptionalFields(t *testing.T) {
	item := ComputeItem(ItemInput{Description: "x", Qty: d("1"), UnitPrice: d("1"), UnitCode: "PCE", VATCategory: CategoryExempt, VATExemptReason: "medical"})
	assert.Equal(t, "PCE", *item.UnitCode)
	assert.Equal(t, CategoryExempt, *item.VATCategory)
	assert.Equal(t, "medical", *item.VATExemptReason)

	bare := ComputeItem(ItemInput{Description: "x", Qty: d("1"), UnitPrice: d("1")})
	assert.Nil(t, bare.UnitCode)
	assert.Nil(t, bare.VATCategory)
	assert.Nil(t, bare.VATExemptReason)
}

func TestComputeTotalsCreditSign(t *testing.T) {
	r := d("0.15")
	items := []Item{ComputeItem(ItemInput{Description: "x", Qty: d("2"), UnitPrice: d("100"), VATRate: &r})}

	invoice := ComputeTotals(items, TypeInvoice)
	credit := ComputeTotals(items, TypeCredit)
	debit := ComputeTotals(items, TypeDebit)

	assert.Equal(t, "230.00", invoice.Total.StringFixed(2))
	assert.Equal(t, "-230.00", credit.Total.StringFixed(2))
	assert.Equal(t, "-200.00", credit.Subtotal.StringFixed(2))
	assert.Equal(t, "-30.00", credit.VATAmount.StringFixed(2))
	assert.Equal(t, "230.00", debit.Total.StringFixed(2))
	assert.True(t, items[0].LineTotal.IsPositive())
}

func TestComputeTotalsEmpty(t *testing.T) {
	totals := ComputeTotals(nil, TypeInvoice)
	assert.True(t, totals.Total.IsZero())
}
