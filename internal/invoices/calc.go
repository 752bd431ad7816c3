package invoices

import "github.com/shopspring/decimal"

const moneyPlaces = 2

// Totals are invoice-level amounts.
type Totals struct {
	Subtotal  decimal.Decimal
	VATAmount decimal.Decimal
	Total     decimal.Decimal
}

// effectiveRate resolves the VAT rate of a line: an explicit rate wins,
// otherwise standard lines default to DefaultVATRate and the other categories
// to zero.
func effectiveRate(in ItemInput) decimal.Decimal {
	if in.VATRate != nil {
		return *in.VATRate
	}
	switch in.VATCategory {
	case CategoryZero, CategoryExempt, CategoryOutOfScope:
		return decimal.Zero
	}
	return DefaultVATRate
}

// ComputeItem derives the line amounts. Each amount is rounded to two places
// on its own, half away from zero.
func ComputeItem(in ItemInput) Item {
	rate := effectiveRate(in)
	lineTotal := in.Qty.Mul(in.UnitPrice).Round(moneyPlaces)
	item := Item{
		Description: in.Description,
		Qty:         in.Qty,
		UnitPrice:   in.UnitPrice,
		LineTotal:   lineTotal,
		VATRate:     rate,
		VATAmount:   lineTotal.Mul(rate).Round(moneyPlaces),
	}
	if in.VATExemptReason != "" {
		reason := in.VATExemptReason
		item.VATExemptReason = &reason
	}
	if in.UnitCode != "" {
		code := in.UnitCode
		item.UnitCode = &code
	}
	if in.VATCategory != "" {
		category := in.VATCategory
		item.VATCategory = &category
	}
	return item
}

// ComputeTotals sums computed lines. Credit notes carry negative totals while
// their lines stay positive.
func ComputeTotals(items []Item, t Type) Totals {
	subtotal := decimal.Zero
	vat := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
		vat = vat.Add(it.VATAmount)
	}
	totals := Totals{Subtotal: subtotal, VATAmount: vat, Total: subtotal.Add(vat)}
	if t == TypeCredit {
		totals.Subtotal = totals.Subtotal.Neg()
		totals.VATAmount = totals.VATAmount.Neg()
		totals.Total = totals.Total.Neg()
	}
	return totals
}
