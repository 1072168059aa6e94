// Package orders models the sales order handed over by the form layer and
// maps it onto a Tally voucher.
package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallybridge/tallybridge/internal/tally"
)

// DefaultVoucherType is used when the order does not name one.
const DefaultVoucherType = "Sales Order"

// Party is a customer or consignee as captured on the order form.
type Party struct {
	Name          string   `json:"name" validate:"required,max=200"`
	GSTIN         string   `json:"gstin,omitempty" validate:"omitempty,len=15"`
	Address       []string `json:"address,omitempty" validate:"max=6"`
	State         string   `json:"state,omitempty"`
	Country       string   `json:"country,omitempty"`
	Pincode       string   `json:"pincode,omitempty"`
	Contact       string   `json:"contact,omitempty"`
	PaymentTerms  string   `json:"payment_terms,omitempty"`
	DeliveryTerms string   `json:"delivery_terms,omitempty"`
	Narration     string   `json:"narration,omitempty"`
}

// LineItem is one ordered stock item. TaxPct is informational: it is kept
// for the form layer and never enters Value or the voucher XML, since Tally
// computes tax from the stock item's own tax setup.
type LineItem struct {
	Name        string          `json:"name" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit,omitempty"`
	Rate        decimal.Decimal `json:"rate"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
	Batch       string          `json:"batch,omitempty"`
	Godown      string          `json:"godown,omitempty"`
}

// Value is quantity × rate × (1 − discount/100), rounded to paise.
func (l LineItem) Value() decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(l.DiscountPct.Div(hundred))
	return l.Quantity.Mul(l.Rate).Mul(factor).Round(2)
}

// Order is assembled by the form layer and consumed once by the submitter.
type Order struct {
	Company        tally.Company `json:"company"`
	Number         string        `json:"number,omitempty"`
	Date           time.Time     `json:"date"`
	DueDate        time.Time     `json:"due_date,omitempty"`
	VoucherType    string        `json:"voucher_type,omitempty"`
	SalesLedger    string        `json:"sales_ledger,omitempty"`
	Customer       Party         `json:"customer"`
	Consignee      *Party        `json:"consignee,omitempty"`
	Items          []LineItem    `json:"items" validate:"required,min=1,dive"`
	PostAsOptional bool          `json:"post_as_optional"`
}

// Total is the sum of the line values.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Value())
	}
	return total
}

// Clone returns a deep copy so callers' orders are never mutated.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]LineItem(nil), o.Items...)
	out.Customer.Address = append([]string(nil), o.Customer.Address...)
	if o.Consignee != nil {
		c := *o.Consignee
		c.Address = append([]string(nil), o.Consignee.Address...)
		out.Consignee = &c
	}
	return out
}
