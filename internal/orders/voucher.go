package orders

import (
	"strings"
	"time"

	"github.com/tallybridge/tallybridge/internal/tally"
)

// VoucherOptions carries company-level defaults the form does not supply.
type VoucherOptions struct {
	SalesLedger string
	Now         time.Time
}

// ToVoucher maps an order onto the Tally voucher model. The party leg is a
// debit for the order total; each item credits its sales ledger.
func ToVoucher(o Order, opts VoucherOptions) tally.Voucher {
	date := o.Date
	if date.IsZero() {
		date = opts.Now
	}
	if date.IsZero() {
		date = time.Now()
	}
	voucherType := o.VoucherType
	if voucherType == "" {
		voucherType = DefaultVoucherType
	}
	salesLedger := o.SalesLedger
	if salesLedger == "" {
		salesLedger = opts.SalesLedger
	}

	buyer := toParty(o.Customer)
	v := tally.Voucher{
		Company:       o.Company,
		Date:          date,
		EffectiveDate: date,
		TypeName:      voucherType,
		Number:        o.Number,
		PartyLedger:   o.Customer.Name,
		Narration:     o.Customer.Narration,
		Optional:      o.PostAsOptional,
		Buyer:         &buyer,
		PaymentTerms:  o.Customer.PaymentTerms,
		DeliveryTerms: o.Customer.DeliveryTerms,
		DueDate:       o.DueDate,
	}
	if o.Consignee != nil && strings.TrimSpace(o.Consignee.Name) != "" {
		consignee := toParty(*o.Consignee)
		v.Consignee = &consignee
	}
	for _, item := range o.Items {
		v.Inventory = append(v.Inventory, tally.InventoryEntry{
			Item:        item.Name,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			Rate:        item.Rate,
			Discount:    item.DiscountPct,
			Amount:      item.Value(),
			Batch:       item.Batch,
			Godown:      item.Godown,
			SalesLedger: salesLedger,
			DueDate:     o.DueDate,
			OrderNumber: o.Number,
		})
	}
	v.Ledgers = []tally.LedgerEntry{{
		Ledger:         o.Customer.Name,
		Amount:         o.Total().Neg(),
		DeemedPositive: true,
		PartyLedger:    true,
	}}
	return v
}

// BuildVoucherXML renders the import document for an order.
func BuildVoucherXML(o Order, opts VoucherOptions) string {
	return tally.BuildVoucherXML(ToVoucher(o, opts))
}

func toParty(p Party) tally.Party {
	return tally.Party{
		Name:    p.Name,
		GSTIN:   p.GSTIN,
		Address: p.Address,
		State:   p.State,
		Country: p.Country,
		Pincode: p.Pincode,
		Contact: p.Contact,
	}
}
