package tally

import (
	"time"

	"github.com/shopspring/decimal"
)

// Voucher is the normalized form of any voucher this service imports.
type Voucher struct {
	Company       Company
	Date          time.Time
	EffectiveDate time.Time
	TypeName      string
	Number        string
	PartyLedger   string
	Narration     string
	Optional      bool
	Buyer         *Party
	Consignee     *Party
	PaymentTerms  string
	DeliveryTerms string
	DueDate       time.Time
	Inventory     []InventoryEntry
	Ledgers       []LedgerEntry
}

// Party carries the address block printed on a voucher.
type Party struct {
	Name    string
	GSTIN   string
	Address []string
	State   string
	Country string
	Pincode string
	Contact string
}

// InventoryEntry is one stock line. Amount is the signed Tally amount.
type InventoryEntry struct {
	Item        string
	Quantity    decimal.Decimal
	Unit        string
	Rate        decimal.Decimal
	Discount    decimal.Decimal
	Amount      decimal.Decimal
	Batch       string
	Godown      string
	SalesLedger string
	DueDate     time.Time
	OrderNumber string
}

// LedgerEntry is one accounting leg. Tally amounts are negative for debits,
// which must agree with DeemedPositive.
type LedgerEntry struct {
	Ledger         string
	Amount         decimal.Decimal
	DeemedPositive bool
	PartyLedger    bool
	Bills          []BillAllocation
}

// BillAllocation ties a ledger leg to a bill reference.
type BillAllocation struct {
	Name     string
	BillType string
	Amount   decimal.Decimal
}

// BuildVoucherXML renders the import envelope for a single voucher.
func BuildVoucherXML(v Voucher) string {
	return importEnvelope(v.Company.Name, voucherElement(v)).Render()
}

func importEnvelope(company string, vouchers ...*Element) *Element {
	msg := Elem("TALLYMESSAGE").Attr("xmlns:UDF", "TallyUDF")
	msg.Add(vouchers...)
	return Elem("ENVELOPE",
		Elem("HEADER", Text("TALLYREQUEST", "Import Data")),
		Elem("BODY",
			Elem("IMPORTDATA",
				Elem("REQUESTDESC",
					Text("REPORTNAME", "Vouchers"),
					Elem("STATICVARIABLES", Text("SVCURRENTCOMPANY", company)),
				),
				Elem("REQUESTDATA", msg),
			),
		),
	)
}

func voucherElement(v Voucher) *Element {
	effective := v.EffectiveDate
	if effective.IsZero() {
		effective = v.Date
	}
	vch := Elem("VOUCHER").
		Attr("VCHTYPE", v.TypeName).
		Attr("ACTION", "Create").
		Attr("OBJVIEW", objectView(v))
	vch.Add(
		Text("DATE", FormatDate(v.Date)),
		Text("EFFECTIVEDATE", FormatDate(effective)),
		Text("NARRATION", v.Narration),
		Text("VOUCHERTYPENAME", v.TypeName),
		TextIf("VOUCHERNUMBER", v.Number),
		Text("PARTYLEDGERNAME", v.PartyLedger),
		YesNo("ISOPTIONAL", v.Optional),
		YesNo("ISINVOICE", len(v.Inventory) > 0),
		TextIf("BASICDUEDATEOFPYMT", v.PaymentTerms),
		TextIf("BASICORDERTERMS", v.DeliveryTerms),
	)
	if !v.DueDate.IsZero() {
		vch.Add(TextIf("BASICORDERREF", v.Number), Text("ORDERDUEDATE", FormatDate(v.DueDate)))
	}
	if v.Buyer != nil {
		vch.Add(buyerElements(*v.Buyer)...)
	}
	if v.Consignee != nil {
		vch.Add(consigneeElements(*v.Consignee)...)
	}
	for _, inv := range v.Inventory {
		vch.Add(inventoryElement(inv))
	}
	tag := "LEDGERENTRIES.LIST"
	if len(v.Inventory) == 0 {
		tag = "ALLLEDGERENTRIES.LIST"
	}
	for _, le := range v.Ledgers {
		vch.Add(ledgerElement(tag, le))
	}
	return vch
}

func objectView(v Voucher) string {
	if len(v.Inventory) > 0 {
		return "Invoice Voucher View"
	}
	return "Accounting Voucher View"
}

func buyerElements(p Party) []*Element {
	out := []*Element{
		TextIf("PARTYNAME", p.Name),
		TextIf("BASICBUYERNAME", p.Name),
		TextIf("PARTYGSTIN", p.GSTIN),
		TextIf("STATENAME", p.State),
		TextIf("COUNTRYOFRESIDENCE", p.Country),
		TextIf("PARTYPINCODE", p.Pincode),
		TextIf("BASICBUYERCONTACT", p.Contact),
	}
	if len(p.Address) > 0 {
		out = append(out, addressList("ADDRESS.LIST", "ADDRESS", p.Address))
	}
	return out
}

func consigneeElements(p Party) []*Element {
	out := []*Element{
		TextIf("CONSIGNEEMAILINGNAME", p.Name),
		TextIf("CONSIGNEEGSTIN", p.GSTIN),
		TextIf("CONSIGNEESTATENAME", p.State),
		TextIf("CONSIGNEECOUNTRYNAME", p.Country),
		TextIf("CONSIGNEEPINNUMBER", p.Pincode),
	}
	if len(p.Address) > 0 {
		out = append(out, addressList("BASICBUYERADDRESS.LIST", "BASICBUYERADDRESS", p.Address))
	}
	return out
}

func addressList(listTag, lineTag string, lines []string) *Element {
	list := Elem(listTag).Attr("TYPE", "String")
	for _, line := range lines {
		list.Add(TextIf(lineTag, line))
	}
	return list
}

func inventoryElement(inv InventoryEntry) *Element {
	qty := quantityText(inv.Quantity, inv.Unit)
	entry := Elem("ALLINVENTORYENTRIES.LIST",
		Text("STOCKITEMNAME", inv.Item),
		YesNo("ISDEEMEDPOSITIVE", inv.Amount.IsNegative()),
		Text("RATE", rateText(inv.Rate, inv.Unit)),
		Text("AMOUNT", FormatAmount(inv.Amount)),
		Text("ACTUALQTY", qty),
		Text("BILLEDQTY", qty),
	)
	if !inv.Discount.IsZero() {
		entry.Add(Text("DISCOUNT", inv.Discount.String()))
	}
	batch := Elem("BATCHALLOCATIONS.LIST",
		TextIf("GODOWNNAME", inv.Godown),
		TextIf("BATCHNAME", inv.Batch),
		TextIf("ORDERNO", inv.OrderNumber),
		Text("AMOUNT", FormatAmount(inv.Amount)),
		Text("ACTUALQTY", qty),
		Text("BILLEDQTY", qty),
	)
	if !inv.DueDate.IsZero() {
		batch.Add(Text("ORDERDUEDATE", FormatDate(inv.DueDate)))
	}
	entry.Add(batch)
	if inv.SalesLedger != "" {
		entry.Add(Elem("ACCOUNTINGALLOCATIONS.LIST",
			Text("LEDGERNAME", inv.SalesLedger),
			YesNo("ISDEEMEDPOSITIVE", inv.Amount.IsNegative()),
			Text("AMOUNT", FormatAmount(inv.Amount)),
		))
	}
	return entry
}

func ledgerElement(tag string, le LedgerEntry) *Element {
	entry := Elem(tag,
		Text("LEDGERNAME", le.Ledger),
		YesNo("ISDEEMEDPOSITIVE", le.DeemedPositive),
		YesNo("ISPARTYLEDGER", le.PartyLedger),
		Text("AMOUNT", FormatAmount(le.Amount)),
	)
	for _, bill := range le.Bills {
		entry.Add(Elem("BILLALLOCATIONS.LIST",
			Text("NAME", bill.Name),
			Text("BILLTYPE", bill.BillType),
			Text("AMOUNT", FormatAmount(bill.Amount)),
		))
	}
	return entry
}

func quantityText(q decimal.Decimal, unit string) string {
	if unit == "" {
		return q.String()
	}
	return q.String() + " " + unit
}

func rateText(r decimal.Decimal, unit string) string {
	if unit == "" {
		return FormatAmount(r)
	}
	return FormatAmount(r) + "/" + unit
}
