package tally

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	createdTag    = tagPattern("CREATED")
	alteredTag    = tagPattern("ALTERED")
	errorsTag     = tagPattern("ERRORS")
	exceptionsTag = tagPattern("EXCEPTIONS")
	lastVchIDTag  = tagPattern("LASTVCHID")
	lineErrorTag  = tagPattern("LINEERROR")

	rowPattern     = regexp.MustCompile(`(?s)<ROW>(.*?)</ROW>`)
	colPattern     = regexp.MustCompile(`(?s)<COL>(.*?)</COL>|<COL\s*/>`)
	voucherPattern = regexp.MustCompile(`(?s)<VOUCHER\b[^>]*>(.*)</VOUCHER>`)

	resultDataPattern = regexp.MustCompile(`<RESULTDATA\b`)
)

// ParseSubmissionResponse interprets an import acknowledgement. It is pure:
// the same body always yields the same Outcome.
func ParseSubmissionResponse(body string) Outcome {
	var counts ImportCounts
	var found bool
	if n, ok := firstInt(createdTag, body); ok {
		counts.Created, found = n, true
	}
	if n, ok := firstInt(alteredTag, body); ok {
		counts.Altered, found = n, true
	}
	if n, ok := firstInt(errorsTag, body); ok {
		counts.Errors, found = n, true
	}
	if n, ok := firstInt(exceptionsTag, body); ok {
		counts.Exceptions, found = n, true
	}
	if !found {
		return TransportFailure(TransportMalformed, 0, ErrMalformedResponse)
	}

	lineErrors := lineErrorMessages(body)
	clean := counts.Errors == 0 && counts.Exceptions == 0
	switch {
	case counts.Created > 0 && clean:
		out := Created("", counts)
		if id, ok := firstInt(lastVchIDTag, body); ok && id > 0 {
			out.MasterID = int64(id)
		}
		return out
	case counts.Altered > 0 && counts.Created == 0 && clean:
		return Outcome{Kind: OutcomeAltered, Counts: counts}
	default:
		return Rejected(counts, lineErrors)
	}
}

func lineErrorMessages(body string) []string {
	var msgs []string
	for _, m := range lineErrorTag.FindAllStringSubmatch(body, -1) {
		if msg := decodeText(m[1]); msg != "" {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// checkResultSet rejects export bodies that carry a LINEERROR or no result
// set at all. Tally answers failed reports with HTTP 200.
func checkResultSet(body string) error {
	if msgs := lineErrorMessages(body); len(msgs) > 0 {
		return &QueryError{Messages: msgs}
	}
	if !resultDataPattern.MatchString(body) && !rowPattern.MatchString(body) {
		return ErrMalformedResponse
	}
	return nil
}

// PendingVoucher is one optional voucher awaiting authorization.
type PendingVoucher struct {
	MasterID      int64           `json:"master_id"`
	Date          string          `json:"date"`
	InvoiceNumber string          `json:"invoice_number"`
	VoucherType   string          `json:"voucher_type"`
	Customer      string          `json:"customer"`
	Amount        decimal.Decimal `json:"amount"`
	Narration     string          `json:"narration"`
}

// odbcRows returns the decoded column values of every <ROW>.
func odbcRows(body string) [][]string {
	var rows [][]string
	for _, rm := range rowPattern.FindAllStringSubmatch(body, -1) {
		var cols []string
		for _, cm := range colPattern.FindAllStringSubmatch(rm[1], -1) {
			cols = append(cols, decodeText(cm[1]))
		}
		rows = append(rows, cols)
	}
	return rows
}

func col(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return ""
}

// ParseVoucherListXML reads the optional-voucher result set. Column order is
// MasterID, date, number, type, customer, amount, narration. Rows whose
// MasterID is not numeric are skipped. An empty RESULTDATA is an empty list;
// a LINEERROR is a *QueryError and a body without a result set is
// ErrMalformedResponse.
func ParseVoucherListXML(body string) ([]PendingVoucher, error) {
	if err := checkResultSet(body); err != nil {
		return nil, err
	}
	var out []PendingVoucher
	for _, cols := range odbcRows(body) {
		id, err := strconv.ParseInt(col(cols, 0), 10, 64)
		if err != nil {
			continue
		}
		amount, err := parseAmount(col(cols, 5))
		if err != nil {
			amount = decimal.Zero
		}
		out = append(out, PendingVoucher{
			MasterID:      id,
			Date:          displayDate(col(cols, 1)),
			InvoiceNumber: col(cols, 2),
			VoucherType:   col(cols, 3),
			Customer:      col(cols, 4),
			Amount:        amount,
			Narration:     col(cols, 6),
		})
	}
	return out, nil
}

// LedgerPosition is the credit-relevant state of a party ledger.
type LedgerPosition struct {
	Name           string
	ClosingBalance decimal.Decimal
	CreditLimit    decimal.Decimal
}

// ParseLedgerBalance reads the ledger balance result set (name, closing
// balance, credit limit). A result without rows is ErrMalformedResponse.
func ParseLedgerBalance(body string) (LedgerPosition, error) {
	rows := odbcRows(body)
	if len(rows) == 0 {
		return LedgerPosition{}, ErrMalformedResponse
	}
	cols := rows[0]
	closing, err := parseAmount(col(cols, 1))
	if err != nil {
		return LedgerPosition{}, err
	}
	limit, err := parseAmount(col(cols, 2))
	if err != nil {
		return LedgerPosition{}, err
	}
	return LedgerPosition{Name: col(cols, 0), ClosingBalance: closing, CreditLimit: limit}, nil
}

// Bill is an open bill reference of a party.
type Bill struct {
	Reference string
	BillDate  time.Time
	DueDate   time.Time
	Amount    decimal.Decimal
}

// ParseBills reads the party bills result set (reference, bill date, due
// date, closing balance). Rows with an unreadable due date are skipped.
func ParseBills(body string) []Bill {
	var out []Bill
	for _, cols := range odbcRows(body) {
		due, err := ParseTallyDate(col(cols, 2))
		if err != nil {
			continue
		}
		billDate, _ := ParseTallyDate(col(cols, 1))
		amount, err := parseAmount(col(cols, 3))
		if err != nil {
			continue
		}
		out = append(out, Bill{
			Reference: col(cols, 0),
			BillDate:  billDate,
			DueDate:   due,
			Amount:    amount,
		})
	}
	return out
}

// VoucherDetail is the full content of one voucher for review.
type VoucherDetail struct {
	MasterID    int64           `json:"master_id"`
	Date        string          `json:"date"`
	Number      string          `json:"number"`
	VoucherType string          `json:"voucher_type"`
	Party       string          `json:"party"`
	Narration   string          `json:"narration"`
	Optional    bool            `json:"optional"`
	Ledgers     []DetailLedger  `json:"ledgers"`
	Items       []DetailItem    `json:"items"`
	Total       decimal.Decimal `json:"total"`
}

// DetailLedger is one accounting leg of a voucher.
type DetailLedger struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Debit  bool            `json:"debit"`
}

// DetailItem is one inventory line of a voucher.
type DetailItem struct {
	Name     string          `json:"name"`
	Quantity string          `json:"quantity"`
	Rate     string          `json:"rate"`
	Discount string          `json:"discount,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// ParseVoucherDetailXML extracts the first <VOUCHER> block.
func ParseVoucherDetailXML(body string) (VoucherDetail, error) {
	m := voucherPattern.FindStringSubmatch(body)
	if m == nil {
		return VoucherDetail{}, ErrVoucherNotFound
	}
	nodes := children(m[1])
	detail := VoucherDetail{
		Date:        displayDate(field(nodes, "DATE")),
		Number:      field(nodes, "VOUCHERNUMBER"),
		VoucherType: field(nodes, "VOUCHERTYPENAME"),
		Party:       field(nodes, "PARTYLEDGERNAME"),
		Narration:   field(nodes, "NARRATION"),
		Optional:    strings.EqualFold(field(nodes, "ISOPTIONAL"), "Yes"),
	}
	if id, err := strconv.ParseInt(field(nodes, "MASTERID"), 10, 64); err == nil {
		detail.MasterID = id
	}

	for _, n := range named(nodes, "LEDGERENTRIES.LIST", "ALLLEDGERENTRIES.LIST") {
		entry := children(n.inner)
		name := field(entry, "LEDGERNAME")
		if name == "" {
			continue
		}
		amount, err := parseAmount(field(entry, "AMOUNT"))
		if err != nil {
			continue
		}
		debit := strings.EqualFold(field(entry, "ISDEEMEDPOSITIVE"), "Yes")
		detail.Ledgers = append(detail.Ledgers, DetailLedger{Name: name, Amount: amount.Abs(), Debit: debit})
		if field(entry, "ISPARTYLEDGER") == "Yes" || name == detail.Party {
			detail.Total = amount.Abs()
		}
	}

	for _, n := range named(nodes, "INVENTORYENTRIES.LIST", "ALLINVENTORYENTRIES.LIST") {
		entry := children(n.inner)
		name := field(entry, "STOCKITEMNAME")
		if name == "" {
			continue
		}
		amount, err := parseAmount(field(entry, "AMOUNT"))
		if err != nil {
			amount = decimal.Zero
		}
		qty := field(entry, "BILLEDQTY")
		if qty == "" {
			qty = field(entry, "ACTUALQTY")
		}
		detail.Items = append(detail.Items, DetailItem{
			Name:     name,
			Quantity: qty,
			Rate:     field(entry, "RATE"),
			Discount: field(entry, "DISCOUNT"),
			Amount:   amount.Abs(),
		})
	}
	return detail, nil
}
