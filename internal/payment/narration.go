package payment

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptLink ties a receipt voucher back to the order it settles.
type ReceiptLink struct {
	OrderNumber    string          `json:"order_number"`
	GatewayOrderID string          `json:"gateway_order_id"`
	PaymentID      string          `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	At             time.Time       `json:"at"`
}

const narrationTimeLayout = "2006-01-02 15:04:05Z07:00"

// FormatReceiptNarration is the only place the receipt narration is built.
func FormatReceiptNarration(link ReceiptLink) string {
	return fmt.Sprintf("Online payment against order %s | Gateway order %s | Payment %s | Amount %s | At %s",
		link.OrderNumber,
		link.GatewayOrderID,
		link.PaymentID,
		link.Amount.StringFixed(2),
		link.At.Format(narrationTimeLayout),
	)
}

var narrationPattern = regexp.MustCompile(`^Online payment against order (.*) \| Gateway order (\S*) \| Payment (\S*) \| Amount (-?[0-9.]+) \| At (.+)$`)

// ParseReceiptNarration reads a narration written by FormatReceiptNarration.
func ParseReceiptNarration(narration string) (ReceiptLink, bool) {
	m := narrationPattern.FindStringSubmatch(strings.TrimSpace(narration))
	if m == nil {
		return ReceiptLink{}, false
	}
	amount, err := decimal.NewFromString(m[4])
	if err != nil {
		return ReceiptLink{}, false
	}
	at, err := time.Parse(narrationTimeLayout, m[5])
	if err != nil {
		return ReceiptLink{}, false
	}
	return ReceiptLink{
		OrderNumber:    m[1],
		GatewayOrderID: m[2],
		PaymentID:      m[3],
		Amount:         amount,
		At:             at,
	}, true
}
