// Package payment collects online payment for created orders and records the
// matching receipt voucher in Tally. It also hosts the gateway backend that
// creates checkout orders and verifies their signatures.
package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the only currency the gateway is used with.
const Currency = "INR"

var (
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrGateway           = errors.New("payment gateway error")
	ErrStoreUnavailable  = errors.New("payment store not initialised")
)

// GatewayOrder is a checkout order. Amount is in rupees.
type GatewayOrder struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
}

// CreateOrderRequest is the body of POST /create-order.
type CreateOrderRequest struct {
	InvoiceID string          `json:"invoiceId" validate:"required,max=40"`
	Amount    decimal.Decimal `json:"amount"`
}

// VerifyRequest is the body of POST /verify-payment.
type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
	InvoiceID string `json:"invoiceId"`
}

// ProcessedPayment is the idempotency record of a verified payment.
type ProcessedPayment struct {
	PaymentID   string
	OrderID     string
	InvoiceID   string
	ProcessedAt time.Time
}

// CheckoutStatus is how the user left the checkout.
type CheckoutStatus int

const (
	CheckoutSucceeded CheckoutStatus = iota + 1
	CheckoutFailed
	CheckoutCancelled
)

// CheckoutResult is returned by the client-side checkout.
type CheckoutResult struct {
	Status    CheckoutStatus
	PaymentID string
	Signature string
	Reason    string
}
