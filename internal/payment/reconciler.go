package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallybridge/tallybridge/internal/tally"
)

// ReceiptVoucherType is the Tally voucher type used for receipts.
const ReceiptVoucherType = "Receipt"

// Checkout collects payment from the user for a gateway order.
type Checkout interface {
	Collect(ctx context.Context, order GatewayOrder) (CheckoutResult, error)
}

// Importer sends an import document to Tally.
type Importer interface {
	Import(ctx context.Context, company tally.Company, token, body string) tally.Outcome
}

// ReconcileInput describes the order that was just created.
type ReconcileInput struct {
	Company     tally.Company
	Customer    string
	OrderNumber string
	Amount      decimal.Decimal
	Token       string
}

// ReconcileKind discriminates ReconciliationOutcome.
type ReconcileKind int

const (
	NoPaymentRequested ReconcileKind = iota
	PaymentSucceeded
	PaymentFailed
	PaymentCancelled
)

func (k ReconcileKind) String() string {
	switch k {
	case NoPaymentRequested:
		return "no_payment_requested"
	case PaymentSucceeded:
		return "payment_succeeded"
	case PaymentFailed:
		return "payment_failed"
	case PaymentCancelled:
		return "payment_cancelled"
	default:
		return "unknown"
	}
}

// ReconciliationOutcome is the result of the post-order payment step.
// Receipt is set only for PaymentSucceeded.
type ReconciliationOutcome struct {
	Kind    ReconcileKind  `json:"kind"`
	Reason  string         `json:"reason,omitempty"`
	Link    *ReceiptLink   `json:"link,omitempty"`
	Receipt *tally.Outcome `json:"receipt,omitempty"`
}

// ReceiptFailed reports a verified payment whose receipt voucher was not
// created.
func (o ReconciliationOutcome) ReceiptFailed() bool {
	return o.Kind == PaymentSucceeded && o.Receipt != nil && !o.Receipt.Succeeded()
}

// Message renders the text shown after the order confirmation.
func (o ReconciliationOutcome) Message() string {
	switch o.Kind {
	case PaymentSucceeded:
		if o.ReceiptFailed() {
			return "Order created, but the receipt could not be recorded. Create the receipt manually. " + o.Receipt.Message()
		}
		return "Payment received and receipt recorded."
	case PaymentFailed, PaymentCancelled:
		return "Payment was not completed. It can be collected later."
	default:
		return ""
	}
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	Enabled    bool
	BankLedger string
	Backend    Backend
	Importer   Importer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Reconciler runs the optional payment step after an order is created. The
// Checkout that opens the gateway's payment sheet lives in the embedding
// app; the bundled HTTP API and binaries never supply one, so through them
// every call ends in NoPaymentRequested and payment is reconciled only by
// apps that pass their own Checkout.
type Reconciler struct {
	enabled    bool
	bankLedger string
	backend    Backend
	importer   Importer
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		enabled:    cfg.Enabled && cfg.Backend != nil && cfg.Importer != nil,
		bankLedger: cfg.BankLedger,
		backend:    cfg.Backend,
		importer:   cfg.Importer,
		logger:     logger.With(slog.String("component", "reconciler")),
		now:        now,
	}
}

// AfterOrderCreated collects payment through handle and, once the backend
// verifies it, imports a receipt voucher linked to the order. A failed
// receipt never touches the order.
func (r *Reconciler) AfterOrderCreated(ctx context.Context, in ReconcileInput, handle Checkout) ReconciliationOutcome {
	if r == nil || !r.enabled || handle == nil {
		return ReconciliationOutcome{Kind: NoPaymentRequested}
	}
	logger := r.logger.With(slog.String("company", in.Company.GUID), slog.String("order", in.OrderNumber))

	order, err := r.backend.CreateOrder(ctx, in.OrderNumber, in.Amount)
	if err != nil {
		logger.Warn("create payment order failed", slog.Any("error", err))
		return ReconciliationOutcome{Kind: PaymentFailed, Reason: err.Error()}
	}

	result, err := handle.Collect(ctx, order)
	if err != nil {
		logger.Warn("checkout failed", slog.Any("error", err))
		return ReconciliationOutcome{Kind: PaymentFailed, Reason: err.Error()}
	}
	switch result.Status {
	case CheckoutSucceeded:
	case CheckoutCancelled:
		return ReconciliationOutcome{Kind: PaymentCancelled, Reason: result.Reason}
	default:
		return ReconciliationOutcome{Kind: PaymentFailed, Reason: result.Reason}
	}

	err = r.backend.VerifyPayment(ctx, VerifyRequest{
		OrderID:   order.ID,
		PaymentID: result.PaymentID,
		Signature: result.Signature,
		InvoiceID: in.OrderNumber,
	})
	if err != nil {
		reason := "payment verification failed"
		if !errors.Is(err, ErrSignatureMismatch) {
			reason = err.Error()
		}
		logger.Warn("payment verification failed", slog.String("payment_id", result.PaymentID), slog.Any("error", err))
		return ReconciliationOutcome{Kind: PaymentFailed, Reason: reason}
	}

	link := ReceiptLink{
		OrderNumber:    in.OrderNumber,
		GatewayOrderID: order.ID,
		PaymentID:      result.PaymentID,
		Amount:         in.Amount,
		At:             r.now(),
	}
	receipt := r.importer.Import(ctx, in.Company, in.Token, tally.BuildVoucherXML(r.receiptVoucher(in, link)))
	if !receipt.Succeeded() {
		logger.Error("receipt voucher not created",
			slog.String("payment_id", link.PaymentID),
			slog.String("outcome", receipt.Kind.String()),
			slog.String("message", receipt.Message()))
	}
	return ReconciliationOutcome{Kind: PaymentSucceeded, Link: &link, Receipt: &receipt}
}

// receiptVoucher credits the customer against the order and debits the bank.
func (r *Reconciler) receiptVoucher(in ReconcileInput, link ReceiptLink) tally.Voucher {
	return tally.Voucher{
		Company:     in.Company,
		Date:        link.At,
		TypeName:    ReceiptVoucherType,
		PartyLedger: in.Customer,
		Narration:   FormatReceiptNarration(link),
		Ledgers: []tally.LedgerEntry{
			{
				Ledger:      in.Customer,
				Amount:      in.Amount,
				PartyLedger: true,
				Bills: []tally.BillAllocation{{
					Name:     in.OrderNumber,
					BillType: "Agst Ref",
					Amount:   in.Amount,
				}},
			},
			{
				Ledger:         r.bankLedger,
				Amount:         in.Amount.Neg(),
				DeemedPositive: true,
			},
		},
	}
}
