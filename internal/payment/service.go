package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// OrderCreator creates gateway orders. *RazorpayClient implements it.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amountPaise int64, receipt string) (RazorpayOrder, error)
}

// Service is the gateway backend: order creation and signature verification.
type Service struct {
	gateway OrderCreator
	store   ProcessedStore
	secret  string
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the backend service.
func NewService(gateway OrderCreator, store ProcessedStore, secret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway: gateway,
		store:   store,
		secret:  secret,
		logger:  logger.With(slog.String("component", "payment")),
		now:     time.Now,
	}
}

var paisePerRupee = decimal.NewFromInt(100)

// CreateOrder registers a checkout order for invoiceID. amount is in rupees.
func (s *Service) CreateOrder(ctx context.Context, invoiceID string, amount decimal.Decimal) (GatewayOrder, error) {
	if !amount.IsPositive() {
		return GatewayOrder{}, fmt.Errorf("amount must be positive")
	}
	paise := amount.Mul(paisePerRupee).Round(0).IntPart()
	order, err := s.gateway.CreateOrder(ctx, paise, invoiceID)
	if err != nil {
		s.logger.Error("create gateway order", slog.String("invoice", invoiceID), slog.Any("error", err))
		return GatewayOrder{}, err
	}
	currency := order.Currency
	if currency == "" {
		currency = Currency
	}
	return GatewayOrder{
		ID:       order.ID,
		Amount:   decimal.New(order.Amount, -2),
		Currency: currency,
		Receipt:  order.Receipt,
	}, nil
}

// VerifyPayment checks the checkout signature. A payment that was already
// verified succeeds again without being reprocessed.
func (s *Service) VerifyPayment(ctx context.Context, req VerifyRequest) error {
	if !VerifySignature(req.OrderID, req.PaymentID, req.Signature, s.secret) {
		s.logger.Warn("payment signature mismatch", slog.String("order_id", req.OrderID), slog.String("payment_id", req.PaymentID))
		return ErrSignatureMismatch
	}
	if s.store == nil {
		return nil
	}
	fresh, err := s.store.MarkProcessed(ctx, ProcessedPayment{
		PaymentID:   req.PaymentID,
		OrderID:     req.OrderID,
		InvoiceID:   req.InvoiceID,
		ProcessedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if !fresh {
		s.logger.Info("payment already processed", slog.String("payment_id", req.PaymentID))
		return nil
	}
	s.logger.Info("payment verified", slog.String("payment_id", req.PaymentID), slog.String("invoice", req.InvoiceID))
	return nil
}
