package voucher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tallybridge/tallybridge/internal/credit"
	"github.com/tallybridge/tallybridge/internal/orders"
	"github.com/tallybridge/tallybridge/internal/payment"
	"github.com/tallybridge/tallybridge/internal/tally"
)

// Assessor rules on an order before it is built. *credit.Gate implements it.
type Assessor interface {
	Assess(ctx context.Context, company tally.Company, party string, orderTotal decimal.Decimal, token string) credit.Assessment
}

// Reconciler runs the post-order payment step. *payment.Reconciler implements it.
type Reconciler interface {
	AfterOrderCreated(ctx context.Context, in payment.ReconcileInput, handle payment.Checkout) payment.ReconciliationOutcome
}

// PlaceRequest is one logical order placement. Checkout is optional; when
// set, Order.Number must be set too.
type PlaceRequest struct {
	Order    orders.Order
	Token    string
	Checkout payment.Checkout
}

// PlaceResult collects everything the confirmation screen shows.
type PlaceResult struct {
	Assessment credit.Assessment              `json:"assessment"`
	Outcome    tally.Outcome                  `json:"outcome"`
	Payment    *payment.ReconciliationOutcome `json:"payment,omitempty"`
}

// Message joins the order and payment messages.
func (r PlaceResult) Message() string {
	msg := r.Outcome.Message()
	if r.Outcome.Succeeded() && r.Assessment.Decision == credit.AllowAsOptional {
		msg += " Posted as optional pending authorization: " + r.Assessment.Reason
	}
	if r.Payment != nil {
		if p := r.Payment.Message(); p != "" {
			msg += "\n" + p
		}
	}
	return msg
}

// Service runs gate, submit and reconcile in order for a single order.
type Service struct {
	gate       Assessor
	submitter  *Submitter
	reconciler Reconciler
	logger     *slog.Logger
}

// NewService constructs a Service. reconciler may be nil.
func NewService(gate Assessor, submitter *Submitter, reconciler Reconciler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gate: gate, submitter: submitter, reconciler: reconciler, logger: logger}
}

// Place validates the order, evaluates credit, submits the voucher and, when
// it was created, runs the payment step. Only validation returns an error;
// every later failure is reported in the result.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if err := req.Order.Validate(); err != nil {
		return PlaceResult{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if req.Checkout != nil && s.reconciler != nil && strings.TrimSpace(req.Order.Number) == "" {
		return PlaceResult{}, fmt.Errorf("%w: %w", ErrInvalidOrder, ErrOrderNumberRequired)
	}
	assessment := s.gate.Assess(ctx, req.Order.Company, req.Order.Customer.Name, req.Order.Total(), req.Token)
	result := PlaceResult{Assessment: assessment}
	result.Outcome = s.submitter.Submit(ctx, req.Order, assessment, req.Token)

	if result.Outcome.Kind != tally.OutcomeCreated || s.reconciler == nil {
		return result, nil
	}
	rec := s.reconciler.AfterOrderCreated(context.WithoutCancel(ctx), payment.ReconcileInput{
		Company:     req.Order.Company,
		Customer:    req.Order.Customer.Name,
		OrderNumber: req.Order.Number,
		Amount:      req.Order.Total(),
		Token:       req.Token,
	}, req.Checkout)
	if rec.Kind != payment.NoPaymentRequested {
		result.Payment = &rec
	}
	return result, nil
}
