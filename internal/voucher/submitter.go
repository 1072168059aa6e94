// Package voucher submits orders to Tally after the credit gate has ruled on
// them, and composes the optional payment step.
package voucher

import (
	"context"
	"log/slog"

	"github.com/tallybridge/tallybridge/internal/credit"
	"github.com/tallybridge/tallybridge/internal/orders"
	"github.com/tallybridge/tallybridge/internal/tally"
)

// Importer sends an import document to Tally. *tally.Client implements it.
type Importer interface {
	Import(ctx context.Context, company tally.Company, token, body string) tally.Outcome
}

// Submitter builds and sends one sales voucher per call. It keeps no memory
// of past submissions and never retries.
type Submitter struct {
	importer Importer
	opts     orders.VoucherOptions
	logger   *slog.Logger
}

// NewSubmitter constructs a Submitter.
func NewSubmitter(importer Importer, opts orders.VoucherOptions, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		importer: importer,
		opts:     opts,
		logger:   logger.With(slog.String("component", "submitter")),
	}
}

// Submit posts the order unless the assessment blocks it. Anything short of
// a clean Allow posts the voucher as optional. The caller's order is not
// modified.
func (s *Submitter) Submit(ctx context.Context, order orders.Order, assessment credit.Assessment, token string) tally.Outcome {
	if assessment.Decision == credit.Block {
		s.logger.Info("order blocked by credit gate",
			slog.String("company", order.Company.GUID),
			slog.String("party", order.Customer.Name),
			slog.String("reason", assessment.Reason))
		return tally.Blocked(assessment.Reason)
	}

	submission := order.Clone()
	submission.PostAsOptional = assessment.Decision != credit.Allow
	body := orders.BuildVoucherXML(submission, s.opts)

	out := s.importer.Import(context.WithoutCancel(ctx), submission.Company, token, body)
	if out.Kind == tally.OutcomeCreated && out.VoucherNumber == "" {
		out.VoucherNumber = submission.Number
	}
	s.logger.Info("order submitted",
		slog.String("company", submission.Company.GUID),
		slog.String("party", submission.Customer.Name),
		slog.Bool("optional", submission.PostAsOptional),
		slog.Int64("master_id", out.MasterID),
		slog.String("outcome", out.Kind.String()))
	return out
}
