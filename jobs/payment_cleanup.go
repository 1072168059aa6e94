package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tallybridge/tallybridge/internal/jobs"
)

// PaymentPruner removes processed payment records. *payment.PostgresStore
// implements it.
type PaymentPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PaymentCleanupJob prunes the processed payments table.
type PaymentCleanupJob struct {
	Store   PaymentPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPaymentCleanupJob initialises the cleanup handler.
func NewPaymentCleanupJob(store PaymentPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PaymentCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *PaymentCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("payment cleanup: handler not configured")
	}
	var payload PaymentCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = 90 * 24 * time.Hour
	}
	tracker := j.Metrics.Track(TaskPaymentCleanup)
	removed, err := j.Store.Cleanup(ctx, payload.OlderThan)
	if err != nil {
		j.Logger.Error("payment cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Logger.Info("payment cleanup done", slog.Int64("removed", removed), slog.Duration("older_than", payload.OlderThan))
	return tracker.End(nil)
}
