package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tallybridge/tallybridge/internal/jobs"
	"github.com/tallybridge/tallybridge/internal/tally"
	"github.com/tallybridge/tallybridge/internal/vouchersync"
)

// Poller is the part of *vouchersync.Poller the job uses.
type Poller interface {
	Poll(ctx context.Context, company tally.Company) vouchersync.PollResult
	PollAll(ctx context.Context, companies []tally.Company) []vouchersync.PollResult
}

// VoucherPollJob runs scheduled and manual voucher polls.
type VoucherPollJob struct {
	Poller    Poller
	Companies tally.CompanyList
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewVoucherPollJob initialises the poll handler.
func NewVoucherPollJob(poller Poller, companies tally.CompanyList, logger *slog.Logger, metrics *jobmetrics.Metrics) *VoucherPollJob {
	return &VoucherPollJob{Poller: poller, Companies: companies, Logger: logger, Metrics: metrics}
}

// Handle polls the requested company. Failed polls are not retried; the
// next scheduled run picks up from the unchanged watermark.
func (j *VoucherPollJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Poller == nil {
		return errors.New("voucher poll: handler not configured")
	}
	var payload VoucherPollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("voucher poll: decode payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskVoucherPoll)
	results, err := j.Run(ctx, payload.CompanyGUID)
	if err != nil {
		return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	}
	var failed int
	for _, res := range results {
		if res.Status == vouchersync.StatusFailed {
			failed++
		}
	}
	if failed > 0 && failed == len(results) {
		return tracker.End(fmt.Errorf("voucher poll: all %d polls failed: %w", failed, asynq.SkipRetry))
	}
	return tracker.End(nil)
}

// Run polls one company by GUID, or all configured companies when guid is
// empty.
func (j *VoucherPollJob) Run(ctx context.Context, guid string) ([]vouchersync.PollResult, error) {
	var results []vouchersync.PollResult
	if guid == "" {
		results = j.Poller.PollAll(ctx, j.Companies)
	} else {
		company, ok := j.Companies.ByGUID(guid)
		if !ok {
			return nil, fmt.Errorf("voucher poll: unknown company %q", guid)
		}
		results = []vouchersync.PollResult{j.Poller.Poll(ctx, company)}
	}
	for _, res := range results {
		j.Metrics.ObservePoll(res.Company.GUID, string(res.Status), res.NewCount)
		j.logger().Info("voucher poll finished",
			slog.String("company", res.Company.GUID),
			slog.String("status", string(res.Status)),
			slog.Int("new_count", res.NewCount),
			slog.Int64("watermark", res.Watermark))
	}
	return results, nil
}

func (j *VoucherPollJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
