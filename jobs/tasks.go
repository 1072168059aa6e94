package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tallybridge/tallybridge/internal/tally"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVoucherPoll polls one company (or all when GUID is empty) for new
	// optional vouchers.
	TaskVoucherPoll = "tally:vouchers:poll"
	// TaskPaymentCleanup prunes old processed payment records.
	TaskPaymentCleanup = "payments:cleanup"
)

// VoucherPollPayload names the company to poll.
type VoucherPollPayload struct {
	CompanyGUID string `json:"company_guid,omitempty"`
}

// NewVoucherPollTask constructs a poll task. An empty guid polls every
// configured company.
func NewVoucherPollTask(companyGUID string) (*asynq.Task, error) {
	data, err := json.Marshal(VoucherPollPayload{CompanyGUID: companyGUID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoucherPoll, data), nil
}

// PaymentCleanupPayload sets the retention window.
type PaymentCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewPaymentCleanupTask constructs a cleanup task.
func NewPaymentCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PaymentCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentCleanup, data), nil
}

// PollSchedule returns one cron entry per company. Overlapping runs of the
// same company are dropped by the poller and the asynq unique lock.
func PollSchedule(companies tally.CompanyList, interval time.Duration) ([]CronRegistration, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	spec := fmt.Sprintf("@every %s", interval)
	out := make([]CronRegistration, 0, len(companies))
	for _, company := range companies {
		task, err := NewVoucherPollTask(company.GUID)
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{
			Spec: spec,
			Task: task,
			Options: []asynq.Option{
				asynq.Queue(QueueDefault),
				asynq.MaxRetry(0),
				asynq.Unique(interval),
				asynq.Timeout(interval),
			},
		})
	}
	return out, nil
}
