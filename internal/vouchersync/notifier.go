package vouchersync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel new-voucher notifications go to.
const Channel = "tally:vouchers:new"

// Notification announces vouchers awaiting authorization.
type Notification struct {
	CompanyGUID  string    `json:"company_guid"`
	CompanyName  string    `json:"company_name"`
	NewCount     int       `json:"new_count"`
	LastMasterID int64     `json:"last_master_id"`
	At           time.Time `json:"at"`
}

// Title is the user-facing headline.
func (n Notification) Title() string {
	if n.NewCount == 1 {
		return "1 new voucher awaiting authorization"
	}
	return fmt.Sprintf("%d new vouchers awaiting authorization", n.NewCount)
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RedisNotifier publishes JSON notifications on Channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier constructs a notifier on the default channel.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: Channel}
}

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info(note.Title(),
		slog.String("company", note.CompanyGUID),
		slog.Int("new_count", note.NewCount),
		slog.Int64("last_master_id", note.LastMasterID))
	return nil
}
