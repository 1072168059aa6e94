// Package vouchersync detects optional vouchers created in Tally since the
// last poll, one watermark per company.
package vouchersync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Watermark is the poll position of one company. LastMasterID never
// decreases.
type Watermark struct {
	CompanyGUID   string    `json:"company_guid"`
	LastMasterID  int64     `json:"last_master_id"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
}

// Store persists watermarks.
type Store interface {
	Load(ctx context.Context, companyGUID string) (Watermark, error)
	// Advance raises the watermark to masterID if it is higher and stamps
	// checkedAt. It returns the stored watermark.
	Advance(ctx context.Context, companyGUID string, masterID int64, checkedAt time.Time) (Watermark, error)
	// Touch stamps checkedAt without moving the watermark.
	Touch(ctx context.Context, companyGUID string, checkedAt time.Time) error
}

// Locker serialises polls of one company across processes.
type Locker interface {
	// TryLock takes the company's poll lock for ttl. ok is false when another
	// holder has it.
	TryLock(ctx context.Context, companyGUID string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

const (
	lockPrefix     = "tally:poll:lock:"
	keyPrefix      = "tally:watermark:"
	fieldMasterID  = "last_master_id"
	fieldCheckedAt = "last_checked_at"
)

var advanceScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'last_master_id') or '0')
local candidate = tonumber(ARGV[1])
if candidate > current then
  redis.call('HSET', KEYS[1], 'last_master_id', ARGV[1])
  current = candidate
end
redis.call('HSET', KEYS[1], 'last_checked_at', ARGV[2])
return current
`)

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps watermarks in a redis hash per company.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs the store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func watermarkKey(guid string) string {
	return keyPrefix + guid
}

// Load returns the zero watermark for a company never polled.
func (s *RedisStore) Load(ctx context.Context, companyGUID string) (Watermark, error) {
	values, err := s.client.HGetAll(ctx, watermarkKey(companyGUID)).Result()
	if err != nil {
		return Watermark{}, fmt.Errorf("load watermark: %w", err)
	}
	wm := Watermark{CompanyGUID: companyGUID}
	if raw, ok := values[fieldMasterID]; ok {
		if wm.LastMasterID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return Watermark{}, fmt.Errorf("load watermark: %w", err)
		}
	}
	if raw, ok := values[fieldCheckedAt]; ok {
		if wm.LastCheckedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Watermark{}, fmt.Errorf("load watermark: %w", err)
		}
	}
	return wm, nil
}

// Advance implements Store. The comparison runs inside redis so concurrent
// writers cannot lower the stored id.
func (s *RedisStore) Advance(ctx context.Context, companyGUID string, masterID int64, checkedAt time.Time) (Watermark, error) {
	if masterID < 0 {
		return Watermark{}, errors.New("watermark cannot be negative")
	}
	stamp := checkedAt.UTC().Format(time.RFC3339Nano)
	stored, err := advanceScript.Run(ctx, s.client, []string{watermarkKey(companyGUID)}, masterID, stamp).Int64()
	if err != nil {
		return Watermark{}, fmt.Errorf("advance watermark: %w", err)
	}
	return Watermark{CompanyGUID: companyGUID, LastMasterID: stored, LastCheckedAt: checkedAt.UTC()}, nil
}

// Touch implements Store.
func (s *RedisStore) Touch(ctx context.Context, companyGUID string, checkedAt time.Time) error {
	if err := s.client.HSet(ctx, watermarkKey(companyGUID), fieldCheckedAt, checkedAt.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("touch watermark: %w", err)
	}
	return nil
}

// Reset removes the watermark so the next poll starts from zero.
func (s *RedisStore) Reset(ctx context.Context, companyGUID string) error {
	return s.client.Del(ctx, watermarkKey(companyGUID)).Err()
}

// TryLock implements Locker with SET NX PX. The unlock func only deletes the
// key while it still holds this caller's token, so a lock that expired and
// was taken by another poller is left alone.
func (s *RedisStore) TryLock(ctx context.Context, companyGUID string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := lockPrefix + companyGUID
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("poll lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("poll unlock: %w", err)
		}
		return nil
	}
	return unlock, true, nil
}
