package vouchersync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tallybridge/tallybridge/internal/tally"
)

// ErrPollInFlight is reported when a poll for the company is already running.
var ErrPollInFlight = errors.New("poll already in flight")

// Querier runs an export request against Tally.
type Querier interface {
	Query(ctx context.Context, company tally.Company, token, body string) (string, error)
}

// Status is the end state of one poll.
type Status string

const (
	StatusAdvanced  Status = "advanced"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// PollResult describes one poll of one company.
type PollResult struct {
	Company   tally.Company `json:"company"`
	Status    Status        `json:"status"`
	NewCount  int           `json:"new_count"`
	Watermark int64         `json:"watermark"`
	Err       error         `json:"-"`
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Querier     Querier
	Store       Store
	Notifier    Notifier
	Token       string
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
	// Locker guards against polls of the same company from other processes.
	// When nil and Store implements Locker, the store is used.
	Locker  Locker
	LockTTL time.Duration
}

const defaultLockTTL = 2 * time.Minute

// Poller checks companies for new optional vouchers. Polls for one company
// never overlap, within the process or across processes sharing a Locker; a
// poll that finds one running is dropped.
type Poller struct {
	querier     Querier
	store       Store
	locker      Locker
	lockTTL     time.Duration
	notifier    Notifier
	token       string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewPoller constructs a Poller.
func NewPoller(cfg PollerConfig) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	locker := cfg.Locker
	if locker == nil {
		locker, _ = cfg.Store.(Locker)
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Poller{
		querier:     cfg.Querier,
		store:       cfg.Store,
		locker:      locker,
		lockTTL:     lockTTL,
		notifier:    notifier,
		token:       cfg.Token,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "poller")),
		now:         now,
		inFlight:    make(map[string]struct{}),
	}
}

func (p *Poller) acquire(guid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[guid]; busy {
		return false
	}
	p.inFlight[guid] = struct{}{}
	return true
}

func (p *Poller) release(guid string) {
	p.mu.Lock()
	delete(p.inFlight, guid)
	p.mu.Unlock()
}

// Poll fetches optional vouchers above the stored watermark. A failed fetch
// leaves the watermark untouched. At most one notification is sent.
func (p *Poller) Poll(ctx context.Context, company tally.Company) PollResult {
	result := PollResult{Company: company}
	if !p.acquire(company.GUID) {
		result.Status = StatusSkipped
		result.Err = ErrPollInFlight
		return result
	}
	defer p.release(company.GUID)

	logger := p.logger.With(slog.String("company", company.GUID))
	if p.locker != nil {
		unlock, ok, err := p.locker.TryLock(ctx, company.GUID, p.lockTTL)
		if err != nil {
			logger.Warn("take poll lock failed", slog.Any("error", err))
			return failed(result, err)
		}
		if !ok {
			result.Status = StatusSkipped
			result.Err = ErrPollInFlight
			return result
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release poll lock failed", slog.Any("error", err))
			}
		}()
	}

	wm, err := p.store.Load(ctx, company.GUID)
	if err != nil {
		logger.Warn("load watermark failed", slog.Any("error", err))
		return failed(result, err)
	}
	result.Watermark = wm.LastMasterID

	body, err := p.querier.Query(ctx, company, p.token, tally.OptionalVouchersQuery(company, wm.LastMasterID))
	if err != nil {
		logger.Warn("optional voucher query failed", slog.Any("error", err))
		return failed(result, err)
	}
	rows, err := tally.ParseVoucherListXML(body)
	if err != nil {
		logger.Warn("optional voucher list unreadable", slog.Any("error", err))
		return failed(result, err)
	}
	checkedAt := p.now()

	highest := wm.LastMasterID
	for _, row := range rows {
		if row.MasterID > wm.LastMasterID {
			result.NewCount++
		}
		if row.MasterID > highest {
			highest = row.MasterID
		}
	}

	if len(rows) == 0 {
		if err := p.store.Touch(ctx, company.GUID, checkedAt); err != nil {
			logger.Warn("touch watermark failed", slog.Any("error", err))
		}
		result.Status = StatusUnchanged
		return result
	}

	stored, err := p.store.Advance(ctx, company.GUID, highest, checkedAt)
	if err != nil {
		logger.Error("advance watermark failed", slog.Any("error", err))
		return failed(result, err)
	}
	result.Watermark = stored.LastMasterID
	result.Status = StatusAdvanced
	if result.NewCount == 0 {
		result.Status = StatusUnchanged
		return result
	}

	note := Notification{
		CompanyGUID:  company.GUID,
		CompanyName:  company.Name,
		NewCount:     result.NewCount,
		LastMasterID: result.Watermark,
		At:           checkedAt,
	}
	if err := p.notifier.Notify(ctx, note); err != nil {
		logger.Warn("notify failed", slog.Any("error", err))
	}
	logger.Info("new optional vouchers", slog.Int("new_count", result.NewCount), slog.Int64("watermark", result.Watermark))
	return result
}

func failed(result PollResult, err error) PollResult {
	result.Status = StatusFailed
	result.NewCount = 0
	result.Err = err
	return result
}

// PollAll polls companies concurrently. Results keep the input order.
func (p *Poller) PollAll(ctx context.Context, companies []tally.Company) []PollResult {
	results := make([]PollResult, len(companies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, company := range companies {
		i, company := i, company
		g.Go(func() error {
			results[i] = p.Poll(gctx, company)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
