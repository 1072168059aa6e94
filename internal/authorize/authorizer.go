// Package authorize lists optional vouchers and turns approved ones into
// regular vouchers.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tallybridge/tallybridge/internal/tally"
)

// ErrApproverRequired is returned when an approval names nobody.
var ErrApproverRequired = errors.New("approver is required")

// Client is the Tally transport the authorizer uses. *tally.Client
// implements it.
type Client interface {
	Query(ctx context.Context, company tally.Company, token, body string) (string, error)
	Import(ctx context.Context, company tally.Company, token, body string) tally.Outcome
}

// ApproveRequest identifies the voucher to approve.
type ApproveRequest struct {
	MasterID int64  `json:"master_id"`
	Approver string `json:"approver" validate:"required,max=100"`
	Token    string `json:"-"`
}

// Authorizer keeps the pending list of each company in memory.
type Authorizer struct {
	client Client
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.Mutex
	pending map[string][]tally.PendingVoucher
}

// New constructs an Authorizer.
func New(client Client, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		client:  client,
		logger:  logger.With(slog.String("component", "authorizer")),
		pending: make(map[string][]tally.PendingVoucher),
	}
}

// Pending loads every optional voucher of the company and replaces the
// in-memory list.
func (a *Authorizer) Pending(ctx context.Context, company tally.Company, token string) ([]tally.PendingVoucher, error) {
	body, err := a.client.Query(ctx, company, token, tally.OptionalVouchersQuery(company, 0))
	if err != nil {
		return nil, fmt.Errorf("list optional vouchers: %w", err)
	}
	list, err := tally.ParseVoucherListXML(body)
	if err != nil {
		return nil, fmt.Errorf("list optional vouchers: %w", err)
	}
	a.mu.Lock()
	a.pending[company.GUID] = list
	a.mu.Unlock()
	return append([]tally.PendingVoucher(nil), list...), nil
}

// Cached returns the last loaded list without calling Tally.
func (a *Authorizer) Cached(company tally.Company) []tally.PendingVoucher {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]tally.PendingVoucher(nil), a.pending[company.GUID]...)
}

// FetchDetail loads one voucher for review. Concurrent fetches of the same
// voucher share a single request.
func (a *Authorizer) FetchDetail(ctx context.Context, company tally.Company, masterID int64, token string) (tally.VoucherDetail, error) {
	key := company.GUID + "/" + strconv.FormatInt(masterID, 10)
	v, err, _ := a.group.Do(key, func() (any, error) {
		body, err := a.client.Query(ctx, company, token, tally.VoucherDetailQuery(company, masterID))
		if err != nil {
			return tally.VoucherDetail{}, err
		}
		detail, err := tally.ParseVoucherDetailXML(body)
		if err != nil {
			return tally.VoucherDetail{}, err
		}
		if detail.MasterID == 0 {
			detail.MasterID = masterID
		}
		return detail, nil
	})
	if err != nil {
		return tally.VoucherDetail{}, fmt.Errorf("voucher %d: %w", masterID, err)
	}
	return v.(tally.VoucherDetail), nil
}

// Approve alters the voucher to a regular one and appends the approver to
// its narration. On success the voucher leaves the pending list. Approving a
// voucher twice is harmless: Tally reports the alter again and the list is
// unaffected.
func (a *Authorizer) Approve(ctx context.Context, company tally.Company, req ApproveRequest) (tally.Outcome, error) {
	if strings.TrimSpace(req.Approver) == "" {
		return tally.Outcome{}, ErrApproverRequired
	}
	var (
		date      time.Time
		narration string
	)
	if item, ok := a.lookup(company.GUID, req.MasterID); ok {
		date, _ = tally.ParseDisplayDate(item.Date)
		narration = item.Narration
	} else {
		detail, err := a.FetchDetail(ctx, company, req.MasterID, req.Token)
		if err != nil {
			return tally.Outcome{}, err
		}
		date, _ = tally.ParseDisplayDate(detail.Date)
		narration = detail.Narration
	}

	body := tally.AuthorizeVoucherXML(tally.AuthorizeRequest{
		Company:   company,
		MasterID:  req.MasterID,
		Date:      date,
		Narration: narration,
		Approver:  req.Approver,
	})
	out := a.client.Import(ctx, company, req.Token, body)
	if out.Succeeded() {
		a.remove(company.GUID, req.MasterID)
	}
	a.logger.Info("voucher approval",
		slog.String("company", company.GUID),
		slog.Int64("master_id", req.MasterID),
		slog.String("approver", req.Approver),
		slog.String("outcome", out.Kind.String()))
	return out, nil
}

func (a *Authorizer) lookup(guid string, masterID int64) (tally.PendingVoucher, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, v := range a.pending[guid] {
		if v.MasterID == masterID {
			return v, true
		}
	}
	return tally.PendingVoucher{}, false
}

func (a *Authorizer) remove(guid string, masterID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.pending[guid]
	out := list[:0]
	for _, v := range list {
		if v.MasterID != masterID {
			out = append(out, v)
		}
	}
	a.pending[guid] = out
}
