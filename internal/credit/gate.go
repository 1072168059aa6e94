// Package credit decides whether an order may be posted as a regular voucher,
// only as an optional one, or not at all.
package credit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallybridge/tallybridge/internal/tally"
)

// Decision is the gate verdict.
type Decision int

const (
	Allow Decision = iota
	AllowAsOptional
	Block
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case AllowAsOptional:
		return "allow_as_optional"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// OverdueBill is a bill past its due date at assessment time.
type OverdueBill struct {
	Reference   string          `json:"reference"`
	DueDate     time.Time       `json:"due_date"`
	DaysOverdue int             `json:"days_overdue"`
	Amount      decimal.Decimal `json:"amount"`
}

// Assessment is computed per order and never cached.
type Assessment struct {
	Party          string          `json:"party"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Exposure       decimal.Decimal `json:"exposure"`
	Overdue        []OverdueBill   `json:"overdue,omitempty"`
	Decision       Decision        `json:"decision"`
	Reason         string          `json:"reason,omitempty"`
	Degraded       bool            `json:"degraded"`
}

// Position is what a Fetcher reports for a party.
type Position struct {
	// Receivable is positive when the party owes the company.
	Receivable  decimal.Decimal
	CreditLimit decimal.Decimal
	Bills       []tally.Bill
}

// Fetcher loads a party's balance, limit and open bills.
type Fetcher interface {
	FetchPosition(ctx context.Context, company tally.Company, party, token string) (Position, error)
}

// Permissions resolves company-level credit policy.
type Permissions interface {
	HardBlock(company tally.Company) bool
}

// StaticPermissions grants hard-block to a fixed set of company GUIDs.
type StaticPermissions map[string]struct{}

// NewStaticPermissions builds the set from configured GUIDs.
func NewStaticPermissions(guids []string) StaticPermissions {
	out := make(StaticPermissions, len(guids))
	for _, g := range guids {
		if g = strings.TrimSpace(g); g != "" {
			out[g] = struct{}{}
		}
	}
	return out
}

// HardBlock implements Permissions.
func (p StaticPermissions) HardBlock(company tally.Company) bool {
	_, ok := p[company.GUID]
	return ok
}

// Gate evaluates credit before an order is built.
type Gate struct {
	fetcher     Fetcher
	permissions Permissions
	logger      *slog.Logger
	now         func() time.Time
}

// NewGate constructs a Gate. A nil Permissions never hard-blocks.
func NewGate(fetcher Fetcher, permissions Permissions, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if permissions == nil {
		permissions = StaticPermissions(nil)
	}
	return &Gate{
		fetcher:     fetcher,
		permissions: permissions,
		logger:      logger.With(slog.String("component", "credit")),
		now:         time.Now,
	}
}

// Assess returns the decision for adding orderTotal to the party's exposure.
// A failed fetch fails open with Degraded set.
func (g *Gate) Assess(ctx context.Context, company tally.Company, party string, orderTotal decimal.Decimal, token string) Assessment {
	pos, err := g.fetcher.FetchPosition(ctx, company, party, token)
	if err != nil {
		g.logger.Warn("credit fetch failed, allowing order",
			slog.String("company", company.GUID),
			slog.String("party", party),
			slog.Any("error", err))
		return Assessment{Party: party, Decision: Allow, Degraded: true}
	}
	return Evaluate(party, pos, orderTotal, g.permissions.HardBlock(company), g.now())
}

// Evaluate applies the decision table to a fetched position.
func Evaluate(party string, pos Position, orderTotal decimal.Decimal, hardBlock bool, now time.Time) Assessment {
	a := Assessment{
		Party:          party,
		CreditLimit:    pos.CreditLimit,
		ClosingBalance: pos.Receivable,
		Exposure:       pos.Receivable.Add(orderTotal),
		Decision:       Allow,
	}
	today := now.Truncate(24 * time.Hour)
	for _, bill := range pos.Bills {
		if !bill.DueDate.Before(today) {
			continue
		}
		a.Overdue = append(a.Overdue, OverdueBill{
			Reference:   bill.Reference,
			DueDate:     bill.DueDate,
			DaysOverdue: int(today.Sub(bill.DueDate).Hours() / 24),
			Amount:      bill.Amount.Abs(),
		})
	}

	var reasons []string
	if pos.CreditLimit.IsPositive() && a.Exposure.GreaterThan(pos.CreditLimit) {
		reasons = append(reasons, fmt.Sprintf("credit limit %s exceeded (exposure %s)",
			tally.DisplayAmount(pos.CreditLimit), tally.DisplayAmount(a.Exposure)))
	}
	if n := len(a.Overdue); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d overdue bill(s)", n))
	}
	if len(reasons) == 0 {
		return a
	}
	a.Reason = strings.Join(reasons, "; ")
	if hardBlock {
		a.Decision = Block
	} else {
		a.Decision = AllowAsOptional
	}
	return a
}
