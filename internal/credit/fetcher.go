package credit

import (
	"context"
	"fmt"

	"github.com/tallybridge/tallybridge/internal/tally"
)

// Querier runs an export request against Tally.
type Querier interface {
	Query(ctx context.Context, company tally.Company, token, body string) (string, error)
}

// TallyFetcher reads the position with two ODBC queries.
type TallyFetcher struct {
	querier Querier
}

// NewTallyFetcher constructs a TallyFetcher.
func NewTallyFetcher(querier Querier) *TallyFetcher {
	return &TallyFetcher{querier: querier}
}

// FetchPosition implements Fetcher. Tally reports debit balances as
// negative, so the receivable is the negated closing balance.
func (f *TallyFetcher) FetchPosition(ctx context.Context, company tally.Company, party, token string) (Position, error) {
	body, err := f.querier.Query(ctx, company, token, tally.LedgerBalanceQuery(company, party))
	if err != nil {
		return Position{}, fmt.Errorf("ledger balance: %w", err)
	}
	ledger, err := tally.ParseLedgerBalance(body)
	if err != nil {
		return Position{}, fmt.Errorf("ledger balance: %w", err)
	}
	body, err = f.querier.Query(ctx, company, token, tally.PartyBillsQuery(company, party))
	if err != nil {
		return Position{}, fmt.Errorf("party bills: %w", err)
	}
	return Position{
		Receivable:  ledger.ClosingBalance.Neg(),
		CreditLimit: ledger.CreditLimit.Abs(),
		Bills:       tally.ParseBills(body),
	}, nil
}
