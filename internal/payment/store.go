package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedStore remembers verified payments. MarkProcessed reports false
// when the payment was already recorded.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, p ProcessedPayment) (bool, error)
}

// PostgresStore keeps processed payments in the processed_payments table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// MarkProcessed inserts the payment; a unique violation means it was seen before.
func (s *PostgresStore) MarkProcessed(ctx context.Context, p ProcessedPayment) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrStoreUnavailable
	}
	if p.ProcessedAt.IsZero() {
		p.ProcessedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_payments (payment_id, order_id, invoice_id, processed_at) VALUES ($1, $2, $3, $4)`,
		p.PaymentID, p.OrderID, p.InvoiceID, p.ProcessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Cleanup removes records older than retention.
func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_payments WHERE processed_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
