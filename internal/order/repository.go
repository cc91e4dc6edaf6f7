package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/joelyan00/fongbeeV1-sub002/internal/wallet"
)

const orderColumns = `
	id, order_no, user_id, provider_id, listing_id,
	deposit_amount::text, total_amount::text, currency, platform_fee::text,
	stripe_payment_intent_id, stripe_capture_status, status,
	cancel_deadline, cancel_reason, rating_score, rating_comment,
	version, created_at, updated_at`

// PgRepository implements Repository and CaptureStore on Postgres.
type PgRepository struct {
	pool   *pgxpool.Pool
	ledger *wallet.Ledger
}

func NewPgRepository(pool *pgxpool.Pool, ledger *wallet.Ledger) *PgRepository {
	return &PgRepository{pool: pool, ledger: ledger}
}

func (r *PgRepository) Create(ctx context.Context, o *Order) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (order_no, user_id, provider_id, listing_id,
		     deposit_amount, total_amount, currency, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, version, created_at, updated_at`,
		o.OrderNo, o.UserID, o.ProviderID, o.ListingID,
		o.DepositAmount.String(), o.TotalAmount.String(), o.Currency, o.Status,
	).Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *PgRepository) GetByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+orderColumns+` FROM orders WHERE stripe_payment_intent_id = $1`, intentID)
	return scanOrder(row)
}

// UpdateStatus is the conditional write at the heart of the optimistic
// protocol: it lands only when the stored version still matches, and bumps
// the version in the same statement.
func (r *PgRepository) UpdateStatus(ctx context.Context, id string, expectedVersion int64, to Status, set *StatusUpdate) error {
	if set == nil {
		set = &StatusUpdate{}
	}
	var fee *string
	if set.PlatformFee != nil {
		s := set.PlatformFee.String()
		fee = &s
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET
		     status = $2,
		     version = version + 1,
		     updated_at = NOW(),
		     cancel_deadline = COALESCE($4, cancel_deadline),
		     cancel_reason = COALESCE($5, cancel_reason),
		     stripe_capture_status = COALESCE($6, stripe_capture_status),
		     platform_fee = COALESCE($7, platform_fee),
		     rating_score = COALESCE($8, rating_score),
		     rating_comment = COALESCE($9, rating_comment)
		 WHERE id = $1 AND version = $3`,
		id, to, expectedVersion,
		set.CancelDeadline, set.CancelReason, set.CaptureStatus, fee,
		set.RatingScore, set.RatingComment,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrencyConflict
	}
	return nil
}

func (r *PgRepository) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET stripe_payment_intent_id = $2, updated_at = NOW() WHERE id = $1`,
		id, intentID,
	)
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCancelReason annotates an order without touching status or version,
// used by the sweeper to record capture failures for the next pass.
func (r *PgRepository) SetCancelReason(ctx context.Context, id, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET cancel_reason = $2, updated_at = NOW() WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("set cancel reason: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindCapturable lists orders whose regret period has lapsed with the hold
// still uncaptured, oldest deadline first, bounded.
func (r *PgRepository) FindCapturable(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT`+orderColumns+`
		 FROM orders
		 WHERE status = 'auth_hold'
		   AND stripe_capture_status = 'uncaptured'
		   AND cancel_deadline < $1
		 ORDER BY cancel_deadline
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find capturable: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *PgRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT`+orderColumns+`
		 FROM orders
		 WHERE user_id = $1 OR provider_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// MarkCaptured flips the capture status and lands the settlement postings
// in one transaction. The conditional WHERE makes the whole settlement
// idempotent: a second observer of the same capture changes nothing.
func (r *PgRepository) MarkCaptured(ctx context.Context, orderID string, fee decimal.Decimal, postings []wallet.Posting) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin capture: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET
		     stripe_capture_status = 'captured',
		     platform_fee = $2,
		     updated_at = NOW()
		 WHERE id = $1 AND stripe_capture_status = 'uncaptured'`,
		orderID, fee.String(),
	)
	if err != nil {
		return false, fmt.Errorf("mark captured: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, p := range postings {
		if _, err := r.ledger.PostTx(ctx, tx, p); err != nil {
			return false, fmt.Errorf("post settlement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit capture: %w", err)
	}
	return true, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var deposit, total string
	var fee *string
	if err := row.Scan(
		&o.ID, &o.OrderNo, &o.UserID, &o.ProviderID, &o.ListingID,
		&deposit, &total, &o.Currency, &fee,
		&o.PaymentIntentID, &o.CaptureStatus, &o.Status,
		&o.CancelDeadline, &o.CancelReason, &o.RatingScore, &o.RatingComment,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	var err error
	if o.DepositAmount, err = decimal.NewFromString(deposit); err != nil {
		return nil, fmt.Errorf("parse deposit: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if fee != nil {
		parsed, err := decimal.NewFromString(*fee)
		if err != nil {
			return nil, fmt.Errorf("parse platform fee: %w", err)
		}
		o.PlatformFee = &parsed
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
