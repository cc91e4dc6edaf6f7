package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("subscription not found")
	ErrRenewalStale = errors.New("subscription already renewed")
)

const subscriptionColumns = `s.id, s.user_id, s.plan_id, s.billing_cycle, s.price::text,
    s.currency, s.end_date, s.auto_renew, s.remaining_credits, s.remaining_listings,
    s.last_payment_method, s.created_at, s.updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Subscription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = $1`, id)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return s, nil
}

// FindExpiring returns auto-renewing subscriptions whose paid period ends
// before cutoff, soonest first. Callers pass a cutoff ahead of now to renew
// subscriptions before they lapse.
func (r *Repository) FindExpiring(ctx context.Context, cutoff time.Time, limit int) ([]*Subscription, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT `+subscriptionColumns+`
        FROM subscriptions s
        WHERE s.auto_renew = TRUE AND s.end_date < $1
        ORDER BY s.end_date
        LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find expiring subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// Renew extends the period and restores the plan allowances, conditional on
// end_date still being the value the caller read. A stale expectedEnd means
// another sweep already renewed this row; the caller gets ErrRenewalStale
// and must compensate any charge it made.
func (r *Repository) Renew(ctx context.Context, id string, expectedEnd, newEnd time.Time, method string) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE subscriptions s
        SET end_date = $3,
            last_payment_method = $4,
            remaining_credits = p.credits,
            remaining_listings = p.listings,
            updated_at = NOW()
        FROM plans p
        WHERE s.id = $1 AND s.end_date = $2 AND p.id = s.plan_id`,
		id, expectedEnd, newEnd, method)
	if err != nil {
		return fmt.Errorf("renew subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("renew subscription %s: %w", id, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrRenewalStale
	}
	return nil
}

func (r *Repository) SetAutoRenew(ctx context.Context, id, userID string, autoRenew bool) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE subscriptions SET auto_renew = $3, updated_at = NOW()
        WHERE id = $1 AND user_id = $2`, id, userID, autoRenew)
	if err != nil {
		return fmt.Errorf("set auto_renew: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT `+subscriptionColumns+`
        FROM subscriptions s
        WHERE s.user_id = $1
        ORDER BY s.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	var price string
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.BillingCycle, &price,
		&s.Currency, &s.EndDate, &s.AutoRenew, &s.RemainingCredits, &s.RemainingListings,
		&s.LastPaymentMethod, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	return &s, nil
}

func scanSubscriptions(rows pgx.Rows) ([]*Subscription, error) {
	var out []*Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
