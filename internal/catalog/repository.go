package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("listing not found")

const listingColumns = `id, provider_id, title, description, category,
    deposit_amount::text, total_amount::text, currency, status, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, l *Listing) error {
	err := r.pool.QueryRow(ctx, `
        INSERT INTO listings (provider_id, title, description, category, deposit_amount, total_amount, currency, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at`,
		l.ProviderID, l.Title, l.Description, l.Category,
		l.DepositAmount.StringFixed(2), l.TotalAmount.StringFixed(2), l.Currency, l.Status,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Listing, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

// ListActive returns active listings, optionally filtered by category.
func (r *Repository) ListActive(ctx context.Context, category string, limit, offset int) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE status = 'active'`
	args := []any{}
	if category != "" {
		query += ` AND category = $1`
		args = append(args, category)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) SetStatus(ctx context.Context, id, providerID, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE listings SET status = $3 WHERE id = $1 AND provider_id = $2`,
		id, providerID, status)
	if err != nil {
		return fmt.Errorf("set listing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	var deposit, total string
	err := row.Scan(&l.ID, &l.ProviderID, &l.Title, &l.Description, &l.Category,
		&deposit, &total, &l.Currency, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if l.DepositAmount, err = decimal.NewFromString(deposit); err != nil {
		return nil, fmt.Errorf("parse deposit_amount: %w", err)
	}
	if l.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_amount: %w", err)
	}
	return &l, nil
}
