package wallet

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
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidPosting    = errors.New("invalid ledger posting")
)

// Ledger is the only writer of wallet balances. Every mutation is a single
// database transaction pairing the balance update with an append-only
// wallet_transactions row, so the balance always equals the sum of the rows.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Post applies one posting atomically. A debit that would take the balance
// below zero fails with ErrInsufficientFunds and leaves no trace.
func (l *Ledger) Post(ctx context.Context, p Posting) (*Transaction, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin posting: %w", err)
	}
	defer tx.Rollback(ctx)

	posted, err := l.PostTx(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit posting: %w", err)
	}
	return posted, nil
}

// PostTx applies a posting inside a caller-owned transaction, so settlement
// can pair several postings with an order update in one commit.
func (l *Ledger) PostTx(ctx context.Context, tx pgx.Tx, p Posting) (*Transaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	// Conditional update: a debit only lands if the balance covers it.
	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = NOW()
		 WHERE user_id = $2 AND balance + $1 >= 0`,
		p.Amount.String(), p.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, p.UserID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check wallet: %w", err)
		}
		if !exists {
			return nil, ErrWalletNotFound
		}
		return nil, ErrInsufficientFunds
	}

	posted := &Transaction{
		UserID:      p.UserID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		Type:        p.Type,
		Status:      "completed",
		Description: p.Description,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO wallet_transactions (user_id, order_id, amount, type, status, description)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		p.UserID, p.OrderID, p.Amount.String(), p.Type, posted.Status, p.Description,
	).Scan(&posted.ID, &posted.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ledger row: %w", err)
	}
	return posted, nil
}

// CreateWallet opens a zero-balance wallet for a new user.
func (l *Ledger) CreateWallet(ctx context.Context, userID, currency string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, currency) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, currency,
	)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

// Balance returns the current balance for a user.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	err := l.pool.QueryRow(ctx,
		`SELECT balance::text FROM wallets WHERE user_id = $1`, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// ListTransactions returns a user's ledger rows, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, order_id, amount::text, type, status, description, created_at
		 FROM wallet_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListAllTransactions returns ledger rows across all users for admin review.
func (l *Ledger) ListAllTransactions(ctx context.Context, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, order_id, amount::text, type, status, description, created_at
		 FROM wallet_transactions
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list all transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]*Transaction, error) {
	var txs []*Transaction
	for rows.Next() {
		var t Transaction
		var amount string
		var created time.Time
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrderID, &amount, &t.Type, &t.Status, &t.Description, &created); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		t.Amount = parsed
		t.CreatedAt = created
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}
