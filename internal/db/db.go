package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

var Conn *pgxpool.Pool

// Init connects to Postgres
func Init() {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_NAME"),
	)

	var err error
	Conn, err = pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}

	if err = Conn.Ping(context.Background()); err != nil {
		log.Fatalf("Unable to ping database: %v\n", err)
	}

	log.Println("Connected to Postgres successfully")

	ensureUsersTable()
	ensureListingsTable()
	ensureWalletTables()
	ensureOrdersTable()
	ensureSubscriptionTables()
}

// ensureUsersTable creates users if missing
func ensureUsersTable() {
	ctx := context.Background()
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'customer' CHECK (role IN ('customer','provider','admin')),
            is_active BOOLEAN DEFAULT TRUE,
            stripe_customer_id TEXT NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		log.Printf("failed to create users table: %v", err)
	}
}

// ensureListingsTable creates the service listings used by order creation
func ensureListingsTable() {
	ctx := context.Background()
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS listings (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            provider_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            deposit_amount NUMERIC(12,2) NOT NULL,
            total_amount NUMERIC(12,2) NOT NULL,
            currency TEXT NOT NULL DEFAULT 'usd',
            status TEXT NOT NULL DEFAULT 'active',
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_listings_provider ON listings(provider_id);
        CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status)`)
	if err != nil {
		log.Printf("failed to create listings table: %v", err)
	}
}

// ensureWalletTables creates wallets and the append-only transaction ledger
func ensureWalletTables() {
	ctx := context.Background()
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS wallets (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID NOT NULL UNIQUE,
            balance NUMERIC(12,2) NOT NULL DEFAULT 0,
            currency TEXT NOT NULL DEFAULT 'usd',
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		log.Printf("failed to create wallets table: %v", err)
	}

	_, err = Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS wallet_transactions (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID NOT NULL,
            order_id UUID NULL,
            amount NUMERIC(12,2) NOT NULL,
            type TEXT NOT NULL CHECK (type IN (
                'deposit_outgoing', 'deposit_income', 'balance_payment',
                'platform_fee', 'subscription_payment', 'admin_add', 'admin_deduct'
            )),
            status TEXT NOT NULL DEFAULT 'completed',
            description TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_wallet_tx_user_created ON wallet_transactions(user_id, created_at);
        CREATE INDEX IF NOT EXISTS idx_wallet_tx_order ON wallet_transactions(order_id)`)
	if err != nil {
		log.Printf("failed to create wallet_transactions table: %v", err)
	}
}

// ensureOrdersTable creates orders with the version column every status write depends on
func ensureOrdersTable() {
	ctx := context.Background()
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS orders (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            order_no TEXT NOT NULL UNIQUE,
            user_id UUID NOT NULL,
            provider_id UUID NULL,
            listing_id UUID NULL,
            deposit_amount NUMERIC(12,2) NOT NULL,
            total_amount NUMERIC(12,2) NOT NULL,
            currency TEXT NOT NULL DEFAULT 'usd',
            platform_fee NUMERIC(12,2) NULL,
            stripe_payment_intent_id TEXT NULL,
            stripe_capture_status TEXT NOT NULL DEFAULT 'uncaptured'
                CHECK (stripe_capture_status IN ('uncaptured','captured')),
            status TEXT NOT NULL DEFAULT 'created' CHECK (status IN (
                'created', 'auth_hold', 'cancelled', 'cancelled_by_provider',
                'cancelled_forfeit', 'captured', 'in_progress',
                'pending_verification', 'verified', 'rework', 'rated', 'completed'
            )),
            cancel_deadline TIMESTAMP WITH TIME ZONE NULL,
            cancel_reason TEXT NULL,
            rating_score INTEGER NULL CHECK (rating_score BETWEEN 1 AND 5),
            rating_comment TEXT NULL,
            version BIGINT NOT NULL DEFAULT 1,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
        CREATE INDEX IF NOT EXISTS idx_orders_provider ON orders(provider_id);
        CREATE INDEX IF NOT EXISTS idx_orders_intent ON orders(stripe_payment_intent_id);
        CREATE INDEX IF NOT EXISTS idx_orders_capturable
            ON orders(cancel_deadline) WHERE status = 'auth_hold' AND stripe_capture_status = 'uncaptured'`)
	if err != nil {
		log.Printf("failed to create orders table: %v", err)
	}
}

// ensureSubscriptionTables creates plans and subscriptions for recurring billing
func ensureSubscriptionTables() {
	ctx := context.Background()
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS plans (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            name TEXT NOT NULL UNIQUE,
            price NUMERIC(12,2) NOT NULL,
            currency TEXT NOT NULL DEFAULT 'usd',
            billing_cycle TEXT NOT NULL DEFAULT 'month' CHECK (billing_cycle IN ('month','year')),
            credits INTEGER NOT NULL DEFAULT 0,
            listings INTEGER NOT NULL DEFAULT 0,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		log.Printf("failed to create plans table: %v", err)
	}

	_, err = Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS subscriptions (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID NOT NULL,
            plan_id UUID NOT NULL REFERENCES plans(id),
            billing_cycle TEXT NOT NULL DEFAULT 'month' CHECK (billing_cycle IN ('month','year')),
            price NUMERIC(12,2) NOT NULL,
            currency TEXT NOT NULL DEFAULT 'usd',
            end_date TIMESTAMP WITH TIME ZONE NOT NULL,
            auto_renew BOOLEAN NOT NULL DEFAULT TRUE,
            remaining_credits INTEGER NOT NULL DEFAULT 0,
            remaining_listings INTEGER NOT NULL DEFAULT 0,
            last_payment_method TEXT NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);
        CREATE INDEX IF NOT EXISTS idx_subscriptions_renewal
            ON subscriptions(end_date) WHERE auto_renew = TRUE`)
	if err != nil {
		log.Printf("failed to create subscriptions table: %v", err)
	}
}
