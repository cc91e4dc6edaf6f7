package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/alerts"
	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	"github.com/joelyan00/fongbeeV1-sub002/internal/subscription"
	"github.com/joelyan00/fongbeeV1-sub002/internal/wallet"
)

const (
	methodWallet = "wallet"
	methodCard   = "card"

	// renewalHorizon is how far ahead of end_date the daily sweep charges,
	// so a renewal that needs the card fallback still lands before lapse.
	renewalHorizon = 48 * time.Hour
)

// Renewals is the subscription store the renewal sweep needs.
type Renewals interface {
	FindExpiring(ctx context.Context, cutoff time.Time, limit int) ([]*subscription.Subscription, error)
	Renew(ctx context.Context, id string, expectedEnd, newEnd time.Time, method string) error
}

// Poster is the ledger write the renewal sweep needs.
type Poster interface {
	Post(ctx context.Context, p wallet.Posting) (*wallet.Transaction, error)
}

// UserDirectory resolves notification and billing references for a user.
type UserDirectory interface {
	Email(ctx context.Context, userID string) (string, error)
	CustomerRef(ctx context.Context, userID string) (string, error)
}

// RenewalSweeper charges auto-renew subscriptions expiring inside the
// horizon, before their paid period lapses. Payment falls through a
// waterfall: wallet balance first, saved card second. The charge happens
// before the conditional renew, so a lost renew race is repaid.
type RenewalSweeper struct {
	Subs      Renewals
	Ledger    Poster
	Gateway   gateway.PaymentGateway
	Users     UserDirectory
	BatchSize int
	Horizon   time.Duration
	Log       *zap.Logger

	now           func() time.Time
	notifyRenewed func(subscriptionID, userID, email, method, amount string) error
	notifyAdmin   func(severity, message string) error
}

func NewRenewalSweeper(subs Renewals, ledger Poster, gw gateway.PaymentGateway, users UserDirectory, batchSize int, log *zap.Logger) *RenewalSweeper {
	return &RenewalSweeper{
		Subs:      subs,
		Ledger:    ledger,
		Gateway:   gw,
		Users:     users,
		BatchSize: batchSize,
		Horizon:   renewalHorizon,
		Log:       log,
		now:       time.Now,

		notifyRenewed: alerts.EnqueueSubscriptionRenewed,
		notifyAdmin:   alerts.EnqueueAdminAlert,
	}
}

func (s *RenewalSweeper) RunOnce(ctx context.Context) error {
	batch, err := s.Subs.FindExpiring(ctx, s.now().Add(s.Horizon), s.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	s.Log.Info("renewal sweep started", zap.Int("subscriptions", len(batch)))
	for _, sub := range batch {
		if err := s.renew(ctx, sub); err != nil {
			s.Log.Warn("renewal failed",
				zap.String("subscription_id", sub.ID),
				zap.String("user_id", sub.UserID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *RenewalSweeper) renew(ctx context.Context, sub *subscription.Subscription) error {
	method, chargeIntent, err := s.collect(ctx, sub)
	if err != nil {
		return err
	}

	err = s.Subs.Renew(ctx, sub.ID, sub.EndDate, sub.NextEndDate(), method)
	if errors.Is(err, subscription.ErrRenewalStale) {
		// Another sweep renewed this row between our read and write. The
		// money we just collected has to go back.
		s.Log.Warn("renewal lost the write race, compensating charge",
			zap.String("subscription_id", sub.ID),
			zap.String("method", method))
		return s.compensate(ctx, sub, method, chargeIntent)
	}
	if err != nil {
		return err
	}

	if method == methodCard {
		// Zero-amount row: the card carried the charge, but the ledger
		// still records the renewal and the method used.
		_, perr := s.Ledger.Post(ctx, wallet.Posting{
			UserID:      sub.UserID,
			Amount:      decimal.Zero,
			Type:        wallet.TypeSubscriptionPayment,
			Description: "subscription renewal " + sub.ID + " charged to card " + chargeIntent,
		})
		if perr != nil {
			s.Log.Warn("card renewal not recorded in ledger",
				zap.String("subscription_id", sub.ID),
				zap.Error(perr))
		}
	}

	if email, lerr := s.Users.Email(ctx, sub.UserID); lerr == nil && email != "" {
		_ = s.notifyRenewed(sub.ID, sub.UserID, email, method, sub.Price.StringFixed(2))
	}
	s.Log.Info("subscription renewed",
		zap.String("subscription_id", sub.ID),
		zap.String("method", method),
		zap.String("amount", sub.Price.StringFixed(2)))
	return nil
}

// collect takes the renewal price from the wallet, falling back to the
// saved card. It returns the method used and, for card payments, the
// charge intent a compensation would refund.
func (s *RenewalSweeper) collect(ctx context.Context, sub *subscription.Subscription) (string, string, error) {
	subID := sub.ID
	_, err := s.Ledger.Post(ctx, wallet.Posting{
		UserID:      sub.UserID,
		Amount:      sub.Price.Neg(),
		Type:        wallet.TypeSubscriptionPayment,
		Description: "subscription renewal " + subID,
	})
	if err == nil {
		return methodWallet, "", nil
	}
	if !errors.Is(err, wallet.ErrInsufficientFunds) && !errors.Is(err, wallet.ErrWalletNotFound) {
		return "", "", err
	}

	ref, err := s.Users.CustomerRef(ctx, sub.UserID)
	if err != nil || ref == "" {
		return "", "", fmt.Errorf("no saved payment method for user %s", sub.UserID)
	}
	result, err := s.Gateway.Charge(ctx, ref, sub.Price, sub.Currency)
	if err != nil {
		return "", "", err
	}
	return methodCard, result.IntentID, nil
}

func (s *RenewalSweeper) compensate(ctx context.Context, sub *subscription.Subscription, method, chargeIntent string) error {
	switch method {
	case methodWallet:
		_, err := s.Ledger.Post(ctx, wallet.Posting{
			UserID:      sub.UserID,
			Amount:      sub.Price,
			Type:        wallet.TypeSubscriptionPayment,
			Description: "reversal of duplicate renewal charge " + sub.ID,
		})
		if err != nil {
			_ = s.notifyAdmin("critical",
				"duplicate renewal debit could not be reversed for subscription "+sub.ID)
		}
		return err
	case methodCard:
		_, err := s.Gateway.Refund(ctx, chargeIntent, sub.Price)
		if err != nil {
			_ = s.notifyAdmin("critical",
				"duplicate renewal card charge could not be refunded for subscription "+sub.ID)
		}
		return err
	}
	return nil
}

// PgDirectory answers user lookups from the users table.
type PgDirectory struct {
	Pool *pgxpool.Pool
}

func (d *PgDirectory) Email(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.Pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	return email, err
}

func (d *PgDirectory) CustomerRef(ctx context.Context, userID string) (string, error) {
	var ref *string
	err := d.Pool.QueryRow(ctx, `SELECT stripe_customer_id FROM users WHERE id = $1`, userID).Scan(&ref)
	if err != nil {
		return "", err
	}
	if ref == nil {
		return "", nil
	}
	return *ref, nil
}
