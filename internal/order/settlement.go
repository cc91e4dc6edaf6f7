package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/fees"
	"github.com/joelyan00/fongbeeV1-sub002/internal/wallet"
)

// CaptureStore applies the money-moving half of a capture in one atomic
// write: stamp the order captured with its fee, and land the ledger
// postings. It must be conditional on stripe_capture_status still being
// uncaptured and report applied=false when a previous settlement won.
type CaptureStore interface {
	MarkCaptured(ctx context.Context, orderID string, fee decimal.Decimal, postings []wallet.Posting) (applied bool, err error)
}

// Settlement splits a captured deposit between platform and provider.
// It is the only code path that credits provider wallets for deposits,
// and it runs at most once per order no matter how many observers
// (webhook, sweeper) report the same capture.
type Settlement struct {
	store           CaptureStore
	calc            fees.Calculator
	platformAccount string
	log             *zap.Logger
}

func NewSettlement(store CaptureStore, calc fees.Calculator, platformAccount string, log *zap.Logger) *Settlement {
	return &Settlement{store: store, calc: calc, platformAccount: platformAccount, log: log}
}

// Settle posts the fee split for o. Safe to call repeatedly; replays are
// no-ops once the capture status flips. The returned bool reports whether
// this call moved the money, so callers can notify on first settlement only.
func (s *Settlement) Settle(ctx context.Context, o *Order) (bool, error) {
	if o.ProviderID == nil || *o.ProviderID == "" {
		return false, fmt.Errorf("settle order %s: no provider assigned", o.ID)
	}

	fee, net := s.calc.Split(o.DepositAmount)
	orderID := o.ID

	postings := []wallet.Posting{
		{
			UserID:      *o.ProviderID,
			OrderID:     &orderID,
			Amount:      net,
			Type:        wallet.TypeDepositIncome,
			Description: "deposit release for order " + o.OrderNo,
		},
		{
			UserID:      s.platformAccount,
			OrderID:     &orderID,
			Amount:      fee,
			Type:        wallet.TypePlatformFee,
			Description: "platform fee for order " + o.OrderNo,
		},
	}

	applied, err := s.store.MarkCaptured(ctx, o.ID, fee, postings)
	if err != nil {
		return false, fmt.Errorf("settle order %s: %w", o.ID, err)
	}
	if !applied {
		s.log.Info("capture already settled, skipping",
			zap.String("order_id", o.ID))
		return false, nil
	}

	o.CaptureStatus = CaptureCaptured
	o.PlatformFee = &fee

	s.log.Info("capture settled",
		zap.String("order_id", o.ID),
		zap.String("order_no", o.OrderNo),
		zap.String("fee", fee.StringFixed(2)),
		zap.String("net", net.StringFixed(2)))
	return true, nil
}
